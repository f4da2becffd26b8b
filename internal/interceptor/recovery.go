package interceptor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/briefcast/briefcast-offline/internal/cache"
	"github.com/briefcast/briefcast-offline/internal/syncmsg"
)

// purgeCooldown 限制两次全量清空之间的最小间隔，防止反复触发。
const purgeCooldown = 30 * time.Second

// noteStaleBuild 处理构建版本错配：上游可达却返回 404 的哈希分片
// 意味着本地缓存的构建已经过期。清空全部命名缓存并广播
// CACHES_PURGED，让前台实例强制重载。
func (i *Interceptor) noteStaleBuild(ctx context.Context, rawURL string) {
	i.purgeMu.Lock()
	if time.Since(i.lastPurge) < purgeCooldown {
		i.purgeMu.Unlock()
		return
	}
	i.lastPurge = time.Now()
	i.purgeMu.Unlock()

	removed, err := cache.PurgeAll(ctx, i.caches, i.names, i.logger)
	if err != nil {
		i.logger.WithError(err).Warn("stale_build_purge_failed")
		return
	}

	i.logger.WithFields(logrus.Fields{
		"action":  "stale_build_recovery",
		"trigger": rawURL,
		"removed": removed,
	}).Warn("all caches purged after chunk mismatch")

	i.bus.Broadcast(syncmsg.Message{Kind: syncmsg.KindCachesPurged})
}
