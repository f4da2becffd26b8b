package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// 逻辑缓存名，按资源类别划分。
const (
	NameShell           = "shell"
	NamePages           = "pages"
	NameImages          = "images"
	NameAudio           = "audio"
	NamePodcastAssets   = "podcast-assets"
	NamePodcastMetadata = "podcast-metadata"
)

// namePrefix 是本应用全部命名缓存共享的目录前缀，激活期的垃圾回收
// 只清理带此前缀的目录，避免误删其它程序的数据。
const namePrefix = "briefcast-"

var logicalNames = []string{
	NameShell,
	NamePages,
	NameImages,
	NameAudio,
	NamePodcastAssets,
	NamePodcastMetadata,
}

// Names 负责逻辑缓存名到版本化目录名的映射。升级 version 并重启后，
// 旧版本目录会在激活阶段被整体回收。
type Names struct {
	version string
}

// NewNames 构造命名方案，version 形如 v1/v2。
func NewNames(version string) Names {
	return Names{version: version}
}

// Qualified 返回逻辑名对应的版本化目录名，例如 briefcast-shell-v1。
func (n Names) Qualified(logical string) string {
	return fmt.Sprintf("%s%s-%s", namePrefix, logical, n.version)
}

// Declared 返回当前声明的全部版本化缓存名。
func (n Names) Declared() []string {
	result := make([]string, len(logicalNames))
	for i, logical := range logicalNames {
		result[i] = n.Qualified(logical)
	}
	return result
}

// OwnedByApp 判断目录名是否属于本应用的命名家族。
func (n Names) OwnedByApp(dir string) bool {
	return strings.HasPrefix(dir, namePrefix)
}

// IsDeclared 判断目录名是否在当前声明集合内。
func (n Names) IsDeclared(dir string) bool {
	for _, declared := range n.Declared() {
		if dir == declared {
			return true
		}
	}
	return false
}

// PurgeStale 删除属于本应用命名家族但不在当前声明集合内的缓存目录，
// 返回被删除的目录名。声明中的缓存保持原样。
func PurgeStale(ctx context.Context, store Store, names Names, logger *logrus.Logger) ([]string, error) {
	existing, err := store.CacheNames()
	if err != nil {
		return nil, fmt.Errorf("enumerate caches: %w", err)
	}

	var removed []string
	for _, dir := range existing {
		if !names.OwnedByApp(dir) || names.IsDeclared(dir) {
			continue
		}
		if err := store.PurgeCache(ctx, dir); err != nil {
			if logger != nil {
				logger.WithError(err).WithField("cache", dir).Warn("purge_stale_failed")
			}
			continue
		}
		removed = append(removed, dir)
	}
	return removed, nil
}

// PurgeAll 清空本应用的全部命名缓存，用于陈旧构建恢复路径。
func PurgeAll(ctx context.Context, store Store, names Names, logger *logrus.Logger) ([]string, error) {
	existing, err := store.CacheNames()
	if err != nil {
		return nil, fmt.Errorf("enumerate caches: %w", err)
	}

	var removed []string
	for _, dir := range existing {
		if !names.OwnedByApp(dir) {
			continue
		}
		if err := store.PurgeCache(ctx, dir); err != nil {
			if logger != nil {
				logger.WithError(err).WithField("cache", dir).Warn("purge_all_failed")
			}
			continue
		}
		removed = append(removed, dir)
	}
	return removed, nil
}
