package interceptor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/briefcast/briefcast-offline/internal/cache"
	"github.com/briefcast/briefcast-offline/internal/logging"
	"github.com/briefcast/briefcast-offline/internal/store"
	"github.com/briefcast/briefcast-offline/internal/syncmsg"
)

// metadataKeyPrefix 派生播客元数据在命名缓存中的键。
const metadataKeyPrefix = "https://briefcast.app/podcast-metadata/"

// MetadataKey 返回播客元数据条目的缓存键。
func MetadataKey(podcastID string) string {
	return metadataKeyPrefix + podcastID
}

// HandleMessage 按消息类别穷尽分发；广播类消息不允许入站。
func (i *Interceptor) HandleMessage(ctx context.Context, msg syncmsg.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	switch msg.Kind {
	case syncmsg.KindSkipWaiting:
		return i.skipWaiting(ctx)
	case syncmsg.KindCachePodcast:
		return i.cachePodcast(ctx, *msg.Podcast)
	case syncmsg.KindRemoveCachedPodcast:
		return i.removePodcast(ctx, msg.PodcastID, msg.AssetURLs)
	default:
		return fmt.Errorf("message kind %s is not accepted by the interceptor", msg.Kind)
	}
}

// skipWaiting 让等待中的拦截器立即接管，而非等待所有实例关闭。
func (i *Interceptor) skipWaiting(ctx context.Context) error {
	if i.active.Load() {
		return nil
	}
	return i.Activate(ctx)
}

type assetPlan struct {
	url       string
	cacheName string
	assetType store.AssetType
}

// assetPlans 给每个存在的资产 URL 指定类别。三类资产统一落入
// podcast-assets 缓存，与资产请求策略的查询缓存保持一致。
func (i *Interceptor) assetPlans(p syncmsg.Podcast) []assetPlan {
	assetCache := i.names.Qualified(cache.NamePodcastAssets)

	var plans []assetPlan
	if p.AudioURL != "" {
		plans = append(plans, assetPlan{p.AudioURL, assetCache, store.AssetAudio})
	}
	if p.CoverImageURL != "" {
		plans = append(plans, assetPlan{p.CoverImageURL, assetCache, store.AssetImage})
	}
	if p.TranscriptURL != "" {
		plans = append(plans, assetPlan{p.TranscriptURL, assetCache, store.AssetTranscript})
	}
	return plans
}

// cachePodcast 下载播客的全部资产。各资产相互隔离（allSettled 语义），
// 单个失败不影响其余；处理完毕后写入元数据并广播 PODCAST_CACHED。
func (i *Interceptor) cachePodcast(ctx context.Context, p syncmsg.Podcast) error {
	plans := i.assetPlans(p)

	var failures atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)
	for _, plan := range plans {
		g.Go(func() error {
			if err := i.cacheAsset(gctx, plan); err != nil {
				failures.Add(1)
				i.logger.WithError(err).WithFields(logrus.Fields{
					"podcast_id": p.ID,
					"url":        plan.url,
				}).Warn("asset_cache_failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := i.storeMetadata(ctx, p); err != nil {
		i.logger.WithError(err).WithField("podcast_id", p.ID).Warn("metadata_cache_failed")
	}

	fields := logging.PodcastFields("cache_podcast", p.ID)
	fields["assets"] = len(plans)
	fields["failed"] = failures.Load()
	i.logger.WithFields(fields).Info("podcast assets processed")

	// 无论是否存在部分失败，都上报完成。
	i.bus.Broadcast(syncmsg.Message{Kind: syncmsg.KindPodcastCached, PodcastID: p.ID})
	return nil
}

// cacheAsset 抓取单个资产并同时写入命名缓存与结构化存储。
func (i *Interceptor) cacheAsset(ctx context.Context, plan assetPlan) error {
	resp, err := i.fetch(ctx, plan.url, nil)
	if err != nil {
		return fmt.Errorf("fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if !cache.Storable(http.MethodGet, plan.url, resp.Header) {
		return fmt.Errorf("response not storable")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read asset body: %w", err)
	}

	snap := cache.Snapshot{
		URL:         plan.url,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if _, err := i.caches.Put(ctx, plan.cacheName, snap, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("cache asset: %w", err)
	}

	if err := i.records.PutAsset(ctx, store.Asset{
		URL:      plan.url,
		Blob:     body,
		MimeType: resp.Header.Get("Content-Type"),
		Type:     plan.assetType,
	}); err != nil {
		return fmt.Errorf("persist asset: %w", err)
	}
	return nil
}

// storeMetadata 将完整元数据快照写入 podcast-metadata 缓存。
func (i *Interceptor) storeMetadata(ctx context.Context, p syncmsg.Podcast) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	snap := cache.Snapshot{
		URL:         MetadataKey(p.ID),
		Status:      http.StatusOK,
		ContentType: "application/json",
	}
	_, err = i.caches.Put(ctx, i.names.Qualified(cache.NamePodcastMetadata), snap, bytes.NewReader(payload))
	return err
}

// removePodcast 删除元数据条目与列出的全部资产，然后广播 PODCAST_REMOVED。
func (i *Interceptor) removePodcast(ctx context.Context, podcastID string, assetURLs []string) error {
	metadataCache := i.names.Qualified(cache.NamePodcastMetadata)
	if err := i.caches.Delete(ctx, metadataCache, MetadataKey(podcastID)); err != nil {
		i.logger.WithError(err).WithField("podcast_id", podcastID).Warn("metadata_delete_failed")
	}

	assetCaches := []string{
		i.names.Qualified(cache.NameAudio),
		i.names.Qualified(cache.NameImages),
		i.names.Qualified(cache.NamePodcastAssets),
	}
	for _, rawURL := range assetURLs {
		if rawURL == "" {
			continue
		}
		for _, cacheName := range assetCaches {
			if err := i.caches.Delete(ctx, cacheName, rawURL); err != nil {
				i.logger.WithError(err).WithFields(logrus.Fields{
					"cache": cacheName,
					"url":   rawURL,
				}).Warn("asset_delete_failed")
			}
		}
	}

	i.logger.WithFields(logging.PodcastFields("remove_podcast", podcastID)).Info("podcast removed from caches")
	i.bus.Broadcast(syncmsg.Message{Kind: syncmsg.KindPodcastRemoved, PodcastID: podcastID})
	return nil
}
