// Package offline 是前台应用的离线能力入口：通过依赖注入暴露
// 保存/读取/删除播客的操作，而非挂在全局作用域的散落函数。
// 所有操作把存储层故障就地转换为空值结果加日志，绝不向 UI 抛出。
package offline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/briefcast/briefcast-offline/internal/logging"
	"github.com/briefcast/briefcast-offline/internal/store"
	"github.com/briefcast/briefcast-offline/internal/syncmsg"
)

// Options 汇总管理器依赖。
type Options struct {
	Records     *store.Store
	Bus         *syncmsg.Bus
	Client      *http.Client
	Logger      *logrus.Logger
	AssetMaxAge time.Duration
}

// Manager 面向 UI 暴露离线播客操作。
type Manager struct {
	records     *store.Store
	bus         *syncmsg.Bus
	client      *http.Client
	logger      *logrus.Logger
	assetMaxAge time.Duration
	now         func() time.Time
}

// NewManager 构造管理器；AssetMaxAge 为空时默认 7 天。
func NewManager(opts Options) (*Manager, error) {
	if opts.Records == nil {
		return nil, errors.New("record store is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("message bus is required")
	}
	if opts.Client == nil {
		return nil, errors.New("http client is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	maxAge := opts.AssetMaxAge
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	return &Manager{
		records:     opts.Records,
		bus:         opts.Bus,
		client:      opts.Client,
		logger:      opts.Logger,
		assetMaxAge: maxAge,
		now:         time.Now,
	}, nil
}

// Subscribe 暴露总线广播，供 UI 订阅 PODCAST_CACHED 等事件。
func (m *Manager) Subscribe() (<-chan syncmsg.Message, func()) {
	return m.bus.Subscribe(32)
}

// IsAvailableOffline 检查指定播客是否已保存离线。
func (m *Manager) IsAvailableOffline(ctx context.Context, podcastID string) bool {
	if podcastID == "" {
		return false
	}
	rec, err := m.records.GetPodcast(ctx, podcastID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.WithError(err).WithField("podcast_id", podcastID).Warn("offline_check_failed")
		}
		return false
	}
	return rec.SavedOffline
}

// LoadAsset 返回本地资产：已存副本未过新鲜度窗口时直接使用，
// 过期或缺失则重新下载入库；下载失败返回 nil，调用方回退远端地址。
func (m *Manager) LoadAsset(ctx context.Context, rawURL string, assetType store.AssetType) *store.Asset {
	if rawURL == "" {
		return nil
	}

	stored, err := m.records.GetAsset(ctx, rawURL)
	if err == nil && m.now().Sub(stored.StoredAt) < m.assetMaxAge {
		return stored
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.WithError(err).WithField("url", rawURL).Warn("asset_load_failed")
		return nil
	}

	asset, downloadErr := m.downloadAsset(ctx, rawURL, assetType)
	if downloadErr != nil {
		m.logger.WithError(downloadErr).WithField("url", rawURL).Warn("asset_download_failed")
		return nil
	}
	return asset
}

// SaveOffline 并发下载三个资产（尽力而为，部分失败被容忍并记录），
// 然后落盘记录并广播 CACHING_COMPLETE。只要记录写入成功即返回 true。
func (m *Manager) SaveOffline(ctx context.Context, p syncmsg.Podcast) bool {
	if p.ID == "" {
		return false
	}

	downloads := []struct {
		url       string
		assetType store.AssetType
	}{
		{p.CoverImageURL, store.AssetImage},
		{p.AudioURL, store.AssetAudio},
		{p.TranscriptURL, store.AssetTranscript},
	}

	var failures atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)
	for _, d := range downloads {
		if d.url == "" {
			continue
		}
		g.Go(func() error {
			if _, err := m.downloadAsset(gctx, d.url, d.assetType); err != nil {
				failures.Add(1)
				m.logger.WithError(err).WithField("url", d.url).Warn("asset_download_failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	rec := store.PodcastRecord{
		ID:              p.ID,
		Title:           p.Title,
		Category:        p.Category,
		DurationSeconds: p.DurationSeconds,
		CoverImageURL:   p.CoverImageURL,
		AudioURL:        p.AudioURL,
		TranscriptURL:   p.TranscriptURL,
		SavedOffline:    true,
		SavedAt:         m.now().UTC(),
	}
	if err := m.records.PutPodcast(ctx, rec); err != nil {
		m.logger.WithError(err).WithField("podcast_id", p.ID).Error("save_offline_failed")
		return false
	}

	fields := logging.PodcastFields("save_offline", p.ID)
	fields["failed_assets"] = failures.Load()
	m.logger.WithFields(fields).Info("podcast saved for offline use")

	m.bus.Broadcast(syncmsg.Message{Kind: syncmsg.KindCachingComplete, PodcastID: p.ID})
	return true
}

// LoadFromStorage 读取离线记录；不存在或存储故障返回 nil。
func (m *Manager) LoadFromStorage(ctx context.Context, podcastID string) *store.PodcastRecord {
	if podcastID == "" {
		return nil
	}
	rec, err := m.records.GetPodcast(ctx, podcastID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.WithError(err).WithField("podcast_id", podcastID).Warn("load_from_storage_failed")
		}
		return nil
	}
	return rec
}

// DeleteFromStorage 删除记录并级联清理其资产。被其他记录共享的
// 资产保留不动。记录不存在时返回 false。
func (m *Manager) DeleteFromStorage(ctx context.Context, podcastID string) bool {
	rec, err := m.records.GetPodcast(ctx, podcastID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.WithError(err).WithField("podcast_id", podcastID).Warn("delete_lookup_failed")
		}
		return false
	}

	if err := m.records.DeletePodcast(ctx, podcastID); err != nil {
		m.logger.WithError(err).WithField("podcast_id", podcastID).Error("delete_podcast_failed")
		return false
	}

	for _, assetURL := range rec.AssetURLs() {
		shared, refErr := m.records.AssetReferenced(ctx, assetURL, podcastID)
		if refErr != nil {
			m.logger.WithError(refErr).WithField("url", assetURL).Warn("asset_reference_check_failed")
			continue
		}
		if shared {
			continue
		}
		if delErr := m.records.DeleteAsset(ctx, assetURL); delErr != nil {
			m.logger.WithError(delErr).WithField("url", assetURL).Warn("asset_delete_failed")
		}
	}

	m.logger.WithFields(logging.PodcastFields("delete_from_storage", podcastID)).Info("podcast removed from storage")
	return true
}

// GetAllSaved 返回全部 savedOffline 记录；存储故障时返回空列表。
func (m *Manager) GetAllSaved(ctx context.Context) []store.PodcastRecord {
	records, err := m.records.AllPodcasts(ctx, true)
	if err != nil {
		m.logger.WithError(err).Warn("list_saved_failed")
		return nil
	}
	return records
}

// downloadAsset 抓取并入库单个资产，upsert 刷新 stored_at。
func (m *Manager) downloadAsset(ctx context.Context, rawURL string, assetType store.AssetType) (*store.Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New(resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	asset := store.Asset{
		URL:      rawURL,
		Blob:     body,
		MimeType: resp.Header.Get("Content-Type"),
		Type:     assetType,
		StoredAt: m.now().UTC(),
	}
	if err := m.records.PutAsset(ctx, asset); err != nil {
		return nil, err
	}
	return &asset, nil
}
