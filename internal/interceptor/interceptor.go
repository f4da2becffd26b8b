// Package interceptor 实现后台拦截层：对每个外发请求应用 Cache Router
// 选出的策略，失败时优雅降级，并处理来自前台的同步协议消息。
package interceptor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/briefcast/briefcast-offline/internal/cache"
	"github.com/briefcast/briefcast-offline/internal/router"
	"github.com/briefcast/briefcast-offline/internal/store"
	"github.com/briefcast/briefcast-offline/internal/syncmsg"
)

// Options 汇总拦截器的全部依赖，由入口统一注入。
type Options struct {
	Client        *http.Client
	Logger        *logrus.Logger
	Caches        cache.Store
	Names         cache.Names
	Records       *store.Store
	Bus           *syncmsg.Bus
	Router        *router.Router
	Upstream      string
	ShellManifest []string
}

// Interceptor 持有只读的策略表与共享依赖；每个请求由独立的
// goroutine 处理，除只读配置外不共享可变状态。
type Interceptor struct {
	client        *http.Client
	logger        *logrus.Logger
	caches        cache.Store
	names         cache.Names
	records       *store.Store
	bus           *syncmsg.Bus
	router        *router.Router
	upstream      *url.URL
	shellManifest []string

	active atomic.Bool

	purgeMu   sync.Mutex
	lastPurge time.Time
}

// New 构造拦截器并校验依赖。
func New(opts Options) (*Interceptor, error) {
	if opts.Client == nil {
		return nil, errors.New("http client is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Caches == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Records == nil {
		return nil, errors.New("record store is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("message bus is required")
	}
	if opts.Router == nil {
		opts.Router = router.New()
	}

	upstream, err := url.Parse(opts.Upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream: %w", err)
	}
	if upstream.Scheme != "http" && upstream.Scheme != "https" {
		return nil, fmt.Errorf("unsupported upstream scheme: %s", upstream.Scheme)
	}

	return &Interceptor{
		client:        opts.Client,
		logger:        opts.Logger,
		caches:        opts.Caches,
		names:         opts.Names,
		records:       opts.Records,
		bus:           opts.Bus,
		router:        opts.Router,
		upstream:      upstream,
		shellManifest: opts.ShellManifest,
	}, nil
}

// Active 返回拦截器是否已完成激活。
func (i *Interceptor) Active() bool {
	return i.active.Load()
}

// Install 逐个预取壳资源清单并写入 shell 缓存。各资源相互隔离，
// 单个失败不会中止其余资源的缓存；无论部分失败与否都继续进入激活。
func (i *Interceptor) Install(ctx context.Context) {
	if len(i.shellManifest) == 0 {
		return
	}

	var successes atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, entry := range i.shellManifest {
		g.Go(func() error {
			target := i.upstream.ResolveReference(&url.URL{Path: entry}).String()
			if err := i.precacheShellEntry(gctx, target); err != nil {
				i.logger.WithError(err).WithField("url", target).Warn("shell_precache_failed")
				return nil // 保持隔离，不向 errgroup 传播
			}
			successes.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	i.logger.WithFields(logrus.Fields{
		"action": "install",
		"cached": successes.Load(),
		"total":  len(i.shellManifest),
	}).Info("shell precache complete")
}

// Activate 回收不在当前声明集合内的历史缓存，然后立刻接管并广播。
func (i *Interceptor) Activate(ctx context.Context) error {
	removed, err := cache.PurgeStale(ctx, i.caches, i.names, i.logger)
	if err != nil {
		// 激活不因回收失败而中止。
		i.logger.WithError(err).Warn("activate_purge_failed")
	}
	if len(removed) > 0 {
		i.logger.WithFields(logrus.Fields{
			"action":  "activate",
			"removed": removed,
		}).Info("stale caches purged")
	}

	i.active.Store(true)
	i.bus.Broadcast(syncmsg.Message{Kind: syncmsg.KindActivated})
	return nil
}

// precacheShellEntry 抓取单个壳资源并写入 shell 缓存。
func (i *Interceptor) precacheShellEntry(ctx context.Context, target string) error {
	resp, err := i.fetch(ctx, target, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if !cache.Storable(http.MethodGet, target, resp.Header) {
		return errors.New("response not storable")
	}

	snap := cache.Snapshot{
		URL:         target,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	_, err = i.caches.Put(ctx, i.names.Qualified(cache.NameShell), snap, resp.Body)
	return err
}

// fetch 发起一次上游 GET；forward 不为空时透传白名单请求头。
func (i *Interceptor) fetch(ctx context.Context, target string, forward http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	for _, key := range []string{"Accept", "Accept-Language", "Cookie", "Authorization", "Range"} {
		if forward == nil {
			break
		}
		if value := forward.Get(key); value != "" {
			req.Header.Set(key, value)
		}
	}
	return i.client.Do(req)
}
