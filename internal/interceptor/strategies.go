package interceptor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/briefcast/briefcast-offline/internal/cache"
	"github.com/briefcast/briefcast-offline/internal/logging"
	"github.com/briefcast/briefcast-offline/internal/router"
	"github.com/briefcast/briefcast-offline/internal/server"
)

// Handle 对单个请求执行 归类 → 查缓存 → 可能回源 → 可能写缓存 → 响应。
// 单个请求内步骤严格串行，不同请求之间没有顺序保证。
func (i *Interceptor) Handle(c fiber.Ctx) error {
	target := i.resolveTarget(c)
	req := router.Request{
		Method:       c.Method(),
		URL:          target,
		SecFetchMode: headerValue(c, "Sec-Fetch-Mode"),
		Accept:       headerValue(c, "Accept"),
	}
	strategy := i.router.Classify(req)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	switch strategy {
	case router.StrategyBypass:
		return i.handleBypass(ctx, c, target)
	case router.StrategyPodcastAsset:
		return i.handlePodcastAsset(ctx, c, target)
	case router.StrategyBuildArtifact:
		return i.handleBuildArtifact(ctx, c, target)
	case router.StrategyNavigation:
		return i.handleNavigation(ctx, c, target)
	default:
		return i.handleDefault(ctx, c, target)
	}
}

// handleBypass 原样透传：缓存层既不读也不写。
func (i *Interceptor) handleBypass(ctx context.Context, c fiber.Ctx, target *url.URL) error {
	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), bytes.NewReader(c.Body()))
	if err != nil {
		return networkError(c)
	}
	server.CopyHeaders(req.Header, requestHeaders(c))
	req.Host = i.upstream.Host

	resp, err := i.client.Do(req)
	if err != nil {
		i.logStrategy(router.StrategyBypass, "", target.String(), false, err)
		return networkError(c)
	}
	defer resp.Body.Close()
	return relay(c, resp)
}

// handlePodcastAsset 缓存优先：命中立即返回；未命中回源，
// 成功且可存储时写入播客资产缓存后返回。
func (i *Interceptor) handlePodcastAsset(ctx context.Context, c fiber.Ctx, target *url.URL) error {
	cacheName := i.names.Qualified(cache.NamePodcastAssets)
	rawURL := target.String()

	if result, err := i.lookup(ctx, cacheName, rawURL); result != nil {
		i.logStrategy(router.StrategyPodcastAsset, cacheName, rawURL, true, nil)
		return serveCached(c, result)
	} else if err != nil {
		i.logger.WithError(err).WithField("url", rawURL).Warn("cache_get_failed")
	}

	resp, err := i.fetch(ctx, rawURL, requestHeaders(c))
	if err != nil {
		i.logStrategy(router.StrategyPodcastAsset, cacheName, rawURL, false, err)
		return networkError(c)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && cache.Storable(http.MethodGet, rawURL, resp.Header) {
		return i.storeAndServe(ctx, c, cacheName, rawURL, resp, router.StrategyPodcastAsset)
	}
	i.logStrategy(router.StrategyPodcastAsset, cacheName, rawURL, false, nil)
	return relay(c, resp)
}

// handleBuildArtifact 网络优先，透传凭证；失败回退缓存，
// 最后合成与扩展名匹配的空产物，避免缺失分片导致应用硬崩溃。
func (i *Interceptor) handleBuildArtifact(ctx context.Context, c fiber.Ctx, target *url.URL) error {
	cacheName := i.names.Qualified(cache.NameShell)
	rawURL := target.String()

	resp, err := i.fetch(ctx, rawURL, requestHeaders(c))
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			// 网络可达但分片缺失：典型的构建版本错配信号。
			i.noteStaleBuild(ctx, rawURL)
			return relay(c, resp)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return relay(c, resp)
		}
		if cache.Storable(http.MethodGet, rawURL, resp.Header) {
			return i.storeAndServe(ctx, c, cacheName, rawURL, resp, router.StrategyBuildArtifact)
		}
		return relay(c, resp)
	}

	if result, lookupErr := i.lookup(ctx, cacheName, rawURL); result != nil {
		i.logStrategy(router.StrategyBuildArtifact, cacheName, rawURL, true, nil)
		return serveCached(c, result)
	} else if lookupErr != nil {
		i.logger.WithError(lookupErr).WithField("url", rawURL).Warn("cache_get_failed")
	}

	i.logStrategy(router.StrategyBuildArtifact, cacheName, rawURL, false, err)
	switch {
	case strings.HasSuffix(target.Path, ".js"):
		return emptyScript(c)
	case strings.HasSuffix(target.Path, ".css"):
		return emptyStylesheet(c)
	default:
		return networkError(c)
	}
}

// handleNavigation 网络优先；成功缓存页面，失败回退缓存，
// 最终合成自包含的离线页。
func (i *Interceptor) handleNavigation(ctx context.Context, c fiber.Ctx, target *url.URL) error {
	cacheName := i.names.Qualified(cache.NamePages)
	rawURL := target.String()

	resp, err := i.fetch(ctx, rawURL, requestHeaders(c))
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 &&
			cache.Storable(http.MethodGet, rawURL, resp.Header) {
			return i.storeAndServe(ctx, c, cacheName, rawURL, resp, router.StrategyNavigation)
		}
		return relay(c, resp)
	}

	if result, lookupErr := i.lookup(ctx, cacheName, rawURL); result != nil {
		i.logStrategy(router.StrategyNavigation, cacheName, rawURL, true, nil)
		return serveCached(c, result)
	} else if lookupErr != nil {
		i.logger.WithError(lookupErr).WithField("url", rawURL).Warn("cache_get_failed")
	}

	i.logStrategy(router.StrategyNavigation, cacheName, rawURL, false, err)
	return offlinePage(c)
}

// handleDefault 兜底的缓存优先策略，仅缓存 200 响应。
func (i *Interceptor) handleDefault(ctx context.Context, c fiber.Ctx, target *url.URL) error {
	cacheName := i.names.Qualified(cache.NameShell)
	rawURL := target.String()

	if result, err := i.lookup(ctx, cacheName, rawURL); result != nil {
		i.logStrategy(router.StrategyDefault, cacheName, rawURL, true, nil)
		return serveCached(c, result)
	} else if err != nil {
		i.logger.WithError(err).WithField("url", rawURL).Warn("cache_get_failed")
	}

	resp, err := i.fetch(ctx, rawURL, requestHeaders(c))
	if err != nil {
		i.logStrategy(router.StrategyDefault, cacheName, rawURL, false, err)
		return networkError(c)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && cache.Storable(http.MethodGet, rawURL, resp.Header) {
		return i.storeAndServe(ctx, c, cacheName, rawURL, resp, router.StrategyDefault)
	}
	i.logStrategy(router.StrategyDefault, cacheName, rawURL, false, nil)
	return relay(c, resp)
}

// lookup 查询命名缓存；未命中返回 (nil, nil)，真实故障返回错误，
// 调用方将其按未命中处理。
func (i *Interceptor) lookup(ctx context.Context, cacheName, rawURL string) (*cache.ReadResult, error) {
	result, err := i.caches.Get(ctx, cacheName, rawURL)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	return nil, err
}

// storeAndServe 先把响应正文读入内存，再写缓存、再回放给调用方。
// 存储故障按未命中处理：条目不落缓存，但上游响应仍原样交付。
func (i *Interceptor) storeAndServe(
	ctx context.Context,
	c fiber.Ctx,
	cacheName, rawURL string,
	resp *http.Response,
	strategy router.Strategy,
) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		i.logStrategy(strategy, cacheName, rawURL, false, err)
		return networkError(c)
	}

	snap := cache.Snapshot{
		URL:         rawURL,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if _, err := i.caches.Put(ctx, cacheName, snap, bytes.NewReader(body)); err != nil {
		i.logger.WithError(err).WithFields(logrus.Fields{
			"cache": cacheName,
			"url":   rawURL,
		}).Warn("cache_put_failed")
	}

	i.logStrategy(strategy, cacheName, rawURL, false, nil)

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		c.Set("Content-Type", ct)
	}
	c.Set("X-Cache", "MISS")
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		return nil
	}
	_, err = c.Response().BodyWriter().Write(body)
	return err
}

// serveCached 从磁盘回放快照：状态码、内容类型与字节一致。
func serveCached(c fiber.Ctx, result *cache.ReadResult) error {
	defer result.Reader.Close()

	if ct := result.Entry.Snapshot.ContentType; ct != "" {
		c.Set("Content-Type", ct)
	}
	c.Set("X-Cache", "HIT")

	status := result.Entry.Snapshot.Status
	if status == 0 {
		status = http.StatusOK
	}
	c.Status(status)

	if c.Method() == http.MethodHead {
		return nil
	}
	_, err := io.Copy(c.Response().BodyWriter(), result.Reader)
	return err
}

// relay 将上游响应透传给调用方。多值头（例如多个 Set-Cookie）
// 逐个追加，不做合并。
func relay(c fiber.Ctx, resp *http.Response) error {
	for key, values := range resp.Header {
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
	c.Set("X-Cache", "MISS")
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		return nil
	}
	_, err := io.Copy(c.Response().BodyWriter(), resp.Body)
	return err
}

// resolveTarget 将入站的相对路径解析为上游绝对 URL。
func (i *Interceptor) resolveTarget(c fiber.Ctx) *url.URL {
	target := *i.upstream
	target.Path = string(c.Request().URI().Path())
	target.RawQuery = string(c.Request().URI().QueryString())
	return &target
}

func (i *Interceptor) logStrategy(strategy router.Strategy, cacheName, rawURL string, hit bool, err error) {
	fields := logging.RequestFields(string(strategy), cacheName, rawURL, hit)
	if err != nil {
		i.logger.WithFields(fields).WithError(err).Debug("fetch_failed")
		return
	}
	i.logger.WithFields(fields).Debug("request handled")
}

// requestHeaders 将 fasthttp 请求头转换为 net/http 形式。
func requestHeaders(c fiber.Ctx) http.Header {
	header := make(http.Header)
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func headerValue(c fiber.Ctx, key string) string {
	return string(c.Request().Header.Peek(key))
}
