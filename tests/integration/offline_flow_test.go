package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/briefcast/briefcast-offline/internal/cache"
	"github.com/briefcast/briefcast-offline/internal/interceptor"
	"github.com/briefcast/briefcast-offline/internal/offline"
	"github.com/briefcast/briefcast-offline/internal/router"
	"github.com/briefcast/briefcast-offline/internal/server"
	"github.com/briefcast/briefcast-offline/internal/server/routes"
	"github.com/briefcast/briefcast-offline/internal/store"
	"github.com/briefcast/briefcast-offline/internal/syncmsg"
)

// appStub mimics the upstream web application: shell pages, build
// artifacts and podcast asset files.
type appStub struct {
	mu     sync.Mutex
	hits   map[string]int
	routes map[string]stubRoute
}

type stubRoute struct {
	contentType string
	body        string
}

func newAppStub() *appStub {
	return &appStub{hits: make(map[string]int), routes: make(map[string]stubRoute)}
}

func (s *appStub) serve(path, contentType, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[path] = stubRoute{contentType: contentType, body: body}
}

func (s *appStub) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *appStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	route, ok := s.routes[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", route.contentType)
	_, _ = w.Write([]byte(route.body))
}

type gateway struct {
	app     *fiber.App
	icept   *interceptor.Interceptor
	bus     *syncmsg.Bus
	caches  cache.Store
	records *store.Store
	names   cache.Names
}

func newGateway(t *testing.T, upstreamURL string, shell []string) *gateway {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	caches, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("cache store: %v", err)
	}
	records, err := store.Open(filepath.Join(t.TempDir(), "offline.db"))
	if err != nil {
		t.Fatalf("record store: %v", err)
	}
	t.Cleanup(func() { _ = records.Close() })

	bus := syncmsg.NewBus(2 * time.Second)
	names := cache.NewNames("v1")
	client := &http.Client{Timeout: 2 * time.Second}

	icept, err := interceptor.New(interceptor.Options{
		Client:        client,
		Logger:        logger,
		Caches:        caches,
		Names:         names,
		Records:       records,
		Bus:           bus,
		Router:        router.New(),
		Upstream:      upstreamURL,
		ShellManifest: shell,
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}

	manager, err := offline.NewManager(offline.Options{
		Records: records,
		Bus:     bus,
		Client:  client,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:      logger,
		Interceptor: icept,
		ListenPort:  5080,
	})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	routes.RegisterOfflineRoutes(app, routes.Deps{
		Logger:      logger,
		Manager:     manager,
		Interceptor: icept,
		Bus:         bus,
		Names:       names,
	})

	return &gateway{app: app, icept: icept, bus: bus, caches: caches, records: records, names: names}
}

func (g *gateway) request(t *testing.T, method, path, body string, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "http://briefcast.local"+path, reader)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := g.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test %s %s: %v", method, path, err)
	}
	return resp
}

func TestOfflineLifecycle(t *testing.T) {
	upstream := newAppStub()
	upstream.serve("/", "text/html", "<html>BriefCast</html>")
	upstream.serve("/library", "text/html", "<html>library</html>")
	upstream.serve("/files/ep-1.mp3", "audio/mpeg", "audio bytes")
	upstream.serve("/files/ep-1.jpg", "image/jpeg", "cover bytes")
	ts := httptest.NewServer(upstream)

	gw := newGateway(t, ts.URL, []string{"/"})
	ctx := context.Background()

	// 安装 + 激活：壳页面入缓存，广播 ACTIVATED。
	ack, cancel := gw.bus.Subscribe(16)
	defer cancel()
	gw.icept.Install(ctx)
	if err := gw.icept.Activate(ctx); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := gw.bus.WaitOn(ctx, ack, func(m syncmsg.Message) bool {
		return m.Kind == syncmsg.KindActivated
	}); err != nil {
		t.Fatalf("activation broadcast missing: %v", err)
	}

	// 在线浏览页面与音频，填充缓存。
	resp := gw.request(t, http.MethodGet, "/library", "", map[string]string{"Sec-Fetch-Mode": "navigate"})
	resp.Body.Close()
	resp = gw.request(t, http.MethodGet, "/files/ep-1.mp3", "", nil)
	resp.Body.Close()

	// 通过控制接口保存播客离线。
	save := `{
		"type": "CACHE_PODCAST",
		"podcast": {
			"id": "ep-1",
			"title": "Deep Dive",
			"audio_url": "` + ts.URL + `/files/ep-1.mp3",
			"cover_image_url": "` + ts.URL + `/files/ep-1.jpg"
		}
	}`
	saveResp := gw.request(t, http.MethodPost, "/-/offline/podcasts", save, map[string]string{"Content-Type": "application/json"})
	var saveResult struct {
		Saved  bool `json:"saved"`
		Cached bool `json:"cached"`
	}
	if err := json.NewDecoder(saveResp.Body).Decode(&saveResult); err != nil {
		t.Fatalf("decode save result: %v", err)
	}
	saveResp.Body.Close()
	if !saveResult.Saved || !saveResult.Cached {
		t.Fatalf("save should complete both pipelines: %+v", saveResult)
	}

	// 上游失联：此前浏览过的内容仍然可用。
	ts.Close()

	resp = gw.request(t, http.MethodGet, "/library", "", map[string]string{"Sec-Fetch-Mode": "navigate"})
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "<html>library</html>" {
		t.Fatalf("cached page should replay offline: %s", string(body))
	}

	resp = gw.request(t, http.MethodGet, "/files/ep-1.mp3", "", nil)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "audio bytes" {
		t.Fatalf("cached audio should replay offline: %s", string(body))
	}

	// 未浏览过的导航退化为离线页。
	resp = gw.request(t, http.MethodGet, "/discover", "", map[string]string{"Sec-Fetch-Mode": "navigate"})
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "You're Offline") {
		t.Fatalf("expected offline page, got %s", string(body))
	}

	// 离线记录依旧可查。
	listResp := gw.request(t, http.MethodGet, "/-/offline/podcasts", "", nil)
	var list struct {
		Podcasts []store.PodcastRecord `json:"podcasts"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	listResp.Body.Close()
	if len(list.Podcasts) != 1 || list.Podcasts[0].ID != "ep-1" {
		t.Fatalf("unexpected offline list: %+v", list.Podcasts)
	}

	// 删除后缓存与记录同步消失。
	delResp := gw.request(t, http.MethodDelete, "/-/offline/podcasts/ep-1", "", nil)
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("delete failed: %d", delResp.StatusCode)
	}

	if _, err := gw.records.GetPodcast(ctx, "ep-1"); err == nil {
		t.Fatalf("record should be deleted")
	}
	audioCache := gw.names.Qualified(cache.NamePodcastAssets)
	if _, err := gw.caches.Get(ctx, audioCache, ts.URL+"/files/ep-1.mp3"); err != cache.ErrNotFound {
		t.Fatalf("cached audio should be deleted, got %v", err)
	}

	// 状态接口反映激活态。
	statusResp := gw.request(t, http.MethodGet, "/-/status", "", nil)
	var status struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(statusResp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	statusResp.Body.Close()
	if !status.Active {
		t.Fatalf("gateway should report active")
	}
}

func TestShellPrecacheServesDeclaredEntriesOffline(t *testing.T) {
	upstream := newAppStub()
	upstream.serve("/", "text/html", "<html>shell</html>")
	upstream.serve("/manifest.json", "application/json", `{"name":"BriefCast"}`)
	ts := httptest.NewServer(upstream)

	gw := newGateway(t, ts.URL, []string{"/", "/manifest.json"})
	gw.icept.Install(context.Background())

	ts.Close()

	resp := gw.request(t, http.MethodGet, "/manifest.json", "", nil)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "BriefCast") {
		t.Fatalf("precached manifest should replay offline: %s", string(body))
	}
}

func TestStaleBuildRecoveryEndToEnd(t *testing.T) {
	upstream := newAppStub()
	upstream.serve("/library", "text/html", "<html>library</html>")
	ts := httptest.NewServer(upstream)
	defer ts.Close()

	gw := newGateway(t, ts.URL, nil)
	ctx := context.Background()

	// 填充一个页面缓存，再触发版本错配恢复。
	resp := gw.request(t, http.MethodGet, "/library", "", map[string]string{"Sec-Fetch-Mode": "navigate"})
	resp.Body.Close()

	ack, cancel := gw.bus.Subscribe(16)
	defer cancel()

	resp = gw.request(t, http.MethodGet, "/_next/static/chunks/old-build.js", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing chunk should relay 404, got %d", resp.StatusCode)
	}

	if _, err := gw.bus.WaitOn(ctx, ack, func(m syncmsg.Message) bool {
		return m.Kind == syncmsg.KindCachesPurged
	}); err != nil {
		t.Fatalf("expected CACHES_PURGED: %v", err)
	}

	dirs, err := gw.caches.CacheNames()
	if err != nil {
		t.Fatalf("cache names: %v", err)
	}
	for _, dir := range dirs {
		if strings.HasPrefix(dir, "briefcast-") {
			t.Fatalf("app caches should be empty after recovery, found %s", dir)
		}
	}
}
