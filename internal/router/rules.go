package router

import (
	"net/http"
	"regexp"
	"strings"
)

// 永不缓存的路径特征：source map、API、鉴权与生成端点。
var (
	sourceMapPattern = regexp.MustCompile(`\.map$`)

	excludedFragments = []string{
		"/api/",
		"/auth",
		"/generate",
		"/sign-",
	}

	// 身份提供商的域名整体绕过，避免缓存任何鉴权内容。
	excludedHosts = []string{
		"clerk.com",
	}
)

// 构建产物路径：带版本哈希的脚本与样式分片。
var buildArtifactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/_next/static/chunks/`),
	regexp.MustCompile(`/_next/static/[^/]+/pages/`),
	regexp.MustCompile(`/_next/static/[^/]+/app/`),
	regexp.MustCompile(`/_next/static/css/`),
}

// 播客资产：文件段或音频扩展名。
var audioExtensions = []string{".mp3", ".wav", ".m4a", ".ogg"}

func defaultRules() []Rule {
	return []Rule{
		{Name: "non-get", Match: matchNonGet, Strategy: StrategyBypass},
		{Name: "unsupported-scheme", Match: matchUnsupportedScheme, Strategy: StrategyBypass},
		{Name: "excluded-host", Match: matchExcludedHost, Strategy: StrategyBypass},
		{Name: "excluded-path", Match: matchExcludedPath, Strategy: StrategyBypass},
		{Name: "source-map", Match: matchSourceMap, Strategy: StrategyBypass},
		{Name: "podcast-asset", Match: matchPodcastAsset, Strategy: StrategyPodcastAsset},
		{Name: "build-artifact", Match: matchBuildArtifact, Strategy: StrategyBuildArtifact},
		{Name: "navigation", Match: matchNavigation, Strategy: StrategyNavigation},
	}
}

func matchNonGet(req Request) bool {
	return req.Method != http.MethodGet
}

func matchUnsupportedScheme(req Request) bool {
	if req.URL == nil {
		return true
	}
	scheme := req.URL.Scheme
	// 相对 URL（反向代理入站请求）视为同源 http。
	if scheme == "" {
		return false
	}
	return scheme != "http" && scheme != "https"
}

func matchExcludedHost(req Request) bool {
	if req.URL == nil {
		return false
	}
	host := strings.ToLower(req.URL.Host)
	for _, fragment := range excludedHosts {
		if strings.Contains(host, fragment) {
			return true
		}
	}
	return false
}

func matchExcludedPath(req Request) bool {
	path := requestPath(req)
	for _, fragment := range excludedFragments {
		if strings.Contains(path, fragment) {
			return true
		}
	}
	return false
}

func matchSourceMap(req Request) bool {
	return sourceMapPattern.MatchString(requestPath(req))
}

func matchPodcastAsset(req Request) bool {
	path := strings.ToLower(requestPath(req))
	if strings.Contains(path, "/files/") {
		return true
	}
	for _, ext := range audioExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func matchBuildArtifact(req Request) bool {
	path := requestPath(req)
	if !strings.Contains(path, "/_next/static/") {
		return false
	}
	for _, pattern := range buildArtifactPatterns {
		if pattern.MatchString(path) {
			return true
		}
	}
	// 其余 /_next/static/ 资源同样按构建产物处理。
	return true
}

// matchNavigation 识别顶层页面导航：优先 Sec-Fetch-Mode，退化到 Accept。
func matchNavigation(req Request) bool {
	if req.SecFetchMode == "navigate" {
		return true
	}
	return strings.Contains(req.Accept, "text/html")
}

func requestPath(req Request) string {
	if req.URL == nil {
		return ""
	}
	return req.URL.Path
}
