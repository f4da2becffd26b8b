// Package router 将一次外发请求归类到缓存策略。归类逻辑集中在一张
// 有序的 (谓词, 策略) 规则表里，按序求值一次，与抓取执行完全解耦。
package router

import "net/url"

// Strategy 是请求的处理策略。
type Strategy string

const (
	// StrategyBypass 完全不经过缓存层，请求直透网络。
	StrategyBypass Strategy = "bypass"
	// StrategyPodcastAsset 缓存优先，未命中时回源并写入播客资产缓存。
	StrategyPodcastAsset Strategy = "podcast-asset"
	// StrategyBuildArtifact 网络优先，失败回退缓存或合成空产物。
	StrategyBuildArtifact Strategy = "build-artifact"
	// StrategyNavigation 网络优先，失败回退缓存或合成离线页。
	StrategyNavigation Strategy = "navigation"
	// StrategyDefault 兜底的缓存优先策略。
	StrategyDefault Strategy = "default"
)

// Request 是归类所需的最小请求视图，避免依赖具体 HTTP 框架。
type Request struct {
	Method       string
	URL          *url.URL
	SecFetchMode string
	Accept       string
}

// Rule 绑定一个命名谓词与对应策略。
type Rule struct {
	Name     string
	Match    func(Request) bool
	Strategy Strategy
}

// Router 持有有序规则表，构造后只读。
type Router struct {
	rules []Rule
}

// New 构建默认规则表，求值顺序即优先级。
func New() *Router {
	return &Router{rules: defaultRules()}
}

// Classify 按序匹配规则表，返回首个命中的策略；表尾兜底为 default。
func (r *Router) Classify(req Request) Strategy {
	for _, rule := range r.rules {
		if rule.Match(req) {
			return rule.Strategy
		}
	}
	return StrategyDefault
}

// Rules 返回规则表拷贝，供诊断端展示。
func (r *Router) Rules() []Rule {
	return append([]Rule(nil), r.rules...)
}
