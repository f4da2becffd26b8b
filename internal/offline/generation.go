package offline

import (
	"context"
	"sync/atomic"

	"github.com/briefcast/briefcast-offline/internal/store"
)

// Generation 实现"最新请求胜出"的竞态抑制：每次播放请求领取一个
// 代际令牌，异步任务在提交结果前检查令牌是否仍是最新；被后续请求
// 超越的任务允许跑完，但其结果被丢弃。
type Generation struct {
	counter atomic.Uint64
}

// Next 递增代际并返回当前请求的令牌。
func (g *Generation) Next() Token {
	return Token{gen: g, id: g.counter.Add(1)}
}

// Token 是单次请求的代际凭据。
type Token struct {
	gen *Generation
	id  uint64
}

// Current 返回该令牌是否仍是最新一代。
func (t Token) Current() bool {
	return t.gen != nil && t.gen.counter.Load() == t.id
}

// ResolvePlayback 为播放路径解析本地资产。结果提交前检查代际令牌：
// 若期间有更新的播放请求发出，本次结果被丢弃并返回 false。
func (m *Manager) ResolvePlayback(ctx context.Context, token Token, rawURL string, assetType store.AssetType) (*store.Asset, bool) {
	asset := m.LoadAsset(ctx, rawURL, assetType)
	if !token.Current() {
		return nil, false
	}
	return asset, true
}
