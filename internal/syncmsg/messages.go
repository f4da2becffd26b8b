// Package syncmsg 定义前台应用与后台拦截器之间的同步协议：
// 带判别字段的消息联合体、逐类校验，以及进程内广播总线。
package syncmsg

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Kind 是消息的判别字段。
type Kind string

// 页面 → 拦截器。
const (
	KindSkipWaiting         Kind = "SKIP_WAITING"
	KindCachePodcast        Kind = "CACHE_PODCAST"
	KindRemoveCachedPodcast Kind = "REMOVE_CACHED_PODCAST"
)

// 拦截器 → 页面（广播到所有订阅方）。
const (
	KindPodcastCached   Kind = "PODCAST_CACHED"
	KindCachingComplete Kind = "CACHING_COMPLETE"
	KindPodcastRemoved  Kind = "PODCAST_REMOVED"
	KindActivated       Kind = "ACTIVATED"
	KindCachesPurged    Kind = "CACHES_PURGED"
)

// Podcast 是 CACHE_PODCAST 的载荷，字段名与远端 API 的 JSON 保持一致。
type Podcast struct {
	ID              string `json:"id"`
	Title           string `json:"title,omitempty"`
	Category        string `json:"category,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	AudioURL        string `json:"audio_url,omitempty"`
	CoverImageURL   string `json:"cover_image_url,omitempty"`
	TranscriptURL   string `json:"transcript_url,omitempty"`
}

// AssetURLs 返回非空的资产地址，顺序固定为 音频/封面/文稿。
func (p Podcast) AssetURLs() []string {
	var urls []string
	for _, u := range []string{p.AudioURL, p.CoverImageURL, p.TranscriptURL} {
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// Message 是协议的联合体表示，Kind 决定哪些字段有效。
type Message struct {
	Kind      Kind     `json:"type"`
	Podcast   *Podcast `json:"podcast,omitempty"`
	PodcastID string   `json:"podcastId,omitempty"`
	AssetURLs []string `json:"assetUrls,omitempty"`
}

// ErrUnknownKind 表示消息携带了协议之外的判别值。
var ErrUnknownKind = errors.New("unknown message kind")

// Validate 对每类消息做穷尽校验，畸形消息被显式拒绝而非静默丢弃。
func (m Message) Validate() error {
	switch m.Kind {
	case KindSkipWaiting, KindActivated, KindCachesPurged:
		return nil
	case KindCachePodcast:
		if m.Podcast == nil {
			return errors.New("CACHE_PODCAST requires a podcast payload")
		}
		if strings.TrimSpace(m.Podcast.ID) == "" {
			return errors.New("CACHE_PODCAST requires podcast.id")
		}
		if len(m.Podcast.AssetURLs()) == 0 {
			return errors.New("CACHE_PODCAST requires at least one asset url")
		}
		for _, raw := range m.Podcast.AssetURLs() {
			if err := validateAssetURL(raw); err != nil {
				return fmt.Errorf("CACHE_PODCAST asset url %q: %w", raw, err)
			}
		}
		return nil
	case KindRemoveCachedPodcast:
		if strings.TrimSpace(m.PodcastID) == "" {
			return errors.New("REMOVE_CACHED_PODCAST requires podcastId")
		}
		return nil
	case KindPodcastCached, KindCachingComplete, KindPodcastRemoved:
		if strings.TrimSpace(m.PodcastID) == "" {
			return fmt.Errorf("%s requires podcastId", m.Kind)
		}
		return nil
	case "":
		return errors.New("message kind is required")
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, m.Kind)
	}
}

// Decode 解析并校验一条线上的 JSON 消息。
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func validateAssetURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("unsupported scheme")
	}
	return nil
}
