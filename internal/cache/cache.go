package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Store 负责管理命名缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<briefcast-缓存名-版本>/<sha[0:2]>/<sha>.body      # 响应正文
//	<StoragePath>/<briefcast-缓存名-版本>/<sha[0:2]>/<sha>.meta.json # 快照元数据
//
// 同一 URL 在单个命名缓存中至多存在一份拷贝，重复写入覆盖旧值。
type Store interface {
	// Get 返回可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, cacheName, rawURL string) (*ReadResult, error)

	// Put 将响应快照写入指定命名缓存。实现需通过临时文件 + rename
	// 保证写入原子性，并在失败时清理临时文件。
	Put(ctx context.Context, cacheName string, snap Snapshot, body io.Reader) (*Entry, error)

	// Delete 删除条目；删除不存在的键不是错误。
	Delete(ctx context.Context, cacheName, rawURL string) error

	// CacheNames 枚举磁盘上当前存在的全部命名缓存目录。
	CacheNames() ([]string, error)

	// PurgeCache 整体删除一个命名缓存目录。
	PurgeCache(ctx context.Context, cacheName string) error
}

// Snapshot 描述一次响应快照的元数据，与正文分离存储。
type Snapshot struct {
	URL         string            `json:"url"`
	Status      int               `json:"status"`
	ContentType string            `json:"content_type"`
	Header      map[string]string `json:"header,omitempty"`
	StoredAt    time.Time         `json:"stored_at"`
}

// Entry 表示一次缓存命中结果，包含绝对文件路径及大小。
type Entry struct {
	Snapshot  Snapshot
	CacheName string
	FilePath  string
	SizeBytes int64
}

// ReadResult 组合 Entry 与正文 Reader，便于拦截层直接将正文流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// Storable 判断一次请求/响应是否允许落入命名缓存：只读方法、
// 可抓取的网络 scheme，并且响应不携带会话 Cookie。
func Storable(method, rawURL string, respHeader http.Header) bool {
	if method != http.MethodGet {
		return false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if respHeader != nil && respHeader.Get("Set-Cookie") != "" {
		return false
	}
	return true
}
