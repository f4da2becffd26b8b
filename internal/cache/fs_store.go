package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入，同时复用 basePath。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Get(ctx context.Context, cacheName, rawURL string) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	bodyPath, metaPath, err := s.entryPaths(cacheName, rawURL)
	if err != nil {
		return nil, err
	}

	// 与 Put 串行化，保证读到的正文与元数据属于同一次写入。
	unlock := s.lockEntry(cacheName, rawURL)
	defer unlock()

	info, err := os.Stat(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	snap, err := loadSnapshot(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	f, err := os.Open(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	entry := Entry{
		Snapshot:  snap,
		CacheName: cacheName,
		FilePath:  bodyPath,
		SizeBytes: info.Size(),
	}

	return &ReadResult{
		Entry:  entry,
		Reader: f,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, cacheName string, snap Snapshot, body io.Reader) (*Entry, error) {
	unlock := s.lockEntry(cacheName, snap.URL)
	defer unlock()

	bodyPath, metaPath, err := s.entryPaths(cacheName, snap.URL)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(bodyPath), 0o755); err != nil {
		return nil, err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(bodyPath), ".cache-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	if snap.StoredAt.IsZero() {
		snap.StoredAt = time.Now().UTC()
	}

	metaBytes, err := json.Marshal(snap)
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}
	metaTemp, err := os.CreateTemp(filepath.Dir(metaPath), ".meta-*")
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}
	metaTempName := metaTemp.Name()
	_, writeErr := metaTemp.Write(metaBytes)
	closeErr = metaTemp.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempName)
		os.Remove(metaTempName)
		return nil, writeErr
	}

	// 正文先落位，元数据随后落位；两步都是原子改名。
	if err := os.Rename(tempName, bodyPath); err != nil {
		os.Remove(tempName)
		os.Remove(metaTempName)
		return nil, err
	}
	if err := os.Rename(metaTempName, metaPath); err != nil {
		os.Remove(metaTempName)
		return nil, err
	}

	entry := Entry{
		Snapshot:  snap,
		CacheName: cacheName,
		FilePath:  bodyPath,
		SizeBytes: written,
	}
	return &entry, nil
}

func (s *fileStore) Delete(ctx context.Context, cacheName, rawURL string) error {
	unlock := s.lockEntry(cacheName, rawURL)
	defer unlock()

	bodyPath, metaPath, err := s.entryPaths(cacheName, rawURL)
	if err != nil {
		return err
	}
	if err := os.Remove(bodyPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) CacheNames() ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (s *fileStore) PurgeCache(ctx context.Context, cacheName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cacheName == "" || cacheName == "." || cacheName == ".." {
		return errors.New("invalid cache name")
	}
	dir := filepath.Join(s.basePath, cacheName)
	if !isWithin(s.basePath, dir) {
		return errors.New("invalid cache name")
	}
	return os.RemoveAll(dir)
}

func (s *fileStore) lockEntry(cacheName, rawURL string) func() {
	key := cacheName + "::" + rawURL
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// entryPaths 将 URL 哈希成两级目录下的文件对，正文与元数据分离。
func (s *fileStore) entryPaths(cacheName, rawURL string) (string, string, error) {
	if cacheName == "" {
		return "", "", errors.New("cache name required")
	}
	if rawURL == "" {
		return "", "", errors.New("url required")
	}

	sum := fmt.Sprintf("%x", sha256.Sum256([]byte(rawURL)))
	dir := filepath.Join(s.basePath, cacheName, sum[0:2])
	if !isWithin(s.basePath, dir) {
		return "", "", errors.New("invalid cache path")
	}
	return filepath.Join(dir, sum+".body"), filepath.Join(dir, sum+".meta.json"), nil
}

func loadSnapshot(metaPath string) (Snapshot, error) {
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot meta: %w", err)
	}
	return snap, nil
}

func isWithin(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && rel != "." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
