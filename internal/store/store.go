// Package store 提供离线播客的持久化层：podcasts 按 id、assets 按 URL
// 键控的两张 SQLite 表，进程重启后数据仍然可用。
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound 表示主键不存在；读取方应将其转换为 nil/false 结果。
var ErrNotFound = errors.New("record not found")

// Store 持有共享的 SQLite 连接。
type Store struct {
	db   *sql.DB
	path string
}

// Open 初始化或连接数据库并应用建表语句。
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure database dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close 关闭底层连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path 返回数据库文件路径，供诊断使用。
func (s *Store) Path() string {
	return s.path
}

func (s *Store) applyMigrations(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS podcasts (
            id TEXT PRIMARY KEY,
            title TEXT NOT NULL DEFAULT '',
            category TEXT NOT NULL DEFAULT '',
            duration_seconds INTEGER NOT NULL DEFAULT 0,
            cover_image_url TEXT NOT NULL DEFAULT '',
            audio_url TEXT NOT NULL DEFAULT '',
            transcript_url TEXT NOT NULL DEFAULT '',
            saved_offline INTEGER NOT NULL DEFAULT 0,
            saved_at TEXT NOT NULL DEFAULT '',
            metadata TEXT NOT NULL DEFAULT '{}'
        )`,
		`CREATE TABLE IF NOT EXISTS assets (
            url TEXT PRIMARY KEY,
            blob BLOB NOT NULL,
            mime_type TEXT NOT NULL DEFAULT '',
            asset_type TEXT NOT NULL,
            stored_at TEXT NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_podcasts_saved_offline
            ON podcasts (saved_offline)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
