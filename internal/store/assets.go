package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AssetType 区分三类播客资产。
type AssetType string

const (
	AssetAudio      AssetType = "audio"
	AssetImage      AssetType = "image"
	AssetTranscript AssetType = "transcript"
)

// Asset 是以来源 URL 为主键的二进制资源快照。
type Asset struct {
	URL      string    `json:"url"`
	Blob     []byte    `json:"-"`
	MimeType string    `json:"mime_type"`
	Type     AssetType `json:"asset_type"`
	StoredAt time.Time `json:"stored_at"`
}

// PutAsset 按 URL upsert；重复写入覆盖旧拷贝并刷新 stored_at。
func (s *Store) PutAsset(ctx context.Context, a Asset) error {
	if a.URL == "" {
		return errors.New("asset url required")
	}
	if a.Type == "" {
		return errors.New("asset type required")
	}
	storedAt := a.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assets (url, blob, mime_type, asset_type, stored_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(url) DO UPDATE SET
            blob = excluded.blob,
            mime_type = excluded.mime_type,
            asset_type = excluded.asset_type,
            stored_at = excluded.stored_at`,
		a.URL, a.Blob, a.MimeType, string(a.Type),
		storedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put asset: %w", err)
	}
	return nil
}

// GetAsset 按 URL 读取；不存在时返回 ErrNotFound。
func (s *Store) GetAsset(ctx context.Context, url string) (*Asset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT url, blob, mime_type, asset_type, stored_at
           FROM assets WHERE url = ?`, url)

	var (
		asset     Asset
		assetType string
		storedAt  string
	)
	if err := row.Scan(&asset.URL, &asset.Blob, &asset.MimeType, &assetType, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get asset: %w", err)
	}
	asset.Type = AssetType(assetType)
	if parsed, err := time.Parse(time.RFC3339Nano, storedAt); err == nil {
		asset.StoredAt = parsed
	}
	return &asset, nil
}

// DeleteAsset 幂等删除。
func (s *Store) DeleteAsset(ctx context.Context, url string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE url = ?`, url); err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	return nil
}

// AssetReferenced 判断除 excludeID 以外是否仍有播客记录引用该 URL。
// 级联删除前调用，避免误删被多条记录共享的资产。
func (s *Store) AssetReferenced(ctx context.Context, url, excludeID string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM podcasts
          WHERE id != ?
            AND (cover_image_url = ? OR audio_url = ? OR transcript_url = ?)`,
		excludeID, url, url, url)

	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("count asset references: %w", err)
	}
	return count > 0, nil
}
