package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PodcastRecord 描述一集可离线播放的播客。savedOffline 为真时，三个
// 资产引用应当在 assets 表中存在（尽力而为，部分失败被容忍并记录）。
type PodcastRecord struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Category        string          `json:"category"`
	DurationSeconds int             `json:"duration_seconds"`
	CoverImageURL   string          `json:"cover_image_url"`
	AudioURL        string          `json:"audio_url"`
	TranscriptURL   string          `json:"transcript_url"`
	SavedOffline    bool            `json:"saved_offline"`
	SavedAt         time.Time       `json:"saved_at"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// AssetURLs 返回记录引用的非空资产地址。
func (p PodcastRecord) AssetURLs() []string {
	var urls []string
	for _, u := range []string{p.AudioURL, p.CoverImageURL, p.TranscriptURL} {
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// PutPodcast 按主键 upsert，last-write-wins，无版本合并。
func (s *Store) PutPodcast(ctx context.Context, rec PodcastRecord) error {
	if rec.ID == "" {
		return errors.New("podcast id required")
	}
	metadata := rec.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}
	savedAt := ""
	if !rec.SavedAt.IsZero() {
		savedAt = rec.SavedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO podcasts (
            id, title, category, duration_seconds,
            cover_image_url, audio_url, transcript_url,
            saved_offline, saved_at, metadata
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            title = excluded.title,
            category = excluded.category,
            duration_seconds = excluded.duration_seconds,
            cover_image_url = excluded.cover_image_url,
            audio_url = excluded.audio_url,
            transcript_url = excluded.transcript_url,
            saved_offline = excluded.saved_offline,
            saved_at = excluded.saved_at,
            metadata = excluded.metadata`,
		rec.ID, rec.Title, rec.Category, rec.DurationSeconds,
		rec.CoverImageURL, rec.AudioURL, rec.TranscriptURL,
		boolToInt(rec.SavedOffline), savedAt, string(metadata),
	)
	if err != nil {
		return fmt.Errorf("put podcast: %w", err)
	}
	return nil
}

// GetPodcast 按 id 读取；不存在时返回 ErrNotFound。
func (s *Store) GetPodcast(ctx context.Context, id string) (*PodcastRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, category, duration_seconds,
                cover_image_url, audio_url, transcript_url,
                saved_offline, saved_at, metadata
           FROM podcasts WHERE id = ?`, id)
	rec, err := scanPodcast(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get podcast: %w", err)
	}
	return rec, nil
}

// AllPodcasts 返回全部记录；onlySaved 为真时只保留 savedOffline 的。
func (s *Store) AllPodcasts(ctx context.Context, onlySaved bool) ([]PodcastRecord, error) {
	query := `SELECT id, title, category, duration_seconds,
                     cover_image_url, audio_url, transcript_url,
                     saved_offline, saved_at, metadata
                FROM podcasts ORDER BY saved_at DESC, id`
	if onlySaved {
		query = `SELECT id, title, category, duration_seconds,
                        cover_image_url, audio_url, transcript_url,
                        saved_offline, saved_at, metadata
                   FROM podcasts WHERE saved_offline = 1
                  ORDER BY saved_at DESC, id`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list podcasts: %w", err)
	}
	defer rows.Close()

	var result []PodcastRecord
	for rows.Next() {
		rec, scanErr := scanPodcast(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan podcast: %w", scanErr)
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list podcasts: %w", err)
	}
	return result, nil
}

// DeletePodcast 幂等删除，主键不存在不是错误。
func (s *Store) DeletePodcast(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM podcasts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete podcast: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPodcast(row rowScanner) (*PodcastRecord, error) {
	var (
		rec       PodcastRecord
		savedFlag int
		savedAt   string
		metadata  string
	)
	if err := row.Scan(
		&rec.ID, &rec.Title, &rec.Category, &rec.DurationSeconds,
		&rec.CoverImageURL, &rec.AudioURL, &rec.TranscriptURL,
		&savedFlag, &savedAt, &metadata,
	); err != nil {
		return nil, err
	}
	rec.SavedOffline = savedFlag != 0
	if savedAt != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, savedAt); err == nil {
			rec.SavedAt = parsed
		}
	}
	if metadata != "" {
		rec.Metadata = json.RawMessage(metadata)
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
