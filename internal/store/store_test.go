package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "offline.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func samplePodcast(id string) PodcastRecord {
	return PodcastRecord{
		ID:              id,
		Title:           "Deep Dive " + id,
		Category:        "tech",
		DurationSeconds: 1800,
		CoverImageURL:   "https://cdn.briefcast.app/files/" + id + ".jpg",
		AudioURL:        "https://cdn.briefcast.app/files/" + id + ".mp3",
		TranscriptURL:   "https://cdn.briefcast.app/files/" + id + ".txt",
		SavedOffline:    true,
		SavedAt:         time.Now().UTC(),
	}
}

func TestPodcastPutAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec := samplePodcast("ep-1")
	if err := db.PutPodcast(ctx, rec); err != nil {
		t.Fatalf("put error: %v", err)
	}

	got, err := db.GetPodcast(ctx, "ep-1")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got.Title != rec.Title || got.AudioURL != rec.AudioURL || !got.SavedOffline {
		t.Fatalf("record mismatch: %+v", got)
	}
	if got.SavedAt.IsZero() {
		t.Fatalf("saved_at should round-trip")
	}
}

func TestPodcastGetMissing(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.GetPodcast(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPodcastUpsertLastWriteWins(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec := samplePodcast("ep-1")
	if err := db.PutPodcast(ctx, rec); err != nil {
		t.Fatalf("first put: %v", err)
	}
	rec.Title = "Renamed"
	rec.SavedOffline = false
	if err := db.PutPodcast(ctx, rec); err != nil {
		t.Fatalf("second put: %v", err)
	}

	got, err := db.GetPodcast(ctx, "ep-1")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got.Title != "Renamed" || got.SavedOffline {
		t.Fatalf("upsert should overwrite: %+v", got)
	}
}

func TestAllPodcastsOnlySaved(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	saved := samplePodcast("ep-1")
	if err := db.PutPodcast(ctx, saved); err != nil {
		t.Fatalf("put saved: %v", err)
	}
	draft := samplePodcast("ep-2")
	draft.SavedOffline = false
	if err := db.PutPodcast(ctx, draft); err != nil {
		t.Fatalf("put draft: %v", err)
	}

	all, err := db.AllPodcasts(ctx, false)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}

	onlySaved, err := db.AllPodcasts(ctx, true)
	if err != nil {
		t.Fatalf("list saved: %v", err)
	}
	if len(onlySaved) != 1 || onlySaved[0].ID != "ep-1" {
		t.Fatalf("expected only saved record, got %+v", onlySaved)
	}
}

func TestDeletePodcastIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.PutPodcast(ctx, samplePodcast("ep-1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.DeletePodcast(ctx, "ep-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.GetPodcast(ctx, "ep-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := db.DeletePodcast(ctx, "ep-1"); err != nil {
		t.Fatalf("second delete should be idempotent: %v", err)
	}
}

func TestAssetPutGetAndRefresh(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour).UTC()
	asset := Asset{
		URL:      "https://cdn.briefcast.app/files/ep-1.mp3",
		Blob:     []byte("audio bytes"),
		MimeType: "audio/mpeg",
		Type:     AssetAudio,
		StoredAt: old,
	}
	if err := db.PutAsset(ctx, asset); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := db.GetAsset(ctx, asset.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Blob) != "audio bytes" || got.Type != AssetAudio {
		t.Fatalf("asset mismatch: %+v", got)
	}

	// 重复写入覆盖旧拷贝并刷新 stored_at。
	fresh := time.Now().UTC()
	asset.Blob = []byte("new bytes")
	asset.StoredAt = fresh
	if err := db.PutAsset(ctx, asset); err != nil {
		t.Fatalf("refresh put: %v", err)
	}
	got, err = db.GetAsset(ctx, asset.URL)
	if err != nil {
		t.Fatalf("refresh get: %v", err)
	}
	if string(got.Blob) != "new bytes" {
		t.Fatalf("overwrite should win: %s", string(got.Blob))
	}
	if !got.StoredAt.After(old) {
		t.Fatalf("stored_at should be refreshed: %v", got.StoredAt)
	}
}

func TestAssetGetMissing(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.GetAsset(context.Background(), "https://nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAssetIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if err := db.DeleteAsset(ctx, "https://never-existed"); err != nil {
		t.Fatalf("delete of missing asset should succeed: %v", err)
	}
}

func TestAssetReferenced(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	shared := "https://cdn.briefcast.app/files/shared-cover.jpg"
	a := samplePodcast("ep-a")
	a.CoverImageURL = shared
	b := samplePodcast("ep-b")
	b.CoverImageURL = shared
	for _, rec := range []PodcastRecord{a, b} {
		if err := db.PutPodcast(ctx, rec); err != nil {
			t.Fatalf("put %s: %v", rec.ID, err)
		}
	}

	referenced, err := db.AssetReferenced(ctx, shared, "ep-a")
	if err != nil {
		t.Fatalf("reference check: %v", err)
	}
	if !referenced {
		t.Fatalf("shared cover should be referenced by ep-b")
	}

	solo, err := db.AssetReferenced(ctx, a.AudioURL, "ep-a")
	if err != nil {
		t.Fatalf("reference check: %v", err)
	}
	if solo {
		t.Fatalf("audio url is exclusive to ep-a")
	}
}
