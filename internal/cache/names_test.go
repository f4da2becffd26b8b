package cache

import (
	"bytes"
	"context"
	"sort"
	"testing"
)

func TestNamesQualified(t *testing.T) {
	names := NewNames("v1")
	if got := names.Qualified(NameShell); got != "briefcast-shell-v1" {
		t.Fatalf("unexpected qualified name: %s", got)
	}
	if got := names.Qualified(NamePodcastMetadata); got != "briefcast-podcast-metadata-v1" {
		t.Fatalf("unexpected qualified name: %s", got)
	}
}

func TestNamesDeclaredCoversAllLogicalNames(t *testing.T) {
	names := NewNames("v2")
	declared := names.Declared()
	if len(declared) != len(logicalNames) {
		t.Fatalf("expected %d declared names, got %d", len(logicalNames), len(declared))
	}
	for _, d := range declared {
		if !names.OwnedByApp(d) {
			t.Fatalf("declared cache %s should be owned by app", d)
		}
		if !names.IsDeclared(d) {
			t.Fatalf("declared cache %s should report as declared", d)
		}
	}
	if names.IsDeclared("briefcast-shell-v1") {
		t.Fatalf("v1 cache should not be declared under v2")
	}
}

func TestPurgeStaleRemovesOnlyOwnedUndeclared(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := func(cacheName string) {
		t.Helper()
		snap := Snapshot{URL: "https://briefcast.app/seed", Status: 200}
		if _, err := store.Put(ctx, cacheName, snap, bytes.NewReader([]byte("x"))); err != nil {
			t.Fatalf("seed %s: %v", cacheName, err)
		}
	}

	seed("briefcast-shell-v0") // 历史版本，应被回收
	seed("briefcast-shell-v1") // 当前声明，保留
	seed("other-data")         // 非本应用目录，保留

	removed, err := PurgeStale(ctx, store, NewNames("v1"), nil)
	if err != nil {
		t.Fatalf("purge stale error: %v", err)
	}
	if len(removed) != 1 || removed[0] != "briefcast-shell-v0" {
		t.Fatalf("unexpected removed set: %v", removed)
	}

	remaining, err := store.CacheNames()
	if err != nil {
		t.Fatalf("names error: %v", err)
	}
	sort.Strings(remaining)
	if len(remaining) != 2 || remaining[0] != "briefcast-shell-v1" || remaining[1] != "other-data" {
		t.Fatalf("unexpected remaining caches: %v", remaining)
	}
}

func TestPurgeAllRemovesEntireFamily(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap := Snapshot{URL: "https://briefcast.app/seed", Status: 200}
	for _, name := range []string{"briefcast-shell-v1", "briefcast-audio-v1", "other-data"} {
		if _, err := store.Put(ctx, name, snap, bytes.NewReader([]byte("x"))); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}

	removed, err := PurgeAll(ctx, store, NewNames("v1"), nil)
	if err != nil {
		t.Fatalf("purge all error: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("expected 2 purged caches, got %v", removed)
	}

	remaining, err := store.CacheNames()
	if err != nil {
		t.Fatalf("names error: %v", err)
	}
	if len(remaining) != 1 || remaining[0] != "other-data" {
		t.Fatalf("expected only foreign dir to survive, got %v", remaining)
	}
}
