package syncmsg

import (
	"errors"
	"testing"
)

func TestValidateCachePodcast(t *testing.T) {
	valid := Message{
		Kind: KindCachePodcast,
		Podcast: &Podcast{
			ID:            "ep-1",
			AudioURL:      "https://cdn.briefcast.app/files/ep-1.mp3",
			CoverImageURL: "https://cdn.briefcast.app/files/ep-1.jpg",
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}

	missingPayload := Message{Kind: KindCachePodcast}
	if err := missingPayload.Validate(); err == nil {
		t.Fatalf("expected rejection without podcast payload")
	}

	missingID := Message{Kind: KindCachePodcast, Podcast: &Podcast{AudioURL: "https://x/a.mp3"}}
	if err := missingID.Validate(); err == nil {
		t.Fatalf("expected rejection without podcast id")
	}

	noAssets := Message{Kind: KindCachePodcast, Podcast: &Podcast{ID: "ep-1"}}
	if err := noAssets.Validate(); err == nil {
		t.Fatalf("expected rejection without asset urls")
	}

	badScheme := Message{Kind: KindCachePodcast, Podcast: &Podcast{ID: "ep-1", AudioURL: "ftp://x/a.mp3"}}
	if err := badScheme.Validate(); err == nil {
		t.Fatalf("expected rejection for non-http asset url")
	}
}

func TestValidateRemoveCachedPodcast(t *testing.T) {
	if err := (Message{Kind: KindRemoveCachedPodcast, PodcastID: "ep-1"}).Validate(); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}
	if err := (Message{Kind: KindRemoveCachedPodcast}).Validate(); err == nil {
		t.Fatalf("expected rejection without podcastId")
	}
}

func TestValidateBroadcastKinds(t *testing.T) {
	if err := (Message{Kind: KindActivated}).Validate(); err != nil {
		t.Fatalf("ACTIVATED should carry no payload: %v", err)
	}
	if err := (Message{Kind: KindCachesPurged}).Validate(); err != nil {
		t.Fatalf("CACHES_PURGED should carry no payload: %v", err)
	}
	if err := (Message{Kind: KindPodcastCached}).Validate(); err == nil {
		t.Fatalf("PODCAST_CACHED requires podcastId")
	}
	if err := (Message{Kind: KindPodcastCached, PodcastID: "ep-1"}).Validate(); err != nil {
		t.Fatalf("valid broadcast rejected: %v", err)
	}
}

func TestValidateUnknownKind(t *testing.T) {
	err := Message{Kind: "RESET_EVERYTHING"}.Validate()
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if err := (Message{}).Validate(); err == nil {
		t.Fatalf("empty kind must be rejected")
	}
}

func TestDecode(t *testing.T) {
	raw := []byte(`{
		"type": "CACHE_PODCAST",
		"podcast": {
			"id": "ep-7",
			"title": "Deep Dive",
			"audio_url": "https://cdn.briefcast.app/files/ep-7.mp3"
		}
	}`)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if msg.Kind != KindCachePodcast || msg.Podcast.ID != "ep-7" {
		t.Fatalf("unexpected decode result: %+v", msg)
	}

	if _, err := Decode([]byte(`{not json`)); err == nil {
		t.Fatalf("malformed JSON must be rejected")
	}
	if _, err := Decode([]byte(`{"type":"CACHE_PODCAST"}`)); err == nil {
		t.Fatalf("structurally invalid message must be rejected")
	}
}

func TestPodcastAssetURLsOrder(t *testing.T) {
	p := Podcast{
		ID:            "ep-1",
		AudioURL:      "https://x/a.mp3",
		CoverImageURL: "https://x/c.jpg",
	}
	urls := p.AssetURLs()
	if len(urls) != 2 || urls[0] != p.AudioURL || urls[1] != p.CoverImageURL {
		t.Fatalf("unexpected asset urls: %v", urls)
	}
}
