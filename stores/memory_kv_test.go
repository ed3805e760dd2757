package stores

import (
	"context"
	"testing"
	"time"
)

func TestMemoryKVStoreTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryKVStore()

	if err := s.Set(ctx, "k1", []byte("v1"), 20*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, _ := s.Get(ctx, "k1"); !ok || string(v) != "v1" {
		t.Fatalf("expected hit with v1, got ok=%v v=%q", ok, v)
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok, _ := s.Get(ctx, "k1"); ok {
		t.Fatalf("expected miss after ttl")
	}
}

func TestMemoryKVStoreDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryKVStore()
	_ = s.Set(ctx, "permission_cache_permission_p1_regular_view_page_a", []byte("1"), time.Minute)
	_ = s.Set(ctx, "permission_cache_permission_p1_regular_view_page_b", []byte("2"), time.Minute)
	_ = s.Set(ctx, "permission_cache_permission_p2_regular_view_page_a", []byte("3"), time.Minute)

	if err := s.DeleteByPattern(ctx, "permission_cache_permission_p1_*"); err != nil {
		t.Fatalf("delete by pattern: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "permission_cache_permission_p1_regular_view_page_a"); ok {
		t.Fatalf("expected p1 entry removed")
	}
	if _, ok, _ := s.Get(ctx, "permission_cache_permission_p2_regular_view_page_a"); !ok {
		t.Fatalf("expected p2 entry kept")
	}
}

func TestEntryEnvelopeRoundtrip(t *testing.T) {
	now := time.Now()
	data, err := EncodeEntry(map[string]any{"allowed": true}, now, time.Minute)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	entry, err := DecodeEntry(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.Expired(now) {
		t.Fatalf("fresh entry must not be expired")
	}
	if !entry.Expired(now.Add(2 * time.Minute)) {
		t.Fatalf("entry must expire after ttl")
	}
}
