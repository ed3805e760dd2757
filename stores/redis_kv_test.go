package stores

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisKVStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisKVStore(client), mr
}

func TestRedisKVStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	if err := s.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := s.Get(ctx, "k1")
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("get: v=%q ok=%v err=%v", v, ok, err)
	}

	// stored under the namespace prefix
	if !mr.Exists("roleguard:k1") {
		t.Fatalf("expected namespaced key in redis")
	}

	if _, ok, _ := s.Get(ctx, "absent"); ok {
		t.Fatalf("expected miss for absent key")
	}
}

func TestRedisKVStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	_ = s.Set(ctx, "k1", []byte("v1"), time.Second)
	mr.FastForward(2 * time.Second)
	if _, ok, _ := s.Get(ctx, "k1"); ok {
		t.Fatalf("expected expiry after fast forward")
	}
}

func TestRedisKVStoreDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	_ = s.Set(ctx, "permission_cache_permission_p1_regular_view_page_a", []byte("1"), time.Minute)
	_ = s.Set(ctx, "permission_cache_permission_p1_regular_view_page_b", []byte("2"), time.Minute)
	_ = s.Set(ctx, "permission_cache_permission_p2_regular_view_page_a", []byte("3"), time.Minute)

	if err := s.DeleteByPattern(ctx, "permission_cache_permission_p1_*"); err != nil {
		t.Fatalf("delete by pattern: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "permission_cache_permission_p1_regular_view_page_a"); ok {
		t.Fatalf("expected p1 entries removed")
	}
	if _, ok, _ := s.Get(ctx, "permission_cache_permission_p2_regular_view_page_a"); !ok {
		t.Fatalf("expected p2 entry kept")
	}
}
