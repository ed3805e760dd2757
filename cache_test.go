package roleguard

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/roleguard/roleguard/stores"
)

func TestCacheTierFastRoundtrip(t *testing.T) {
	ctx := context.Background()
	c := NewCacheTier(nil)
	defer c.Stop()

	c.Set(ctx, "k1", "v1", time.Minute)
	v, ok := c.Get(ctx, "k1")
	if !ok || v.(string) != "v1" {
		t.Fatalf("expected fast hit, got ok=%v v=%v", ok, v)
	}
	if _, ok := c.Get(ctx, "absent"); ok {
		t.Fatalf("expected miss")
	}
}

func TestCacheTierTTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewCacheTier(nil)
	defer c.Stop()

	c.Set(ctx, "k1", "v1", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(ctx, "k1"); ok {
		t.Fatalf("expected expiry on read")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry removed, len=%d", c.Len())
	}
}

func TestCacheTierLRUEviction(t *testing.T) {
	ctx := context.Background()
	// capacity below the shard count collapses to one slot per shard
	c := NewCacheTier(nil, WithFastCapacity(16))
	defer c.Stop()

	for i := 0; i < 200; i++ {
		c.Set(ctx, fmt.Sprintf("key-%d", i), i, time.Minute)
	}
	if got := c.Len(); got > 16 {
		t.Fatalf("fast tier exceeded capacity: %d", got)
	}
}

func TestCacheTierSlowPromotion(t *testing.T) {
	ctx := context.Background()
	slow := stores.NewMemoryKVStore()
	c := NewCacheTier(slow)

	c.Set(ctx, "k1", map[string]string{"a": "b"}, time.Minute)
	c.Stop()

	// a fresh tier simulates a restart: only the slow tier has the entry
	c2 := NewCacheTier(slow)
	defer c2.Stop()
	v, ok := c2.Get(ctx, "k1")
	if !ok {
		t.Fatalf("expected slow-tier hit")
	}
	raw, isRaw := v.(json.RawMessage)
	if !isRaw {
		t.Fatalf("expected promoted value as json.RawMessage, got %T", v)
	}
	var decoded map[string]string
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded["a"] != "b" {
		t.Fatalf("promoted value corrupt: %v %v", decoded, err)
	}

	// second read serves from the fast tier
	if _, ok := c2.Get(ctx, "k1"); !ok {
		t.Fatalf("expected fast hit after promotion")
	}
}

func TestCacheTierSlowEnvelope(t *testing.T) {
	ctx := context.Background()
	slow := stores.NewMemoryKVStore()
	c := NewCacheTier(slow, WithSlowTTLFactor(4))
	defer c.Stop()

	c.Set(ctx, "k1", "v1", time.Minute)

	data, ok, err := slow.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("expected slow entry, ok=%v err=%v", ok, err)
	}
	entry, err := stores.DecodeEntry(data)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	ttl := entry.ExpiresAt.Sub(entry.CreatedAt)
	if ttl != 4*time.Minute {
		t.Fatalf("expected slow ttl 4m, got %v", ttl)
	}
}

func TestCacheTierDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	slow := stores.NewMemoryKVStore()
	c := NewCacheTier(slow)
	defer c.Stop()

	c.Set(ctx, decisionCacheKey("p1", KindRegular, "view", "page", "home"), "d1", time.Minute)
	c.Set(ctx, decisionCacheKey("p1", KindRegular, "view", "page", "news"), "d2", time.Minute)
	c.Set(ctx, decisionCacheKey("p2", KindRegular, "view", "page", "home"), "d3", time.Minute)

	c.DeleteByPattern(ctx, principalCachePattern("p1"))

	if _, ok := c.Get(ctx, decisionCacheKey("p1", KindRegular, "view", "page", "home")); ok {
		t.Fatalf("expected p1 decisions gone")
	}
	if _, ok := c.Get(ctx, decisionCacheKey("p2", KindRegular, "view", "page", "home")); !ok {
		t.Fatalf("expected p2 decision kept")
	}
}

func TestCacheTierSweep(t *testing.T) {
	ctx := context.Background()
	c := NewCacheTier(nil, WithSweepInterval(10*time.Millisecond))
	defer c.Stop()

	c.Set(ctx, "k1", "v1", time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for c.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sweep never removed the expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
