package roleguard

import (
	"container/list"
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/roleguard/roleguard/logger"
	"github.com/roleguard/roleguard/stores"
	"github.com/roleguard/roleguard/utils"
)

const (
	defaultFastCapacity  = 1000
	defaultFastShards    = 16
	defaultSlowTTLFactor = 4 // slow tier keeps entries this many times longer
	defaultSweepInterval = 30 * time.Second
)

// fastEntry is one fast-tier cache slot with its bookkeeping.
type fastEntry struct {
	key          string
	value        any
	createdAt    time.Time
	expiresAt    time.Time
	accessCount  int64
	lastAccessAt time.Time
}

// cacheShard is one LRU segment of the fast tier. The list front is the most
// recently accessed entry.
type cacheShard struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
}

func newCacheShard(capacity int) *cacheShard {
	if capacity < 1 {
		capacity = 1
	}
	return &cacheShard{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (s *cacheShard) get(key string, now time.Time) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*fastEntry)
	if now.After(entry.expiresAt) {
		s.order.Remove(el)
		delete(s.items, key)
		return nil, false
	}
	entry.accessCount++
	entry.lastAccessAt = now
	s.order.MoveToFront(el)
	return entry.value, true
}

func (s *cacheShard) set(entry *fastEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[entry.key]; ok {
		el.Value = entry
		s.order.MoveToFront(el)
		return
	}
	if s.order.Len() >= s.capacity {
		// evict the least-recently-accessed entry
		if back := s.order.Back(); back != nil {
			s.order.Remove(back)
			delete(s.items, back.Value.(*fastEntry).key)
		}
	}
	s.items[entry.key] = s.order.PushFront(entry)
}

func (s *cacheShard) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		s.order.Remove(el)
		delete(s.items, key)
	}
}

func (s *cacheShard) deleteByPattern(pattern string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, el := range s.items {
		if utils.MatchKey(key, pattern) {
			s.order.Remove(el)
			delete(s.items, key)
		}
	}
}

func (s *cacheShard) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, el := range s.items {
		if now.After(el.Value.(*fastEntry).expiresAt) {
			s.order.Remove(el)
			delete(s.items, key)
			removed++
		}
	}
	return removed
}

func (s *cacheShard) clear() {
	s.mu.Lock()
	s.items = make(map[string]*list.Element, s.capacity)
	s.order.Init()
	s.mu.Unlock()
}

// CacheTier is the two-level cache every other component reads through:
// a fast in-process sharded LRU with per-entry TTL, in front of a durable
// slow KV store with a longer TTL. Slow-tier failures degrade to misses.
type CacheTier struct {
	shards        []*cacheShard
	slow          stores.KVStore
	slowTTLFactor int
	sweepEvery    time.Duration
	log           logger.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// CacheOption customizes a CacheTier.
type CacheOption func(*CacheTier)

// WithFastCapacity bounds the fast tier (total entries across shards).
func WithFastCapacity(n int) CacheOption {
	return func(c *CacheTier) {
		if n > 0 {
			perShard := n / len(c.shards)
			if perShard < 1 {
				perShard = 1
			}
			for i := range c.shards {
				c.shards[i] = newCacheShard(perShard)
			}
		}
	}
}

// WithSlowTTLFactor sets how many times the fast TTL the slow tier keeps.
func WithSlowTTLFactor(factor int) CacheOption {
	return func(c *CacheTier) {
		if factor > 0 {
			c.slowTTLFactor = factor
		}
	}
}

// WithSweepInterval sets the background expiry sweep period.
func WithSweepInterval(d time.Duration) CacheOption {
	return func(c *CacheTier) {
		if d > 0 {
			c.sweepEvery = d
		}
	}
}

// WithCacheLogger installs a logger on the tier.
func WithCacheLogger(l logger.Logger) CacheOption {
	return func(c *CacheTier) {
		if l != nil {
			c.log = l
		}
	}
}

// NewCacheTier builds a tier over the given slow store. A nil slow store is
// allowed; the tier then runs fast-only. Call Stop at shutdown.
func NewCacheTier(slow stores.KVStore, opts ...CacheOption) *CacheTier {
	c := &CacheTier{
		shards:        make([]*cacheShard, defaultFastShards),
		slow:          slow,
		slowTTLFactor: defaultSlowTTLFactor,
		sweepEvery:    defaultSweepInterval,
		log:           logger.NewNullLogger(),
		stopCh:        make(chan struct{}),
	}
	perShard := defaultFastCapacity / defaultFastShards
	for i := range c.shards {
		c.shards[i] = newCacheShard(perShard)
	}
	for _, opt := range opts {
		opt(c)
	}

	c.wg.Add(1)
	go c.sweepLoop()
	return c
}

func (c *CacheTier) shard(key string) *cacheShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get reads fast tier first, then the slow tier. A slow hit is promoted into
// the fast tier with its remaining TTL and returned as json.RawMessage.
func (c *CacheTier) Get(ctx context.Context, key string) (any, bool) {
	now := time.Now()
	if v, ok := c.shard(key).get(key, now); ok {
		return v, true
	}
	if c.slow == nil {
		return nil, false
	}
	data, ok, err := c.slow.Get(ctx, key)
	if err != nil {
		c.log.Error("slow cache read failed", "key", key, "error", err.Error())
		return nil, false
	}
	if !ok {
		return nil, false
	}
	entry, err := stores.DecodeEntry(data)
	if err != nil {
		c.log.Error("slow cache entry corrupt", "key", key, "error", err.Error())
		_ = c.slow.Delete(ctx, key)
		return nil, false
	}
	if entry.Expired(now) {
		_ = c.slow.Delete(ctx, key)
		return nil, false
	}
	value := json.RawMessage(entry.Value)
	c.shard(key).set(&fastEntry{
		key:          key,
		value:        value,
		createdAt:    entry.CreatedAt,
		expiresAt:    entry.ExpiresAt,
		accessCount:  entry.AccessCount + 1,
		lastAccessAt: now,
	})
	return value, true
}

// Set writes both tiers. The slow tier keeps the entry slowTTLFactor times
// longer than the fast tier; slow-tier write failures are logged only.
func (c *CacheTier) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	now := time.Now()
	c.shard(key).set(&fastEntry{
		key:          key,
		value:        value,
		createdAt:    now,
		expiresAt:    now.Add(ttl),
		lastAccessAt: now,
	})
	if c.slow == nil {
		return
	}
	slowTTL := ttl * time.Duration(c.slowTTLFactor)
	data, err := stores.EncodeEntry(value, now, slowTTL)
	if err != nil {
		c.log.Error("slow cache encode failed", "key", key, "error", err.Error())
		return
	}
	if err := c.slow.Set(ctx, key, data, slowTTL); err != nil {
		c.log.Error("slow cache write failed", "key", key, "error", err.Error())
	}
}

// Delete removes the key from both tiers.
func (c *CacheTier) Delete(ctx context.Context, key string) {
	c.shard(key).delete(key)
	if c.slow != nil {
		if err := c.slow.Delete(ctx, key); err != nil {
			c.log.Error("slow cache delete failed", "key", key, "error", err.Error())
		}
	}
}

// DeleteByPattern removes every key matching the '*' wildcard pattern from
// both tiers.
func (c *CacheTier) DeleteByPattern(ctx context.Context, pattern string) {
	for _, s := range c.shards {
		s.deleteByPattern(pattern)
	}
	if c.slow != nil {
		if err := c.slow.DeleteByPattern(ctx, pattern); err != nil {
			c.log.Error("slow cache pattern delete failed", "pattern", pattern, "error", err.Error())
		}
	}
}

// Clear empties both tiers.
func (c *CacheTier) Clear(ctx context.Context) {
	for _, s := range c.shards {
		s.clear()
	}
	if c.slow != nil {
		if err := c.slow.Clear(ctx); err != nil {
			c.log.Error("slow cache clear failed", "error", err.Error())
		}
	}
}

// Len reports the fast-tier entry count (testing/metrics).
func (c *CacheTier) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.order.Len()
		s.mu.Unlock()
	}
	return n
}

func (c *CacheTier) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			removed := 0
			for _, s := range c.shards {
				removed += s.sweep(now)
			}
			if removed > 0 {
				c.log.Debug("cache sweep", "removed", removed)
			}
		}
	}
}

// Stop terminates the background sweep. Safe to call more than once.
func (c *CacheTier) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}
