package stores

import (
	"context"
	"encoding/json"
	"time"
)

// KVStore is the durable slow cache tier: opaque blobs keyed by string.
// Implementations must be safe for concurrent use. Errors are surfaced to the
// caller, which treats them as misses/no-ops.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPattern(ctx context.Context, pattern string) error
	Clear(ctx context.Context) error
}

// Entry is the persisted envelope for one cached value.
type Entry struct {
	Value        json.RawMessage `json:"value"`
	CreatedAt    time.Time       `json:"createdAt"`
	ExpiresAt    time.Time       `json:"expiresAt"`
	AccessCount  int64           `json:"accessCount"`
	LastAccessAt time.Time       `json:"lastAccessAt"`
}

// Expired reports whether the entry's TTL has elapsed.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// EncodeEntry wraps a value into the persisted envelope.
func EncodeEntry(value any, now time.Time, ttl time.Duration) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Entry{
		Value:        raw,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		LastAccessAt: now,
	})
}

// DecodeEntry parses a persisted envelope.
func DecodeEntry(data []byte) (*Entry, error) {
	e := &Entry{}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, err
	}
	return e, nil
}
