package stores

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKVStore backs the slow cache tier with Redis. Keys are namespaced
// with a prefix so DeleteByPattern and Clear never touch foreign keys.
type RedisKVStore struct {
	client *redis.Client
	prefix string
}

func NewRedisKVStore(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{client: client, prefix: "roleguard:"}
}

func (s *RedisKVStore) key(k string) string { return s.prefix + k }

func (s *RedisKVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *RedisKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

func (s *RedisKVStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// DeleteByPattern translates the engine's '*' wildcard pattern to a Redis
// MATCH glob and deletes in SCAN batches to avoid blocking the server.
func (s *RedisKVStore) DeleteByPattern(ctx context.Context, pattern string) error {
	match := s.prefix + pattern
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, 256).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *RedisKVStore) Clear(ctx context.Context) error {
	return s.DeleteByPattern(ctx, "*")
}
