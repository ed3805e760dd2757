package stores

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/oarkflow/squealx"
)

//go:embed sql_migrations.sql
var migrationsSQL string

// Migrate creates the cache table. Call once at startup.
func Migrate(db *squealx.DB) error {
	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// SQLKVStore backs the slow cache tier with a SQL database (squealx). Rows
// carry their own expiry; expired rows are filtered on read and removed
// opportunistically.
type SQLKVStore struct {
	db *squealx.DB
}

func NewSQLKVStore(db *squealx.DB) *SQLKVStore {
	return &SQLKVStore{db: db}
}

func (s *SQLKVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	q := `SELECT value, expires_at FROM cache_entries WHERE key = :key`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"key": key})
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, false, nil
	}
	var value []byte
	var expiresAt int64
	if err := rows.Scan(&value, &expiresAt); err != nil {
		return nil, false, err
	}
	if expiresAt > 0 && time.Now().Unix() > expiresAt {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}
	return value, true, nil
}

func (s *SQLKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}
	q := `INSERT INTO cache_entries(key, value, expires_at) VALUES(:key, :value, :expires_at)
	      ON CONFLICT(key) DO UPDATE SET value = :value, expires_at = :expires_at`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"key": key, "value": value, "expires_at": expiresAt})
	return err
}

func (s *SQLKVStore) Delete(ctx context.Context, key string) error {
	q := `DELETE FROM cache_entries WHERE key = :key`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"key": key})
	return err
}

func (s *SQLKVStore) DeleteByPattern(ctx context.Context, pattern string) error {
	q := `DELETE FROM cache_entries WHERE key LIKE :pattern ESCAPE '\'`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"pattern": toLikePattern(pattern)})
	return err
}

func (s *SQLKVStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	return err
}

// toLikePattern converts the engine's '*' wildcard grammar into a SQL LIKE
// pattern. Cache keys are full of underscores, so LIKE metacharacters in the
// literal parts are escaped.
func toLikePattern(pattern string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(pattern)
	return strings.ReplaceAll(escaped, `*`, `%`)
}
