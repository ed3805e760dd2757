package stores

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"
)

func newTestSQLStore(t *testing.T) (*SQLKVStore, *squealx.DB) {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLKVStore(db), db
}

func TestSQLKVStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSQLStore(t)

	if err := s.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := s.Get(ctx, "k1")
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("get: v=%q ok=%v err=%v", v, ok, err)
	}

	// upsert replaces
	if err := s.Set(ctx, "k1", []byte("v2"), time.Minute); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if v, _, _ := s.Get(ctx, "k1"); string(v) != "v2" {
		t.Fatalf("expected upserted value, got %q", v)
	}

	if _, ok, _ := s.Get(ctx, "absent"); ok {
		t.Fatalf("expected miss for absent key")
	}
}

func TestSQLKVStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSQLStore(t)

	// write a row whose expiry is already in the past
	q := `INSERT INTO cache_entries(key, value, expires_at) VALUES(:key, :value, :expires_at)`
	_, err := db.NamedExecContext(ctx, q, map[string]any{
		"key": "k1", "value": []byte("v1"), "expires_at": time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k1"); ok {
		t.Fatalf("expected expired row to miss")
	}
}

func TestSQLKVStoreDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSQLStore(t)

	_ = s.Set(ctx, "permission_cache_permission_p1_regular_view_page_a", []byte("1"), time.Minute)
	_ = s.Set(ctx, "permission_cache_permission_p10_regular_view_page_a", []byte("2"), time.Minute)
	_ = s.Set(ctx, "permission_cache_user_role_p1", []byte("regular"), time.Minute)

	if err := s.DeleteByPattern(ctx, "permission_cache_permission_p1_*"); err != nil {
		t.Fatalf("delete by pattern: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "permission_cache_permission_p1_regular_view_page_a"); ok {
		t.Fatalf("expected p1 decision removed")
	}
	// '_' is literal in the wildcard grammar, so p10 must survive a p1_ pattern
	if _, ok, _ := s.Get(ctx, "permission_cache_permission_p10_regular_view_page_a"); !ok {
		t.Fatalf("expected p10 decision kept")
	}
	if _, ok, _ := s.Get(ctx, "permission_cache_user_role_p1"); !ok {
		t.Fatalf("expected user role entry kept")
	}
}

func TestToLikePattern(t *testing.T) {
	got := toLikePattern("permission_cache_permission_p1_*")
	want := `permission\_cache\_permission\_p1\_%`
	if got != want {
		t.Fatalf("toLikePattern = %q, want %q", got, want)
	}
}
