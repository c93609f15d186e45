// Package repotest opens migrated throwaway repositories for tests.
package repotest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"groupkeeper/internal/logging"
	"groupkeeper/internal/repo"
	"groupkeeper/migrations"
)

// SQLite returns a migrated SQLite repository living in t.TempDir().
func SQLite(t testing.TB) *repo.SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	r, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "test.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(r.Close)
	if err := r.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return r
}

// Postgres returns a migrated Postgres repository when TEST_DATABASE_URL is set and skips otherwise.
func Postgres(t testing.TB) *repo.PostgresRepository {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	r, err := repo.New(ctx, url, os.Getenv("TEST_DATABASE_SCHEMA"), logging.Discard())
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(r.Close)
	if err := r.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate postgres: %v", err)
	}
	return r
}
