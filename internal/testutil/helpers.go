// Package testutil holds helpers shared by integration and golden tests.
// Integration tests skip unless the environment provides endpoints via
// BASIS_TEST_PG / BASIS_TEST_NATS.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

// PostgresDSN returns the integration-test Postgres DSN, skipping the
// test when BASIS_TEST_PG is unset.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("BASIS_TEST_PG")
	if dsn == "" {
		t.Skip("skipping: BASIS_TEST_PG not set")
	}
	return dsn
}

// NATSURL returns the integration-test NATS URL, skipping the test when
// BASIS_TEST_NATS is unset.
func NATSURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("BASIS_TEST_NATS")
	if url == "" {
		t.Skip("skipping: BASIS_TEST_NATS not set")
	}
	return url
}

// SetupDB opens the integration database and returns it with a cleanup
// that truncates the subsystem's tables. Skips when the database is not
// reachable.
func SetupDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	db, err := sql.Open("postgres", PostgresDSN(t))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("test postgres not reachable: %v", err)
	}

	cleanup := func() {
		tables := []string{
			"audit.events",
			"history.pnl_records",
			"history.reconciliation_reports",
		}
		for _, table := range tables {
			db.Exec("TRUNCATE " + table + " CASCADE")
		}
		db.Close()
	}
	return db, cleanup
}

// GoldenFile reads a golden file from testdata/.
func GoldenFile(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read golden file %s: %v", path, err)
	}
	return data
}

// AssertGolden compares got against a golden file; UPDATE_GOLDEN=1
// rewrites the file instead.
func AssertGolden(t *testing.T, name string, got []byte) {
	t.Helper()

	path := filepath.Join("testdata", name)
	if os.Getenv("UPDATE_GOLDEN") == "1" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("create testdata dir: %v", err)
		}
		if err := os.WriteFile(path, got, 0o644); err != nil {
			t.Fatalf("write golden file %s: %v", path, err)
		}
		t.Logf("updated golden file: %s", path)
		return
	}

	want := GoldenFile(t, name)
	if string(got) != string(want) {
		t.Errorf("golden file mismatch for %s:\n--- want ---\n%s\n--- got ---\n%s",
			name, string(want), string(got))
	}
}
