package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/config"
)

// openTestDB opens a WAL-mode database file under a temporary directory.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "shims.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	return db
}

func count(t *testing.T, db *DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRowContext(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("%s: %v", query, err)
	}
	return n
}

func TestOpenCreatesNestedPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "var", "lib", "shims", "shims.db")
	db, err := Open(config.DatabaseConfig{Path: path, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file: %v", err)
	}
	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", got)
	}
	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestOpenInMemory(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Path: MemoryPath, WALMode: true, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open(:memory:) error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE t (v TEXT)"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO t (v) VALUES ('x')"); err != nil {
		t.Fatal(err)
	}
	if n := count(t, db, "SELECT COUNT(*) FROM t"); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{}); err == nil {
		t.Error("Open() with empty path should fail")
	}
}

func TestDSN(t *testing.T) {
	got := dsn(config.DatabaseConfig{Path: "/data/shims.db", WALMode: true, BusyTimeout: 5}, false)
	want := "file:/data/shims.db?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL"
	if got != want {
		t.Errorf("dsn() = %q, want %q", got, want)
	}
	if mem := dsn(config.DatabaseConfig{Path: MemoryPath, WALMode: true}, true); strings.Contains(mem, "WAL") {
		t.Errorf("in-memory dsn should not request WAL: %q", mem)
	}
}

func TestExecContextWrapsErrors(t *testing.T) {
	db := openTestDB(t)
	_, err := db.ExecContext(context.Background(), "INSERT INTO missing_table VALUES (1)")
	if err == nil || !strings.HasPrefix(err.Error(), "executing query:") {
		t.Errorf("ExecContext() error = %v, want wrapped error", err)
	}
}

func TestInTx(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE readings (value REAL)"); err != nil {
		t.Fatal(err)
	}

	err := db.inTx(ctx, func(exec execer) error {
		_, err := exec.ExecContext(ctx, "INSERT INTO readings (value) VALUES (21.5)")
		return err
	})
	if err != nil {
		t.Fatalf("inTx(commit) error = %v", err)
	}

	boom := errors.New("boom")
	err = db.inTx(ctx, func(exec execer) error {
		if _, err := exec.ExecContext(ctx, "INSERT INTO readings (value) VALUES (99)"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("inTx(rollback) error = %v, want boom", err)
	}

	if n := count(t, db, "SELECT COUNT(*) FROM readings"); n != 1 {
		t.Errorf("rows = %d, want only the committed one", n)
	}
}

func TestCloseTwice(t *testing.T) {
	db := openTestDB(t)
	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	db.DB = nil
	if err := db.Close(); err != nil {
		t.Errorf("Close() on nil DB error = %v", err)
	}
}
