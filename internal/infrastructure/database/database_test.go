package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nerrad567/homeapp-node/internal/infrastructure/config"
)

func TestOpen(t *testing.T) {
	t.Run("creates nested directory and file", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "data", "nested", "homeapp.db")

		db, err := Open(context.Background(), config.DatabaseConfig{
			Path:        dbPath,
			WALMode:     true,
			BusyTimeout: 5,
		})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // Test cleanup

		if _, err := os.Stat(dbPath); err != nil {
			t.Errorf("database file not created: %v", err)
		}
		if db.Path() != dbPath {
			t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
		}
	})

	t.Run("enables WAL journal mode", func(t *testing.T) {
		db, err := Open(context.Background(), config.DatabaseConfig{
			Path:        filepath.Join(t.TempDir(), "wal.db"),
			WALMode:     true,
			BusyTimeout: 1,
		})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // Test cleanup

		var mode string
		if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
			t.Fatalf("PRAGMA journal_mode: %v", err)
		}
		if mode != "wal" {
			t.Errorf("journal_mode = %q, want wal", mode)
		}
	})
}

func TestDSN(t *testing.T) {
	got := dsn(config.DatabaseConfig{Path: "/data/x.db", BusyTimeout: 2})
	want := "file:/data/x.db?_busy_timeout=2000&_foreign_keys=on"
	if got != want {
		t.Errorf("dsn() = %q, want %q", got, want)
	}

	got = dsn(config.DatabaseConfig{Path: "/data/x.db", BusyTimeout: 2, WALMode: true})
	if got != want+"&_journal_mode=WAL&_synchronous=NORMAL" {
		t.Errorf("dsn() with WAL = %q", got)
	}
}

func TestOpenMemory_HealthCheckAndClose(t *testing.T) {
	db := openTestDB(t)

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if db.Path() != ":memory:" {
		t.Errorf("Path() = %q, want :memory:", db.Path())
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := db.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after Close() expected error")
	}
}

// openTestDB opens an in-memory database for testing.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db
}
