package database

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// newTestDB opens a migrated store in a temp directory.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), DefaultFileName))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_CreatesFileAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected database file to exist: %v", err)
	}

	for _, table := range []string{"weight_record", "settings", "schema_migrations"} {
		var name string
		err := db.queryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}

	version, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion returned error: %v", err)
	}
	if version != SchemaVersion {
		t.Fatalf("expected schema version %d, got %d", SchemaVersion, version)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)

	for i := 0; i < 3; i++ {
		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate iteration %d failed: %v", i, err)
		}
	}

	var count int
	if err := db.queryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 applied migration, got %d", count)
	}
}

func TestMigrate_RejectsNewerSchema(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.exec("INSERT INTO schema_migrations (version) VALUES (?)", SchemaVersion+1); err != nil {
		t.Fatalf("failed to seed migration row: %v", err)
	}
	if err := db.Migrate(); err == nil {
		t.Fatal("expected error for newer schema version")
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/user.db")
	if err == nil {
		t.Fatal("expected error for invalid path")
	}
	if !errors.Is(err, ErrInit) {
		t.Fatalf("expected ErrInit, got %v", err)
	}
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	boom := errors.New("boom")

	err := db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO weight_record (weight, date, time) VALUES (1, 'd', 't')"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var count int
	if err := db.queryRow("SELECT COUNT(*) FROM weight_record").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback to leave 0 rows, got %d", count)
	}
}

func TestClose_Nil(t *testing.T) {
	var db *DB
	if err := db.Close(); err != nil {
		t.Fatalf("Close on nil DB should not error: %v", err)
	}
}

func TestSplitSQLStatements(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want int
	}{
		{"empty", "", 0},
		{"comments only", "-- one\n-- two\n", 0},
		{"single without semicolon", "SELECT 1", 1},
		{"two statements", "CREATE TABLE a (x INTEGER);\n-- note\nCREATE TABLE b (\n  y INTEGER\n);\n", 2},
		{"stray semicolon", ";\nSELECT 1;", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := splitSQLStatements(tc.sql)
			if len(got) != tc.want {
				t.Fatalf("expected %d statements, got %d: %q", tc.want, len(got), got)
			}
		})
	}
}

func TestMaintenance(t *testing.T) {
	db := newTestDB(t)

	if err := db.Optimize(); err != nil {
		t.Fatalf("Optimize returned error: %v", err)
	}
	if err := db.Vacuum(); err != nil {
		t.Fatalf("Vacuum returned error: %v", err)
	}
	if err := db.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint returned error: %v", err)
	}

	var empty *DB
	if err := empty.Optimize(); !errors.Is(err, ErrOperation) {
		t.Fatalf("expected ErrOperation optimizing nil database, got %v", err)
	}
}
