package migrations

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestOpenDatabaseCreatesSchema(t *testing.T) {
	db, err := OpenDatabase(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	for _, table := range []string{"memory_collections", "memory_records", "memory_record_categories", "transcript"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestRunMigrationsIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mnemo.db")
	db, err := OpenDatabase(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := RunMigrations(db, zerolog.Nop()); err != nil {
		t.Fatalf("second run should be a no-op, got %v", err)
	}
	_ = db.Close() //nolint:errcheck // test cleanup

	db, err = OpenDatabase(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = db.Close() //nolint:errcheck // test cleanup
}
