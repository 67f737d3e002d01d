package migration

import (
	"errors"
	"testing"
	"testing/fstest"
)

func TestScanner_Scan(t *testing.T) {
	t.Parallel()

	t.Run("orders migrations and reads descriptions", func(t *testing.T) {
		t.Parallel()

		files := fstest.MapFS{
			"migrations/002_add_index.sql":    {Data: []byte("CREATE INDEX idx ON t(a);")},
			"migrations/001_create_table.sql": {Data: []byte("-- Description: create t\nCREATE TABLE t (a TEXT);")},
			"migrations/README.md":            {Data: []byte("ignored")},
		}

		got, err := NewScanner(files, "migrations").Scan()
		if err != nil {
			t.Fatalf("Scan returned error: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 migrations, got %d", len(got))
		}
		if got[0].Version != "001" || got[1].Version != "002" {
			t.Fatalf("unexpected order: %s, %s", got[0].Version, got[1].Version)
		}
		if got[0].Description != "create t" {
			t.Fatalf("expected description from content, got %q", got[0].Description)
		}
		if got[1].Description != "add index" {
			t.Fatalf("expected description from file name, got %q", got[1].Description)
		}
		if got[0].Checksum == "" {
			t.Fatalf("expected checksum to be populated")
		}
	})

	t.Run("rejects malformed file names", func(t *testing.T) {
		t.Parallel()

		files := fstest.MapFS{"m/create.sql": {Data: []byte("SELECT 1;")}}
		_, err := NewScanner(files, "m").Scan()
		if !errors.Is(err, ErrInvalidMigrationFile) {
			t.Fatalf("expected ErrInvalidMigrationFile, got %v", err)
		}
	})

	t.Run("rejects duplicate versions", func(t *testing.T) {
		t.Parallel()

		files := fstest.MapFS{
			"m/001_a.sql": {Data: []byte("SELECT 1;")},
			"m/1_b.sql":   {Data: []byte("SELECT 2;")},
		}
		_, err := NewScanner(files, "m").Scan()
		if !errors.Is(err, ErrDuplicateVersion) {
			t.Fatalf("expected ErrDuplicateVersion, got %v", err)
		}
	})

	t.Run("rejects comment-only files", func(t *testing.T) {
		t.Parallel()

		files := fstest.MapFS{"m/001_empty.sql": {Data: []byte("-- nothing here\n")}}
		_, err := NewScanner(files, "m").Scan()
		if !errors.Is(err, ErrInvalidMigrationFile) {
			t.Fatalf("expected ErrInvalidMigrationFile, got %v", err)
		}
	})
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()

	got := splitStatements("-- header\nCREATE TABLE a (x INT);\n\n-- next\nCREATE TABLE b (y INT);\n")
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if got[1] != "CREATE TABLE b (y INT)" {
		t.Fatalf("unexpected statement: %q", got[1])
	}
}
