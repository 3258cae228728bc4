package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMigrateFreshDatabase(t *testing.T) {
	store := newStoreForTest(t)
	ctx := context.Background()

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if want := schemaVersions[len(schemaVersions)-1].version; version != want {
		t.Errorf("schema version = %d, want %d", version, want)
	}

	for _, table := range []string{"entities", "clusters", "cluster_entities", "conversation_memories"} {
		var name string
		err := store.db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing after migration: %v", table, err)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hearth.db")

	first, err := NewStore(path)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	second, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	var rows int
	if err := second.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&rows); err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if rows != len(schemaVersions) {
		t.Errorf("schema_migrations has %d rows, want %d", rows, len(schemaVersions))
	}
}

func TestSchemaVersionsAreOrdered(t *testing.T) {
	for i, sv := range schemaVersions {
		if sv.version != i+1 {
			t.Errorf("schemaVersions[%d].version = %d, want %d", i, sv.version, i+1)
		}
		if sv.name == "" {
			t.Errorf("schemaVersions[%d] has no name", i)
		}
		if sv.sql == "" {
			t.Errorf("schemaVersions[%d] has no sql", i)
		}
	}
}
