package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaVersion is one step of the schema ladder.
type schemaVersion struct {
	version int
	name    string
	sql     string
}

// schemaVersions lists every schema change in order. migrate applies the
// pending ones and records them in schema_migrations, so an existing
// database upgrades in place when a release appends a version. Shipped
// versions are never edited, only appended to.
var schemaVersions = []schemaVersion{
	{1, "retrieval schema", Schema},
}

// migrate brings the database up to the newest schema version.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("sqlite: failed to create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("sqlite: failed to read schema version: %w", err)
	}

	for _, sv := range schemaVersions {
		if sv.version <= current {
			continue
		}
		if _, err := db.Exec(sv.sql); err != nil {
			return fmt.Errorf("sqlite: failed to apply schema version %d (%s): %w", sv.version, sv.name, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`,
			sv.version, sv.name); err != nil {
			return fmt.Errorf("sqlite: failed to record schema version %d: %w", sv.version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied schema version, 0 for a database
// that has never been migrated.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to read schema version: %w", err)
	}
	return version, nil
}
