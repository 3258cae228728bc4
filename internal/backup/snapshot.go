package backup

import (
	"database/sql"
	"fmt"
	"io"
	"os"

	_ "modernc.org/sqlite" // SQLite driver
)

// requiredTables are the retrieval schema tables a usable snapshot must
// contain. A snapshot that passes integrity_check but lacks these was taken
// from the wrong database.
var requiredTables = []string{
	"entities",
	"clusters",
	"cluster_entities",
	"conversation_memories",
}

// snapshotDatabase writes a consistent point-in-time copy of the database.
// VACUUM INTO handles WAL mode correctly without blocking writers for the
// whole copy.
func snapshotDatabase(sourcePath, destPath string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", sourcePath))
	if err != nil {
		return fmt.Errorf("backup: failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("backup: database not readable: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return fmt.Errorf("backup: snapshot failed: %w", err)
	}
	return nil
}

// verifySnapshot checks a snapshot's integrity and confirms it carries the
// retrieval schema.
func verifySnapshot(path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("backup: failed to open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("backup: integrity check failed to run: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("backup: integrity check failed: %s", result)
	}

	for _, table := range requiredTables {
		var name string
		err := db.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		if err == sql.ErrNoRows {
			return fmt.Errorf("backup: snapshot is missing table %s", table)
		}
		if err != nil {
			return fmt.Errorf("backup: schema check failed: %w", err)
		}
	}
	return nil
}

// restoreDatabase copies a verified snapshot over the target path. The
// target database must not be open.
func restoreDatabase(snapshotPath, targetPath string) error {
	if err := verifySnapshot(snapshotPath); err != nil {
		return err
	}

	src, err := os.Open(snapshotPath)
	if err != nil {
		return fmt.Errorf("backup: failed to open snapshot: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(targetPath)
	if err != nil {
		return fmt.Errorf("backup: failed to create target: %w", err)
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("backup: failed to copy snapshot: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("backup: failed to sync target: %w", err)
	}

	return verifySnapshot(targetPath)
}
