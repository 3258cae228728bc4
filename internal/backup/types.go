// Package backup takes consistent snapshots of the hearth SQLite database
// and prunes old snapshots with a tiered retention policy. Snapshots are
// verified against the retrieval schema before they count as good.
package backup

import (
	"time"
)

// Config holds snapshot service configuration.
type Config struct {
	// DBPath is the SQLite database file to snapshot.
	DBPath string

	// Dir is the directory snapshots are written to. The service owns
	// files matching its own naming pattern only; anything else in the
	// directory is left alone.
	Dir string

	// Interval between automatic snapshots (default: 1 hour).
	Interval time.Duration

	// Retention caps how many snapshots each age tier keeps.
	Retention Policy

	// Verify runs an integrity and schema check on every new snapshot.
	Verify bool
}

// Policy caps the number of snapshots kept per age tier. Snapshots older
// than a year are always removed.
type Policy struct {
	Hourly  int // younger than 24 hours (default: 24)
	Daily   int // 1 to 7 days (default: 7)
	Weekly  int // 7 to 30 days (default: 4)
	Monthly int // 30 to 365 days (default: 12)
}

// Info describes one snapshot file on disk.
type Info struct {
	Path      string
	Timestamp time.Time
	Size      int64
}

// Result describes one completed snapshot.
type Result struct {
	Path     string
	Duration time.Duration
	Size     int64
	Verified bool
}

// Health summarizes the snapshot service state for operators.
type Health struct {
	// Status is "healthy" or "warning".
	Status  string
	Message string

	LastSnapshot time.Time
	NextSnapshot time.Time

	Total     int
	Dir       string
	DiskBytes int64
}
