package backup

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Service takes scheduled snapshots of the retrieval database.
type Service struct {
	dbPath    string
	dir       string
	interval  time.Duration
	retention Policy
	verify    bool

	mu       sync.Mutex
	running  bool
	lastTook time.Time
	nextDue  time.Time
}

// NewService validates the configuration, fills defaults, and creates the
// snapshot directory.
func NewService(cfg Config) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("backup: database path is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup: snapshot directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Retention.Hourly == 0 {
		cfg.Retention.Hourly = 24
	}
	if cfg.Retention.Daily == 0 {
		cfg.Retention.Daily = 7
	}
	if cfg.Retention.Weekly == 0 {
		cfg.Retention.Weekly = 4
	}
	if cfg.Retention.Monthly == 0 {
		cfg.Retention.Monthly = 12
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("backup: failed to create snapshot directory: %w", err)
	}

	return &Service{
		dbPath:    cfg.DBPath,
		dir:       cfg.Dir,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		verify:    cfg.Verify,
	}, nil
}

// Run takes snapshots on the configured interval until the context is
// cancelled. It blocks; run it in its own goroutine.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("backup: service is already running")
	}
	s.running = true
	s.nextDue = time.Now().Add(s.interval)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("backup: service started, interval %v, dir %s", s.interval, s.dir)

	for {
		select {
		case <-ctx.Done():
			log.Printf("backup: service stopping")
			return ctx.Err()
		case <-ticker.C:
			result, err := s.Snapshot(ctx)
			if err != nil {
				log.Printf("backup: WARNING - scheduled snapshot failed: %v", err)
			} else {
				log.Printf("backup: snapshot %s (%d bytes, %v, verified=%v)",
					result.Path, result.Size, result.Duration.Round(time.Millisecond), result.Verified)
			}
			s.mu.Lock()
			s.nextDue = time.Now().Add(s.interval)
			s.mu.Unlock()
		}
	}
}

// Snapshot takes one snapshot immediately and applies retention.
func (s *Service) Snapshot(ctx context.Context) (*Result, error) {
	start := time.Now()

	if _, err := os.Stat(s.dbPath); err != nil {
		return nil, fmt.Errorf("backup: database not found: %w", err)
	}

	path := filepath.Join(s.dir, snapshotName(start))
	if err := snapshotDatabase(s.dbPath, path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to stat snapshot: %w", err)
	}

	result := &Result{
		Path:     path,
		Duration: time.Since(start),
		Size:     info.Size(),
	}

	if s.verify {
		if err := verifySnapshot(path); err != nil {
			return result, err
		}
		result.Verified = true
	}

	s.mu.Lock()
	s.lastTook = time.Now()
	s.mu.Unlock()

	// Retention failures do not fail the snapshot itself.
	if err := applyRetention(s.dir, s.retention); err != nil {
		log.Printf("backup: WARNING - retention pass failed: %v", err)
	}
	return result, nil
}

// List returns this service's snapshots, newest first.
func (s *Service) List() ([]Info, error) {
	return listSnapshots(s.dir)
}

// Restore replaces the database with a verified snapshot. The scheduled
// loop must not be running and the database must not be open elsewhere.
// The previous database is kept next to the target until the restore
// verifies, and rolled back to on failure.
func (s *Service) Restore(ctx context.Context, snapshotPath string) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return fmt.Errorf("backup: cannot restore while the snapshot service is running")
	}

	if _, err := os.Stat(snapshotPath); err != nil {
		return fmt.Errorf("backup: snapshot not found: %w", err)
	}

	preRestore := s.dbPath + ".pre-restore"
	hadDatabase := false
	if _, err := os.Stat(s.dbPath); err == nil {
		hadDatabase = true
		if err := snapshotDatabase(s.dbPath, preRestore); err != nil {
			return fmt.Errorf("backup: failed to save current database: %w", err)
		}
	}

	if err := restoreDatabase(snapshotPath, s.dbPath); err != nil {
		if hadDatabase {
			if rollbackErr := restoreDatabase(preRestore, s.dbPath); rollbackErr != nil {
				return fmt.Errorf("backup: restore failed and rollback failed: %v (restore error: %w)",
					rollbackErr, err)
			}
			_ = os.Remove(preRestore)
			return fmt.Errorf("backup: restore failed, rolled back to previous state: %w", err)
		}
		return err
	}

	if hadDatabase {
		_ = os.Remove(preRestore)
	}
	log.Printf("backup: database restored from %s", snapshotPath)
	return nil
}

// Health reports the service state for the operator CLI.
func (s *Service) Health() (*Health, error) {
	s.mu.Lock()
	last := s.lastTook
	next := s.nextDue
	s.mu.Unlock()

	snapshots, err := s.List()
	if err != nil {
		return nil, err
	}
	usage, err := diskUsage(s.dir)
	if err != nil {
		return nil, err
	}

	health := &Health{
		Status:       "healthy",
		LastSnapshot: last,
		NextSnapshot: next,
		Total:        len(snapshots),
		Dir:          s.dir,
		DiskBytes:    usage,
	}

	switch {
	case last.IsZero():
		health.Message = "no snapshots taken yet"
	case time.Since(last) > 2*s.interval:
		health.Status = "warning"
		health.Message = fmt.Sprintf("snapshot overdue by %v", time.Since(last)-s.interval)
	default:
		health.Message = fmt.Sprintf("last snapshot %v ago", time.Since(last).Round(time.Minute))
	}
	return health, nil
}
