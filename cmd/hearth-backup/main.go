// Command hearth-backup snapshots the hearth SQLite database on a schedule,
// restores it from a snapshot, and reports snapshot health. It only applies
// to the sqlite backend; postgres installations should use pg_dump.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/greenfell/hearth/internal/backup"
	"github.com/greenfell/hearth/internal/config"
)

var (
	dbPath    = flag.String("db", "", "Path to the database file (default: <HEARTH_DATA_PATH>/hearth.db)")
	dir       = flag.String("dir", "", "Snapshot directory (default: from HEARTH_BACKUP_DIR)")
	interval  = flag.Duration("interval", 0, "Snapshot interval (default: from HEARTH_BACKUP_INTERVAL)")
	verify    = flag.Bool("verify", true, "Verify snapshots after creation")
	oneshot   = flag.Bool("oneshot", false, "Take a single snapshot and exit")
	restore   = flag.String("restore", "", "Restore the database from a snapshot file and exit")
	healthCmd = flag.Bool("health", false, "Print snapshot health and exit")
	listCmd   = flag.Bool("list", false, "List snapshots and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Storage.Backend != "sqlite" {
		log.Fatalf("hearth-backup only supports the sqlite backend (have %q); use your database's own tooling instead", cfg.Storage.Backend)
	}

	db := filepath.Join(cfg.Storage.DataPath, "hearth.db")
	if *dbPath != "" {
		db = *dbPath
	}
	snapDir := cfg.Backup.Dir
	if *dir != "" {
		snapDir = *dir
	}
	every := cfg.Backup.Interval
	if *interval > 0 {
		every = *interval
	}

	service, err := backup.NewService(backup.Config{
		DBPath:   db,
		Dir:      snapDir,
		Interval: every,
		Verify:   *verify,
	})
	if err != nil {
		log.Fatalf("Failed to create snapshot service: %v", err)
	}

	ctx := context.Background()

	switch {
	case *restore != "":
		runRestore(ctx, service, *restore)
	case *healthCmd:
		runHealth(service)
	case *listCmd:
		runList(service)
	case *oneshot:
		runOneshot(ctx, service)
	default:
		runScheduled(service)
	}
}

func runRestore(ctx context.Context, service *backup.Service, path string) {
	log.Printf("Restoring database from %s", path)
	if err := service.Restore(ctx, path); err != nil {
		log.Fatalf("Restore failed: %v", err)
	}
	log.Println("Database restored")
}

func runHealth(service *backup.Service) {
	health, err := service.Health()
	if err != nil {
		log.Fatalf("Health check failed: %v", err)
	}

	fmt.Printf("Status: %s\n", health.Status)
	if health.Message != "" {
		fmt.Printf("Message: %s\n", health.Message)
	}
	fmt.Printf("Snapshots: %d\n", health.Total)
	fmt.Printf("Disk used: %.2f MB\n", float64(health.DiskBytes)/(1024*1024))
	fmt.Printf("Directory: %s\n", health.Dir)
	if !health.LastSnapshot.IsZero() {
		fmt.Printf("Last snapshot: %s (%s ago)\n",
			health.LastSnapshot.Format(time.RFC3339),
			time.Since(health.LastSnapshot).Round(time.Minute))
	} else {
		fmt.Println("Last snapshot: never")
	}

	if health.Status != "healthy" {
		os.Exit(1)
	}
}

func runList(service *backup.Service) {
	snapshots, err := service.List()
	if err != nil {
		log.Fatalf("Failed to list snapshots: %v", err)
	}
	if len(snapshots) == 0 {
		fmt.Println("No snapshots found")
		return
	}

	fmt.Printf("Found %d snapshot(s):\n\n", len(snapshots))
	for i, s := range snapshots {
		fmt.Printf("%d. %s\n", i+1, s.Path)
		fmt.Printf("   Size: %.2f MB\n", float64(s.Size)/(1024*1024))
		fmt.Printf("   Created: %s (%s ago)\n",
			s.Timestamp.Format(time.RFC3339),
			time.Since(s.Timestamp).Round(time.Minute))
		fmt.Println()
	}
}

func runOneshot(ctx context.Context, service *backup.Service) {
	result, err := service.Snapshot(ctx)
	if err != nil {
		log.Fatalf("Snapshot failed: %v", err)
	}
	log.Printf("Snapshot written to %s (%.2f MB, %v, verified=%v)",
		result.Path, float64(result.Size)/(1024*1024), result.Duration.Round(time.Millisecond), result.Verified)
}

func runScheduled(service *backup.Service) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := service.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Snapshot service error: %v", err)
		}
	}()

	log.Println("Hearth snapshot service started")
	log.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down snapshot service...")
	cancel()
	time.Sleep(200 * time.Millisecond)
}
