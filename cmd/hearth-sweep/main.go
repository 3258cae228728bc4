// Command hearth-sweep deletes expired conversation memory documents.
// By default it performs a single sweep and exits; with -interval it keeps
// sweeping until interrupted. Useful when the API server runs with its
// background sweeper disabled, or against a shared conversation store.
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

	"github.com/greenfell/hearth/internal/config"
	"github.com/greenfell/hearth/internal/memory"
	"github.com/greenfell/hearth/internal/storage"
	"github.com/greenfell/hearth/internal/storage/postgres"
	"github.com/greenfell/hearth/internal/storage/redis"
	"github.com/greenfell/hearth/internal/storage/sqlite"
)

var interval = flag.Duration("interval", 0, "Sweep repeatedly at this interval (default: sweep once and exit)")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, closeStore, err := openConversationStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer closeStore()

	service := memory.NewService(store, memory.ServiceConfig{
		TTL:            time.Duration(cfg.Memory.TTLMinutes) * time.Minute,
		SweepBatchSize: cfg.Memory.SweepBatchSize,
	})

	ctx := context.Background()

	if *interval <= 0 {
		sweepOnce(ctx, service)
		return
	}

	log.Printf("Sweeping expired conversation memory every %s", *interval)
	log.Println("Press Ctrl+C to stop")

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			sweepOnce(ctx, service)
		case <-sigCh:
			log.Println("Sweeper stopped")
			return
		}
	}
}

func sweepOnce(ctx context.Context, service *memory.Service) {
	removed, err := service.CleanupExpired(ctx)
	if err != nil {
		log.Printf("Sweep failed: %v", err)
		return
	}
	fmt.Printf("Removed %d expired conversation document(s)\n", removed)
}

// openConversationStore opens whichever store holds conversation memory
// under the current configuration.
func openConversationStore(cfg *config.Config) (storage.ConversationStore, func(), error) {
	switch cfg.Storage.MemoryBackend {
	case "redis":
		store, err := redis.NewStore(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	case "memory":
		return nil, nil, fmt.Errorf("the in-process memory backend has nothing to sweep externally")
	}

	// MemoryBackend "same": conversations live in the main backend.
	switch cfg.Storage.Backend {
	case "sqlite":
		store, err := sqlite.NewStore(filepath.Join(cfg.Storage.DataPath, "hearth.db"))
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	case "postgres":
		store, err := postgres.NewStore(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}

	return nil, nil, fmt.Errorf("no sweepable conversation store for backend %q / memory backend %q",
		cfg.Storage.Backend, cfg.Storage.MemoryBackend)
}
