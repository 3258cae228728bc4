// Command hearth-web runs the entity retrieval API server.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/greenfell/hearth/internal/cluster"
	"github.com/greenfell/hearth/internal/config"
	"github.com/greenfell/hearth/internal/engine"
	"github.com/greenfell/hearth/internal/llm"
	"github.com/greenfell/hearth/internal/memory"
	"github.com/greenfell/hearth/internal/notify"
	"github.com/greenfell/hearth/internal/server"
	"github.com/greenfell/hearth/internal/storage"
	"github.com/greenfell/hearth/internal/storage/postgres"
	"github.com/greenfell/hearth/internal/storage/redis"
	"github.com/greenfell/hearth/internal/storage/sqlite"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	entities, clusterStore, conversations, closeStores, err := openStores(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer closeStores()

	embedder, err := llm.NewEmbeddingGenerator(cfg.Embedding)
	if err != nil {
		log.Fatalf("Failed to initialize embedding provider: %v", err)
	}

	// Retrieval tuning is optional; without the file the built-in
	// bilingual defaults apply.
	var retrieval *config.RetrievalFile
	if file, err := config.LoadRetrievalFile(cfg.Retrieval.ConfigPath); err != nil {
		log.Printf("Using built-in retrieval tuning (%v)", err)
	} else {
		retrieval = file
		log.Printf("Loaded retrieval tuning from %s", cfg.Retrieval.ConfigPath)
	}

	memService := memory.NewService(conversations, memory.ServiceConfig{
		TTL:            time.Duration(cfg.Memory.TTLMinutes) * time.Minute,
		SweepBatchSize: cfg.Memory.SweepBatchSize,
		Tables:         memory.NewRelevanceTables(retrieval),
	})
	clusterManager := cluster.NewManager(clusterStore, embedder)

	eng, err := engine.New(cfg, engine.Dependencies{
		Entities:  entities,
		Clusters:  clusterManager,
		Memory:    memService,
		Embedder:  embedder,
		Retrieval: retrieval,
	})
	if err != nil {
		log.Fatalf("Failed to initialize retrieval engine: %v", err)
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("Failed to start retrieval engine: %v", err)
	}

	// Hot-reload the tuning file on change.
	var watcher *notify.ConfigWatcher
	if cfg.Retrieval.WatchConfig {
		watcher = notify.NewConfigWatcher(cfg.Retrieval.ConfigPath, eng.ApplyRetrieval)
		if err := watcher.Start(); err != nil {
			log.Printf("WARNING: config watcher disabled: %v", err)
			watcher = nil
		}
	}

	// Expired conversation documents are swept in the background.
	go runSweeper(ctx, memService, cfg.Memory.SweepInterval)

	addr, hub, err := server.Start(ctx, cfg, server.Options{
		Engine:   eng,
		Entities: entities,
		Clusters: clusterManager,
		Memory:   memService,
		Embedder: embedder,
	})
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("Hearth retrieval API running at http://%s", addr)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	if watcher != nil {
		watcher.Stop()
	}

	// Drain pending memory writes before the stores close.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Workers.ShutdownTimeout)
	defer shutdownCancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down retrieval engine: %v", err)
	}

	cancel()
	hub.Stop()
	time.Sleep(500 * time.Millisecond) // Give time for connections to close
}

// openStores opens the entity/cluster backend and the conversation store.
// With MemoryBackend "same" conversations live in the main backend; "redis"
// and "memory" select a dedicated store.
func openStores(cfg *config.Config) (storage.EntityStore, storage.ClusterStore, storage.ConversationStore, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}

	var entities storage.EntityStore
	var clusters storage.ClusterStore
	var conversations storage.ConversationStore

	switch cfg.Storage.Backend {
	case "sqlite":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := sqlite.NewStore(filepath.Join(cfg.Storage.DataPath, "hearth.db"))
		if err != nil {
			return nil, nil, nil, nil, err
		}
		closers = append(closers, store)
		entities, clusters, conversations = store, store, store

	case "postgres":
		store, err := postgres.NewStore(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		closers = append(closers, store)
		entities, clusters, conversations = store, store, store

	case "memory":
		store := storage.NewInMemoryStore()
		entities, clusters = store, store
		conversations = storage.NewInMemoryConversationStore()

	default:
		return nil, nil, nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	switch cfg.Storage.MemoryBackend {
	case "", "same":
		// Conversations stay in the main backend.
	case "redis":
		store, err := redis.NewStore(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB)
		if err != nil {
			closeAll()
			return nil, nil, nil, nil, err
		}
		closers = append(closers, store)
		conversations = store
	case "memory":
		conversations = storage.NewInMemoryConversationStore()
	default:
		closeAll()
		return nil, nil, nil, nil, fmt.Errorf("unknown memory backend %q", cfg.Storage.MemoryBackend)
	}

	return entities, clusters, conversations, closeAll, nil
}

// runSweeper deletes expired conversation memory on a fixed interval.
func runSweeper(ctx context.Context, service *memory.Service, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := service.CleanupExpired(ctx)
			if err != nil {
				log.Printf("Memory sweep failed: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("Memory sweep removed %d expired conversation(s)", removed)
			}
		case <-ctx.Done():
			return
		}
	}
}
