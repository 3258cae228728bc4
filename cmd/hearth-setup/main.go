// Command hearth-setup prepares a hearth installation: it can scaffold a
// starter retrieval tuning file and seed the cluster graph from it.
// Bootstrap is idempotent; seeds whose key already exists are skipped.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/greenfell/hearth/internal/cluster"
	"github.com/greenfell/hearth/internal/config"
	"github.com/greenfell/hearth/internal/llm"
	"github.com/greenfell/hearth/internal/notify"
	"github.com/greenfell/hearth/internal/storage"
	"github.com/greenfell/hearth/internal/storage/postgres"
	"github.com/greenfell/hearth/internal/storage/sqlite"
)

var (
	tuningPath = flag.String("tuning", "", "Path to the retrieval tuning file (default: from HEARTH_RETRIEVAL_CONFIG)")
	initFile   = flag.Bool("init", false, "Write a starter tuning file and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	path := cfg.Retrieval.ConfigPath
	if *tuningPath != "" {
		path = *tuningPath
	}

	if *initFile {
		scaffoldTuningFile(path)
		return
	}

	bootstrapClusters(cfg, path)
}

// scaffoldTuningFile writes a starter retrieval file the admin can edit.
// Refuses to overwrite an existing file.
func scaffoldTuningFile(path string) {
	if _, err := os.Stat(path); err == nil {
		log.Fatalf("Refusing to overwrite existing tuning file %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create directory for %s: %v", path, err)
		}
	}

	if err := notify.WriteRetrievalFile(path, starterTuning()); err != nil {
		log.Fatalf("Failed to write tuning file: %v", err)
	}

	fmt.Printf("Wrote starter tuning file to %s\n", path)
	fmt.Println("Edit the cluster seeds for your home, then run hearth-setup again to create them.")
}

// starterTuning is a worked example: two clusters for a small home. The
// language packs are left empty so the built-in bilingual defaults apply.
func starterTuning() *config.RetrievalFile {
	return &config.RetrievalFile{
		Clusters: []config.ClusterSeed{
			{
				Key:           "living_room_lights",
				Type:          "micro_cluster",
				Scope:         "specific",
				Description:   "Lights in the living room: ceiling lamp and reading lamp",
				QueryPatterns: []string{"living room light", "nappali lámpa"},
				Areas:         []string{"living_room"},
				Domains:       []string{"light"},
				Entities: []config.SeedEntity{
					{EntityID: "light.living_room_ceiling", Role: "primary", Weight: 1.0},
					{EntityID: "light.living_room_reading", Role: "primary", Weight: 0.9},
				},
			},
			{
				Key:           "climate_control",
				Type:          "macro_cluster",
				Scope:         "global",
				Description:   "Heating and cooling across the home: thermostats and temperature sensors",
				QueryPatterns: []string{"temperature", "heating", "fűtés", "hőmérséklet"},
				Domains:       []string{"climate", "sensor"},
				Entities: []config.SeedEntity{
					{EntityID: "climate.living_room", Role: "primary", Weight: 1.0},
					{EntityID: "sensor.living_room_temperature", Role: "related", Weight: 0.8},
				},
			},
		},
	}
}

// bootstrapClusters creates the seed clusters from the tuning file.
func bootstrapClusters(cfg *config.Config, path string) {
	file, err := config.LoadRetrievalFile(path)
	if err != nil {
		log.Fatalf("Failed to load tuning file: %v", err)
	}
	if len(file.Clusters) == 0 {
		fmt.Printf("No cluster seeds in %s, nothing to do\n", path)
		return
	}

	store, closeStore, err := openClusterStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer closeStore()

	embedder, err := llm.NewEmbeddingGenerator(cfg.Embedding)
	if err != nil {
		log.Fatalf("Failed to initialize embedding provider: %v", err)
	}

	manager := cluster.NewManager(store, embedder)
	created, skipped, err := manager.Bootstrap(context.Background(), file.Clusters)
	if err != nil {
		log.Fatalf("Bootstrap failed: %v", err)
	}

	fmt.Printf("Cluster bootstrap complete: %d created, %d already existed\n", created, skipped)
}

func openClusterStore(cfg *config.Config) (storage.ClusterStore, func(), error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := sqlite.NewStore(filepath.Join(cfg.Storage.DataPath, "hearth.db"))
		if err != nil {
			return nil, nil, err
		}
		if version, err := store.SchemaVersion(context.Background()); err == nil {
			fmt.Printf("SQLite schema at version %d\n", version)
		}
		return store, func() { _ = store.Close() }, nil

	case "postgres":
		store, err := postgres.NewStore(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	case "memory":
		return storage.NewInMemoryStore(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
