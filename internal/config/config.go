// Package config provides configuration management for hearth.
// It loads settings from environment variables with the HEARTH_ prefix
// and provides sensible defaults for all configuration options.
//
// Retrieval tuning data (language packs, area aliases, cluster seeds) lives
// in a YAML file loaded by LoadRetrievalFile; see retrieval.go.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings for the hearth application.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Embedding EmbeddingConfig
	Retrieval RetrievalConfig
	Memory    MemoryConfig
	Workers   WorkersConfig
	Backup    BackupConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port               int    // Server port (default: 6380)
	Host               string // Server host (default: 127.0.0.1)
	APIToken           string // Bearer token; empty disables auth checks
	RateLimitPerSecond int    // Per-client request rate (default: 20)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	Backend       string // Entity/cluster backend: sqlite, postgres, memory (default: sqlite)
	DataPath      string // Path to data directory for sqlite (default: ./data)
	PostgresDSN   string // DSN when Backend is postgres
	MemoryBackend string // Conversation store: same, redis, memory (default: same)
	RedisAddr     string // Redis address when MemoryBackend is redis (default: localhost:6379)
	RedisPassword string
	RedisDB       int
}

// EmbeddingConfig contains embedding provider configuration.
type EmbeddingConfig struct {
	Provider          string        // Embedding provider: ollama, openai (default: ollama)
	BaseURL           string        // Provider base URL
	APIKey            string        // API key for openai-style providers
	Model             string        // Embedding model name
	Timeout           time.Duration // Per-request timeout (default: 5s)
	RequestsPerSecond float64       // Outbound rate limit; 0 disables (default: 0)
	Burst             int           // Rate limit burst (default: 1)
}

// RetrievalConfig contains pipeline tuning knobs.
type RetrievalConfig struct {
	ConfigPath           string        // Retrieval YAML path (default: ./configs/retrieval.yaml)
	WatchConfig          bool          // Hot-reload the YAML on change (default: true)
	TokenBudget          int           // Prompt token budget (default: 1200)
	ClusterSearchTimeout time.Duration // (default: 2s)
	MemoryFetchTimeout   time.Duration // (default: 1s)
	VectorSearchTimeout  time.Duration // (default: 3s)
}

// MemoryConfig contains conversation memory settings.
type MemoryConfig struct {
	TTLMinutes     int           // Conversation memory lifetime (default: 15)
	SweepInterval  time.Duration // Interval between expiry sweeps (default: 5m)
	SweepBatchSize int           // Keys deleted per sweep pass (default: 100)
}

// WorkersConfig contains memory write queue settings.
type WorkersConfig struct {
	NumWorkers      int           // Memory write workers (default: 4)
	QueueSize       int           // Pending write capacity (default: 1000)
	MaxRetries      int           // Attempts per write job (default: 3)
	ShutdownTimeout time.Duration // Drain deadline on shutdown (default: 30s)
}

// BackupConfig contains database snapshot settings, used by hearth-backup
// with the sqlite backend.
type BackupConfig struct {
	Dir      string        // Snapshot directory (default: ./backups)
	Interval time.Duration // Time between scheduled snapshots (default: 1h)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the HEARTH_ prefix.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnvInt("HEARTH_PORT", 6380),
			Host:               getEnv("HEARTH_HOST", "127.0.0.1"),
			APIToken:           getEnv("HEARTH_API_TOKEN", ""),
			RateLimitPerSecond: getEnvInt("HEARTH_RATE_LIMIT", 20),
		},
		Storage: StorageConfig{
			Backend:       getEnv("HEARTH_STORAGE_BACKEND", "sqlite"),
			DataPath:      getEnv("HEARTH_DATA_PATH", "./data"),
			PostgresDSN:   getEnv("HEARTH_POSTGRES_DSN", ""),
			MemoryBackend: getEnv("HEARTH_MEMORY_BACKEND", "same"),
			RedisAddr:     getEnv("HEARTH_REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("HEARTH_REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("HEARTH_REDIS_DB", 0),
		},
		Embedding: EmbeddingConfig{
			Provider:          getEnv("HEARTH_EMBEDDING_PROVIDER", "ollama"),
			BaseURL:           getEnv("HEARTH_EMBEDDING_URL", ""),
			APIKey:            getEnv("HEARTH_EMBEDDING_API_KEY", ""),
			Model:             getEnv("HEARTH_EMBEDDING_MODEL", ""),
			Timeout:           getEnvDuration("HEARTH_EMBEDDING_TIMEOUT", 5*time.Second),
			RequestsPerSecond: getEnvFloat("HEARTH_EMBEDDING_RPS", 0),
			Burst:             getEnvInt("HEARTH_EMBEDDING_BURST", 1),
		},
		Retrieval: RetrievalConfig{
			ConfigPath:           getEnv("HEARTH_RETRIEVAL_CONFIG", "./configs/retrieval.yaml"),
			WatchConfig:          getEnvBool("HEARTH_WATCH_CONFIG", true),
			TokenBudget:          getEnvInt("HEARTH_PROMPT_TOKEN_BUDGET", 1200),
			ClusterSearchTimeout: getEnvDuration("HEARTH_CLUSTER_SEARCH_TIMEOUT", 2*time.Second),
			MemoryFetchTimeout:   getEnvDuration("HEARTH_MEMORY_FETCH_TIMEOUT", time.Second),
			VectorSearchTimeout:  getEnvDuration("HEARTH_VECTOR_SEARCH_TIMEOUT", 3*time.Second),
		},
		Memory: MemoryConfig{
			TTLMinutes:     getEnvInt("HEARTH_MEMORY_TTL_MINUTES", 15),
			SweepInterval:  getEnvDuration("HEARTH_SWEEP_INTERVAL", 5*time.Minute),
			SweepBatchSize: getEnvInt("HEARTH_SWEEP_BATCH_SIZE", 100),
		},
		Workers: WorkersConfig{
			NumWorkers:      getEnvInt("HEARTH_MEMORY_WORKERS", 4),
			QueueSize:       getEnvInt("HEARTH_MEMORY_QUEUE_SIZE", 1000),
			MaxRetries:      getEnvInt("HEARTH_MEMORY_MAX_RETRIES", 3),
			ShutdownTimeout: getEnvDuration("HEARTH_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Backup: BackupConfig{
			Dir:      getEnv("HEARTH_BACKUP_DIR", "./backups"),
			Interval: getEnvDuration("HEARTH_BACKUP_INTERVAL", time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions. Construction fails
// fast on anything the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: HEARTH_POSTGRES_DSN is required with the postgres backend")
	}

	switch c.Storage.MemoryBackend {
	case "same", "redis", "memory":
	default:
		return fmt.Errorf("config: unknown memory backend %q", c.Storage.MemoryBackend)
	}
	if c.Storage.MemoryBackend == "redis" && c.Storage.RedisAddr == "" {
		return fmt.Errorf("config: HEARTH_REDIS_ADDR is required with the redis memory backend")
	}

	switch c.Embedding.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("config: unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		return fmt.Errorf("config: HEARTH_EMBEDDING_API_KEY is required with the openai provider")
	}

	if c.Retrieval.TokenBudget < 1 {
		return fmt.Errorf("config: prompt token budget must be positive, got %d", c.Retrieval.TokenBudget)
	}
	if c.Memory.TTLMinutes < 1 {
		return fmt.Errorf("config: memory ttl must be at least one minute, got %d", c.Memory.TTLMinutes)
	}
	if c.Workers.NumWorkers < 1 {
		return fmt.Errorf("config: at least one memory worker is required, got %d", c.Workers.NumWorkers)
	}
	if c.Workers.QueueSize < 1 {
		return fmt.Errorf("config: memory queue size must be positive, got %d", c.Workers.QueueSize)
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false
// (case-insensitive). Unparseable values return the default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (time.ParseDuration
// syntax) or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
