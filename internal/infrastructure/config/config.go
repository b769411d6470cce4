// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml)
//  2. Environment variables (fallback)
//
// Example usage:
//
//	cfg := config.LoadOrEnv()
//	dbPath := cfg.Storage.DatabasePath
//	timeout := cfg.Engine.TransactionTimeout
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Engine        EngineConfig        `yaml:"engine"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr        string   `yaml:"addr" validate:"required"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path" validate:"required"`
}

// EngineConfig holds reconciliation engine tunables. Matching rules
// themselves live per-company in storage; these are process-wide knobs.
type EngineConfig struct {
	// SplitEpsilon is the tolerance when checking that split amounts
	// sum to the transaction amount
	SplitEpsilon float64 `yaml:"split_epsilon" validate:"gt=0"`

	// KNNNeighbors is the k used by the feedback classifier
	KNNNeighbors int `yaml:"knn_neighbors" validate:"gte=1"`

	// MinCorpusSize is how many labeled examples the classifier needs
	// before the ML strategy participates
	MinCorpusSize int `yaml:"min_corpus_size" validate:"gte=1"`

	// MaxParallelScorers bounds fuzzy-scoring concurrency per
	// transaction
	MaxParallelScorers int `yaml:"max_parallel_scorers" validate:"gte=1"`

	// TransactionTimeout bounds how long a single transaction's
	// resolution may take before it is recorded as failed
	TransactionTimeout time.Duration `yaml:"transaction_timeout" validate:"gt=0"`

	// JobRetention is how long finished reconciliation jobs stay
	// queryable before the sweeper drops them
	JobRetention time.Duration `yaml:"job_retention" validate:"gt=0"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${RECONCILE_DB_PATH})
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Addr: getEnv("RECONCILE_ADDR", ":8080"),
		},
		Storage: StorageConfig{
			DatabasePath: getEnv("RECONCILE_DB_PATH", "reconcile.db"),
		},
		Engine: EngineConfig{
			SplitEpsilon:       getEnvFloat("RECONCILE_SPLIT_EPSILON", 0.01),
			KNNNeighbors:       getEnvInt("RECONCILE_KNN_NEIGHBORS", 5),
			MinCorpusSize:      getEnvInt("RECONCILE_MIN_CORPUS_SIZE", 20),
			MaxParallelScorers: getEnvInt("RECONCILE_MAX_PARALLEL_SCORERS", 4),
			TransactionTimeout: getEnvDuration("RECONCILE_TRANSACTION_TIMEOUT", 10*time.Second),
			JobRetention:       getEnvDuration("RECONCILE_JOB_RETENTION", time.Hour),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "text"),
			},
		},
	}
	return cfg
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables
func LoadOrEnv() *Config {
	return LoadOrEnvWithPath("config.yaml")
}

// LoadOrEnvWithPath tries to load from specified path, falls back to environment variables
func LoadOrEnvWithPath(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// Validate checks structural constraints on the loaded configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyDefaults fills zero values so a sparse YAML file still yields a
// runnable configuration
func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "reconcile.db"
	}
	if c.Engine.SplitEpsilon == 0 {
		c.Engine.SplitEpsilon = 0.01
	}
	if c.Engine.KNNNeighbors == 0 {
		c.Engine.KNNNeighbors = 5
	}
	if c.Engine.MinCorpusSize == 0 {
		c.Engine.MinCorpusSize = 20
	}
	if c.Engine.MaxParallelScorers == 0 {
		c.Engine.MaxParallelScorers = 4
	}
	if c.Engine.TransactionTimeout == 0 {
		c.Engine.TransactionTimeout = 10 * time.Second
	}
	if c.Engine.JobRetention == 0 {
		c.Engine.JobRetention = time.Hour
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
	}
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil {
			return result
		}
	}
	return fallback
}

// getEnvFloat retrieves a float environment variable with a fallback default
func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		var result float64
		if _, err := fmt.Sscanf(val, "%g", &result); err == nil {
			return result
		}
	}
	return fallback
}

// getEnvDuration retrieves a duration environment variable with a fallback default
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
