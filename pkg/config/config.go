package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the lead pipeline engine.
// Configuration can come from YAML file (config.yaml) or environment
// variables. Environment variables always override YAML values. Secrets
// (passwords, API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// MigrationsPath is the directory containing SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// Embedding provider configuration
	Embeddings EmbeddingsConfig `yaml:"embeddings"`

	// Blob storage for received CSV files
	Storage StorageConfig `yaml:"storage"`

	// Worker loop cadence and batch sizing
	Workers WorkersConfig `yaml:"workers"`

	// Outbound CRM request timeout
	CRMTimeout time.Duration `yaml:"crm_timeout" env:"CRM_TIMEOUT" env-default:"30s"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"leadengine"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"lead_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MinConnections int32  `yaml:"min_connections" env:"PGMIN_CONNECTIONS" env-default:"2"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// EmbeddingsConfig holds embedding provider settings. The endpoint is any
// OpenAI-compatible /embeddings API.
type EmbeddingsConfig struct {
	Endpoint   string        `yaml:"endpoint" env:"EMBEDDINGS_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model      string        `yaml:"model" env:"EMBEDDINGS_MODEL" env-default:"text-embedding-3-small"`
	APIKey     string        `yaml:"-" env:"OPENAI_API_KEY"` // Secret - not in YAML
	Dimensions int           `yaml:"dimensions" env:"EMBEDDINGS_DIMENSIONS" env-default:"1536"`
	Timeout    time.Duration `yaml:"timeout" env:"EMBEDDINGS_TIMEOUT" env-default:"60s"`
}

// StorageConfig selects and configures the blob store for received files.
type StorageConfig struct {
	// Backend is "fs" (local filesystem) or "s3".
	Backend string `yaml:"backend" env:"STORAGE_BACKEND" env-default:"fs"`
	// Root is the base directory for the fs backend.
	Root string `yaml:"root" env:"STORAGE_ROOT" env-default:"data/blobs"`
	// Bucket and Region configure the s3 backend.
	Bucket string `yaml:"bucket" env:"STORAGE_BUCKET" env-default:""`
	Region string `yaml:"region" env:"AWS_REGION" env-default:"us-east-1"`
}

// WorkersConfig holds worker cadence and batch sizing. Values are passed to
// workers at construction and never mutated in place.
type WorkersConfig struct {
	TransformInterval time.Duration `yaml:"transform_interval" env:"TRANSFORM_INTERVAL" env-default:"15s"`
	MatchInterval     time.Duration `yaml:"match_interval" env:"MATCH_INTERVAL" env-default:"15s"`
	EmbedInterval     time.Duration `yaml:"embed_interval" env:"EMBED_INTERVAL" env-default:"30s"`
	CrmSyncInterval   time.Duration `yaml:"crm_sync_interval" env:"CRM_SYNC_INTERVAL" env-default:"15m"`
	SweepInterval     time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL" env-default:"10m"`

	EmbedBatchSize   int           `yaml:"embed_batch_size" env:"EMBED_BATCH_SIZE" env-default:"50"`
	MatchBatchSize   int           `yaml:"match_batch_size" env:"MATCH_BATCH_SIZE" env-default:"100"`
	MaxAttempts      int           `yaml:"max_attempts" env:"MAX_ATTEMPTS" env-default:"3"`
	CandidateTTL     time.Duration `yaml:"candidate_ttl" env:"CANDIDATE_TTL" env-default:"168h"`
	StuckTaskTimeout time.Duration `yaml:"stuck_task_timeout" env:"STUCK_TASK_TIMEOUT" env-default:"10m"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv reads configuration from environment variables only, for
// deployments without a config file.
func LoadFromEnv(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Storage.Backend != "fs" && c.Storage.Backend != "s3" {
		return fmt.Errorf("storage backend must be fs or s3, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "s3" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage backend s3 requires a bucket")
	}
	if c.Workers.EmbedBatchSize <= 0 {
		return fmt.Errorf("embed batch size must be positive")
	}
	if c.Workers.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	return nil
}
