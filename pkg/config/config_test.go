package config

import (
	"testing"
	"time"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv("test")
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Database.Database != "lead_engine" {
		t.Errorf("expected default database lead_engine, got %s", cfg.Database.Database)
	}
	if cfg.Workers.EmbedBatchSize != 50 {
		t.Errorf("expected default embed batch size 50, got %d", cfg.Workers.EmbedBatchSize)
	}
	if cfg.Workers.MaxAttempts != 3 {
		t.Errorf("expected default max attempts 3, got %d", cfg.Workers.MaxAttempts)
	}
	if cfg.CRMTimeout != 30*time.Second {
		t.Errorf("expected default CRM timeout 30s, got %s", cfg.CRMTimeout)
	}
	if cfg.Embeddings.Timeout != 60*time.Second {
		t.Errorf("expected default embeddings timeout 60s, got %s", cfg.Embeddings.Timeout)
	}
	if cfg.Storage.Backend != "fs" {
		t.Errorf("expected default storage backend fs, got %s", cfg.Storage.Backend)
	}
	if cfg.Version != "test" {
		t.Errorf("expected version test, got %s", cfg.Version)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("EMBED_BATCH_SIZE", "10")

	cfg, err := LoadFromEnv("test")
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if cfg.Port != "9999" {
		t.Errorf("expected port override 9999, got %s", cfg.Port)
	}
	if cfg.Workers.EmbedBatchSize != 10 {
		t.Errorf("expected embed batch size override 10, got %d", cfg.Workers.EmbedBatchSize)
	}
}

func TestValidateRejectsBadStorage(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "gcs")
	if _, err := LoadFromEnv("test"); err == nil {
		t.Fatal("expected error for unknown storage backend")
	}
}

func TestValidateRequiresS3Bucket(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("STORAGE_BUCKET", "")
	if _, err := LoadFromEnv("test"); err == nil {
		t.Fatal("expected error for s3 backend without bucket")
	}
}

func TestConnectionString(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "require"}
	want := "host=db port=5433 user=u password=p dbname=d sslmode=require"
	if got := c.ConnectionString(); got != want {
		t.Errorf("ConnectionString = %q, want %q", got, want)
	}
}
