package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Backend != "redis" {
		t.Errorf("expected redis backend, got %s", cfg.Backend)
	}
	if cfg.Receiver.ListenAddr != ":8001" {
		t.Errorf("expected :8001, got %s", cfg.Receiver.ListenAddr)
	}
	if cfg.Queue.Key != "ocr:input" {
		t.Errorf("expected ocr:input, got %s", cfg.Queue.Key)
	}
	if cfg.Queue.ResultTTL != time.Hour {
		t.Errorf("expected 1h result ttl, got %s", cfg.Queue.ResultTTL)
	}
	if cfg.Worker.MaxRetries != 3 {
		t.Errorf("expected 3 retries, got %d", cfg.Worker.MaxRetries)
	}
	if cfg.Worker.PollInterval != time.Second {
		t.Errorf("expected 1s poll interval, got %s", cfg.Worker.PollInterval)
	}
	if cfg.OCR.MinConfidence != 0.3 {
		t.Errorf("expected 0.3 min confidence, got %v", cfg.OCR.MinConfidence)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ocr-relay.yaml")
	content := []byte(`
backend: sqlite
sqlite:
  path: /tmp/test.db
worker:
  max_retries: 5
  poll_interval: 250ms
queue:
  result_ttl: 10m
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Backend != "sqlite" {
		t.Errorf("expected sqlite backend, got %s", cfg.Backend)
	}
	if cfg.SQLite.Path != "/tmp/test.db" {
		t.Errorf("expected /tmp/test.db, got %s", cfg.SQLite.Path)
	}
	if cfg.Worker.MaxRetries != 5 {
		t.Errorf("expected 5 retries, got %d", cfg.Worker.MaxRetries)
	}
	if cfg.Worker.PollInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms poll interval, got %s", cfg.Worker.PollInterval)
	}
	if cfg.Queue.ResultTTL != 10*time.Minute {
		t.Errorf("expected 10m result ttl, got %s", cfg.Queue.ResultTTL)
	}
	// Unset keys keep their defaults.
	if cfg.Queue.Key != "ocr:input" {
		t.Errorf("expected default queue key, got %s", cfg.Queue.Key)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("OCR_RELAY_BACKEND", "memory")
	t.Setenv("OCR_RELAY_WORKER_MAX_RETRIES", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Backend != "memory" {
		t.Errorf("expected memory backend from env, got %s", cfg.Backend)
	}
	if cfg.Worker.MaxRetries != 7 {
		t.Errorf("expected 7 retries from env, got %d", cfg.Worker.MaxRetries)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Backend = "kafka" }},
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"negative retries", func(c *Config) { c.Worker.MaxRetries = -1 }},
		{"zero ttl", func(c *Config) { c.Queue.ResultTTL = 0 }},
		{"confidence above one", func(c *Config) { c.OCR.MinConfidence = 1.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestWriteExampleRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "example.yaml")

	if err := WriteExample(path); err != nil {
		t.Fatalf("WriteExample failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load of generated file failed: %v", err)
	}
	if cfg.Backend != Default().Backend {
		t.Errorf("round trip changed backend: %s", cfg.Backend)
	}
	if cfg.Worker.PollInterval != Default().Worker.PollInterval {
		t.Errorf("round trip changed poll interval: %s", cfg.Worker.PollInterval)
	}
}
