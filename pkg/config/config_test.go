package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tidewatch/tidewatch/signal"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.WindowInterval != 10*time.Second {
		t.Errorf("WindowInterval = %v, want 10s", cfg.WindowInterval)
	}
	if cfg.BackpressurePolicy != "reject" {
		t.Errorf("BackpressurePolicy = %q, want reject", cfg.BackpressurePolicy)
	}
	if cfg.TraceTimeout != 30*time.Second {
		t.Errorf("TraceTimeout = %v, want 30s", cfg.TraceTimeout)
	}
	if cfg.Retry.Base != 200*time.Millisecond || cfg.Retry.Cap != 5*time.Second || cfg.Retry.MaxAttempts != 5 {
		t.Errorf("Retry = %+v, want base 200ms cap 5s attempts 5", cfg.Retry)
	}
	if !cfg.Sinks.Console {
		t.Error("Sinks.Console = false, want true by default")
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
window_interval: 5s
buffer_capacity: 128
backpressure_policy: drop-oldest
trace_timeout: 1m
alert_hysteresis_windows: 2
retry_backoff:
  base: 100ms
  cap: 2s
  max_attempts: 3
sinks:
  console: false
  file_path: /tmp/batches.jsonl
  influx:
    enabled: true
    url: http://influx:8086
    org: tidewatch
    bucket: signals
dead_letter:
  backend: file
  file_path: /tmp/dead.jsonl
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.WindowInterval != 5*time.Second {
		t.Errorf("WindowInterval = %v, want 5s", cfg.WindowInterval)
	}
	if cfg.BufferCapacity != 128 {
		t.Errorf("BufferCapacity = %d, want 128", cfg.BufferCapacity)
	}
	if cfg.BackpressurePolicy != "drop-oldest" {
		t.Errorf("BackpressurePolicy = %q, want drop-oldest", cfg.BackpressurePolicy)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Sinks.Console {
		t.Error("Sinks.Console = true, want false")
	}
	if !cfg.Sinks.Influx.Enabled || cfg.Sinks.Influx.Bucket != "signals" {
		t.Errorf("Sinks.Influx = %+v, want enabled with bucket signals", cfg.Sinks.Influx)
	}
	if cfg.DeadLetter.Backend != "file" || cfg.DeadLetter.FilePath != "/tmp/dead.jsonl" {
		t.Errorf("DeadLetter = %+v, want file backend", cfg.DeadLetter)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("buffer_capacity: 128\n"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("TIDEWATCH_BUFFER_CAPACITY", "999")
	t.Setenv("TIDEWATCH_WINDOW_INTERVAL", "30s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BufferCapacity != 999 {
		t.Errorf("BufferCapacity = %d, want env override 999", cfg.BufferCapacity)
	}
	if cfg.WindowInterval != 30*time.Second {
		t.Errorf("WindowInterval = %v, want env override 30s", cfg.WindowInterval)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() error = nil, want error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad backpressure", func(c *Config) { c.BackpressurePolicy = "random" }},
		{"zero window", func(c *Config) { c.WindowInterval = 0 }},
		{"zero capacity", func(c *Config) { c.BufferCapacity = 0 }},
		{"zero trace timeout", func(c *Config) { c.TraceTimeout = 0 }},
		{"zero hysteresis", func(c *Config) { c.AlertHysteresisWindows = 0 }},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"bad dead letter backend", func(c *Config) { c.DeadLetter.Backend = "tape" }},
		{"file dead letter without path", func(c *Config) { c.DeadLetter.Backend = "file" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := Default()
	cfg.Sinks.Postgres = PostgresConfig{
		Host: "db", Port: 5432, User: "tidewatch", Password: "secret",
		Database: "signals", SSLMode: "disable",
	}

	want := "host=db port=5432 user=tidewatch password=secret dbname=signals sslmode=disable"
	if got := cfg.DatabaseDSN(); got != want {
		t.Errorf("DatabaseDSN() = %q, want %q", got, want)
	}
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `
rules:
  - id: high-latency
    metric_key: latency|zone=eu
    aggregate: avg
    threshold: 250
    comparator: ">"
    severity: critical
    hysteresis_windows: 2
  - id: low-throughput
    metric_key: reqs
    aggregate: sum
    threshold: 10
    comparator: "<"
    severity: warning
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write rules file: %v", err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("LoadRules() returned %d rules, want 2", len(rules))
	}

	if rules[0].Severity != signal.SeverityCritical || rules[0].HysteresisWindows != 2 {
		t.Errorf("rules[0] = %+v, want critical severity with 2 hysteresis windows", rules[0])
	}
	if rules[1].Comparator != signal.CompareLT || rules[1].Aggregate != signal.AggregateSum {
		t.Errorf("rules[1] = %+v, want < comparator with sum aggregate", rules[1])
	}
}

func TestLoadRules_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad severity", "rules:\n  - id: r\n    metric_key: m\n    comparator: \">\"\n    severity: panic\n"},
		{"bad comparator", "rules:\n  - id: r\n    metric_key: m\n    comparator: \"~\"\n    severity: warning\n"},
		{"missing id", "rules:\n  - metric_key: m\n    comparator: \">\"\n    severity: warning\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rules.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("failed to write rules file: %v", err)
			}
			if _, err := LoadRules(path); err == nil {
				t.Error("LoadRules() error = nil, want error")
			}
		})
	}
}
