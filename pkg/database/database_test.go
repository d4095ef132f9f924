package database

import (
	"embed"
	"testing"
	"time"
)

//go:embed testdata/migrations
var testMigrationsFS embed.FS

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host != "localhost" {
		t.Errorf("Host = %v, want %v", cfg.Host, "localhost")
	}
	if cfg.Port != 5432 {
		t.Errorf("Port = %v, want %v", cfg.Port, 5432)
	}
	if cfg.User != "tidewatch" {
		t.Errorf("User = %v, want %v", cfg.User, "tidewatch")
	}
	if cfg.Database != "tidewatch" {
		t.Errorf("Database = %v, want %v", cfg.Database, "tidewatch")
	}
	if cfg.SSLMode != "disable" {
		t.Errorf("SSLMode = %v, want %v", cfg.SSLMode, "disable")
	}
	if cfg.MaxOpenConns != 25 {
		t.Errorf("MaxOpenConns = %v, want %v", cfg.MaxOpenConns, 25)
	}
	if cfg.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("ConnMaxLifetime = %v, want %v", cfg.ConnMaxLifetime, 5*time.Minute)
	}
}

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		want string
	}{
		{
			name: "default config",
			cfg:  DefaultConfig(),
			want: "host=localhost port=5432 user=tidewatch password=tidewatch dbname=tidewatch sslmode=disable",
		},
		{
			name: "custom config",
			cfg: &Config{
				Host:     "db.example.com",
				Port:     5433,
				User:     "admin",
				Password: "secret123",
				Database: "signals",
				SSLMode:  "require",
			},
			want: "host=db.example.com port=5433 user=admin password=secret123 dbname=signals sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.DSN(); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMigrator_LoadMigrations(t *testing.T) {
	m := NewMigrator(nil, "tidewatch")
	if err := m.LoadMigrations(testMigrationsFS, "testdata/migrations"); err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}

	if len(m.migrations) != 2 {
		t.Fatalf("loaded %d migrations, want 2", len(m.migrations))
	}

	if m.migrations[0].Version != 1 || m.migrations[0].Name != "create_things" {
		t.Errorf("migrations[0] = version %d name %q, want 1 create_things",
			m.migrations[0].Version, m.migrations[0].Name)
	}
	if m.migrations[1].Version != 2 {
		t.Errorf("migrations[1].Version = %d, want 2", m.migrations[1].Version)
	}

	if m.migrations[0].Up == "" || m.migrations[0].Down == "" {
		t.Error("migrations[0] missing up or down SQL")
	}
}
