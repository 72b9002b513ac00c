package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SBIR_DB_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 30*time.Second, cfg.ShutdownGrace())
	require.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	require.Equal(t, "https://api.www.sbir.gov/public/api", cfg.Upstream.BaseURL)
	require.Equal(t, 5*time.Second, cfg.UpstreamTimeout())
	require.Equal(t, ETLConfig{PageSize: 10, MaxOffset: 1000, Concurrency: 5}, cfg.ETL)
	require.Equal(t, DriverMemory, cfg.DB.Driver)
	require.Equal(t, ArchiveNone, cfg.Archive.Driver)
	require.Equal(t, 30*time.Minute, cfg.MaxConnLifetime())
	require.Equal(t, LoggingConfig{Development: true, Level: "info"}, cfg.Logging)
	require.Equal(t, TelemetryConfig{ServiceName: "sbir-solicitations"}, cfg.Telemetry)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  shutdown_grace_seconds: 10
  cors_origins: ["https://grants.example.gov"]
auth:
  enabled: true
  api_key: secret
upstream:
  base_url: http://localhost:9999/api
  timeout_seconds: 15
  requests_per_second: 2.5
  burst: 3
etl:
  page_size: 10
  max_offset: 100
  concurrency: 2
db:
  driver: postgres
  dsn: postgres://sbir@localhost/sbir
archive:
  driver: local
  local_dir: /tmp/sbir
pubsub:
  project_id: proj
  topic: etl-runs
logging:
  development: false
  level: debug
telemetry:
  enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))
	t.Setenv("SBIR_ETL_CONCURRENCY", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 10*time.Second, cfg.ShutdownGrace())
	require.Equal(t, []string{"https://grants.example.gov"}, cfg.Server.CORSOrigins)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.InDelta(t, 2.5, cfg.Upstream.RequestsPerSecond, 1e-9)
	require.Equal(t, 15*time.Second, cfg.UpstreamTimeout())
	require.Equal(t, ETLConfig{PageSize: 10, MaxOffset: 100, Concurrency: 3}, cfg.ETL)
	require.Equal(t, "postgres://sbir@localhost/sbir", cfg.DB.DSN)
	require.Equal(t, ArchiveConfig{Driver: ArchiveLocal, Prefix: "raw", LocalDir: "/tmp/sbir"}, cfg.Archive)
	require.Equal(t, PubSubConfig{ProjectID: "proj", Topic: "etl-runs"}, cfg.PubSub)
	require.Equal(t, LoggingConfig{Level: "debug"}, cfg.Logging)
	require.True(t, cfg.Telemetry.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080, ShutdownGraceSeconds: 30},
		Upstream: UpstreamConfig{TimeoutSeconds: 5},
		ETL:      ETLConfig{PageSize: 10, MaxOffset: 100, Concurrency: 5},
		DB:       DBConfig{Driver: DriverMemory},
		Archive:  ArchiveConfig{Driver: ArchiveNone},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "no grace", mutate: func(c *Config) { c.Server.ShutdownGraceSeconds = 0 }, want: "server.shutdown_grace_seconds"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "invalid timeout", mutate: func(c *Config) { c.Upstream.TimeoutSeconds = 0 }, want: "upstream.timeout_seconds"},
		{name: "negative rps", mutate: func(c *Config) { c.Upstream.RequestsPerSecond = -1 }, want: "upstream.requests_per_second"},
		{name: "page size", mutate: func(c *Config) { c.ETL.PageSize = 0 }, want: "etl.page_size"},
		{name: "max offset", mutate: func(c *Config) { c.ETL.MaxOffset = -10 }, want: "etl.max_offset"},
		{name: "concurrency", mutate: func(c *Config) { c.ETL.Concurrency = 0 }, want: "etl.concurrency"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.DB.Driver = DriverPostgres }, want: "db.dsn"},
		{name: "unknown driver", mutate: func(c *Config) { c.DB.Driver = "sqlite" }, want: "db.driver"},
		{name: "local without dir", mutate: func(c *Config) { c.Archive.Driver = ArchiveLocal }, want: "archive.local_dir"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Archive.Driver = ArchiveGCS }, want: "archive.gcs_bucket"},
		{name: "unknown archive", mutate: func(c *Config) { c.Archive.Driver = "s3" }, want: "archive.driver"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.Topic = "etl-runs" }, want: "pubsub.project_id"},
		{name: "telemetry without name", mutate: func(c *Config) { c.Telemetry.Enabled = true }, want: "telemetry.service_name"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
