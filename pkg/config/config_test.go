package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, "npx", cfg.Engine.Command)
	assert.Equal(t, []string{"playwright", "test"}, cfg.Engine.Args)
	assert.Equal(t, "retain-on-failure", cfg.Engine.Trace)
	assert.Equal(t, "only-on-failure", cfg.Engine.Screenshot)
	assert.Equal(t, DefaultIndexDriver, cfg.Index.Driver)
	assert.Equal(t, DefaultListen, cfg.Server.Listen)
	assert.Equal(t, DefaultRateLimitPerMinute, cfg.Server.RateLimit.RequestsPerMinute)

	require.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
log_level: debug
engine:
  base_url: https://app.example.com
  trace: "on"
index:
  driver: sqlite
server:
  listen: 127.0.0.1:9999
  rate_limit:
    enabled: true
    requests_per_minute: 30
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://app.example.com", cfg.Engine.BaseURL)
	assert.Equal(t, "on", cfg.Engine.Trace)
	assert.Equal(t, "sqlite", cfg.Index.Driver)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Listen)
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 30, cfg.Server.RateLimit.RequestsPerMinute)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown index driver",
			mutate:  func(c *Config) { c.Index.Driver = "mongo" },
			wantErr: "unsupported index driver",
		},
		{
			name: "postgres requires host",
			mutate: func(c *Config) {
				c.Index.Driver = "postgres"
				c.Index.Postgres.Database = "testpilot"
			},
			wantErr: "index.postgres.host",
		},
		{
			name: "postgres requires database",
			mutate: func(c *Config) {
				c.Index.Driver = "postgres"
				c.Index.Postgres.Host = "localhost"
			},
			wantErr: "index.postgres.database",
		},
		{
			name: "s3 upload requires bucket",
			mutate: func(c *Config) {
				c.Upload = &UploadConfig{S3: &S3Config{Enabled: true}}
			},
			wantErr: "upload.s3.bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)

			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
