package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default API listen address.
	DefaultListen = "127.0.0.1:8787"

	// DefaultIndexDriver is the default run-index storage backend.
	DefaultIndexDriver = "file"

	// DefaultBaseURL is the default target application URL.
	DefaultBaseURL = "http://localhost:3000"

	// DefaultRateLimitPerMinute is the default per-IP request budget for
	// mutating API endpoints.
	DefaultRateLimitPerMinute = 120
)

// Config is the root configuration for testpilot.
type Config struct {
	LogLevel string        `mapstructure:"log_level"`
	Engine   EngineConfig  `mapstructure:"engine"`
	Cloud    CloudConfig   `mapstructure:"cloud"`
	Index    IndexConfig   `mapstructure:"index"`
	Server   ServerConfig  `mapstructure:"server"`
	Upload   *UploadConfig `mapstructure:"upload"`
}

// EngineConfig describes how the external execution engine is invoked and
// which capture policy is written into the generated engine configuration.
type EngineConfig struct {
	Command               string   `mapstructure:"command"`
	Args                  []string `mapstructure:"args"`
	InstallCommand        []string `mapstructure:"install_command"`
	BrowserInstallCommand []string `mapstructure:"browser_install_command"`
	BaseURL               string   `mapstructure:"base_url"`
	Trace                 string   `mapstructure:"trace"`
	Screenshot            string   `mapstructure:"screenshot"`
	AuthSeedPath          string   `mapstructure:"auth_seed_path"`
}

// CloudConfig contains settings for runs against a remote browser grid.
type CloudConfig struct {
	CredentialsPath string `mapstructure:"credentials_path"`
	BuildPrefix     string `mapstructure:"build_prefix"`
	Tunnel          bool   `mapstructure:"tunnel"`
}

// IndexConfig selects the run-index storage backend.
type IndexConfig struct {
	Driver     string         `mapstructure:"driver"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig contains PostgreSQL connection settings for the
// database-backed run index.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// ServerConfig contains settings for the local API server.
type ServerConfig struct {
	Listen        string          `mapstructure:"listen"`
	CORSOrigins   []string        `mapstructure:"cors_origins"`
	AuthTokenHash string          `mapstructure:"auth_token_hash"`
	RateLimit     RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig controls per-IP rate limiting on the API.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

// UploadConfig holds optional result-upload settings.
type UploadConfig struct {
	S3 *S3Config `mapstructure:"s3"`
}

// S3Config contains S3-compatible storage settings for run-artifact upload.
type S3Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	EndpointURL     string `mapstructure:"endpoint_url"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	StorageClass    string `mapstructure:"storage_class"`
	ACL             string `mapstructure:"acl"`
}

// Load reads the configuration file at path and applies environment
// overrides (TESTPILOT_*). An empty path yields a default configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TESTPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.Engine.Command == "" {
		c.Engine.Command = "npx"
	}

	if len(c.Engine.Args) == 0 {
		c.Engine.Args = []string{"playwright", "test"}
	}

	if len(c.Engine.InstallCommand) == 0 {
		c.Engine.InstallCommand = []string{"npm", "install"}
	}

	if len(c.Engine.BrowserInstallCommand) == 0 {
		c.Engine.BrowserInstallCommand = []string{"npx", "playwright", "install", "chromium"}
	}

	if c.Engine.BaseURL == "" {
		c.Engine.BaseURL = DefaultBaseURL
	}

	if c.Engine.Trace == "" {
		c.Engine.Trace = "retain-on-failure"
	}

	if c.Engine.Screenshot == "" {
		c.Engine.Screenshot = "only-on-failure"
	}

	if c.Index.Driver == "" {
		c.Index.Driver = DefaultIndexDriver
	}

	if c.Index.Postgres.Port == 0 {
		c.Index.Postgres.Port = 5432
	}

	if c.Index.Postgres.SSLMode == "" {
		c.Index.Postgres.SSLMode = "disable"
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Server.RateLimit.RequestsPerMinute == 0 {
		c.Server.RateLimit.RequestsPerMinute = DefaultRateLimitPerMinute
	}
}

// validDrivers is the set of supported run-index backends.
var validDrivers = map[string]struct{}{
	"file":     {},
	"sqlite":   {},
	"postgres": {},
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, ok := validDrivers[c.Index.Driver]; !ok {
		return fmt.Errorf("unsupported index driver %q (use file, sqlite or postgres)", c.Index.Driver)
	}

	if c.Index.Driver == "postgres" {
		if c.Index.Postgres.Host == "" {
			return fmt.Errorf("index.postgres.host is required for the postgres driver")
		}

		if c.Index.Postgres.Database == "" {
			return fmt.Errorf("index.postgres.database is required for the postgres driver")
		}
	}

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_minute must be positive")
	}

	if c.Upload != nil && c.Upload.S3 != nil && c.Upload.S3.Enabled {
		if c.Upload.S3.Bucket == "" {
			return fmt.Errorf("upload.s3.bucket is required when S3 upload is enabled")
		}
	}

	return nil
}
