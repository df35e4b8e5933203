package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Primary  PrimaryConfig  `yaml:"primary"`
	Sync     SyncConfig     `yaml:"sync"`
	Worker   WorkerConfig   `yaml:"worker"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains secondary-store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PrimaryConfig selects and configures the primary document store.
type PrimaryConfig struct {
	// Kind is "memory" or "surreal".
	Kind      string `yaml:"kind"`
	URL       string `yaml:"url"`
	Namespace string `yaml:"namespace"`
	Database  string `yaml:"database"`
	User      string `yaml:"-"` // env-only, never in YAML
	Pass      string `yaml:"-"` // env-only, never in YAML
}

// SyncConfig contains dual-write pipeline settings.
type SyncConfig struct {
	Enabled          bool     `yaml:"enabled"`
	RetryAttempts    int      `yaml:"retry_attempts"`
	RetryBaseDelay   Duration `yaml:"retry_base_delay"`
	RetryMaxDelay    Duration `yaml:"retry_max_delay"`
	BatchConcurrency int      `yaml:"batch_concurrency"`
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	ReplayInterval   Duration `yaml:"replay_interval"`
	ReplayBatchSize  int      `yaml:"replay_batch_size"`
	FailureRetention Duration `yaml:"failure_retention"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("TODOSYNC_CONFIG_PATH", "config/todosync.yaml")

	// Missing file is not an error; defaults apply.
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/todosync.db",
		},
		Primary: PrimaryConfig{
			Kind:      "memory",
			URL:       "ws://localhost:8000/rpc",
			Namespace: "todo",
			Database:  "todo",
		},
		Sync: SyncConfig{
			Enabled:          true,
			RetryAttempts:    3,
			RetryBaseDelay:   Duration(100 * time.Millisecond),
			RetryMaxDelay:    Duration(5 * time.Second),
			BatchConcurrency: 4,
		},
		Worker: WorkerConfig{
			ReplayInterval:   Duration(5 * time.Minute),
			ReplayBatchSize:  50,
			FailureRetention: Duration(7 * 24 * time.Hour),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("TODOSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TODOSYNC_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("TODOSYNC_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("TODOSYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Database
	if v := os.Getenv("TODOSYNC_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Primary store
	if v := os.Getenv("TODOSYNC_PRIMARY_KIND"); v != "" {
		cfg.Primary.Kind = v
	}
	if v := os.Getenv("TODOSYNC_PRIMARY_URL"); v != "" {
		cfg.Primary.URL = v
	}
	if v := os.Getenv("TODOSYNC_PRIMARY_NAMESPACE"); v != "" {
		cfg.Primary.Namespace = v
	}
	if v := os.Getenv("TODOSYNC_PRIMARY_DATABASE"); v != "" {
		cfg.Primary.Database = v
	}
	if v := os.Getenv("TODOSYNC_PRIMARY_USER"); v != "" {
		cfg.Primary.User = v
	}
	if v := os.Getenv("TODOSYNC_PRIMARY_PASS"); v != "" {
		cfg.Primary.Pass = v
	}

	// Sync
	if v := os.Getenv("TODOSYNC_SYNC_ENABLED"); v != "" {
		cfg.Sync.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TODOSYNC_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.RetryAttempts = n
		}
	}
	if v := os.Getenv("TODOSYNC_RETRY_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.RetryBaseDelay = Duration(d)
		}
	}
	if v := os.Getenv("TODOSYNC_RETRY_MAX_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.RetryMaxDelay = Duration(d)
		}
	}
	if v := os.Getenv("TODOSYNC_BATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.BatchConcurrency = n
		}
	}

	// Worker
	if v := os.Getenv("TODOSYNC_REPLAY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.ReplayInterval = Duration(d)
		}
	}
	if v := os.Getenv("TODOSYNC_REPLAY_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.ReplayBatchSize = n
		}
	}
	if v := os.Getenv("TODOSYNC_FAILURE_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.FailureRetention = Duration(d)
		}
	}

	// Auth
	if v := os.Getenv("TODOSYNC_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Log
	if v := os.Getenv("TODOSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TODOSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
// In dev mode (TODOSYNC_DEV_MODE=true), API key validation is skipped.
func (c *Config) validate() error {
	if c.Sync.RetryAttempts < 1 {
		return fmt.Errorf("sync.retry_attempts must be at least 1, got %d", c.Sync.RetryAttempts)
	}
	if c.Primary.Kind != "memory" && c.Primary.Kind != "surreal" {
		return fmt.Errorf("primary.kind must be \"memory\" or \"surreal\", got %q", c.Primary.Kind)
	}

	if os.Getenv("TODOSYNC_DEV_MODE") == "true" {
		return nil
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("TODOSYNC_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
