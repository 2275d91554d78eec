// Package config loads daemon and CLI configuration.
//
// Settings come from {data_dir}/config.yaml overlaid with POCKETLIST_*
// environment variables (POCKETLIST_DATABASE_URL, POCKETLIST_MINIO_ENDPOINT,
// and so on). Every key has a default, so a missing config file is not an
// error.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Backend selects the remote store implementation.
const (
	// BackendRTDB talks to a Firebase-style realtime database over REST.
	BackendRTDB = "rtdb"

	// BackendMemory keeps everything in process. For tests and demos.
	BackendMemory = "memory"
)

// Config holds all daemon and CLI settings.
type Config struct {
	// Backend is the remote store kind: "rtdb" or "memory".
	Backend string `mapstructure:"backend"`

	// DatabaseURL is the realtime database base URL.
	DatabaseURL string `mapstructure:"database_url"`

	// DatabaseAuth is the auth token appended to database requests.
	DatabaseAuth string `mapstructure:"database_auth"`

	// Minio configures the image blob store. Uploads are disabled when
	// the endpoint is empty.
	Minio MinioConfig `mapstructure:"minio"`

	// DashboardPort is the WebSocket monitor port. 0 disables it.
	DashboardPort int `mapstructure:"dashboard_port"`

	// DataDir holds the identity file, cache database, and outbox.
	DataDir string `mapstructure:"data_dir"`

	// LogFile is the daemon log path. Empty logs to stderr.
	LogFile string `mapstructure:"log_file"`
}

// MinioConfig holds S3-compatible blob store settings.
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

// DefaultDataDir returns the default data directory, ~/.pocketlist.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pocketlist"
	}
	return filepath.Join(home, ".pocketlist")
}

// Load reads configuration from dataDir/config.yaml and the environment.
// A missing config file is fine; defaults and env vars still apply.
func Load(dataDir string) (*Config, error) {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dataDir)

	v.SetEnvPrefix("POCKETLIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("backend", BackendRTDB)
	v.SetDefault("database_url", "")
	v.SetDefault("database_auth", "")
	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", "pocketlist-images")
	v.SetDefault("minio.secure", true)
	v.SetDefault("dashboard_port", 8422)
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("log_file", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendRTDB:
		if c.DatabaseURL == "" {
			return fmt.Errorf("backend %q requires database_url", c.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q (want %q or %q)", c.Backend, BackendRTDB, BackendMemory)
	}
	return nil
}

// CachePath returns the location of the local item mirror.
func (c *Config) CachePath() string {
	return filepath.Join(c.DataDir, "items.db")
}

// OutboxDir returns the watched image drop directory.
func (c *Config) OutboxDir() string {
	return filepath.Join(c.DataDir, "outbox")
}
