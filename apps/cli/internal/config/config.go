// Package config loads CLI settings from built-in defaults, an optional YAML
// file and FCM_REGISTRAR_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	registrar "github.com/turkkalori/fcm-registrar"
)

// EnvPrefix prefixes every environment variable the CLI reads.
const EnvPrefix = "FCM_REGISTRAR"

// FileName is the config file looked up in the session directory.
const FileName = "config.yaml"

// Store backends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config is the full CLI configuration. Fields carry no envconfig defaults
// so values from the YAML file survive env processing.
type Config struct {
	Endpoint       string        `yaml:"endpoint" envconfig:"ENDPOINT"`
	APIKey         string        `yaml:"api_key" envconfig:"API_KEY"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`

	Retry RetryConfig `yaml:"retry" envconfig:"RETRY"`
	Store StoreConfig `yaml:"store" envconfig:"STORE"`

	MetricsAddr string         `yaml:"metrics_addr" envconfig:"METRICS_ADDR"`
	Registry    RegistryConfig `yaml:"registry" envconfig:"REGISTRY"`
	Firebase    FirebaseConfig `yaml:"firebase" envconfig:"FIREBASE"`
}

type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval" envconfig:"INITIAL_INTERVAL"`
	Multiplier      float64       `yaml:"multiplier" envconfig:"MULTIPLIER"`
	MaxInterval     time.Duration `yaml:"max_interval" envconfig:"MAX_INTERVAL"`
	MaxAttempts     int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	Jitter          float64       `yaml:"jitter" envconfig:"JITTER"`
}

// Policy converts the retry settings to a registrar.RetryPolicy.
func (r RetryConfig) Policy() registrar.RetryPolicy {
	return registrar.RetryPolicy{
		InitialInterval: r.InitialInterval,
		Multiplier:      r.Multiplier,
		MaxInterval:     r.MaxInterval,
		MaxAttempts:     r.MaxAttempts,
		Jitter:          r.Jitter,
	}
}

type StoreConfig struct {
	// Backend is one of file, sqlite or redis.
	Backend        string `yaml:"backend" envconfig:"BACKEND"`
	SQLitePath     string `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
	RedisURL       string `yaml:"redis_url" envconfig:"REDIS_URL"`
	RedisNamespace string `yaml:"redis_namespace" envconfig:"REDIS_NAMESPACE"`
}

type RegistryConfig struct {
	Addr   string `yaml:"addr" envconfig:"ADDR"`
	DBPath string `yaml:"db_path" envconfig:"DB_PATH"`
	APIKey string `yaml:"api_key" envconfig:"API_KEY"`
}

type FirebaseConfig struct {
	CredentialsFile string `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
	ProjectID       string `yaml:"project_id" envconfig:"PROJECT_ID"`
}

// Defaults returns the built-in configuration for a session directory.
func Defaults(sessionDir string) Config {
	p := registrar.DefaultRetryPolicy()
	return Config{
		RequestTimeout: 30 * time.Second,
		Retry: RetryConfig{
			InitialInterval: p.InitialInterval,
			Multiplier:      p.Multiplier,
			MaxInterval:     p.MaxInterval,
			MaxAttempts:     p.MaxAttempts,
		},
		Store: StoreConfig{
			Backend:        StoreFile,
			SQLitePath:     filepath.Join(sessionDir, "registrar.db"),
			RedisURL:       "redis://localhost:6379/0",
			RedisNamespace: "fcm-registrar",
		},
		Registry: RegistryConfig{
			Addr:   "127.0.0.1:8089",
			DBPath: filepath.Join(sessionDir, "registry.db"),
		},
	}
}

// Load builds the configuration. path may be empty, in which case
// <sessionDir>/config.yaml is used when it exists. An explicit path that
// does not exist is an error.
func Load(sessionDir, path string) (Config, error) {
	cfg := Defaults(sessionDir)

	explicit := path != ""
	if !explicit {
		path = filepath.Join(sessionDir, FileName)
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("reading %s_* environment: %w", EnvPrefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that do not depend on the command being run.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case StoreFile, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("unknown store backend %q (want file, sqlite or redis)", c.Store.Backend)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

// RequireEndpoint returns the registry endpoint or an error explaining how
// to set it.
func (c Config) RequireEndpoint() (string, error) {
	if c.Endpoint == "" {
		return "", fmt.Errorf("no registry endpoint configured: set endpoint in %s, %s_ENDPOINT or --endpoint", FileName, EnvPrefix)
	}
	if _, err := registrar.ValidateEndpoint(c.Endpoint); err != nil {
		return "", err
	}
	return c.Endpoint, nil
}
