// Package config provides configuration loading and validation for the
// datastore services (reference resolution, persistence, inspection).
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	References ReferencesConfig `yaml:"references"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Inspect    InspectConfig    `yaml:"inspect"`
}

// ReferencesConfig configures how resource references are created and resolved.
type ReferencesConfig struct {
	DefaultStrategy     string            `yaml:"default_strategy"` // "registry", "path" or "addressable"
	PathRoot            string            `yaml:"path_root"`        // directory served by the path loader
	PathPrefix          string            `yaml:"path_prefix"`      // conventional prefix joined with the key
	DefaultRegistryPath string            `yaml:"default_registry_path"`
	WatchPathRoot       bool              `yaml:"watch_path_root"`
	Addressables        AddressableConfig `yaml:"addressables"`
}

// AddressableConfig configures the optional addressable (S3 backed) strategy.
type AddressableConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
	Prefix  string `yaml:"prefix,omitempty"`
	Profile string `yaml:"profile,omitempty"`
}

// StorageConfig configures container record persistence.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "memory" or "sqlite"
	DSN    string `yaml:"dsn"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Prefix  string `yaml:"prefix"`
}

// InspectConfig configures the registry inspection HTTP surface.
type InspectConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding environment variables first.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Default returns a configuration populated with defaults and environment
// overrides only.
func Default() *Config {
	var cfg Config
	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg
}

// applyEnvOverrides applies DATASTORE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATASTORE_DEFAULT_STRATEGY"); v != "" {
		cfg.References.DefaultStrategy = v
	}
	if v := os.Getenv("DATASTORE_PATH_ROOT"); v != "" {
		cfg.References.PathRoot = v
	}
	if v := os.Getenv("DATASTORE_ADDRESSABLES_ENABLED"); v != "" {
		cfg.References.Addressables.Enabled = parseBool(v)
	}
	if v := os.Getenv("DATASTORE_ADDRESSABLES_BUCKET"); v != "" {
		cfg.References.Addressables.Bucket = v
	}
	if v := os.Getenv("DATASTORE_ADDRESSABLES_REGION"); v != "" {
		cfg.References.Addressables.Region = v
	}

	if v := os.Getenv("DATASTORE_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("DATASTORE_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}

	if v := os.Getenv("DATASTORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DATASTORE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("DATASTORE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("DATASTORE_INSPECT_ADDR"); v != "" {
		cfg.Inspect.Addr = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.References.DefaultStrategy == "" {
		cfg.References.DefaultStrategy = "registry"
	}
	if cfg.References.DefaultRegistryPath == "" {
		cfg.References.DefaultRegistryPath = "DataStoreReferenceRegistry"
	}
	if cfg.References.Addressables.Region == "" {
		cfg.References.Addressables.Region = "us-east-1"
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "datastore.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Prefix == "" {
		cfg.Metrics.Prefix = "datastore"
	}

	if cfg.Inspect.Addr == "" {
		cfg.Inspect.Addr = "127.0.0.1:8089"
	}
}

// Validate checks the configuration for unsupported values.
func (cfg *Config) Validate() error {
	validStrategies := map[string]bool{"registry": true, "path": true, "addressable": true}
	if !validStrategies[cfg.References.DefaultStrategy] {
		return fmt.Errorf("references.default_strategy must be one of: registry, path, addressable, got %q", cfg.References.DefaultStrategy)
	}
	if cfg.References.DefaultStrategy == "addressable" && !cfg.References.Addressables.Enabled {
		return fmt.Errorf("references.default_strategy is 'addressable' but references.addressables.enabled is false")
	}
	if cfg.References.Addressables.Enabled && cfg.References.Addressables.Bucket == "" {
		return fmt.Errorf("references.addressables.bucket is required when addressables are enabled")
	}

	validDrivers := map[string]bool{"memory": true, "sqlite": true}
	if !validDrivers[cfg.Storage.Driver] {
		return fmt.Errorf("storage.driver must be 'memory' or 'sqlite', got %q", cfg.Storage.Driver)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}
	return nil
}
