// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in
// priority order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/vaultkeeper/config.yaml",
}

// ConfigPathEnvVar overrides the searched config file path.
const ConfigPathEnvVar = "VAULTKEEPER_CONFIG_PATH"

// envPrefix is stripped from every VAULTKEEPER_-prefixed environment
// variable before it's lowercased and "__"-split into a koanf path, e.g.
// VAULTKEEPER_DATABASE__HOST -> database.host.
const envPrefix = "VAULTKEEPER_"

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Port:    5432,
			SSLMode: "require",
		},
		Storage: StorageConfig{
			LocalBaseDir: "/var/lib/vaultkeeper/staging",
		},
		Schedule: ScheduleConfig{
			FullBackupInterval:     24 * time.Hour,
			TenantBackupInterval:  7 * 24 * time.Hour,
			WALArchiveInterval:    5 * time.Minute,
			ConfigBackupInterval:  24 * time.Hour,
			CleanupInterval:       24 * time.Hour,
			IntegrityCheckInterval: time.Hour,
			TestRestoreInterval:   30 * 24 * time.Hour,
			AlertDigestInterval:   24 * time.Hour,
		},
		Alerting: AlertingConfig{
			SizeDeviationPct:     40,
			DurationDeviationPct: 100,
			StorageCapacityPct:   85,
			SampleWindow:         30 * 24 * time.Hour,
			SampleSize:           7,
			DigestWindow:         24 * time.Hour,
		},
		Catalog: CatalogConfig{Path: "/var/lib/vaultkeeper/catalog.duckdb"},
		Lock:    LockConfig{Dir: "/var/lib/vaultkeeper/locks"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load loads configuration using Koanf with layered sources:
//  1. Defaults: built-in sensible values
//  2. Config file: optional YAML file
//  3. Environment variables: highest priority, VAULTKEEPER_ prefixed
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform turns VAULTKEEPER_DATABASE__HOST into database.host. A
// double underscore separates nesting levels so field names containing
// single underscores, like full_backup_interval, survive untouched.
func envTransform(key string) string {
	trimmed := key[len(envPrefix):]
	path := ""
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		if c == '_' && i+1 < len(trimmed) && trimmed[i+1] == '_' {
			path += "."
			i++
			continue
		}
		path += string(toLower(c))
	}
	return path
}

func toLower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c - 'A' + 'a'
	}
	return c
}
