// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package config loads the application configuration from a YAML file with
// environment variable overrides. Everything has a working default: with no
// config file and no environment the app runs local-only out of an XDG data
// directory.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration shape. Remote fields left empty keep
// the app in local-only mode.
type Config struct {
	DataDir  string `yaml:"dataDir"`
	LogsDir  string `yaml:"logsDir"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL      string `yaml:"databaseURL"`
	StorageEndpoint  string `yaml:"storageEndpoint"`
	StorageAccessKey string `yaml:"storageAccessKey"`
	StorageSecretKey string `yaml:"storageSecretKey"`
	StorageBucket    string `yaml:"storageBucket"`
	StorageUseSSL    bool   `yaml:"storageUseSSL"`

	SyncInterval       string `yaml:"syncInterval"` // duration string, e.g. "30s"
	MaxCollectionBytes int64  `yaml:"maxCollectionBytes"`
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "fieldsync", "config.yaml")
}

// Default returns the built-in configuration.
func Default() Config {
	dataDir := filepath.Join(xdg.DataHome, "fieldsync")
	return Config{
		DataDir:       dataDir,
		LogsDir:       filepath.Join(dataDir, "logs"),
		LogLevel:      "info",
		StorageBucket: "inspections",
		SyncInterval:  "30s",
	}
}

// Load reads config from path (defaults to DefaultPath), merges it over the
// defaults and applies environment overrides. A missing config file is not
// an error; the defaults plus environment stand alone.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	// Override with environment variables
	if v := os.Getenv("FIELDSYNC_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("FIELDSYNC_LOGS_DIR"); v != "" {
		cfg.LogsDir = v
	}
	if v := os.Getenv("FIELDSYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FIELDSYNC_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("FIELDSYNC_STORAGE_ENDPOINT"); v != "" {
		cfg.StorageEndpoint = v
	}
	if v := os.Getenv("FIELDSYNC_STORAGE_ACCESS_KEY"); v != "" {
		cfg.StorageAccessKey = v
	}
	if v := os.Getenv("FIELDSYNC_STORAGE_SECRET_KEY"); v != "" {
		cfg.StorageSecretKey = v
	}
	if v := os.Getenv("FIELDSYNC_STORAGE_BUCKET"); v != "" {
		cfg.StorageBucket = v
	}
	if v := os.Getenv("FIELDSYNC_STORAGE_USE_SSL"); v != "" {
		if ssl, err := strconv.ParseBool(v); err == nil {
			cfg.StorageUseSSL = ssl
		}
	}
	if v := os.Getenv("FIELDSYNC_SYNC_INTERVAL"); v != "" {
		cfg.SyncInterval = v
	}
	if v := os.Getenv("FIELDSYNC_MAX_COLLECTION_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxCollectionBytes = n
		}
	}

	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.DataDir == "" {
		return errors.New("config: dataDir is required")
	}
	if _, err := cfg.ParsedSyncInterval(); err != nil {
		return fmt.Errorf("config: syncInterval: %w", err)
	}
	if cfg.MaxCollectionBytes < 0 {
		return errors.New("config: maxCollectionBytes must be >= 0")
	}
	if cfg.DatabaseURL != "" && cfg.StorageEndpoint == "" {
		return errors.New("config: storageEndpoint is required when databaseURL is set")
	}
	return nil
}

// ParsedSyncInterval returns the sync cadence as a duration. An empty value
// falls back to the default.
func (c Config) ParsedSyncInterval() (time.Duration, error) {
	s := c.SyncInterval
	if s == "" {
		s = Default().SyncInterval
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be positive")
	}
	return d, nil
}

// DatabasePath is the local SQLite file under the data directory.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "fieldsync.db")
}

// SlogLevel maps the configured log level onto slog, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
