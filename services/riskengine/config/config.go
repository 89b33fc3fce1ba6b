// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads risk engine settings from file and environment.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/KodiakSec/KodiakCore/services/riskengine/cascade"
)

// Config holds the tunable settings of the risk engine.
//
// # Description
//
// Settings are read from an optional YAML file, then overridden by
// environment variables with the KODIAK_RISKENGINE prefix (dots become
// underscores, e.g. KODIAK_RISKENGINE_CASCADE_MAX_DEPTH). Scoring
// multipliers are deliberately not configurable; they are part of the
// model's contract with calibrated threshold semantics.
type Config struct {
	// CascadeMaxDepth bounds loss cascade traversal. Values above the
	// built-in maximum are rejected rather than clamped so a bad
	// deployment fails loudly.
	CascadeMaxDepth int `mapstructure:"cascade_max_depth" validate:"gte=1,lte=5"`

	// RankingSize is the length of the ranked vulnerability list.
	RankingSize int `mapstructure:"ranking_size" validate:"gte=1,lte=100"`

	// ScanCacheSize is the capacity of the scan report cache.
	ScanCacheSize int `mapstructure:"scan_cache_size" validate:"gte=1"`

	// RecomputeWorkers bounds parallelism in full-model recomputes.
	RecomputeWorkers int `mapstructure:"recompute_workers" validate:"gte=1,lte=128"`

	// ArchivePath is the directory for the BadgerDB report archive.
	// Empty selects an in-memory archive.
	ArchivePath string `mapstructure:"archive_path"`

	// ArchiveSyncWrites enables synchronous archive writes.
	ArchiveSyncWrites bool `mapstructure:"archive_sync_writes"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

var configValidate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the engine's built-in settings.
func Default() Config {
	return Config{
		CascadeMaxDepth:   cascade.MaxDepth,
		RankingSize:       10,
		ScanCacheSize:     16,
		RecomputeWorkers:  8,
		ArchiveSyncWrites: true,
		LogLevel:          "info",
	}
}

// Load reads configuration from the given file path, applying defaults
// and environment overrides. An empty path skips the file and uses
// defaults plus environment.
func Load(path string) (Config, error) {
	v := viper.New()

	defaults := Default()
	v.SetDefault("cascade_max_depth", defaults.CascadeMaxDepth)
	v.SetDefault("ranking_size", defaults.RankingSize)
	v.SetDefault("scan_cache_size", defaults.ScanCacheSize)
	v.SetDefault("recompute_workers", defaults.RecomputeWorkers)
	v.SetDefault("archive_path", defaults.ArchivePath)
	v.SetDefault("archive_sync_writes", defaults.ArchiveSyncWrites)
	v.SetDefault("log_level", defaults.LogLevel)

	v.SetEnvPrefix("KODIAK_RISKENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that all settings are within their allowed ranges.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
