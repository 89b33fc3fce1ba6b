// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodiakSec/KodiakCore/services/riskengine/cascade"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cascade.MaxDepth, cfg.CascadeMaxDepth)
	assert.Equal(t, 10, cfg.RankingSize)
	assert.Equal(t, 16, cfg.ScanCacheSize)
	assert.Equal(t, "info", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Run("empty path uses defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "riskengine.yaml")
		body := []byte("cascade_max_depth: 3\nranking_size: 5\nlog_level: debug\n")
		require.NoError(t, os.WriteFile(path, body, 0644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.CascadeMaxDepth)
		assert.Equal(t, 5, cfg.RankingSize)
		assert.Equal(t, "debug", cfg.LogLevel)
		// Untouched keys keep their defaults.
		assert.Equal(t, 16, cfg.ScanCacheSize)
	})

	t.Run("missing file fails", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("depth above the traversal bound rejected", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "riskengine.yaml")
		require.NoError(t, os.WriteFile(path, []byte("cascade_max_depth: 9\n"), 0644))

		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("unknown log level rejected", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "riskengine.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0644))

		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.RecomputeWorkers = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RankingSize = -1
	assert.Error(t, cfg.Validate())
}
