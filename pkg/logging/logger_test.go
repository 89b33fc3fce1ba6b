// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"verbose", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFileLogging(t *testing.T) {
	t.Run("writes json entries to the dated file", func(t *testing.T) {
		dir := t.TempDir()
		logger := New(Config{
			Level:   LevelInfo,
			LogDir:  dir,
			Service: "riskengine",
			Quiet:   true,
		})

		logger.Info("scan complete", "gaps", 3)
		if err := logger.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		filename := "riskengine_" + time.Now().Format("2006-01-02") + ".log"
		data, err := os.ReadFile(filepath.Join(dir, filename))
		if err != nil {
			t.Fatalf("reading log file: %v", err)
		}

		var entry map[string]any
		line := strings.TrimSpace(string(data))
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not JSON: %v", err)
		}
		if entry["msg"] != "scan complete" {
			t.Errorf("msg = %v, want scan complete", entry["msg"])
		}
		if entry["service"] != "riskengine" {
			t.Errorf("service = %v, want riskengine", entry["service"])
		}
		if entry["gaps"] != float64(3) {
			t.Errorf("gaps = %v, want 3", entry["gaps"])
		}
	})

	t.Run("level filter drops debug", func(t *testing.T) {
		dir := t.TempDir()
		logger := New(Config{
			Level:   LevelWarn,
			LogDir:  dir,
			Service: "svc",
			Quiet:   true,
		})

		logger.Debug("dropped")
		logger.Info("dropped too")
		logger.Warn("kept")
		if err := logger.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		filename := "svc_" + time.Now().Format("2006-01-02") + ".log"
		data, err := os.ReadFile(filepath.Join(dir, filename))
		if err != nil {
			t.Fatalf("reading log file: %v", err)
		}
		if got := strings.Count(string(data), "\n"); got != 1 {
			t.Errorf("log file has %d lines, want 1", got)
		}
		if !strings.Contains(string(data), "kept") {
			t.Error("warn entry missing from log file")
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		logger := New(Config{LogDir: t.TempDir(), Service: "svc", Quiet: true})
		if err := logger.Close(); err != nil {
			t.Fatalf("first Close failed: %v", err)
		}
		if err := logger.Close(); err != nil {
			t.Fatalf("second Close failed: %v", err)
		}
	})
}

func TestWith(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Service: "svc", Quiet: true})
	child := logger.With("component", "model")
	child.Info("hello")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	filename := "svc_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"component":"model"`) {
		t.Errorf("child attribute missing: %s", data)
	}
}

func TestMultiHandler(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	}}
	logger := slog.New(h)

	logger.Info("info line")
	logger.Error("error line")

	if !strings.Contains(a.String(), "info line") || !strings.Contains(a.String(), "error line") {
		t.Errorf("first handler missing lines: %s", a.String())
	}
	if strings.Contains(b.String(), "info line") {
		t.Error("second handler should filter info")
	}
	if !strings.Contains(b.String(), "error line") {
		t.Error("second handler missing error line")
	}

	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Enabled should be true when any handler accepts the level")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q, want unchanged", got)
	}
}
