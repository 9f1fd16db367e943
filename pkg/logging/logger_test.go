// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelInfo, ParseLevel("info"))
	assert.Equal(t, LevelWarn, ParseLevel("warn"))
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelError, ParseLevel(" error "))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, FormatText, ParseFormat("text"))
	assert.Equal(t, FormatJSON, ParseFormat("JSON"))
	assert.Equal(t, FormatAuto, ParseFormat("auto"))
	assert.Equal(t, FormatAuto, ParseFormat("bogus"))
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(Config{
		Level:   LevelDebug,
		Format:  FormatJSON,
		LogDir:  dir,
		Service: "testsvc",
	})
	require.NoError(t, err)

	logger.Info("hello from test", "answer", 42)
	require.NoError(t, logger.Close())

	name := "testsvc_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	line := strings.TrimSpace(strings.Split(string(data), "\n")[0])
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "hello from test", entry["msg"])
	assert.Equal(t, float64(42), entry["answer"])
}

func TestNew_CreatesLogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")

	logger, err := New(Config{LogDir: dir})
	require.NoError(t, err)
	defer logger.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLogger_LevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(Config{
		Level:   LevelWarn,
		Format:  FormatJSON,
		LogDir:  dir,
		Service: "filter",
	})
	require.NoError(t, err)

	logger.Debug("dropped")
	logger.Info("also dropped")
	logger.Warn("kept")
	require.NoError(t, logger.Close())

	name := "filter_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}

func TestClose_WithoutFile(t *testing.T) {
	logger, err := New(Config{})
	require.NoError(t, err)
	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Error("this goes nowhere")
	assert.NoError(t, logger.Close())
}
