package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Njaecha/manga-helper/internal/config"
)

func TestNewAcceptsKnownLevelsAndFormats(t *testing.T) {
	logger, closer, err := New(config.LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.NoError(t, closer.Close())
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Level: "verbose"})
	require.Error(t, err)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Format: "binary"})
	require.Error(t, err)
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := NewWithWriter(config.LoggingConfig{Level: "warn", Format: "text"}, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
	require.Contains(t, buf.String(), "component=manga-helper")
}

func TestWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manga.log")
	var buf bytes.Buffer
	logger, closer, err := NewWithWriter(config.LoggingConfig{File: path, MaxSizeMB: 1}, &buf)
	require.NoError(t, err)
	logger.Info("page saved")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"page saved"`)
	require.Contains(t, buf.String(), `"msg":"page saved"`, "console still receives records")
}
