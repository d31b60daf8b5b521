package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Njaecha/manga-helper/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the process logger writing to stdout, plus a rotated file when
// cfg.File is set. The returned closer releases the file.
func New(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter is New with the console writer replaced.
func NewWithWriter(cfg config.LoggingConfig, console io.Writer) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("logging: unsupported level %q", cfg.Level)
	}

	var closer io.Closer = nopCloser{}
	writer := console
	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writer = io.MultiWriter(console, rotated)
		closer = rotated
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json", "":
		handler = slog.NewJSONHandler(writer, opts)
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("logging: unsupported format %q", cfg.Format)
	}

	return slog.New(handler).With(slog.String("component", "manga-helper")), closer, nil
}
