// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for the repair agent.
//
// Output goes to stderr so stdout stays clean for piping, following Unix
// conventions. The format is chosen per destination: human-readable text
// when stderr is a terminal, JSON otherwise, unless the configuration
// forces one. An optional log directory adds a JSON file per service and
// day alongside the stderr stream.
//
// # Basic Usage
//
//	logger := logging.Default()
//	logger.Info("polling tracker", "project", project)
//
// # Configured Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:   logging.LevelDebug,
//	    Format:  logging.FormatJSON,
//	    LogDir:  "/var/log/mend",
//	    Service: "mend",
//	})
//	defer logger.Close()
//
// # Security Considerations
//
// This package does NOT automatically redact sensitive data. Callers
// must ensure tokens and secrets are never logged.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages.
	LevelInfo

	// LevelWarn is for recoverable problems.
	LevelWarn

	// LevelError is for failed operations.
	LevelError
)

// String returns the human-readable name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a level name ("debug", "info", "warn", "error")
// to a Level. Unknown names default to Info.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format selects the output encoding.
type Format int

const (
	// FormatAuto picks text on a terminal and JSON otherwise.
	FormatAuto Format = iota

	// FormatText forces human-readable output.
	FormatText

	// FormatJSON forces JSON output.
	FormatJSON
)

// ParseFormat converts a format name ("auto", "text", "json") to a
// Format. Unknown names default to Auto.
func ParseFormat(name string) Format {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "text":
		return FormatText
	case "json":
		return FormatJSON
	default:
		return FormatAuto
	}
}

// Config configures the Logger. A zero value logs Info and above to
// stderr, format chosen by terminal detection.
type Config struct {
	// Level is the minimum severity to emit.
	Level Level

	// Format selects text or JSON output on stderr.
	Format Format

	// LogDir, when set, adds a JSON log file {Service}_{date}.log in
	// that directory. Created if missing. Supports ~ expansion.
	LogDir string

	// Service names the log file. Defaults to "mend".
	Service string
}

// Logger wraps slog.Logger with file lifecycle management.
type Logger struct {
	*slog.Logger
	file *os.File
}

// Default returns a stderr-only logger at Info level.
func Default() *Logger {
	logger, _ := New(Config{})
	return logger
}

// New creates a logger.
//
// Outputs:
//
//	*Logger - The logger. Call Close() when file logging is enabled.
//	error - Non-nil if the log directory or file cannot be created.
func New(cfg Config) (*Logger, error) {
	if cfg.Service == "" {
		cfg.Service = "mend"
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.toSlogLevel()}

	var stderrHandler slog.Handler
	if useText(cfg.Format) {
		stderrHandler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := &Logger{}
	handler := stderrHandler

	if cfg.LogDir != "" {
		file, err := openLogFile(cfg.LogDir, cfg.Service)
		if err != nil {
			return nil, err
		}
		logger.file = file
		handler = &fanoutHandler{handlers: []slog.Handler{
			stderrHandler,
			slog.NewJSONHandler(file, opts),
		}}
	}

	logger.Logger = slog.New(handler)
	return logger, nil
}

// Close flushes and closes the log file, if one is open.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// useText reports whether stderr output should be text.
func useText(f Format) bool {
	switch f {
	case FormatText:
		return true
	case FormatJSON:
		return false
	default:
		return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	}
}

// openLogFile creates the log directory and opens today's log file in
// append mode.
func openLogFile(dir, service string) (*os.File, error) {
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("logging: expanding log dir: %w", err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("logging: creating log dir %s: %w", dir, err)
	}

	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("logging: opening log file: %w", err)
	}
	return file, nil
}

// fanoutHandler duplicates records to multiple handlers.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}

// discardWriter is used by Discard.
type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

var _ io.Writer = discardWriter{}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{
		Level: slog.LevelError + 1,
	}))}
}
