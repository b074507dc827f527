// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging provides structured logging for relaychat using zap.
//
// The TUI owns stdout, so the default sink is a log file under the
// relaychat home directory. Components receive a *zap.Logger by
// injection; there is no package-level global.
package logging

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds logger configuration.
type Config struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string

	// Path is the log file path. Empty writes to stderr (useful in tests
	// and one-shot CLI commands where no TUI owns the terminal).
	Path string
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

// New creates a zap logger per cfg. JSON encoding, ISO8601 timestamps.
func New(cfg Config) (*zap.Logger, error) {
	level := parseLevel(cfg.Level)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	var sink zapcore.WriteSyncer
	if cfg.Path == "" {
		sink = zapcore.AddSync(os.Stderr)
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		sink = zapcore.AddSync(f)
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core), nil
}

// Nop returns a no-op logger for callers that do not care about output.
func Nop() *zap.Logger {
	return zap.NewNop()
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
