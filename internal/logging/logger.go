// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package logging provides the process-wide zerolog logger for Roomsync.
//
// Every package logs through this wrapper instead of holding its own logger:
//
//	logging.Info().Str("room_id", roomID).Msg("room joined")
//	logging.Ctx(ctx).Warn().Err(err).Msg("heartbeat dropped")
//	syncLog := logging.WithComponent("credit-sync")
//
// JSON output is the default. Console output is intended for local development.
// Always terminate an event chain with Msg or Send, otherwise nothing is written.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level: trace, debug, info, warn, error, fatal, panic or disabled.
	// Anything else means info.
	Level string

	// Format is json (default) or console.
	Format string

	// Caller adds file:line to every entry.
	Caller bool

	// NoTimestamp drops the time field, for tests comparing exact output.
	NoTimestamp bool

	// Service is written as the service field of every entry. Defaults to roomsync.
	Service string

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig is the configuration in effect before main calls Init.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json", Service: "roomsync", Output: os.Stderr}
}

var (
	log zerolog.Logger
	mu  sync.RWMutex
)

//nolint:gochecknoinits // logging must work before main calls Init
func init() {
	log = build(DefaultConfig())
}

// Init replaces the global logger. It may be called again, as tests do.
func Init(cfg Config) {
	l := build(cfg)
	mu.Lock()
	log = l
	mu.Unlock()
}

func build(cfg Config) zerolog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.Service == "" {
		cfg.Service = "roomsync"
	}
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Output
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}
	ctx := zerolog.New(out).With().Str("service", cfg.Service)
	if !cfg.NoTimestamp {
		ctx = ctx.Timestamp()
	}
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// parseLevel maps a LOG_LEVEL value onto zerolog, accepting "warning" and
// any letter case.
func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Logger returns a copy of the global logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// With starts a child context of the global logger.
func With() zerolog.Context {
	l := Logger()
	return l.With()
}

// Debug starts a debug event on the global logger.
func Debug() *zerolog.Event {
	l := Logger()
	return l.Debug()
}

func Info() *zerolog.Event {
	l := Logger()
	return l.Info()
}

func Warn() *zerolog.Event {
	l := Logger()
	return l.Warn()
}

func Error() *zerolog.Event {
	l := Logger()
	return l.Error()
}

// Fatal exits the process once the entry is written.
func Fatal() *zerolog.Event {
	l := Logger()
	return l.Fatal()
}
