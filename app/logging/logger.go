// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package logging constructs the zerolog logger used across the service.
// Components receive the logger through context (`log.Ctx(ctx)`), never
// through globals.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LoggerOpt customizes the logger being built.
type LoggerOpt func(*builder) error

type builder struct {
	level zerolog.Level
	sinks []io.Writer
}

// WithLevel sets the minimum level from its string name ("debug", "info", ...).
func WithLevel(level string) LoggerOpt {
	return func(b *builder) error {
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("failed to parse the log level %q: %w", level, err)
		}
		b.level = parsed
		return nil
	}
}

// WithSink adds an output writer. Multiple sinks are combined with a
// zerolog multi-level writer.
func WithSink(w io.Writer) LoggerOpt {
	return func(b *builder) error {
		if w == nil {
			return fmt.Errorf("nil sink")
		}
		b.sinks = append(b.sinks, w)
		return nil
	}
}

// WithConsole adds a human-readable console sink, useful when the service
// runs interactively next to the UI.
func WithConsole() LoggerOpt {
	return func(b *builder) error {
		b.sinks = append(b.sinks, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		return nil
	}
}

// NewLogger builds the service logger. With no sinks configured it writes
// JSON lines to stdout.
func NewLogger(opts ...LoggerOpt) (*zerolog.Logger, error) {
	b := &builder{level: zerolog.InfoLevel}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}

	if len(b.sinks) == 0 {
		b.sinks = append(b.sinks, os.Stdout)
	}

	var out io.Writer
	if len(b.sinks) == 1 {
		out = b.sinks[0]
	} else {
		out = zerolog.MultiLevelWriter(b.sinks...)
	}

	logger := zerolog.New(out).Level(b.level).With().Timestamp().Logger()
	return &logger, nil
}
