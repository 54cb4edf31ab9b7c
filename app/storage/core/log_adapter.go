// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ZeroLogAdapter routes gorm's query logging through the zerolog logger
// carried by the context, so database traces share fields with the rest of
// the request log.
type ZeroLogAdapter struct{}

var _ gormlogger.Interface = (*ZeroLogAdapter)(nil)

// LogMode is a no-op; levels are controlled by zerolog.
func (a ZeroLogAdapter) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return a
}

func (a ZeroLogAdapter) Info(ctx context.Context, msg string, data ...interface{}) {
	log.Ctx(ctx).Info().Msgf(msg, data...)
}

func (a ZeroLogAdapter) Warn(ctx context.Context, msg string, data ...interface{}) {
	log.Ctx(ctx).Warn().Msgf(msg, data...)
}

func (a ZeroLogAdapter) Error(ctx context.Context, msg string, data ...interface{}) {
	log.Ctx(ctx).Error().Msgf(msg, data...)
}

// Trace logs one entry per statement with the sql, row count and elapsed
// time. Record-not-found is part of normal control flow and is not logged as
// an error.
func (a ZeroLogAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	var event *zerolog.Event
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		event = log.Ctx(ctx).Error().Err(err)
	} else {
		event = log.Ctx(ctx).Trace()
	}

	sql, rows := fc()
	if rows > -1 {
		event = event.Int64("rows", rows)
	}
	event.Dur("elapsed", time.Since(begin)).Str("sql", sql).Send()
}
