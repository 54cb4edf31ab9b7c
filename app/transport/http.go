// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nstephens/glowworm/app/config"
)

// ZerologRetryableHTTPAdapter adapts zerolog.Logger to retryablehttp.Logger.
type ZerologRetryableHTTPAdapter struct {
	logger *zerolog.Logger
}

// NewZerologRetryableHTTPAdapter creates a new adapter.
func NewZerologRetryableHTTPAdapter(logger *zerolog.Logger) *ZerologRetryableHTTPAdapter {
	if logger == nil {
		defaultLogger := log.Logger
		logger = &defaultLogger
	}
	return &ZerologRetryableHTTPAdapter{logger: logger}
}

func (a *ZerologRetryableHTTPAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error().Fields(retryableHTTPKVsToMap(keysAndValues...)).Msg(msg)
}

func (a *ZerologRetryableHTTPAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info().Fields(retryableHTTPKVsToMap(keysAndValues...)).Msg(msg)
}

func (a *ZerologRetryableHTTPAdapter) Debug(msg string, keysAndValues ...interface{}) {
	a.logger.Debug().Fields(retryableHTTPKVsToMap(keysAndValues...)).Msg(msg)
}

func (a *ZerologRetryableHTTPAdapter) Warn(msg string, keysAndValues ...interface{}) {
	a.logger.Warn().Fields(retryableHTTPKVsToMap(keysAndValues...)).Msg(msg)
}

// retryableHTTPKVsToMap converts go-retryablehttp's key-value pairs to a map
// for zerolog.
func retryableHTTPKVsToMap(keysAndValues ...interface{}) map[string]interface{} {
	m := make(map[string]interface{})
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			if key, ok := keysAndValues[i].(string); ok {
				m[key] = keysAndValues[i+1]
			}
		}
	}
	return m
}

var _ retryablehttp.LeveledLogger = (*ZerologRetryableHTTPAdapter)(nil)

// NewHTTPClient builds the HTTP client shared by transfers and health
// probes. RetryMax is zero: attempt scheduling belongs to the orchestrator's
// backoff policy, so one attempt maps to exactly one request on the wire.
func NewHTTPClient(ctx context.Context, s *config.Settings) *retryablehttp.Client {
	httpClient := retryablehttp.NewClient()
	httpClient.Logger = NewZerologRetryableHTTPAdapter(log.Ctx(ctx))
	httpClient.HTTPClient = &http.Client{
		Timeout: s.Remote.UploadTimeout,
	}
	httpClient.RetryMax = 0
	return httpClient
}
