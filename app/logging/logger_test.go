// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package logging_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstephens/glowworm/app/logging"
)

func TestLogger_Unit_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewLogger(logging.WithLevel("warn"), logging.WithSink(&buf))
	require.NoError(t, err)

	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
}

func TestLogger_Unit_InvalidLevel(t *testing.T) {
	_, err := logging.NewLogger(logging.WithLevel("shouty"))
	assert.Error(t, err)
}

func TestLogger_Unit_MultipleSinks(t *testing.T) {
	var a, b bytes.Buffer
	logger, err := logging.NewLogger(logging.WithSink(&a), logging.WithSink(&b))
	require.NoError(t, err)

	logger.Info().Str("component", "test").Msg("fanout")

	assert.Contains(t, a.String(), "fanout")
	assert.Contains(t, b.String(), "fanout")
}
