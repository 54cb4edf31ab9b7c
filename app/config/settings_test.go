// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstephens/glowworm/app/config"
)

func writeTestConfig(t *testing.T, keyPath string) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	body := `
remote:
  host: media.example.com
  api_key_path: ` + keyPath + `
uploads:
  max_file_size: "10M"
  max_attempts: 5
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	return cfgPath
}

func writeAPIKey(t *testing.T) string {
	t.Helper()
	keyPath := filepath.Join(t.TempDir(), "apikey")
	require.NoError(t, os.WriteFile(keyPath, []byte("secret-key\n"), 0o600))
	return keyPath
}

func TestSettings_Unit_LoadAndDefaults(t *testing.T) {
	keyPath := writeAPIKey(t)
	cfgPath := writeTestConfig(t, keyPath)

	settings, err := config.NewSettings(cfgPath)
	require.NoError(t, err)

	// explicit values
	assert.Equal(t, "media.example.com", settings.Remote.Host)
	assert.Equal(t, int64(10_000_000), settings.GetMaxFileSizeBytes())
	assert.Equal(t, 5, settings.Uploads.MaxAttempts)
	assert.Equal(t, "secret-key", settings.GetAPIKey())

	// defaults applied by validation
	assert.Equal(t, config.DefaultMaxFiles, settings.Uploads.MaxFiles)
	assert.Equal(t, 1*time.Second, settings.Uploads.BaseDelay)
	assert.Equal(t, 30*time.Second, settings.Uploads.MaxDelay)
	assert.Equal(t, 2.0, settings.Uploads.Multiplier)
	assert.Equal(t, config.DefaultPoolSize, settings.Uploads.PoolSize)
	assert.Equal(t, config.DefaultFailureThreshold, settings.Telemetry.FailureThreshold)
	assert.Equal(t, config.DefaultAcceptedTypes, settings.Uploads.AcceptedTypes)
	assert.Equal(t, uint(config.DefaultServerPort), settings.Server.Port)
}

func TestSettings_Unit_MissingConfigFile(t *testing.T) {
	_, err := config.NewSettings(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSettings_Unit_MissingHost(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logging:\n  level: debug\n"), 0o644))

	_, err := config.NewSettings(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote host is empty")
}

func TestSettings_Unit_BadQuantity(t *testing.T) {
	keyPath := writeAPIKey(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	body := `
remote:
  host: media.example.com
  api_key_path: ` + keyPath + `
uploads:
  max_file_size: "not-a-size"
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))

	_, err := config.NewSettings(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_file_size")
}

func TestSettings_Unit_RemoteAPIBase(t *testing.T) {
	s := &config.Settings{Remote: config.Remote{Host: "media.example.com"}}
	u, err := s.GetRemoteAPIBase()
	require.NoError(t, err)
	assert.Equal(t, "https://media.example.com", u.String())

	s.Remote.UseHTTP = true
	u, err = s.GetRemoteAPIBase()
	require.NoError(t, err)
	assert.Equal(t, "http://media.example.com", u.String())
}
