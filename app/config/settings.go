// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package config implements configuration management for the glowworm
// uploader service.
//
// Settings are loaded from YAML configuration files with environment variable
// overrides (cleanenv), then validated. Validation fills in defaults, so a
// mostly-empty file yields a working configuration. Size limits accept
// human-readable quantities ("50M", "1Gi") parsed with the Kubernetes
// resource grammar.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ccoveille/go-safecast"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/api/resource"
)

const (
	// DefaultMaxFileSize caps a single admitted file at 50MB.
	DefaultMaxFileSize = "50M"

	// DefaultMaxFiles bounds how many files the registry tracks at once.
	DefaultMaxFiles = 100

	// DefaultMaxAttempts is the automatic retry budget for transient errors.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay seeds the exponential backoff curve.
	DefaultBaseDelay = 1 * time.Second

	// DefaultMaxDelay caps the backoff curve.
	DefaultMaxDelay = 30 * time.Second

	// DefaultMultiplier doubles the delay on every failed attempt.
	DefaultMultiplier = 2.0

	// DefaultPoolSize bounds simultaneous in-flight transfers.
	DefaultPoolSize = 3

	// DefaultUploadTimeout is the per-request deadline on the transfer call.
	DefaultUploadTimeout = 120 * time.Second

	// DefaultSnapshotInterval refreshes the network snapshot even without
	// connectivity-change events.
	DefaultSnapshotInterval = 30 * time.Second

	// DefaultProbeInterval spaces the server health probes.
	DefaultProbeInterval = 15 * time.Second

	// DefaultProbeDeadline is the hard deadline on one health probe. A probe
	// that has neither succeeded nor failed by then counts as a failure.
	DefaultProbeDeadline = 3 * time.Second

	// DefaultFailureThreshold is how many consecutive probe failures it takes
	// to flip ServerHealth, so a single dropped probe does not flap the gate.
	DefaultFailureThreshold = 2

	DefaultServerPort = 8080
	DefaultServerMode = "http"
)

// DefaultAcceptedTypes is the admission allow-list applied when the
// configuration does not name its own.
var DefaultAcceptedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/heic",
	"video/mp4",
	"video/quicktime",
}

// Settings aggregates every configuration section of the uploader service.
type Settings struct {
	Logging   Logging   `yaml:"logging"`
	Server    Server    `yaml:"server"`
	Database  Database  `yaml:"database"`
	Remote    Remote    `yaml:"remote"`
	Uploads   Uploads   `yaml:"uploads"`
	Telemetry Telemetry `yaml:"telemetry"`

	mu sync.Mutex
}

type Logging struct {
	Level string `yaml:"level" default:"info" env:"LOG_LEVEL" env-description:"logging level such as debug, info, error"`
}

type Server struct {
	Mode string `yaml:"mode" default:"http" env:"SERVER_MODE" env-description:"server mode such as http, https"`
	Port uint   `yaml:"port" default:"8080" env:"SERVER_PORT" env-description:"control API port"`
}

type Database struct {
	Path string `yaml:"path" default:"glowworm.db" env:"DATABASE_PATH" env-description:"location of the sqlite transfer journal"`
}

type Remote struct {
	Host          string        `yaml:"host" env:"REMOTE_HOST" env-description:"media server host to upload to"`
	APIKeyPath    string        `yaml:"api_key_path" env:"API_KEY_PATH" env-description:"path to the API key file"`
	UploadTimeout time.Duration `yaml:"upload_timeout" default:"120s" env:"UPLOAD_TIMEOUT" env-description:"deadline for a single transfer request"`
	UseHTTP       bool          `yaml:"use_http" default:"false" env:"USE_HTTP" env-description:"use http for client requests instead of https"`

	apiKey string // set after reading APIKeyPath
}

type Uploads struct {
	MaxFileSize   string        `yaml:"max_file_size" default:"50M" env:"MAX_FILE_SIZE" env-description:"maximum size of a single file, as a quantity such as 50M or 1Gi"`
	AcceptedTypes []string      `yaml:"accepted_types" env:"ACCEPTED_TYPES" env-description:"mime type allow-list for admission"`
	MaxFiles      int           `yaml:"max_files" default:"100" env:"MAX_FILES" env-description:"maximum number of tracked files"`
	MaxAttempts   int           `yaml:"max_attempts" default:"3" env:"MAX_ATTEMPTS" env-description:"automatic retry budget for transient failures"`
	BaseDelay     time.Duration `yaml:"base_delay" default:"1s" env:"BASE_DELAY" env-description:"first retry delay"`
	MaxDelay      time.Duration `yaml:"max_delay" default:"30s" env:"MAX_DELAY" env-description:"retry delay ceiling"`
	Multiplier    float64       `yaml:"multiplier" default:"2" env:"BACKOFF_MULTIPLIER" env-description:"backoff growth factor per attempt"`
	JitterEnabled bool          `yaml:"jitter_enabled" default:"true" env:"JITTER_ENABLED" env-description:"randomize retry delays to avoid synchronized retry storms"`
	PoolSize      int           `yaml:"pool_size" default:"3" env:"POOL_SIZE" env-description:"maximum simultaneous in-flight transfers"`
	DataSaver     bool          `yaml:"data_saver" default:"false" env:"DATA_SAVER" env-description:"report the data saver flag in network snapshots"`
}

type Telemetry struct {
	SnapshotInterval time.Duration `yaml:"snapshot_interval" default:"30s" env:"SNAPSHOT_INTERVAL" env-description:"how often to refresh the network snapshot"`
	ProbeInterval    time.Duration `yaml:"probe_interval" default:"15s" env:"PROBE_INTERVAL" env-description:"how often to probe the server health endpoint"`
	ProbeDeadline    time.Duration `yaml:"probe_deadline" default:"3s" env:"PROBE_DEADLINE" env-description:"hard deadline for a single health probe"`
	FailureThreshold int           `yaml:"failure_threshold" default:"2" env:"FAILURE_THRESHOLD" env-description:"consecutive probe failures before the server is considered unhealthy"`
}

// NewSettings loads configuration from the given YAML files in order, applies
// environment overrides, validates, and reads the API key.
func NewSettings(configFiles ...string) (*Settings, error) {
	var cfg Settings

	if configFiles == nil {
		return nil, errors.New("the config files slice cannot be nil")
	}

	for _, cfgFile := range configFiles {
		if cfgFile == "" {
			continue
		}

		if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("no config %s", cfgFile)
		}

		if err := cleanenv.ReadConfig(cfgFile, &cfg); err != nil {
			return nil, fmt.Errorf("config read %s: %w", cfgFile, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "failed to validate settings")
	}

	if err := cfg.SetAPIKey(); err != nil {
		return nil, errors.Wrap(err, "failed to get API key")
	}

	return &cfg, nil
}

func (s *Settings) Validate() error {
	if err := s.Server.Validate(); err != nil {
		return errors.Wrap(err, "server validation")
	}
	if err := s.Remote.Validate(); err != nil {
		return errors.Wrap(err, "remote validation")
	}
	if err := s.Uploads.Validate(); err != nil {
		return errors.Wrap(err, "uploads validation")
	}
	if err := s.Telemetry.Validate(); err != nil {
		return errors.Wrap(err, "telemetry validation")
	}
	return nil
}

func (s *Server) Validate() error {
	if s.Mode == "" {
		s.Mode = DefaultServerMode
	}
	if s.Port == 0 {
		s.Port = DefaultServerPort
	}
	return nil
}

func (r *Remote) Validate() error {
	r.Host = strings.TrimSpace(r.Host)
	if r.Host == "" {
		return errors.New("remote host is empty")
	}
	if r.UploadTimeout <= 0 {
		r.UploadTimeout = DefaultUploadTimeout
	}
	if r.APIKeyPath == "" {
		return errors.New("API key path is empty")
	}
	if _, err := os.Stat(r.APIKeyPath); os.IsNotExist(err) {
		return errors.Wrap(err, "API key path does not exist")
	}
	return nil
}

func (u *Uploads) Validate() error {
	if u.MaxFileSize == "" {
		u.MaxFileSize = DefaultMaxFileSize
	}
	if _, err := resource.ParseQuantity(u.MaxFileSize); err != nil {
		return fmt.Errorf("failed to parse the max_file_size quantity: %w", err)
	}
	if len(u.AcceptedTypes) == 0 {
		u.AcceptedTypes = append(u.AcceptedTypes, DefaultAcceptedTypes...)
	}
	if u.MaxFiles <= 0 {
		u.MaxFiles = DefaultMaxFiles
	}
	if u.MaxAttempts <= 0 {
		u.MaxAttempts = DefaultMaxAttempts
	}
	if u.BaseDelay <= 0 {
		u.BaseDelay = DefaultBaseDelay
	}
	if u.MaxDelay <= 0 {
		u.MaxDelay = DefaultMaxDelay
	}
	if u.MaxDelay < u.BaseDelay {
		return errors.New("max_delay must not be smaller than base_delay")
	}
	if u.Multiplier <= 0 {
		u.Multiplier = DefaultMultiplier
	}
	if u.PoolSize <= 0 {
		u.PoolSize = DefaultPoolSize
	}
	return nil
}

func (t *Telemetry) Validate() error {
	if t.SnapshotInterval <= 0 {
		t.SnapshotInterval = DefaultSnapshotInterval
	}
	if t.ProbeInterval <= 0 {
		t.ProbeInterval = DefaultProbeInterval
	}
	if t.ProbeDeadline <= 0 {
		t.ProbeDeadline = DefaultProbeDeadline
	}
	if t.FailureThreshold <= 0 {
		t.FailureThreshold = DefaultFailureThreshold
	}
	return nil
}

// GetMaxFileSizeBytes converts the configured max_file_size quantity to
// bytes. Validate has already checked that the quantity parses.
func (s *Settings) GetMaxFileSizeBytes() int64 {
	quantity, err := resource.ParseQuantity(s.Uploads.MaxFileSize)
	if err != nil {
		return 0
	}
	return safecast.MustConvert[int64](quantity.Value())
}

func (s *Settings) GetAPIKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Remote.apiKey
}

func (s *Settings) SetAPIKey() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyPath, err := absFilePath(s.Remote.APIKeyPath)
	if err != nil {
		return errors.Wrap(err, "failed to get absolute path")
	}

	if _, err = os.Stat(keyPath); os.IsNotExist(err) {
		return fmt.Errorf("API key file %s not found", keyPath)
	}
	apiKey, err := os.ReadFile(keyPath)
	if err != nil {
		return errors.Wrap(err, "failed to read API key")
	}
	s.Remote.apiKey = strings.TrimSpace(string(apiKey))

	if len(s.Remote.apiKey) == 0 {
		return errors.New("API key is empty")
	}
	return nil
}

// GetRemoteAPIBase sanitizes the configured host and returns a url.URL to
// build upload and health probe endpoints from.
func (s *Settings) GetRemoteAPIBase() (*url.URL, error) {
	val := s.Remote.Host
	if !strings.Contains(val, "://") {
		val = "http://" + val
	}

	u, err := url.Parse(val)
	if err != nil {
		return nil, fmt.Errorf("failed to parse the url: %w", err)
	}

	if s.Remote.UseHTTP || strings.HasPrefix(s.Remote.Host, "http://") {
		u.Scheme = "http"
	} else {
		u.Scheme = "https"
	}
	return u, nil
}

func absFilePath(location string) (string, error) {
	dir := filepath.Dir(filepath.Clean(location))
	if dir == "" || strings.HasPrefix(dir, ".") {
		wd, err := os.Getwd()
		if err != nil {
			return "", errors.Wrap(err, "working directory")
		}
		location = filepath.Clean(filepath.Join(wd, location))
	}
	return location, nil
}

func (s *Settings) ToYAML() ([]byte, error) {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode into yaml: %w", err)
	}
	return raw, nil
}
