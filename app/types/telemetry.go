// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import "time"

// LinkQuality is a coarse classification of the measured network link.
type LinkQuality string

const (
	LinkUnknown LinkQuality = "unknown"
	LinkSlow    LinkQuality = "slow"
	LinkMedium  LinkQuality = "medium"
	LinkFast    LinkQuality = "fast"
)

// NetworkSnapshot is a point-in-time view of local connectivity. Snapshots
// are continuously replaced, never accumulated.
type NetworkSnapshot struct {
	IsOnline         bool
	LinkQuality      LinkQuality
	MeasuredDownlink float64 // Mbps, 0 when unknown
	MeasuredLatency  time.Duration
	DataSaverEnabled bool
	CapturedAt       time.Time
}

// ServerHealth is the latest result of probing the remote health endpoint.
type ServerHealth struct {
	IsHealthy       bool
	ResponseLatency time.Duration
	LastCheckedAt   time.Time
	LastError       string
}
