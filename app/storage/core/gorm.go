// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// NewDriver opens a gorm instance with the conventions shared by every
// backend: singular table names, UTC millisecond timestamps, zerolog query
// logging and error translation.
func NewDriver(dialector gorm.Dialector) (*gorm.DB, error) {
	return gorm.Open(dialector, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		NowFunc:        DatabaseNow,
		Logger:         ZeroLogAdapter{},
		TranslateError: true,
	})
}

// DatabaseNow is the NowFunc for all repositories: UTC, truncated to
// millisecond precision so ordering is stable across backends.
func DatabaseNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// DatabaseNowPointer is DatabaseNow for optional timestamp fields.
func DatabaseNowPointer() *time.Time {
	now := DatabaseNow()
	return &now
}
