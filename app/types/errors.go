// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import "errors"

// Storage error sentinels. Repository implementations translate their
// backend-specific errors into these so domain code never depends on the ORM.
var (
	ErrNotFound           = errors.New("record not found")
	ErrDuplicateKey       = errors.New("duplicate key")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidData        = errors.New("invalid data")
	ErrInvalidValue       = errors.New("invalid value")
	ErrMissingWhereClause = errors.New("missing where clause")
)
