// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"errors"

	"gorm.io/gorm"

	"github.com/nstephens/glowworm/app/types"
)

// TranslateError maps gorm errors to the application sentinels so callers can
// match with errors.Is without depending on the ORM. Unmapped errors pass
// through unchanged; nil stays nil.
func TranslateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return types.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return types.ErrDuplicateKey
	case errors.Is(err, gorm.ErrInvalidTransaction):
		return types.ErrInvalidTransaction
	case errors.Is(err, gorm.ErrInvalidData):
		return types.ErrInvalidData
	case errors.Is(err, gorm.ErrInvalidValue):
		return types.ErrInvalidValue
	case errors.Is(err, gorm.ErrMissingWhereClause):
		return types.ErrMissingWhereClause
	}
	return err
}
