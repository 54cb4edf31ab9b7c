// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import "context"

// StorageCommon defines the methods every repository implementation provides
// regardless of model type: transaction scoping and bulk management.
type StorageCommon interface {
	// Tx runs the block within a transaction. The block receives a
	// transaction-carrying context that should be used for all repository
	// calls inside it. An error from the block rolls the transaction back.
	Tx(ctx context.Context, block func(ctxTx context.Context) error) error

	// Count returns the total number of records in the repository.
	Count(ctx context.Context) (int, error)

	// DeleteAll removes every record. Intended for tests and cleanup.
	DeleteAll(ctx context.Context) error
}

// Storage is the complete CRUD contract for a model type, composed from the
// single-operation interfaces below.
type Storage[Model any, ID comparable] interface {
	Creator[Model]
	Reader[Model, ID]
	Updater[Model]
	Deleter[ID]
}

// Creator persists new records. Create may mutate the input, e.g. to assign
// the ID.
type Creator[Model any] interface {
	Create(ctx context.Context, it *Model) error
}

// Reader fetches a record by ID, returning ErrNotFound when absent.
type Reader[Model any, ID comparable] interface {
	Get(ctx context.Context, id ID) (*Model, error)
}

// Updater replaces an existing record.
type Updater[Model any] interface {
	Update(ctx context.Context, it *Model) error
}

// Deleter removes a record by ID.
type Deleter[ID comparable] interface {
	Delete(ctx context.Context, id ID) error
}
