// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package core provides the repository base used by the persistence layer:
// context-aware gorm access with transparent transaction participation and
// error translation to application-level sentinels.
//
// Repositories embed BaseRepo and use DB(ctx) for every query so an ongoing
// transaction in the context is picked up automatically:
//
//	type JournalRepo struct { core.BaseRepo }
//
//	func (r *JournalRepo) Get(ctx context.Context, id string) (*Record, error) {
//		var rec Record
//		err := r.DB(ctx).Where("id = ?", id).First(&rec).Error
//		return &rec, core.TranslateError(err)
//	}
package core

import (
	"context"

	"gorm.io/gorm"
)

// RawRepo is the database access base without model assumptions.
type RawRepo struct {
	db *gorm.DB
}

// NewRawRepo wraps a gorm instance for embedding in repositories.
func NewRawRepo(db *gorm.DB) RawRepo {
	return RawRepo{db: db}
}

// DB returns the gorm handle for this context: the transaction carried by the
// context when there is one, the base connection otherwise.
func (b *RawRepo) DB(ctx context.Context) *gorm.DB {
	if tx, found := FromContext(ctx); found {
		return tx.WithContext(ctx)
	}
	return b.db.WithContext(ctx)
}

// Tx runs block inside a transaction. Operations inside the block that use
// the passed context participate in it; a returned error rolls back.
func (b *RawRepo) Tx(ctx context.Context, block func(ctxTx context.Context) error) error {
	return b.DB(ctx).Transaction(func(tx *gorm.DB) error {
		return block(NewContext(ctx, tx))
	})
}

// BaseRepo extends RawRepo with model-bound operations.
type BaseRepo struct {
	RawRepo
	model interface{}
}

// NewBaseRepo creates a repository base bound to one model.
func NewBaseRepo(db *gorm.DB, model interface{}) BaseRepo {
	return BaseRepo{RawRepo: NewRawRepo(db), model: model}
}

// Count returns the number of rows in the model's table.
func (b *BaseRepo) Count(ctx context.Context) (int, error) {
	var count int64
	err := b.DB(ctx).Model(b.model).Count(&count).Error
	return int(count), TranslateError(err)
}

// DeleteAll removes every row in the model's table. Test cleanup mostly.
func (b *BaseRepo) DeleteAll(ctx context.Context) error {
	return TranslateError(b.DB(ctx).Where("1 = 1").Delete(b.model).Error)
}

type key int

var dbKey key

// NewContext stores a transaction handle in the context.
func NewContext(ctx context.Context, db *gorm.DB) context.Context {
	return context.WithValue(ctx, dbKey, db)
}

// FromContext retrieves the transaction handle, if any.
func FromContext(ctx context.Context) (*gorm.DB, bool) {
	db, ok := ctx.Value(dbKey).(*gorm.DB)
	return db, ok
}
