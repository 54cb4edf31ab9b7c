// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package sqlite persists the transfer journal: one row per terminal
// transfer outcome so history survives restarts.
package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nstephens/glowworm/app/domain/orchestrator"
	"github.com/nstephens/glowworm/app/storage/core"
	"github.com/nstephens/glowworm/app/types"
)

const (
	// InMemoryDSN is an isolated in-memory database, used by tests.
	InMemoryDSN = ":memory:"
)

// NewSQLiteDriver opens a sqlite-backed gorm instance with the shared driver
// conventions.
func NewSQLiteDriver(dsn string) (*gorm.DB, error) {
	return core.NewDriver(sqlite.Open(dsn))
}

// TransferRecord is one terminal transfer outcome. A file that fails, is
// manually retried and then completes leaves two records.
type TransferRecord struct {
	ID           string `gorm:"primaryKey"`
	FileID       string `gorm:"index"`
	FileName     string
	MimeType     string
	ByteSize     int64
	State        string `gorm:"index"`
	Attempts     int
	ErrorKind    string
	ErrorMessage string
	RemoteID     string
	RemoteURL    string
	FinishedAt   time.Time
	CreatedAt    time.Time
}

// Journal is the transfer history repository. It implements
// orchestrator.ResultSink.
type Journal struct {
	core.BaseRepo
}

// NewJournal creates the repository and migrates its table.
func NewJournal(db *gorm.DB) (*Journal, error) {
	if err := db.AutoMigrate(&TransferRecord{}); err != nil {
		return nil, core.TranslateError(err)
	}
	return &Journal{BaseRepo: core.NewBaseRepo(db, &TransferRecord{})}, nil
}

var (
	_ orchestrator.ResultSink              = (*Journal)(nil)
	_ types.StorageCommon                  = (*Journal)(nil)
	_ types.Reader[TransferRecord, string] = (*Journal)(nil)
)

// Record appends one terminal outcome.
func (j *Journal) Record(ctx context.Context, outcome orchestrator.Outcome) error {
	rec := &TransferRecord{
		ID:           uuid.NewString(),
		FileID:       outcome.FileID,
		FileName:     outcome.FileName,
		MimeType:     outcome.MimeType,
		ByteSize:     outcome.ByteSize,
		State:        outcome.State.String(),
		Attempts:     outcome.Attempts,
		ErrorKind:    string(outcome.ErrorKind),
		ErrorMessage: outcome.ErrorMessage,
		RemoteID:     outcome.RemoteID,
		RemoteURL:    outcome.RemoteURL,
		FinishedAt:   outcome.FinishedAt,
	}
	return core.TranslateError(j.DB(ctx).Create(rec).Error)
}

// Get returns one record by id.
func (j *Journal) Get(ctx context.Context, id string) (*TransferRecord, error) {
	var rec TransferRecord
	err := j.DB(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		return nil, core.TranslateError(err)
	}
	return &rec, nil
}

// ListRecent returns the newest records first, bounded by limit.
func (j *Journal) ListRecent(ctx context.Context, limit int) ([]TransferRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []TransferRecord
	err := j.DB(ctx).Order("finished_at DESC").Limit(limit).Find(&recs).Error
	return recs, core.TranslateError(err)
}

// ListByFile returns every outcome recorded for one file, oldest first.
func (j *Journal) ListByFile(ctx context.Context, fileID string) ([]TransferRecord, error) {
	var recs []TransferRecord
	err := j.DB(ctx).Where("file_id = ?", fileID).Order("finished_at ASC").Find(&recs).Error
	return recs, core.TranslateError(err)
}

// PurgeOlderThan drops records finished before the cutoff and reports how
// many were removed.
func (j *Journal) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res := j.DB(ctx).Where("finished_at < ?", cutoff).Delete(&TransferRecord{})
	return int(res.RowsAffected), core.TranslateError(res.Error)
}
