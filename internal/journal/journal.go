/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package journal keeps an SQLite audit trail of triage runs and the
// action taken for every message.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/atomic"

	"github.com/almazyadn/email/internal/triage"
)

type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Journal records runs and per-message outcomes. It satisfies both
// triage.Journal and triage.Tracker: entries recorded between
// StartOperation and EndOperation are attributed to that run.
type Journal struct {
	db      *sql.DB
	writer  *Writer
	log     Logger
	runs    *TableRuns
	entries *TableEntries
	current atomic.String
	now     func() time.Time
}

// Open opens or creates the journal database at path.
func Open(path string, log Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	j := &Journal{
		db:     db,
		writer: NewWriter(),
		log:    log,
		now:    time.Now,
	}
	if err := RunMigrations(db, log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("RunMigrations: %w", err)
	}
	if j.entries, err = NewTableEntries(db, j.writer); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewTableEntries: %w", err)
	}
	if j.runs, err = NewTableRuns(db, j.writer); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewTableRuns: %w", err)
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// StartRun opens a run record.
func (j *Journal) StartRun(ctx context.Context, runID, stage string, total int) error {
	if err := j.runs.RunCreate(ctx, runID, stage, total, j.now()); err != nil {
		return fmt.Errorf("j.runs.RunCreate: %w", err)
	}
	j.current.Store(runID)
	return nil
}

// FinishRun closes a run record and counts the messages marked in it.
func (j *Journal) FinishRun(ctx context.Context, runID string, success bool, errorMsg string) error {
	j.current.CompareAndSwap(runID, "")
	if err := j.runs.RunFinish(ctx, runID, j.now(), success, errorMsg); err != nil {
		return fmt.Errorf("j.runs.RunFinish: %w", err)
	}
	return nil
}

// Record appends an entry to the current run.
func (j *Journal) Record(ctx context.Context, rec triage.Record) error {
	if err := j.entries.EntryCreate(ctx, j.current.Load(), rec, j.now()); err != nil {
		return fmt.Errorf("j.entries.EntryCreate: %w", err)
	}
	return nil
}

// Pending reports whether key was dispatched on an earlier pass without
// being marked read afterwards.
func (j *Journal) Pending(ctx context.Context, key string) (bool, error) {
	pending, err := j.entries.EntryPending(ctx, key)
	if err != nil {
		return false, fmt.Errorf("j.entries.EntryPending: %w", err)
	}
	return pending, nil
}

// Entries returns the history of one message key, oldest first.
func (j *Journal) Entries(ctx context.Context, key string) ([]*Entry, error) {
	return j.entries.EntriesForKey(ctx, key)
}

// RecentRuns returns up to limit runs, newest first.
func (j *Journal) RecentRuns(ctx context.Context, limit int) ([]*Run, error) {
	return j.runs.RunsRecent(ctx, limit)
}

func (j *Journal) StartOperation(runID string, total int, stage string) {
	if err := j.StartRun(context.Background(), runID, stage, total); err != nil {
		j.log.Warnf("Journal could not open run %s: %v", runID, err)
	}
}

func (j *Journal) LogProgress(runID string, done int, message string) {}

func (j *Journal) EndOperation(runID string, success bool, errorMsg string) {
	if err := j.FinishRun(context.Background(), runID, success, errorMsg); err != nil {
		j.log.Warnf("Journal could not close run %s: %v", runID, err)
	}
}
