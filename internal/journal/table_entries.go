/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/almazyadn/email/internal/triage"
)

type TableEntries struct {
	db            *sql.DB
	writer        *Writer
	insertEntry   *sql.Stmt
	selectEntries *sql.Stmt
	countPending  *sql.Stmt
}

const entriesSchema = `
	CREATE TABLE IF NOT EXISTS entries (
		id				INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id			TEXT NOT NULL,
		key				TEXT NOT NULL, -- Message-ID or content fingerprint
		subject			TEXT NOT NULL DEFAULT '',
		sender			TEXT NOT NULL DEFAULT '',
		classification	TEXT NOT NULL DEFAULT '',
		action			TEXT NOT NULL DEFAULT '',
		stage			TEXT NOT NULL, -- dispatched, marked or skipped
		detail			TEXT NOT NULL DEFAULT '',
		at				INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS entries_key ON entries (key, id);
`

const insertEntryStmt = `
	INSERT INTO entries (run_id, key, subject, sender, classification, action, stage, detail, at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const selectEntriesStmt = `
	SELECT id, run_id, key, subject, sender, classification, action, stage, detail, at FROM entries
	WHERE key = $1
	ORDER BY id
`

// A key is pending when it was dispatched after the last time it was
// marked read.
const countPendingStmt = `
	SELECT COUNT(*) FROM entries
	WHERE key = $1 AND stage = 'dispatched' AND id > (
		SELECT IFNULL(MAX(id), 0) FROM entries WHERE key = $1 AND stage = 'marked'
	)
`

func NewTableEntries(db *sql.DB, writer *Writer) (*TableEntries, error) {
	t := &TableEntries{
		db:     db,
		writer: writer,
	}
	var err error
	t.insertEntry, err = db.Prepare(insertEntryStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(insertEntryStmt): %w", err)
	}
	t.selectEntries, err = db.Prepare(selectEntriesStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectEntriesStmt): %w", err)
	}
	t.countPending, err = db.Prepare(countPendingStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(countPendingStmt): %w", err)
	}
	return t, nil
}

func (t *TableEntries) EntryCreate(ctx context.Context, runID string, rec triage.Record, at time.Time) error {
	return t.writer.Do(ctx, t.db, nil, func(txn *sql.Tx) error {
		_, err := txn.StmtContext(ctx, t.insertEntry).ExecContext(ctx,
			runID, rec.Key, rec.Subject, rec.Sender, rec.Classification,
			rec.Action, string(rec.Stage), rec.Detail, at.Unix(),
		)
		return err
	})
}

func (t *TableEntries) EntriesForKey(ctx context.Context, key string) ([]*Entry, error) {
	rows, err := t.selectEntries.QueryContext(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("t.selectEntries.Query: %w", err)
	}
	defer rows.Close() // nolint:errcheck
	var entries []*Entry
	for rows.Next() {
		var at int64
		var stage string
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.RunID, &e.Key, &e.Subject, &e.Sender,
			&e.Classification, &e.Action, &stage, &e.Detail, &at); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		e.Stage = triage.Stage(stage)
		e.At = time.Unix(at, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (t *TableEntries) EntryPending(ctx context.Context, key string) (bool, error) {
	var count int
	err := t.countPending.QueryRowContext(ctx, key).Scan(&count)
	return count > 0, err
}
