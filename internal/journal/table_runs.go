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
)

type TableRuns struct {
	db           *sql.DB
	writer       *Writer
	insertRun    *sql.Stmt
	finishRun    *sql.Stmt
	selectRecent *sql.Stmt
}

const runsSchema = `
	CREATE TABLE IF NOT EXISTS runs (
		id			TEXT NOT NULL PRIMARY KEY,
		stage		TEXT NOT NULL,
		total		INTEGER NOT NULL DEFAULT 0,
		handled		INTEGER NOT NULL DEFAULT 0,
		started		INTEGER NOT NULL,
		finished	INTEGER NOT NULL DEFAULT 0, -- 0 while the run is open
		success		BOOLEAN NOT NULL DEFAULT 0,
		error		TEXT NOT NULL DEFAULT ''
	);
`

const insertRunStmt = `
	INSERT INTO runs (id, stage, total, started) VALUES ($1, $2, $3, $4)
`

const finishRunStmt = `
	UPDATE runs SET finished = $1, success = $2, error = $3, handled = (
		SELECT COUNT(*) FROM entries WHERE run_id = $4 AND stage = 'marked'
	) WHERE id = $4
`

const selectRecentRunsStmt = `
	SELECT id, stage, total, handled, started, finished, success, error FROM runs
	ORDER BY started DESC, rowid DESC
	LIMIT $1
`

func NewTableRuns(db *sql.DB, writer *Writer) (*TableRuns, error) {
	t := &TableRuns{
		db:     db,
		writer: writer,
	}
	var err error
	t.insertRun, err = db.Prepare(insertRunStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(insertRunStmt): %w", err)
	}
	t.finishRun, err = db.Prepare(finishRunStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(finishRunStmt): %w", err)
	}
	t.selectRecent, err = db.Prepare(selectRecentRunsStmt)
	if err != nil {
		return nil, fmt.Errorf("db.Prepare(selectRecentRunsStmt): %w", err)
	}
	return t, nil
}

func (t *TableRuns) RunCreate(ctx context.Context, id, stage string, total int, started time.Time) error {
	return t.writer.Do(ctx, t.db, nil, func(txn *sql.Tx) error {
		_, err := txn.StmtContext(ctx, t.insertRun).ExecContext(ctx, id, stage, total, started.Unix())
		return err
	})
}

func (t *TableRuns) RunFinish(ctx context.Context, id string, finished time.Time, success bool, errorMsg string) error {
	return t.writer.Do(ctx, t.db, nil, func(txn *sql.Tx) error {
		_, err := txn.StmtContext(ctx, t.finishRun).ExecContext(ctx, finished.Unix(), success, errorMsg, id)
		return err
	})
}

func (t *TableRuns) RunsRecent(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := t.selectRecent.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("t.selectRecent.Query: %w", err)
	}
	defer rows.Close() // nolint:errcheck
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var started, finished int64
	run := &Run{}
	err := row.Scan(&run.ID, &run.Stage, &run.Total, &run.Handled, &started, &finished, &run.Success, &run.Error)
	if err != nil {
		return nil, err
	}
	run.Started = time.Unix(started, 0)
	if finished != 0 {
		run.Finished = time.Unix(finished, 0)
	}
	return run, nil
}
