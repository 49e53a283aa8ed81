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
	"sync"
)

// Writer serialises all writes so SQLite only ever sees one writer.
type Writer struct {
	mu sync.Mutex
}

func NewWriter() *Writer {
	return &Writer{}
}

// Do runs f inside txn, or inside a new transaction when txn is nil.
func (w *Writer) Do(ctx context.Context, db *sql.DB, txn *sql.Tx, f func(txn *sql.Tx) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if txn != nil {
		return f(txn)
	}
	txn, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db.BeginTx: %w", err)
	}
	if err := f(txn); err != nil {
		_ = txn.Rollback()
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("txn.Commit: %w", err)
	}
	return nil
}
