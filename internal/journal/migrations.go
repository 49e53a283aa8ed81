/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package journal

import (
	"database/sql"
	"errors"
	"fmt"
)

const (
	currentSchemaVersion = 1
)

// GetSchemaVersion returns the schema version recorded in the database, or
// 0 when none has been recorded yet.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var tableName string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query schema version: %w", err)
	}
	return version, nil
}

// SetSchemaVersion records version as applied.
func SetSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}
	_, err = db.Exec("INSERT INTO schema_version (version, applied_at) VALUES (?, strftime('%s', 'now'))", version)
	if err != nil {
		return fmt.Errorf("failed to insert schema version: %w", err)
	}
	return nil
}

// createSchemaV1 creates every table. entries comes first because the runs
// statements read from it.
func createSchemaV1(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	for _, schema := range []string{entriesSchema, runsSchema} {
		if _, err := tx.Exec(schema); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RunMigrations brings the database up to the current schema. The tables
// must exist before any statement is prepared against them.
func RunMigrations(db *sql.DB, log Logger) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("journal schema v%d is newer than supported v%d", version, currentSchemaVersion)
	}
	if version == currentSchemaVersion {
		log.Debugf("Journal schema is up to date (v%d)", version)
		return nil
	}

	log.Infof("Creating journal schema v%d", currentSchemaVersion)
	if err := createSchemaV1(db); err != nil {
		return fmt.Errorf("schema v1 failed: %w", err)
	}
	if err := SetSchemaVersion(db, currentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version to %d: %w", currentSchemaVersion, err)
	}
	return nil
}
