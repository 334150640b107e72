package storage

import (
	"database/sql"
	"fmt"

	"github.com/opd-ai/mtcore/crypto"
)

// SchemaVersion is the version written by Create and targeted by migrations.
const SchemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	dc_id     INTEGER PRIMARY KEY,
	test_mode INTEGER,
	auth_key  BLOB,
	date      INTEGER NOT NULL,
	user_id   INTEGER,
	is_bot    INTEGER
);

CREATE TABLE IF NOT EXISTS peers (
	id             INTEGER PRIMARY KEY,
	access_hash    INTEGER,
	type           TEXT NOT NULL,
	username       TEXT,
	phone_number   TEXT,
	last_update_on INTEGER NOT NULL DEFAULT (CAST(STRFTIME('%s', 'now') AS INTEGER))
);

CREATE TABLE IF NOT EXISTS version (
	number INTEGER PRIMARY KEY
);

CREATE INDEX IF NOT EXISTS idx_peers_id ON peers (id);
CREATE INDEX IF NOT EXISTS idx_peers_username ON peers (username);
CREATE INDEX IF NOT EXISTS idx_peers_phone_number ON peers (phone_number);
`

// migration moves a store from its key version to the next one.
type migration func(tx *sql.Tx) error

var migrations = map[int]migration{
	// Version 1 stored peer kinds in an encoding that version 2 no longer
	// reads; cached peers are dropped and re-resolved.
	1: func(tx *sql.Tx) error {
		_, err := tx.Exec("DELETE FROM peers")
		return err
	},
}

// migrate runs every step between the stored version and SchemaVersion, each
// in its own transaction together with the version bump.
func migrate(db *sql.DB) error {
	var current int
	if err := db.QueryRow("SELECT number FROM version").Scan(&current); err != nil {
		return fmt.Errorf("failed to read store version: %w", err)
	}

	if current > SchemaVersion {
		return fmt.Errorf("%w: store is version %d, newest known is %d", ErrUnsupportedVersion, current, SchemaVersion)
	}

	for current < SchemaVersion {
		step, ok := migrations[current]
		if !ok {
			return fmt.Errorf("%w: no migration from version %d", ErrUnsupportedVersion, current)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration: %w", err)
		}
		if err := step(tx); err != nil {
			tx.Rollback()
			crypto.NewLogger("storage", "migrate").
				WithField("from", current).
				WithError(err, "step").
				Error("Session store migration failed")
			return fmt.Errorf("migration from version %d failed: %w", current, err)
		}
		if _, err := tx.Exec("UPDATE version SET number = ?", current+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to bump store version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration: %w", err)
		}

		crypto.NewLogger("storage", "migrate").
			WithField("from", current).
			WithField("to", current+1).
			Info("Migrated session store")
		current++
	}

	return nil
}
