// Package statedb is the durable SQLite store of per-message rows, per-folder
// checkpoints, and the label-id cache. It is the single writer of truth: the
// pipeline routes every state transition through it, and every transition
// is committed inside one transaction spanning at most one message.
package statedb

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a sql.DB connection to the migration state database.
type DB struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and applies
// the schema. Use ":memory:" for an ephemeral database, as the test suite
// does throughout this package.
func Open(path string) (*DB, error) {
	connStr := path
	if path != ":memory:" {
		connStr = path + "?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"
	} else {
		connStr = ":memory:?_foreign_keys=on"
	}

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // StateDB is a single writer; avoid pool contention on WAL.

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping state database: %w", err)
	}

	db := &DB{db: sqlDB}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

func (d *DB) migrate() error {
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}
