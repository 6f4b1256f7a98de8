// Package sqlite is the opdb.Store backed by a single SQLite file in WAL
// mode. Every namespace shares one key/value table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/veesix-networks/osvdhcp/pkg/opdb"
)

// schemaVersion is stored in PRAGMA user_version. Files from a newer build
// are refused.
const schemaVersion = 1

var ErrSchemaVersion = errors.New("unsupported opdb schema version")

// Connection settings go in the DSN so every pooled connection gets them.
const dsnParams = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate"

const (
	createTable = `CREATE TABLE IF NOT EXISTS entries (
	namespace  TEXT    NOT NULL,
	key        TEXT    NOT NULL,
	value      BLOB    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
) WITHOUT ROWID`

	upsertEntry = `INSERT INTO entries (namespace, key, value, updated_at)
VALUES (?, ?, ?, unixepoch())
ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	insertEntry    = `INSERT INTO entries (namespace, key, value, updated_at) VALUES (?, ?, ?, unixepoch())`
	deleteEntry    = `DELETE FROM entries WHERE namespace = ? AND key = ?`
	deleteNS       = `DELETE FROM entries WHERE namespace = ?`
	selectNS       = `SELECT key, value FROM entries WHERE namespace = ? ORDER BY key`
	countNS        = `SELECT COUNT(*) FROM entries WHERE namespace = ?`
	readVersion    = `PRAGMA user_version`
	writeVersionFn = `PRAGMA user_version = %d`
)

type Store struct {
	db   *sql.DB
	path string
}

var _ opdb.Store = (*Store)(nil)

// Open creates the parent directory and the schema when missing.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create opdb directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+dsnParams)
	if err != nil {
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow(readVersion).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch {
	case version == schemaVersion:
		return nil
	case version > schemaVersion:
		return fmt.Errorf("%w: file has %d, want %d", ErrSchemaVersion, version, schemaVersion)
	}

	if _, err := db.Exec(createTable); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf(writeVersionFn, schemaVersion)); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Put(ctx context.Context, namespace, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, upsertEntry, namespace, key, value); err != nil {
		return fmt.Errorf("put %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	if _, err := s.db.ExecContext(ctx, deleteEntry, namespace, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Load visits entries in key order. The first error from fn stops the scan
// and is returned unwrapped.
func (s *Store) Load(ctx context.Context, namespace string, fn opdb.LoadFunc) error {
	rows, err := s.db.QueryContext(ctx, selectNS, namespace)
	if err != nil {
		return fmt.Errorf("load %s: %w", namespace, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scan %s: %w", namespace, err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, countNS, namespace).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", namespace, err)
	}
	return n, nil
}

func (s *Store) Clear(ctx context.Context, namespace string) error {
	if _, err := s.db.ExecContext(ctx, deleteNS, namespace); err != nil {
		return fmt.Errorf("clear %s: %w", namespace, err)
	}
	return nil
}

func (s *Store) Replace(ctx context.Context, namespace string, entries map[string][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace %s: %w", namespace, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteNS, namespace); err != nil {
		return fmt.Errorf("clear %s: %w", namespace, err)
	}
	if len(entries) > 0 {
		stmt, err := tx.PrepareContext(ctx, insertEntry)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for key, value := range entries {
			if _, err := stmt.ExecContext(ctx, namespace, key, value); err != nil {
				return fmt.Errorf("put %s/%s: %w", namespace, key, err)
			}
		}
	}
	return tx.Commit()
}

func (s *Store) Close() error {
	return s.db.Close()
}
