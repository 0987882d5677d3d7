package db

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// SchemaVersion is the audit schema this build writes, tracked in
// PRAGMA user_version.
const SchemaVersion = 1

// MemoryPath opens a private in-memory audit log.
const MemoryPath = ":memory:"

var ErrSchemaTooNew = errors.New("audit database schema is newer than this build")

// DB is the audit log database. It holds a single connection, so concurrent
// tool call inserts are serialised.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the audit database at path. A leading ~/ is expanded
// and missing parent directories are created.
func Open(path string) (*DB, error) {
	if path != MemoryPath {
		if strings.HasPrefix(path, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			path = filepath.Join(home, path[2:])
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating audit db dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening audit db %s: %w", path, err)
	}
	return &DB{conn: conn, path: path}, nil
}

// dsn attaches the connection pragmas so the driver applies them on every
// new connection.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	return path + "?" + q.Encode()
}

// Migrate brings the schema up to SchemaVersion. It is a no-op on a current
// database and fails with ErrSchemaTooNew on a newer one.
func (d *DB) Migrate() error {
	version, err := d.Version()
	if err != nil {
		return err
	}
	switch {
	case version == SchemaVersion:
		return nil
	case version > SchemaVersion:
		return fmt.Errorf("%w: %s has version %d, want %d", ErrSchemaTooNew, d.path, version, SchemaVersion)
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schema); err != nil {
		return fmt.Errorf("applying audit schema: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Version reports the schema version stored in the database file.
func (d *DB) Version() (int, error) {
	var v int
	if err := d.conn.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading audit schema version: %w", err)
	}
	return v, nil
}

func (d *DB) Path() string {
	return d.path
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

func (d *DB) Close() error {
	return d.conn.Close()
}
