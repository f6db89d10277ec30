package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	pkgerrors "github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	defaultDBDirName  = ".pulsekeeper"
	defaultDBFileName = "pulsekeeper.sqlite"

	logTableName = "service_log"
	kvTableName  = "kv"
)

// Store is the single SQLite-backed persistence collaborator: an append-only
// service log plus a scoped key/value table, sharing one database file.
type Store struct {
	db         *sql.DB
	path       string
	appendStmt *sql.Stmt
}

// Open opens (creating if needed) the database at path. An empty path resolves
// to ~/.pulsekeeper/pulsekeeper.sqlite.
func Open(path string) (*Store, error) {
	resolved, err := resolveDatabasePath(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", resolved)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "storage: open sqlite database failed")
	}
	if err := configureSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	appendStmt, err := db.Prepare(
		"INSERT INTO " + logTableName + " (created_at, message) VALUES (?, ?)")
	if err != nil {
		_ = db.Close()
		return nil, pkgerrors.Wrap(err, "storage: prepare log insert failed")
	}
	return &Store{db: db, path: resolved, appendStmt: appendStmt}, nil
}

// Path returns the resolved database file path.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	if s.appendStmt != nil {
		_ = s.appendStmt.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func resolveDatabasePath(path string) (string, error) {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		if err := ensureDirExists(filepath.Dir(trimmed)); err != nil {
			return "", err
		}
		return trimmed, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", pkgerrors.Wrap(err, "storage: locate user home failed")
	}
	dir := filepath.Join(home, defaultDBDirName)
	if err := ensureDirExists(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultDBFileName), nil
}

func ensureDirExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return pkgerrors.Wrapf(err, "storage: create dir %s failed", path)
	}
	return nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return pkgerrors.Wrapf(err, "storage: execute %s failed", pragma)
		}
	}
	// A single connection keeps the writer and the poll reader from fighting
	// over the WAL lock inside one process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + logTableName + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at INTEGER NOT NULL,
			message TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ` + kvTableName + ` (
			scope TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (scope, key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_` + logTableName + `_created_at ON ` + logTableName + `(created_at);`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return pkgerrors.Wrap(err, "storage: init sqlite schema failed")
		}
	}
	return nil
}
