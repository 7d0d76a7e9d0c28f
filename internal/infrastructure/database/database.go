package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
)

const (
	dirPermissions  = 0750
	filePermissions = 0600
	msPerSecond     = 1000

	// connectionTimeout bounds the initial ping.
	connectionTimeout = 5 * time.Second

	connMaxIdleTime = 30 * time.Minute
)

// DB wraps the identity store's sql.DB with migration support and health
// checks. Repositories take the embedded *sql.DB directly.
type DB struct {
	*sql.DB
	path string
}

// Open connects to the SQLite file at cfg.Path, creating the directory and
// file if needed.
//
// The pool holds a single connection; a transaction never needs a second.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	db := &DB{DB: sqlDB, path: cfg.Path}

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// Password digests and token hashes live here: owner read/write only.
	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // file may not exist until first write

	return db, nil
}

// DSN builds the go-sqlite3 connection string for cfg. Foreign keys are
// always on so deleting a user cascades to roles and refresh tokens.
// See: https://github.com/mattn/go-sqlite3#connection-string
func DSN(cfg config.DatabaseConfig) string {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*msPerSecond)
	if cfg.WALMode {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return dsn
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the database file.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query to prove the connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
