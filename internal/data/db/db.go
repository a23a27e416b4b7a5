// Package db owns the SQLite database holding the local replica: task
// records, the pending operation log and the key-value store.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the data directory.
const FileName = "tasksync.db"

const (
	maxPingRetries = 5
	initialBackoff = 100 * time.Millisecond
)

// OpenOptions configures the connection pool.
type OpenOptions struct {
	MaxOpenConns int
	MaxIdleConns int
	BusyTimeout  int // milliseconds
}

// DefaultOpenOptions returns the pool settings used when config leaves them unset.
func DefaultOpenOptions() OpenOptions {
	return OpenOptions{
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		BusyTimeout:  5000,
	}
}

// DB wraps the SQL connection and its query set.
type DB struct {
	conn    *sql.DB
	queries *Queries
}

// Open opens (creating if needed) the database in dataDir and applies all
// pending migrations.
func Open(dataDir string, opts OpenOptions) (*DB, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	defaults := DefaultOpenOptions()
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = defaults.MaxOpenConns
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = defaults.MaxIdleConns
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = defaults.BusyTimeout
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(FULL)",
		filepath.Join(dataDir, FileName), opts.BusyTimeout,
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(opts.MaxOpenConns)
	conn.SetMaxIdleConns(opts.MaxIdleConns)
	conn.SetConnMaxLifetime(0)

	ctx := context.Background()

	if err := ping(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := migrateUp(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &DB{conn: conn, queries: New(conn)}, nil
}

// OpenOrRecover opens the database in dataDir. A damaged file is moved
// aside and a fresh replica is created in its place. The backup path is
// returned when that happens.
func OpenOrRecover(dataDir string, opts OpenOptions) (*DB, string, error) {
	database, err := Open(dataDir, opts)
	if err == nil || !IsCorruptionError(err) {
		return database, "", err
	}

	backup, rerr := RecoverFromCorruption(dataDir)
	if rerr != nil {
		return nil, "", errors.Join(err, rerr)
	}

	database, err = Open(dataDir, opts)
	if err != nil {
		return nil, backup, err
	}
	return database, backup, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn exposes the raw connection for migrations and tests.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Queries returns the query set bound to the connection.
func (db *DB) Queries() *Queries {
	return db.queries
}

// WithTx runs fn inside a transaction, rolling back when fn fails.
func (db *DB) WithTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(db.queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// ping verifies connectivity, backing off exponentially while another
// connection holds a lock. Other errors are returned at once.
func ping(ctx context.Context, conn *sql.DB) error {
	wait := initialBackoff

	var err error
	for attempt := 1; attempt <= maxPingRetries; attempt++ {
		if err = conn.PingContext(ctx); err == nil {
			return nil
		}
		if !IsBusyError(err) {
			return fmt.Errorf("ping database: %w", err)
		}
		if attempt < maxPingRetries {
			time.Sleep(wait)
			wait *= 2
		}
	}

	return fmt.Errorf("ping database after %d attempts: %w", maxPingRetries, err)
}
