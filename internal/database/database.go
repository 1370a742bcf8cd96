package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DefaultFileName is the name of the store file created when no path is given
const DefaultFileName = "user.db"

var (
	// ErrInit marks a failure to construct the store (open, ping or schema).
	// It is not retried.
	ErrInit = errors.New("database initialization failed")

	// ErrOperation marks a failed query, insert or delete against an open store.
	ErrOperation = errors.New("database operation failed")
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
	path string
	mu   sync.Mutex
}

// New creates a new database connection
func New(path string) (*DB, error) {
	if path == "" {
		path = DefaultFileName
	}

	// SQLite connection with WAL mode for better concurrency
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrInit, err)
	}

	// Test connection; this is also what creates the file
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", ErrInit, err)
	}

	// SQLite with WAL mode supports concurrent reads but serializes writes
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)

	log.Debug().Str("path", path).Msg("Database connection established")

	return &DB{
		conn: conn,
		path: path,
	}, nil
}

// Open creates the connection and applies the schema. The returned handle is
// ready for record access.
func Open(path string) (*DB, error) {
	db, err := New(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", ErrInit, err)
	}
	return db, nil
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Close closes the underlying connection pool
func (db *DB) Close() error {
	if db == nil || db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Transaction wraps a function in a database transaction
func (db *DB) Transaction(fn func(*sql.Tx) error) error {
	return db.TransactionContext(context.Background(), fn)
}

// TransactionContext is Transaction bound to ctx. A cancelled ctx rolls the
// transaction back.
func (db *DB) TransactionContext(ctx context.Context, fn func(*sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.beginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Error().Err(rbErr).Msg("Failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
