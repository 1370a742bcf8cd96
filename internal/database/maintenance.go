package database

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Optimize runs SQLite's PRAGMA optimize to refresh planner stats.
func (db *DB) Optimize() error {
	return db.housekeeping("optimize", "PRAGMA optimize", true)
}

// Vacuum rebuilds the database file to reclaim space left by deleted records.
func (db *DB) Vacuum() error {
	return db.housekeeping("vacuum", "VACUUM", true)
}

// Checkpoint folds the WAL back into the main database file.
func (db *DB) Checkpoint() error {
	return db.housekeeping("checkpoint", "PRAGMA wal_checkpoint(TRUNCATE)", false)
}

// housekeeping runs a maintenance statement. Exclusive statements take the
// transaction lock so they never run inside a record batch.
func (db *DB) housekeeping(name, stmt string, exclusive bool) error {
	if db == nil || db.conn == nil {
		return fmt.Errorf("%w: %s: database not initialized", ErrOperation, name)
	}

	if exclusive {
		db.mu.Lock()
		defer db.mu.Unlock()
	}

	start := time.Now()
	if _, err := db.exec(stmt); err != nil {
		return fmt.Errorf("%w: %s failed: %w", ErrOperation, name, err)
	}
	log.Debug().Str("task", name).Dur("duration", time.Since(start)).Msg("Database maintenance finished")
	return nil
}
