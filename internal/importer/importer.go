// Package importer loads weight records from CSV files, either on demand or
// by watching an inbox directory.
package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/lighter/internal/database"
)

const (
	doneSuffix   = ".done"
	failedSuffix = ".failed"
)

// Inserter stores a batch of records atomically
type Inserter interface {
	InsertAll(ctx context.Context, batch []database.WeightRecord) ([]database.WeightRecord, error)
}

// ImportFile parses path and inserts its records as one batch
func ImportFile(ctx context.Context, inserter Inserter, path string) ([]database.WeightRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	batch, err := ParseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if len(batch) == 0 {
		return []database.WeightRecord{}, nil
	}

	inserted, err := inserter.InsertAll(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return inserted, nil
}

// isImportCandidate reports whether a file in the inbox should be imported
func isImportCandidate(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), ".csv")
}

// settle renames an imported file so that it is not picked up again
func settle(path string, importErr error) {
	suffix := doneSuffix
	if importErr != nil {
		suffix = failedSuffix
	}
	if err := os.Rename(path, path+suffix); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to rename imported file")
	}
}
