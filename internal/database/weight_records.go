package database

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
)

// WeightRecord is one row of the weight_record table
type WeightRecord struct {
	UID    int64   `json:"uid"`
	Weight float64 `json:"weight"`
	Date   string  `json:"date"`
	Time   string  `json:"time"`
}

// WeightRecordStore is the record access contract
type WeightRecordStore interface {
	GetAllWeightRecords(ctx context.Context) ([]WeightRecord, error)
	LoadWeightRecordsByIDs(ctx context.Context, ids []int64) ([]WeightRecord, error)
	InsertWeightRecords(ctx context.Context, records []WeightRecord) ([]WeightRecord, error)
	DeleteWeightRecord(ctx context.Context, record WeightRecord) error
	CountWeightRecords(ctx context.Context) (int, error)
}

var _ WeightRecordStore = (*DB)(nil)

// maxIDsPerQuery keeps IN (...) lists under SQLite's bound parameter limit
const maxIDsPerQuery = 500

// GetAllWeightRecords returns every record in uid order
func (db *DB) GetAllWeightRecords(ctx context.Context) ([]WeightRecord, error) {
	rows, err := db.queryContext(ctx, "SELECT uid, weight, date, time FROM weight_record ORDER BY uid")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list weight records: %w", ErrOperation, err)
	}
	defer rows.Close()

	return scanWeightRecords(rows)
}

// LoadWeightRecordsByIDs returns the records whose uid is in ids, in uid
// order. Unknown ids are skipped.
func (db *DB) LoadWeightRecordsByIDs(ctx context.Context, ids []int64) ([]WeightRecord, error) {
	ids = uniqueIDs(ids)
	// Chunks are queried in ascending order so the concatenation stays sorted
	slices.Sort(ids)
	records := make([]WeightRecord, 0, len(ids))

	for start := 0; start < len(ids); start += maxIDsPerQuery {
		end := min(start+maxIDsPerQuery, len(ids))
		chunk := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := db.queryContext(ctx,
			"SELECT uid, weight, date, time FROM weight_record WHERE uid IN ("+placeholders+") ORDER BY uid",
			args...)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to load weight records: %w", ErrOperation, err)
		}
		found, err := scanWeightRecords(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		records = append(records, found...)
	}

	return records, nil
}

// InsertWeightRecords inserts the batch in a single transaction and returns
// the records with their assigned uids. Any uid set by the caller is ignored.
// If one insert fails nothing is written.
func (db *DB) InsertWeightRecords(ctx context.Context, records []WeightRecord) ([]WeightRecord, error) {
	if len(records) == 0 {
		return []WeightRecord{}, nil
	}

	inserted := make([]WeightRecord, 0, len(records))
	err := db.TransactionContext(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO weight_record (weight, date, time) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, r := range records {
			result, err := stmt.ExecContext(ctx, r.Weight, r.Date, r.Time)
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			uid, err := result.LastInsertId()
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			r.UID = uid
			inserted = append(inserted, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to insert weight records: %w", ErrOperation, err)
	}

	return inserted, nil
}

// DeleteWeightRecord removes the record with the same uid. Deleting a uid that
// does not exist is not an error.
func (db *DB) DeleteWeightRecord(ctx context.Context, record WeightRecord) error {
	if _, err := db.execContext(ctx, "DELETE FROM weight_record WHERE uid = ?", record.UID); err != nil {
		return fmt.Errorf("%w: failed to delete weight record %d: %w", ErrOperation, record.UID, err)
	}
	return nil
}

// CountWeightRecords returns the number of stored records; it backs status output
func (db *DB) CountWeightRecords(ctx context.Context) (int, error) {
	var count int
	if err := db.queryRowContext(ctx, "SELECT COUNT(*) FROM weight_record").Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: failed to count weight records: %w", ErrOperation, err)
	}
	return count, nil
}

func scanWeightRecords(rows *sql.Rows) ([]WeightRecord, error) {
	records := []WeightRecord{}
	for rows.Next() {
		var r WeightRecord
		if err := rows.Scan(&r.UID, &r.Weight, &r.Date, &r.Time); err != nil {
			return nil, fmt.Errorf("%w: failed to scan weight record: %w", ErrOperation, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOperation, err)
	}
	return records, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
