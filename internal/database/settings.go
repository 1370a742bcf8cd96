package database

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/saltyorg/lighter/internal/logging"
)

// GetSetting retrieves a setting value by key
func (db *DB) GetSetting(key string) (string, error) {
	var value string
	err := db.queryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting stores a setting value
func (db *DB) SetSetting(key, value string) error {
	_, err := db.exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// GetAllSettings retrieves all settings
func (db *DB) GetAllSettings() (map[string]string, error) {
	rows, err := db.query("SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings[key] = value
	}

	return settings, rows.Err()
}

// DeleteSetting removes a setting
func (db *DB) DeleteSetting(key string) error {
	_, err := db.exec("DELETE FROM settings WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

// Default settings
var DefaultSettings = map[string]any{
	"log.max_size_mb":               logging.DefaultMaxSizeMB,
	"log.max_backups":               logging.DefaultMaxBackups,
	"log.max_age_days":              logging.DefaultMaxAgeDays,
	"log.compress":                  logging.DefaultCompress,
	"maintenance.optimize_schedule": "@daily",
	"maintenance.vacuum_schedule":   "@weekly", // "off" disables
	"records.workers":               2,
	"records.queue_size":            64,
	"importer.debounce_seconds":     2,
}

// InitializeDefaults sets default values for settings that don't exist
func (db *DB) InitializeDefaults() error {
	keys := make([]string, 0, len(DefaultSettings))
	for key := range DefaultSettings {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	all, err := db.GetAllSettings()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, ok := all[key]; ok {
			continue
		}
		if err := db.SetSetting(key, fmt.Sprint(DefaultSettings[key])); err != nil {
			return err
		}
	}
	return nil
}
