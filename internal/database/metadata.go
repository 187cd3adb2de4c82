package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetMetadata retrieves a metadata value by key.
// Returns ErrNotFound if the key doesn't exist.
func (d *Database) GetMetadata(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var value sql.NullString
	err := d.queryRow(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("metadata %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return value.String, nil
}

// SetMetadata sets a metadata key-value pair.
func (d *Database) SetMetadata(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := d.exec(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetTime reads a metadata key holding an RFC3339 timestamp.
// Returns zero time if the key was never set.
func (d *Database) GetTime(ctx context.Context, key string) (time.Time, error) {
	value, err := d.GetMetadata(ctx, key)
	if errors.Is(err, ErrNotFound) || (err == nil && value == "") {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, value)
}

// SetTime stores a timestamp under key. A zero time clears it.
func (d *Database) SetTime(ctx context.Context, key string, t time.Time) error {
	if t.IsZero() {
		return d.SetMetadata(ctx, key, "")
	}
	return d.SetMetadata(ctx, key, t.UTC().Format(time.RFC3339))
}
