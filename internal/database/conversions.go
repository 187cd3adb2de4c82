package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"time"

	"sticker-convert/internal/logging"
)

// GetConversion returns the cached output path for key. A cached entry
// whose file is gone or has changed size is dropped and reported as a miss.
func (d *Database) GetConversion(ctx context.Context, key string) (path string, ok bool, err error) {
	start := time.Now()
	defer func() { recordQuery("get_conversion", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var size int64
	err = d.queryRow(ctx, "SELECT output_path, size FROM conversions WHERE cache_key = ?", key).Scan(&path, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	if st, statErr := os.Stat(path); statErr != nil || st.Size() != size {
		logging.Debug("Dropping stale conversion cache entry %s -> %s", key, path)
		if _, delErr := d.exec(ctx, "DELETE FROM conversions WHERE cache_key = ?", key); delErr != nil {
			logging.Warn("Failed to drop stale cache entry %s: %v", key, delErr)
		}
		return "", false, nil
	}
	return path, true, nil
}

// PutConversion stores a conversion result.
func (d *Database) PutConversion(ctx context.Context, key, path string, size int64) (err error) {
	start := time.Now()
	defer func() { recordQuery("put_conversion", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.exec(ctx, `
		INSERT INTO conversions (cache_key, output_path, size, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			output_path = excluded.output_path,
			size = excluded.size,
			created_at = excluded.created_at
	`, key, path, size, time.Now().Unix())
	return err
}

// PruneConversions removes cache entries older than maxAge.
func (d *Database) PruneConversions(ctx context.Context, maxAge time.Duration) (n int64, err error) {
	start := time.Now()
	defer func() { recordQuery("prune_conversions", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.exec(ctx, "DELETE FROM conversions WHERE created_at < ?", time.Now().Add(-maxAge).Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
