package database

import (
	"context"
	"fmt"
	"time"
)

// RecordUpload stores an exported pack and returns its id.
func (d *Database) RecordUpload(ctx context.Context, u Upload) (id int64, err error) {
	start := time.Now()
	defer func() { recordQuery("record_upload", start, err) }()

	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = d.queryRow(ctx, `
		INSERT INTO uploads (platform, title, url, sticker_count, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`, normalizeName(u.Platform), u.Title, u.URL, u.StickerCount, u.CreatedAt.Unix()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to record upload: %w", err)
	}
	return id, nil
}

// ListUploads returns the newest uploads first. An empty platform lists
// every platform; limit <= 0 means 50.
func (d *Database) ListUploads(ctx context.Context, platform string, limit int) (uploads []Upload, err error) {
	start := time.Now()
	defer func() { recordQuery("list_uploads", start, err) }()

	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := "SELECT id, platform, title, url, sticker_count, created_at FROM uploads"
	var args []any
	if platform != "" {
		query += " WHERE platform = ?"
		args = append(args, normalizeName(platform))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			u       Upload
			created int64
		)
		if err = rows.Scan(&u.ID, &u.Platform, &u.Title, &u.URL, &u.StickerCount, &created); err != nil {
			return nil, err
		}
		u.CreatedAt = time.Unix(created, 0)
		uploads = append(uploads, u)
	}
	err = rows.Err()
	return uploads, err
}
