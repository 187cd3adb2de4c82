package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"sticker-convert/internal/secrets"
)

func (d *Database) sealer() *secrets.Box {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.box
}

// SetCredential stores a credential value, sealing it when a passphrase is set.
func (d *Database) SetCredential(ctx context.Context, platform, key, value string) (err error) {
	start := time.Now()
	defer func() { recordQuery("set_credential", start, err) }()

	platform, key = normalizeName(platform), strings.TrimSpace(key)
	if platform == "" || key == "" {
		return fmt.Errorf("platform and key are required")
	}

	stored, err := d.sealer().Seal(value)
	if err != nil {
		return fmt.Errorf("failed to seal credential: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.exec(ctx, `
		INSERT INTO credentials (platform, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(platform, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, platform, key, stored, time.Now().Unix())
	return err
}

// GetCredential returns one credential value.
func (d *Database) GetCredential(ctx context.Context, platform, key string) (value string, err error) {
	start := time.Now()
	defer func() { recordQuery("get_credential", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var stored string
	err = d.queryRow(ctx, "SELECT value FROM credentials WHERE platform = ? AND key = ?",
		normalizeName(platform), key).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("credential %s/%s: %w", platform, key, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return d.sealer().Open(stored)
}

// Credentials returns every credential value of a platform.
func (d *Database) Credentials(ctx context.Context, platform string) (creds map[string]string, err error) {
	start := time.Now()
	defer func() { recordQuery("get_credential", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.query(ctx, "SELECT key, value FROM credentials WHERE platform = ?", normalizeName(platform))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	box := d.sealer()
	creds = map[string]string{}
	for rows.Next() {
		var key, stored string
		if err = rows.Scan(&key, &stored); err != nil {
			return nil, err
		}
		value, openErr := box.Open(stored)
		if openErr != nil {
			err = fmt.Errorf("credential %s/%s: %w", platform, key, openErr)
			return nil, err
		}
		creds[key] = value
	}
	err = rows.Err()
	return creds, err
}

// ListCredentials lists stored credentials without their values. An empty
// platform lists every platform.
func (d *Database) ListCredentials(ctx context.Context, platform string) (list []CredentialInfo, err error) {
	start := time.Now()
	defer func() { recordQuery("list_credentials", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := "SELECT platform, key, value, updated_at FROM credentials"
	var args []any
	if platform != "" {
		query += " WHERE platform = ?"
		args = append(args, normalizeName(platform))
	}
	query += " ORDER BY platform, key"

	rows, err := d.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			info    CredentialInfo
			stored  string
			updated int64
		)
		if err = rows.Scan(&info.Platform, &info.Key, &stored, &updated); err != nil {
			return nil, err
		}
		info.Sealed = secrets.IsSealed(stored)
		info.UpdatedAt = time.Unix(updated, 0)
		list = append(list, info)
	}
	err = rows.Err()
	return list, err
}

// DeleteCredential removes one credential, or every credential of the
// platform when key is empty.
func (d *Database) DeleteCredential(ctx context.Context, platform, key string) (err error) {
	start := time.Now()
	defer func() { recordQuery("delete_credential", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var res sql.Result
	if key == "" {
		res, err = d.exec(ctx, "DELETE FROM credentials WHERE platform = ?", normalizeName(platform))
	} else {
		res, err = d.exec(ctx, "DELETE FROM credentials WHERE platform = ? AND key = ?", normalizeName(platform), key)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = fmt.Errorf("credential %s/%s: %w", platform, key, ErrNotFound)
	}
	return err
}

func normalizeName(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}
