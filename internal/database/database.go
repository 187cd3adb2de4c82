package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver ("pgx")
	_ "github.com/mattn/go-sqlite3"    // SQLite3 driver

	"sticker-convert/internal/logging"
	"sticker-convert/internal/metrics"
	"sticker-convert/internal/secrets"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Dialect selects SQL differences between the supported backends.
type Dialect string

const (
	// SQLite is the default embedded backend.
	SQLite Dialect = "sqlite"
	// Postgres is used when a database URL is configured.
	Postgres Dialect = "postgres"
)

// Database stores platform credentials, upload history and the conversion cache.
type Database struct {
	db       *sql.DB
	dialect  Dialect
	location string
	mu       sync.RWMutex
	box      *secrets.Box
}

// New opens (or creates) the SQLite database at dbPath.
// The parent directory must already exist and be writable.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	if err := diagnoseDatabasePermissions(dbPath); err != nil {
		logging.Warn("Database permission diagnostics: %v", err)
	}

	// busy_timeout helps prevent "database is locked" errors when several
	// conversions record results at once
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	return open(ctx, db, SQLite, dbPath)
}

// NewPostgres connects to a Postgres server using a pgx connection string.
func NewPostgres(ctx context.Context, dsn string) (*Database, error) {
	logging.Info("Database: postgres")

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return open(ctx, db, Postgres, redactDSN(dsn))
}

// Open connects to Postgres when dsn is set and to the SQLite file at
// dbPath otherwise, then enables sealing with passphrase.
func Open(ctx context.Context, dsn, dbPath, passphrase string) (*Database, error) {
	var (
		d   *Database
		err error
	)
	if dsn != "" {
		d, err = NewPostgres(ctx, dsn)
	} else {
		d, err = New(ctx, dbPath)
	}
	if err != nil {
		return nil, err
	}
	d.SetPassphrase(passphrase)
	return d, nil
}

func open(ctx context.Context, db *sql.DB, dialect Dialect, location string) (*Database, error) {
	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	d := &Database{
		db:       db,
		dialect:  dialect,
		location: location,
		box:      secrets.NewBox(""),
	}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", location)
	return d, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	platform TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (platform, key)
);

CREATE TABLE IF NOT EXISTS uploads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	platform TEXT NOT NULL,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	sticker_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_uploads_platform ON uploads(platform);
CREATE INDEX IF NOT EXISTS idx_uploads_created ON uploads(created_at);

CREATE TABLE IF NOT EXISTS conversions (
	cache_key TEXT PRIMARY KEY,
	output_path TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	platform TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (platform, key)
);

CREATE TABLE IF NOT EXISTS uploads (
	id BIGSERIAL PRIMARY KEY,
	platform TEXT NOT NULL,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	sticker_count INTEGER NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_uploads_platform ON uploads(platform);
CREATE INDEX IF NOT EXISTS idx_uploads_created ON uploads(created_at);

CREATE TABLE IF NOT EXISTS conversions (
	cache_key TEXT PRIMARY KEY,
	output_path TEXT NOT NULL,
	size BIGINT NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT
);
`

func (d *Database) initialize(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { recordQuery("initialize_schema", start, err) }()

	schema := sqliteSchema
	if d.dialect == Postgres {
		schema = postgresSchema
	}

	// One statement per Exec; the pgx driver rejects multi-statement
	// strings in the extended protocol.
	for _, stmt := range splitStatements(schema) {
		if _, err = d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w (statement: %.60s)", err, stmt)
		}
	}
	return d.SetMetadata(ctx, "schema_version", strconv.Itoa(schemaVersion))
}

const schemaVersion = 1

func splitStatements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Dialect returns the backend in use.
func (d *Database) Dialect() Dialect {
	return d.dialect
}

// SetPassphrase enables sealing of credential values written from now on.
// Values already sealed are opened with the same passphrase.
func (d *Database) SetPassphrase(passphrase string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.box = secrets.NewBox(passphrase)
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// rebind rewrites ? placeholders as $1, $2, ... for Postgres.
func (d *Database) rebind(query string) string {
	if d.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *Database) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.rebind(query), args...)
}

func (d *Database) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.rebind(query), args...)
}

func (d *Database) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, d.rebind(query), args...)
}

// GetStats returns row counts for the metrics collector.
func (d *Database) GetStats() metrics.Stats {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	start := time.Now()
	var stats metrics.Stats
	err := d.queryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM credentials),
			(SELECT COUNT(*) FROM uploads),
			(SELECT COUNT(*) FROM conversions)
	`).Scan(&stats.Credentials, &stats.Uploads, &stats.Conversions)
	recordQuery("stats", start, err)
	if err != nil {
		logging.Warn("Failed to collect database stats: %v", err)
	}
	return stats
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// UpdateDBMetrics updates database connection metrics
func (d *Database) UpdateDBMetrics() {
	stats := d.db.Stats()
	metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
}

func redactDSN(dsn string) string {
	if at := strings.LastIndex(dsn, "@"); at >= 0 {
		if scheme := strings.Index(dsn, "://"); scheme >= 0 && scheme < at {
			return dsn[:scheme+3] + "***" + dsn[at:]
		}
	}
	return "postgres"
}

// diagnoseDatabasePermissions checks database directory and file permissions
func diagnoseDatabasePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}
	logging.Debug("Database directory: %s (mode: %v)", dir, dirInfo.Mode())

	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		logging.Debug("Database file %s (mode: %v, size: %d bytes)", path, info.Mode(), info.Size())
		if info.Mode().Perm()&0o200 == 0 {
			logging.Warn("%s is read-only! Mode: %v - this will cause write failures", path, info.Mode())
			if chmodErr := os.Chmod(path, 0o600); chmodErr != nil {
				logging.Error("Failed to fix permissions of %s: %v", path, chmodErr)
			} else {
				logging.Info("Fixed permissions of %s", path)
			}
		}
	}
	return nil
}
