package handlers

import (
	"context"
	"time"

	"sticker-convert/internal/convert"
	"sticker-convert/internal/database"
	"sticker-convert/internal/memory"
	"sticker-convert/internal/metrics"
	"sticker-convert/internal/toolchain"
)

// defaultMaxUpload bounds the multipart body of probe, verify and convert.
const defaultMaxUpload = 64 << 20

// Store is the subset of the database the API reads.
type Store interface {
	ListUploads(ctx context.Context, platform string, limit int) ([]database.Upload, error)
	GetStats() metrics.Stats
}

// Handlers serves the sticker API.
type Handlers struct {
	store     Store
	conv      *convert.Converter
	registry  *toolchain.Registry
	workDir   string
	workers   int
	maxUpload int64
	gate      *memory.Gate
	started   time.Time
}

// Config configures New.
type Config struct {
	// WorkDir holds uploaded and converted files while a request runs.
	WorkDir string
	Workers int
	// MaxUpload limits request bodies in bytes; zero selects 64 MiB.
	MaxUpload int64
	// Gate holds conversions back under memory pressure; nil disables it.
	Gate *memory.Gate
}

// New creates the API handlers. store may be nil, which disables history.
func New(store Store, conv *convert.Converter, registry *toolchain.Registry, cfg Config) *Handlers {
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = defaultMaxUpload
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Handlers{
		store:     store,
		conv:      conv,
		registry:  registry,
		workDir:   cfg.WorkDir,
		workers:   cfg.Workers,
		maxUpload: cfg.MaxUpload,
		gate:      cfg.Gate,
		started:   time.Now(),
	}
}
