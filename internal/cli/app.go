package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"sticker-convert/internal/convert"
	"sticker-convert/internal/database"
	"sticker-convert/internal/logging"
	"sticker-convert/internal/metadata"
	"sticker-convert/internal/pipeline"
	"sticker-convert/internal/startup"
	"sticker-convert/internal/toolchain"
)

// app holds what the commands share. Everything is opened on first use
// so that commands like version never touch the database.
type app struct {
	envFile  string
	logLevel string
	noCache  bool

	cfg    *startup.Config
	db     *database.Database
	runner *toolchain.ExecRunner
	vips   bool
}

func (a *app) config() (*startup.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := startup.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	a.cfg = cfg
	return cfg, nil
}

func (a *app) store(ctx context.Context) (*database.Database, error) {
	if a.db != nil {
		return a.db, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	db, err := database.Open(ctx, cfg.DatabaseURL, cfg.DatabasePath, cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db
	return db, nil
}

func (a *app) toolRunner() (*toolchain.ExecRunner, error) {
	if a.runner != nil {
		return a.runner, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	a.runner = toolchain.NewExecRunner(toolchain.Discover(cfg.ToolPaths))
	return a.runner, nil
}

// converter builds a Converter backed by the conversion cache unless
// --no-cache was given or the cache directory is unusable. libvips is
// started on first use and shut down by Execute when the process exits.
func (a *app) converter(ctx context.Context) (*convert.Converter, error) {
	runner, err := a.toolRunner()
	if err != nil {
		return nil, err
	}
	a.startVips()
	if a.noCache || !a.cfg.CacheEnabled {
		return convert.New(runner, nil), nil
	}
	db, err := a.store(ctx)
	if err != nil {
		logging.Warn("Conversion cache disabled: %v", err)
		return convert.New(runner, nil), nil
	}
	return convert.New(runner, db), nil
}

func (a *app) startVips() {
	if a.vips {
		return
	}
	a.vips = true
	if err := convert.InitVips(); err != nil {
		logging.Warn("libvips unavailable, using the Go encoders: %v", err)
	}
}

// pipeline wires a Pipeline to the converter and the credential store.
func (a *app) pipeline(ctx context.Context, workers int) (*pipeline.Pipeline, error) {
	conv, err := a.converter(ctx)
	if err != nil {
		return nil, err
	}
	db, err := a.store(ctx)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = a.cfg.Workers
	}
	return pipeline.New(conv, db, nil, workers), nil
}

func (a *app) close() {
	if a.runner != nil {
		a.runner.Cleanup()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logging.Warn("failed to close database: %v", err)
		}
		a.db = nil
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// expandInputs replaces directory arguments with the sticker files they hold.
func expandInputs(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		fi, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			files = append(files, arg)
			continue
		}
		found, err := metadata.ListStickers(arg)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", filepath.Join(args...), metadata.ErrNoStickers)
	}
	return files, nil
}
