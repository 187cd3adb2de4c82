package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"sticker-convert/internal/handlers"
	"sticker-convert/internal/logging"
	"sticker-convert/internal/memory"
	"sticker-convert/internal/metrics"
	"sticker-convert/internal/middleware"
	"sticker-convert/internal/startup"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 30 * time.Second
	pruneInterval   = time.Hour
	metricsInterval = 30 * time.Second
)

func newServeCommand(a *app) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP conversion API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), a, port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (default from PORT or 8080)")
	return cmd
}

func serve(ctx context.Context, a *app, port string) error {
	startTime := time.Now()

	cfg, err := a.config()
	if err != nil {
		return err
	}
	if port != "" {
		cfg.Port = port
	}
	startup.LogConfig(cfg)
	memory.ConfigureLimit()

	dbStart := time.Now()
	db, err := a.store(ctx)
	if err != nil {
		return err
	}
	startup.LogDatabaseInit(time.Since(dbStart))

	runner, err := a.toolRunner()
	if err != nil {
		return err
	}
	startup.LogToolchain(ctx, runner.Registry())

	conv, err := a.converter(ctx)
	if err != nil {
		return err
	}

	metrics.InitializeMetrics()
	info := startup.GetBuildInfo()
	metrics.SetAppInfo(info.Version, info.Commit, info.GoVersion)

	collector := metrics.NewCollector(db, metricsInterval)
	collector.Start()
	defer collector.Stop()

	workDir := filepath.Join(cfg.CacheDir, "requests")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		workDir = os.TempDir()
		logging.Warn("Using %s for request files: %v", workDir, err)
	}

	gate := memory.NewGate(memory.DefaultGateConfig())
	gate.Start()
	defer gate.Stop()

	h := handlers.New(db, conv, runner.Registry(), handlers.Config{
		WorkDir: workDir,
		Workers: cfg.Workers,
		Gate:    gate,
	})

	router := mux.NewRouter()
	h.Routes(router, cfg.MetricsEnabled)
	router.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))
	startup.LogHTTPRoutes(router, cfg.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = cfg.LogHealthChecks
	handler := middleware.Logger(loggingConfig)(router)
	handler = middleware.Compression(middleware.DefaultCompressionConfig())(handler)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Conversions of large uploads can take minutes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go maintain(ctx, a, cfg.CacheTTL)

	errCh := make(chan error, 1)
	go func() {
		startup.LogServerStarted(startup.ServerConfig{
			Port:            cfg.Port,
			MetricsEnabled:  cfg.MetricsEnabled,
			StartupDuration: time.Since(startTime),
		})
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	startup.LogShutdownInitiated("interrupt")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Stopping external tools")
	runner.Cleanup()
	startup.LogShutdownStepComplete("External tools stopped")

	startup.LogShutdownComplete()
	return nil
}

// maintain prunes expired conversion cache entries and refreshes the
// connection pool gauges until ctx is done.
func maintain(ctx context.Context, a *app, ttl time.Duration) {
	prune := time.NewTicker(pruneInterval)
	defer prune.Stop()
	gauges := time.NewTicker(metricsInterval)
	defer gauges.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gauges.C:
			a.db.UpdateDBMetrics()
		case <-prune.C:
			n, err := a.db.PruneConversions(ctx, ttl)
			if err != nil {
				logging.Warn("Failed to prune conversion cache: %v", err)
				continue
			}
			if n > 0 {
				logging.Info("Pruned %d expired conversions", n)
			}
		}
	}
}
