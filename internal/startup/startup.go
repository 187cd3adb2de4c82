package startup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"sticker-convert/internal/logging"
	"sticker-convert/internal/toolchain"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// toolEnv maps each engine to the variable that overrides its path.
var toolEnv = map[toolchain.Tool]string{
	toolchain.FFmpeg:   "FFMPEG_PATH",
	toolchain.FFprobe:  "FFPROBE_PATH",
	toolchain.Magick:   "MAGICK_PATH",
	toolchain.Apngasm:  "APNGASM_PATH",
	toolchain.Pngquant: "PNGQUANT_PATH",
	toolchain.Optipng:  "OPTIPNG_PATH",
}

// Config holds all application configuration
type Config struct {
	CacheDir    string
	DatabaseDir string
	// DatabaseURL selects Postgres instead of the SQLite file when set.
	DatabaseURL     string
	Passphrase      string
	Port            string
	Workers         int
	CacheTTL        time.Duration
	MetricsEnabled  bool
	LogHealthChecks bool
	ToolPaths       map[toolchain.Tool]string

	// Derived paths
	DatabasePath  string
	ConversionDir string

	// CacheEnabled is false when the cache directory is not writable.
	CacheEnabled bool
}

// LoadDotEnv loads variables from the given .env files, or ./.env when
// none are given. Variables already set in the environment win. A missing
// default file is not an error.
func LoadDotEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err == nil {
		return nil
	}
	if len(files) == 0 && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load env file: %w", err)
}

// LoadConfig reads configuration from environment variables and prepares
// the database and cache directories.
func LoadConfig() (*Config, error) {
	cacheDir := getEnv("STICKER_CACHE_DIR", defaultDir(os.UserCacheDir))
	databaseDir := getEnv("STICKER_DATABASE_DIR", defaultDir(os.UserConfigDir))

	cfg := &Config{
		DatabaseURL:     os.Getenv("STICKER_DATABASE_URL"),
		Passphrase:      os.Getenv("STICKER_PASSPHRASE"),
		Port:            getEnv("PORT", "8080"),
		Workers:         getEnvInt("STICKER_WORKERS", 0),
		CacheTTL:        getEnvDuration("STICKER_CACHE_TTL", 30*24*time.Hour),
		MetricsEnabled:  getEnvBool("METRICS_ENABLED", true),
		LogHealthChecks: getEnvBool("LOG_HEALTH_CHECKS", false),
		ToolPaths:       make(map[toolchain.Tool]string),
	}
	for tool, key := range toolEnv {
		if v := os.Getenv(key); v != "" {
			cfg.ToolPaths[tool] = v
		}
	}

	var err error
	if cfg.CacheDir, err = filepath.Abs(cacheDir); err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory path: %w", err)
	}
	if cfg.DatabaseDir, err = filepath.Abs(databaseDir); err != nil {
		return nil, fmt.Errorf("failed to resolve database directory path: %w", err)
	}
	cfg.DatabasePath = filepath.Join(cfg.DatabaseDir, "sticker-convert.db")
	cfg.ConversionDir = filepath.Join(cfg.CacheDir, "conversions")

	if cfg.DatabaseURL == "" {
		if err := ensureDirectory(cfg.DatabaseDir, "database"); err != nil {
			return nil, fmt.Errorf("database directory error: %w", err)
		}
		if err := testWriteAccess(cfg.DatabaseDir); err != nil {
			return nil, fmt.Errorf("database directory is not writable: %w", err)
		}
	}
	cfg.CacheEnabled = setupOptionalDir(cfg.ConversionDir, "conversion cache")

	return cfg, nil
}

// LogConfig prints the banner and the resolved configuration. Secrets are
// reported as set or unset only.
func LogConfig(cfg *Config) {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  STICKER_CACHE_DIR:     %s", cfg.CacheDir)
	logging.Info("  STICKER_DATABASE_DIR:  %s", cfg.DatabaseDir)
	logging.Info("  STICKER_DATABASE_URL:  %s", setString(cfg.DatabaseURL != ""))
	logging.Info("  STICKER_PASSPHRASE:    %s", setString(cfg.Passphrase != ""))
	logging.Info("  STICKER_WORKERS:       %d", cfg.Workers)
	logging.Info("  STICKER_CACHE_TTL:     %v", cfg.CacheTTL)
	logging.Info("  PORT:                  %s", cfg.Port)
	logging.Info("  METRICS_ENABLED:       %v", cfg.MetricsEnabled)
	logging.Info("  LOG_HEALTH_CHECKS:     %v", cfg.LogHealthChecks)
	logging.Info("  LOG_LEVEL:             %s", logging.GetLevel())
	for _, tool := range toolchain.All {
		if p := cfg.ToolPaths[tool]; p != "" {
			logging.Info("  %-22s %s", toolEnv[tool]+":", p)
		}
	}

	logging.Info("")
	logging.Info("  Feature availability:")
	if cfg.DatabaseURL != "" {
		logging.Info("    Database:          postgres")
	} else {
		logging.Info("    Database:          sqlite (%s)", cfg.DatabasePath)
	}
	logging.Info("    Conversion cache:  %s", enabledString(cfg.CacheEnabled))
	logging.Info("    Credential seal:   %s", enabledString(cfg.Passphrase != ""))
	logging.Info("    Metrics:           %s", enabledString(cfg.MetricsEnabled))
}

func defaultDir(base func() (string, error)) string {
	dir, err := base()
	if err != nil || dir == "" {
		return ".sticker-convert"
	}
	return filepath.Join(dir, "sticker-convert")
}

func setupOptionalDir(path, name string) bool {
	logging.Debug("  Setting up %s directory: %s", name, path)

	if err := os.MkdirAll(path, 0o755); err != nil {
		logging.Warn("Failed to create %s directory: %v", name, err)
		logging.Warn("%s will be disabled", name)
		return false
	}

	if err := testWriteAccess(path); err != nil {
		logging.Warn("%s directory is not writable: %v", name, err)
		logging.Warn("%s will be disabled", name)
		return false
	}

	logging.Debug("    [OK] %s directory ready", name)
	return true
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

func setString(set bool) string {
	if set {
		return "(set)"
	}
	return "(unset)"
}

// LogDatabaseInit logs database initialization
func LogDatabaseInit(duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DATABASE INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  [OK] Database initialized in %v", duration)
}

// LogToolchain reports which conversion engines were found and whether
// the converter will be limited.
func LogToolchain(ctx context.Context, reg *toolchain.Registry) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("TOOLCHAIN")
	logging.Info("------------------------------------------------------------")

	for _, st := range reg.Status(ctx, logging.IsDebugEnabled()) {
		if !st.Available {
			logging.Info("  %-9s not found", st.Name)
			continue
		}
		logging.Info("  %-9s %s", st.Name, st.Path)
		if st.Version != "" {
			logging.Debug("            %s", st.Version)
		}
	}

	if !reg.Available(toolchain.FFmpeg) {
		logging.Warn("  FFmpeg not found: animated output and video input are disabled")
	}
	if !reg.Available(toolchain.FFprobe) {
		logging.Warn("  FFprobe not found: video input cannot be probed")
	}
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   route.GetName(),
			})
		}
		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes at debug level
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		logging.Debug("  Registered routes (%d total):", len(routes))

		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}
			for _, route := range groups[group] {
				logging.Debug("    %-6s %s", route.Method, route.Path)
			}
		}
	}

	if logHealthChecks {
		logging.Info("  Health check logging: ON")
	} else {
		logging.Info("  Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")

	parts := strings.SplitN(path, "/", 2)
	first := parts[0]

	if first == "api" && len(parts) > 1 {
		subParts := strings.SplitN(parts[1], "/", 2)
		return "api/" + subParts[0]
	}

	return first
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    API:           http://localhost:%s/api", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://localhost:%s/metrics", config.Port)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

func printBanner() {
	banner := `
------------------------------------------------------------
     _   _      _                                            _
 ___| |_(_) ___| | _____ _ __       ___ ___  _ ____   _____ _ __| |_
/ __| __| |/ __| |/ / _ \ '__|____ / __/ _ \| '_ \ \ / / _ \ '__| __|
\__ \ |_| | (__|   <  __/ | |_____| (_| (_) | | | \ V /  __/ |  | |_
|___/\__|_|\___|_|\_\___|_|        \___\___/|_| |_|\_/ \___|_|   \__|

------------------------------------------------------------`
	fmt.Fprintln(os.Stderr, banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		logging.Warn("Invalid duration for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
