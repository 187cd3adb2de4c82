// Package startup handles configuration loading and startup/shutdown
// logging.
//
// # Configuration
//
// Configuration comes from environment variables, optionally seeded from a
// .env file via [LoadDotEnv]. [LoadConfig] reads:
//
//   - STICKER_CACHE_DIR: conversion cache directory (default: user cache dir)
//   - STICKER_DATABASE_DIR: SQLite database directory (default: user config dir)
//   - STICKER_DATABASE_URL: Postgres DSN; replaces SQLite when set
//   - STICKER_PASSPHRASE: seals stored credentials when set
//   - STICKER_WORKERS: conversion worker count (default: derived from GOMAXPROCS)
//   - STICKER_CACHE_TTL: age after which cached conversions are pruned (default: 720h)
//   - PORT: HTTP port for serve (default: 8080)
//   - METRICS_ENABLED: expose /metrics (default: true)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - LOG_HEALTH_CHECKS: log health check requests (default: false)
//   - FFMPEG_PATH, FFPROBE_PATH, MAGICK_PATH, APNGASM_PATH, PNGQUANT_PATH,
//     OPTIPNG_PATH: explicit engine paths
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo].
package startup
