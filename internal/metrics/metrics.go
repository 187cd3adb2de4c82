package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_convert_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sticker_convert_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sticker_convert_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_convert_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sticker_convert_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sticker_convert_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// External tool metrics
var (
	ToolInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_convert_tool_invocations_total",
			Help: "Total number of external engine invocations",
		},
		[]string{"tool", "status"},
	)

	ToolInvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sticker_convert_tool_invocation_duration_seconds",
			Help:    "External engine run time in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"tool"},
	)
)

// Probe metrics
var (
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_convert_probes_total",
			Help: "Total number of file probes",
		},
		[]string{"format", "method", "status"},
	)

	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sticker_convert_probe_duration_seconds",
			Help:    "File probe duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"format"},
	)
)

// Conversion metrics
var (
	ConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_convert_conversions_total",
			Help: "Total number of sticker conversions",
		},
		[]string{"format", "status"},
	)

	ConversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sticker_convert_conversion_duration_seconds",
			Help:    "Sticker conversion duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"format"},
	)

	CompressionAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sticker_convert_compression_attempts",
			Help:    "Number of encode attempts needed to fit the size limit",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 16},
		},
		[]string{"format"},
	)

	ConversionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sticker_convert_conversion_cache_hits_total",
			Help: "Total number of conversions served from the cache",
		},
	)

	ConversionsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sticker_convert_conversions_in_progress",
			Help: "Number of conversions currently running",
		},
	)
)

// Verification and packing metrics
var (
	VerifyChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_convert_verify_checks_total",
			Help: "Total number of files verified against a preset",
		},
		[]string{"preset", "result"},
	)

	VerifyViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_convert_verify_violations_total",
			Help: "Total number of constraint violations by check",
		},
		[]string{"check"},
	)

	PacksSplitTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sticker_convert_packs_split_total",
			Help: "Total number of packs produced by the splitter",
		},
	)

	PackStickerCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sticker_convert_pack_sticker_count",
			Help:    "Number of stickers per produced pack",
			Buckets: []float64{1, 5, 10, 24, 30, 40, 50, 100, 120, 200},
		},
	)
)

// Platform transfer metrics
var (
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_convert_uploads_total",
			Help: "Total number of pack uploads and exports",
		},
		[]string{"platform", "status"},
	)

	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_convert_downloads_total",
			Help: "Total number of pack downloads",
		},
		[]string{"platform", "status"},
	)

	HTTPClientRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_convert_http_client_requests_total",
			Help: "Total number of outbound HTTP requests",
		},
		[]string{"host", "status"},
	)

	HTTPClientRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_convert_http_client_retries_total",
			Help: "Total number of retried outbound HTTP requests",
		},
		[]string{"host"},
	)
)

// Job metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_convert_jobs_total",
			Help: "Total number of pipeline jobs",
		},
		[]string{"status"},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sticker_convert_jobs_in_progress",
			Help: "Number of pipeline jobs currently running",
		},
	)
)

// Store metrics, refreshed by the Collector
var (
	StoredCredentials = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sticker_convert_stored_credentials",
			Help: "Number of stored platform credential values",
		},
	)

	StoredUploads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sticker_convert_stored_uploads",
			Help: "Number of recorded pack uploads",
		},
	)

	CachedConversions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sticker_convert_cached_conversions",
			Help: "Number of conversion cache entries",
		},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sticker_convert_memory_usage_ratio",
			Help: "Go heap in use as a share of GOMEMLIMIT",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sticker_convert_memory_paused",
			Help: "1 while new conversions are held back by memory pressure",
		},
	)
)

// Application info
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sticker_convert_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
