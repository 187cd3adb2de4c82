// Package metrics provides Prometheus instrumentation for the sticker
// converter.
//
// All metrics are registered with the default registry through promauto and
// prefixed with "sticker_convert_". They are exposed on /metrics by the serve
// command; one-shot CLI commands still record them, which costs nothing.
//
// # Metric Categories
//
//   - HTTP: HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight
//   - Database: DBQueryTotal, DBQueryDuration, DBConnectionsOpen
//   - External engines: ToolInvocationsTotal, ToolInvocationDuration
//   - Probing: ProbesTotal (by format and method), ProbeDuration
//   - Conversion: ConversionsTotal, ConversionDuration, CompressionAttempts,
//     ConversionCacheHits, ConversionsInProgress
//   - Verification and packing: VerifyChecksTotal, VerifyViolationsTotal,
//     PacksSplitTotal, PackStickerCount
//   - Platforms: UploadsTotal, DownloadsTotal, HTTPClientRequestsTotal,
//     HTTPClientRetries
//   - Jobs: JobsTotal, JobsInProgress
//   - Store: StoredCredentials, StoredUploads, CachedConversions
//   - AppInfo: version, commit and Go version labels
//
// # Collector
//
// [Collector] periodically reads store counts from a [StatsProvider] and
// updates the store gauges:
//
//	collector := metrics.NewCollector(statsProvider, time.Minute)
//	collector.Start()
//	defer collector.Stop()
//
// # Prometheus Queries
//
// Conversions that could not reach the size limit:
//
//	sum(rate(sticker_convert_conversions_total{status="oversize"}[1h])) by (format)
//
// Most frequent verification failures:
//
//	topk(3, sum(rate(sticker_convert_verify_violations_total[1h])) by (check))
//
// P95 ffmpeg run time:
//
//	histogram_quantile(0.95, sum(rate(sticker_convert_tool_invocation_duration_seconds_bucket{tool="ffmpeg"}[5m])) by (le))
package metrics
