package metrics

// Label values pre-populated by InitializeMetrics.
var (
	knownTools     = []string{"ffmpeg", "ffprobe", "magick", "apngasm", "pngquant", "optipng"}
	knownFormats   = []string{".png", ".apng", ".gif", ".webp", ".webm", ".tgs", ".jpg", ".mp4"}
	knownPlatforms = []string{"telegram", "signal", "line", "kakao", "discord", "wastickers", "imessage"}
	knownChecks    = []string{"resolution", "square", "fps", "duration", "size", "animated", "format", "codec"}
)

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, tool := range knownTools {
		ToolInvocationsTotal.WithLabelValues(tool, "success")
		ToolInvocationsTotal.WithLabelValues(tool, "error")
		ToolInvocationDuration.WithLabelValues(tool)
	}

	for _, format := range knownFormats {
		for _, method := range []string{"container", "ffprobe"} {
			ProbesTotal.WithLabelValues(format, method, "success")
			ProbesTotal.WithLabelValues(format, method, "error")
		}
		ProbeDuration.WithLabelValues(format)

		for _, status := range []string{"success", "copied", "oversize", "error"} {
			ConversionsTotal.WithLabelValues(format, status)
		}
		ConversionDuration.WithLabelValues(format)
		CompressionAttempts.WithLabelValues(format)
	}

	for _, check := range knownChecks {
		VerifyViolationsTotal.WithLabelValues(check)
	}

	for _, platform := range knownPlatforms {
		for _, status := range []string{"success", "error"} {
			UploadsTotal.WithLabelValues(platform, status)
			DownloadsTotal.WithLabelValues(platform, status)
		}
	}

	for _, status := range []string{"success", "partial", "error"} {
		JobsTotal.WithLabelValues(status)
	}

	for _, op := range []string{"initialize_schema", "set_credential", "get_credential", "list_credentials",
		"delete_credential", "record_upload", "list_uploads", "get_conversion", "put_conversion",
		"prune_conversions", "stats"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}
}
