package handlers

import (
	"net/http"
	"runtime"
	"time"

	"sticker-convert/internal/startup"
	"sticker-convert/internal/toolchain"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`

	// Tools maps each engine to whether it was found.
	Tools map[toolchain.Tool]bool `json:"tools"`

	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`

	StoredCredentials int `json:"storedCredentials"`
	StoredUploads     int `json:"storedUploads"`
	CachedConversions int `json:"cachedConversions"`
}

// HealthCheck returns the health status of the service. Missing ffmpeg
// degrades the service since animated conversion is unavailable.
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	response := HealthResponse{
		Status:       statusHealthy,
		Version:      startup.Version,
		Uptime:       time.Since(h.started).Round(time.Second).String(),
		Tools:        make(map[toolchain.Tool]bool, len(toolchain.All)),
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}

	for _, tool := range toolchain.All {
		response.Tools[tool] = h.registry.Available(tool)
	}
	if !response.Tools[toolchain.FFmpeg] || !response.Tools[toolchain.FFprobe] {
		response.Status = statusDegraded
	}

	if h.store != nil {
		stats := h.store.GetStats()
		response.StoredCredentials = stats.Credentials
		response.StoredUploads = stats.Uploads
		response.CachedConversions = stats.Conversions
	}

	writeJSONStatus(w, response, http.StatusOK)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{"status": "alive"})
	}
}

// ReadinessCheck returns 200 once the converter is usable.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	if h.conv == nil {
		writeJSONStatus(w, map[string]string{"status": "not_ready"}, http.StatusServiceUnavailable)
		return
	}
	writeJSONStatus(w, map[string]string{"status": "ready"}, http.StatusOK)
}
