package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes registers every API route on r. /metrics is only registered
// when metricsEnabled is set.
func (h *Handlers) Routes(r *mux.Router, metricsEnabled bool) {
	r.HandleFunc("/health", h.HealthCheck).Methods("GET").Name("health")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")
	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/presets", h.ListPresets).Methods("GET")
	api.HandleFunc("/presets/{name}", h.GetPreset).Methods("GET")
	api.HandleFunc("/tools", h.ListTools).Methods("GET")
	api.HandleFunc("/probe", h.Probe).Methods("POST")
	api.HandleFunc("/verify", h.Verify).Methods("POST")
	api.HandleFunc("/convert", h.Convert).Methods("POST")
	api.HandleFunc("/split", h.Split).Methods("POST")
	api.HandleFunc("/history", h.History).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, "not found", http.StatusNotFound)
	})
}
