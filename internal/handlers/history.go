package handlers

import (
	"net/http"
	"strconv"

	"sticker-convert/internal/database"
	"sticker-convert/internal/logging"
)

// History lists recorded pack uploads, newest first. Optional parameters
// are platform and limit.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSONError(w, "history is not available", http.StatusServiceUnavailable)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	uploads, err := h.store.ListUploads(r.Context(), r.URL.Query().Get("platform"), limit)
	if err != nil {
		logging.Error("History query failed: %v", err)
		writeJSONError(w, "failed to list uploads", http.StatusInternalServerError)
		return
	}
	if uploads == nil {
		uploads = []database.Upload{}
	}
	writeJSONStatus(w, uploads, http.StatusOK)
}
