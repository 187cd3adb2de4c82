package handlers

import (
	"encoding/json"
	"net/http"

	"sticker-convert/internal/packer"
	"sticker-convert/internal/platform"
)

type splitRequest struct {
	Title string `json:"title"`
	// Preset supplies the pack limits unless Options is set.
	Preset  string          `json:"preset,omitempty"`
	Options *packer.Options `json:"options,omitempty"`
	Entries []packer.Entry  `json:"entries"`
}

// Split groups the posted sticker entries into packs.
func (h *Handlers) Split(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	var req splitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		writeJSONError(w, "title required", http.StatusBadRequest)
		return
	}

	var opts packer.Options
	switch {
	case req.Options != nil:
		opts = *req.Options
	case req.Preset != "":
		spec, err := platform.Get(req.Preset)
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts = spec.PackOptions()
	default:
		writeJSONError(w, "preset or options required", http.StatusBadRequest)
		return
	}

	packs, err := packer.Split(req.Title, req.Entries, opts)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if packs == nil {
		packs = []packer.Pack{}
	}
	writeJSONStatus(w, packs, http.StatusOK)
}
