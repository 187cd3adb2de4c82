package handlers

import (
	"errors"
	"net/http"

	"sticker-convert/internal/platform"

	"github.com/gorilla/mux"
)

// ListPresets returns every platform preset in name order.
func (h *Handlers) ListPresets(w http.ResponseWriter, _ *http.Request) {
	names := platform.Names()
	specs := make([]*platform.Spec, 0, len(names))
	for _, name := range names {
		spec, err := platform.Get(name)
		if err != nil {
			continue
		}
		specs = append(specs, spec)
	}
	writeJSONStatus(w, specs, http.StatusOK)
}

// GetPreset returns one preset by name.
func (h *Handlers) GetPreset(w http.ResponseWriter, r *http.Request) {
	spec, err := platform.Get(mux.Vars(r)["name"])
	if errors.Is(err, platform.ErrUnknownPreset) {
		writeJSONError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, spec, http.StatusOK)
}

// ListTools reports the conversion engines found on this host. Versions
// are included when the "versions" parameter is true.
func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, h.registry.Status(r.Context(), boolParam(r, "versions")), http.StatusOK)
}
