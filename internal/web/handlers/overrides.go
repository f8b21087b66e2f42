package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/nged-substations/internal/dataset"
	"github.com/nged-substations/internal/errors"
	"github.com/nged-substations/internal/logging"
	"github.com/nged-substations/internal/normalize"
	"github.com/nged-substations/internal/override"
)

// OverridesHandler exposes the override store to curators
type OverridesHandler struct {
	Store      override.Store
	Normalizer *normalize.Normalizer
	Config     *Config
}

// OverrideRequest is the body of a PUT. When RawName is given the key is its
// simplified form and must agree with the path.
type OverrideRequest struct {
	CanonicalID string `json:"canonical_id"`
	UpdatedBy   string `json:"updated_by"`
	Note        string `json:"note"`
	RawName     string `json:"raw_name,omitempty"`
	Replace     bool   `json:"replace"`
}

func keyFromPath(r *http.Request) (dataset.SourceID, string) {
	vars := mux.Vars(r)
	return dataset.SourceID(vars["source"]), vars["name"]
}

// ListSources returns the sources with at least one override
func (h *OverridesHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.Store.Sources(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sources == nil {
		sources = []dataset.SourceID{}
	}
	writeJSON(w, http.StatusOK, sources)
}

// ListOverrides returns every entry of a source
func (h *OverridesHandler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	source := dataset.SourceID(mux.Vars(r)["source"])
	entries, err := h.Store.Entries(r.Context(), source)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []override.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetOverride returns one entry
func (h *OverridesHandler) GetOverride(w http.ResponseWriter, r *http.Request) {
	source, name := keyFromPath(r)
	entry, ok, err := h.Store.Lookup(r.Context(), source, name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, errors.NewNotFoundError("override", string(source)+"/"+name))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// PutOverride creates or updates an entry. Changing the canonical id of an
// existing entry needs replace=true in the body or query, otherwise 409.
func (h *OverridesHandler) PutOverride(w http.ResponseWriter, r *http.Request) {
	if !h.Config.Features.ManualOverrideEnabled {
		http.Error(w, "Feature disabled", http.StatusForbidden)
		return
	}

	source, name := keyFromPath(r)
	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errors.NewValidationError("body", nil, "invalid JSON"))
		return
	}
	if h.Normalizer != nil {
		switch {
		case req.RawName != "":
			if simplified := h.Normalizer.Simplify(req.RawName, source); simplified != name {
				writeError(w, r, errors.NewValidationError("raw_name", req.RawName,
					"simplifies to "+strconv.Quote(simplified)+", not "+strconv.Quote(name)))
				return
			}
		case !h.Normalizer.IsSimplified(name, source):
			writeError(w, r, errors.NewValidationError("simplified_name", name,
				"not a simplified name, use "+strconv.Quote(h.Normalizer.Simplify(name, source))+
					" or send the original as raw_name"))
			return
		}
	}
	if q := r.URL.Query().Get("replace"); q != "" {
		req.Replace, _ = strconv.ParseBool(q)
	}

	entry := override.Entry{
		Source:         source,
		SimplifiedName: name,
		CanonicalID:    req.CanonicalID,
		UpdatedBy:      strings.TrimSpace(req.UpdatedBy),
		Note:           req.Note,
	}
	var opts []override.WriteOption
	if req.Replace {
		opts = append(opts, override.WithReplace())
	}
	if err := h.Store.Upsert(r.Context(), entry, opts...); err != nil {
		writeError(w, r, err)
		return
	}

	saved, _, err := h.Store.Lookup(r.Context(), source, name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info().
		Str("source", string(source)).
		Str("simplified_name", name).
		Str("canonical_id", saved.CanonicalID).
		Bool("replace", req.Replace).
		Msg("override saved")
	writeJSON(w, http.StatusOK, saved)
}

// DeleteOverride removes an entry
func (h *OverridesHandler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	if !h.Config.Features.ManualOverrideEnabled {
		http.Error(w, "Feature disabled", http.StatusForbidden)
		return
	}

	source, name := keyFromPath(r)
	if err := h.Store.Delete(r.Context(), source, name); err != nil {
		writeError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info().
		Str("source", string(source)).
		Str("simplified_name", name).
		Msg("override deleted")
	w.WriteHeader(http.StatusNoContent)
}

// GetHistory returns the audit trail when the store keeps one
func (h *OverridesHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	historian, ok := h.Store.(override.Historian)
	if !ok {
		writeError(w, r, errors.NewNotFoundError("history", "for this store backend"))
		return
	}
	source, name := keyFromPath(r)
	records, err := historian.History(r.Context(), source, name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
