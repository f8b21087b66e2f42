package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nged-substations/internal/config"
	"github.com/nged-substations/internal/errors"
	"github.com/nged-substations/internal/logging"
	"github.com/nged-substations/internal/override"
	"github.com/nged-substations/internal/reconcile"
)

// Config is the part of the server configuration handlers need
type Config struct {
	Features config.FeatureConfig
}

// errorResponse is the JSON body of every error reply
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP status codes
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := http.StatusInternalServerError, ""
	switch {
	case errors.Is(err, errors.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, errors.ErrInvalidInput):
		status, kind = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, errors.ErrStoreWriteConflict):
		status, kind = http.StatusConflict, "store_write_conflict"
	case errors.Is(err, errors.ErrOverrideIntegrity):
		status, kind = http.StatusUnprocessableEntity, "override_integrity"
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error().Err(err).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

// APIHandler serves health and summary endpoints
type APIHandler struct {
	Store     override.Store
	Reconcile *ReconcileHandler
	Started   time.Time
}

// StatsResponse summarises the override store and the latest run
type StatsResponse struct {
	Overrides map[string]int   `json:"overrides"`
	LastRun   *reconcile.Stats `json:"last_run,omitempty"`
	LastState string           `json:"last_state,omitempty"`
	Uptime    string           `json:"uptime"`
}

// Health reports liveness
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetStats returns override counts per source and the latest run summary
func (h *APIHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sources, err := h.Store.Sources(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}

	stats := StatsResponse{
		Overrides: make(map[string]int, len(sources)),
		Uptime:    time.Since(h.Started).Round(time.Second).String(),
	}
	for _, s := range sources {
		entries, err := h.Store.Entries(ctx, s)
		if err != nil {
			writeError(w, r, err)
			return
		}
		stats.Overrides[string(s)] = len(entries)
	}

	if h.Reconcile != nil {
		if last := h.Reconcile.Latest(); last != nil {
			stats.LastRun = &last.Stats
			stats.LastState = last.State.String()
		}
	}
	writeJSON(w, http.StatusOK, stats)
}
