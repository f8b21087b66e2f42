package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/nged-substations/internal/errors"
	"github.com/nged-substations/internal/export"
	"github.com/nged-substations/internal/reconcile"
)

// InputLoader supplies the configured tables when a request carries none
type InputLoader func() (reconcile.Input, error)

// ReconcileHandler runs reconciliations on demand
type ReconcileHandler struct {
	Reconciler *reconcile.Reconciler
	Inputs     InputLoader
	Config     *Config

	mu     sync.RWMutex
	latest *reconcile.Result
}

// Latest returns the most recent result, or nil
func (h *ReconcileHandler) Latest() *reconcile.Result {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// run reconciles body tables if present, else the configured ones. Integrity
// errors still yield a result; the caller decides how to report them.
func (h *ReconcileHandler) run(r *http.Request) (*reconcile.Result, error) {
	var in reconcile.Input
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<20))
	if err != nil {
		return nil, errors.NewValidationError("body", nil, "failed to read request body")
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &in); err != nil {
			return nil, errors.NewValidationError("body", nil, "invalid JSON")
		}
	} else {
		if h.Inputs == nil {
			return nil, errors.NewValidationError("body", nil, "no tables in request and no sources configured")
		}
		if in, err = h.Inputs(); err != nil {
			return nil, err
		}
	}

	res, err := h.Reconciler.Run(r.Context(), in)
	if res != nil {
		h.mu.Lock()
		h.latest = res
		h.mu.Unlock()
	}
	return res, err
}

// Run handles POST /api/reconcile. The full result is returned with 200 even
// when overrides fail integrity checks; those are listed in integrity_errors.
func (h *ReconcileHandler) Run(w http.ResponseWriter, r *http.Request) {
	res, err := h.run(r)
	if res == nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Unresolved handles GET /api/reconcile/unresolved; ?format=csv gives the triage CSV
func (h *ReconcileHandler) Unresolved(w http.ResponseWriter, r *http.Request) {
	res, err := h.run(r)
	if res == nil {
		writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+string(res.Live)+`_unresolved.csv"`)
		if err := export.WriteUnresolvedCSV(w, res.Unresolved); err != nil {
			writeError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, res.Unresolved)
}

// ExportMatches handles GET /api/reconcile/matches, the mapping for downstream use
func (h *ReconcileHandler) ExportMatches(w http.ResponseWriter, r *http.Request) {
	if !h.Config.Features.ExportEnabled {
		http.Error(w, "Export feature disabled", http.StatusForbidden)
		return
	}

	res, err := h.run(r)
	if res == nil {
		writeError(w, r, err)
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+string(res.Live)+`_matches.csv"`)
		if err := export.WriteMatchesCSV(w, res.Matches); err != nil {
			writeError(w, r, err)
		}
	case "json":
		writeJSON(w, http.StatusOK, res.Matches)
	default:
		writeError(w, r, errors.NewValidationError("format", r.URL.Query().Get("format"), "use csv or json"))
	}
}
