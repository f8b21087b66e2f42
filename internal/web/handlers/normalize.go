package handlers

import (
	"net/http"

	"github.com/nged-substations/internal/dataset"
	"github.com/nged-substations/internal/errors"
	"github.com/nged-substations/internal/normalize"
)

// NormalizeHandler shows how a raw name is simplified
type NormalizeHandler struct {
	Normalizer *normalize.Normalizer
}

// NormalizeResponse is the result of GET /api/normalize
type NormalizeResponse struct {
	RawName        string           `json:"raw_name"`
	Source         dataset.SourceID `json:"source_dataset_id"`
	SimplifiedName string           `json:"simplified_name"`
	Degenerate     bool             `json:"degenerate"`
	Steps          []normalize.Step `json:"steps"`
}

// Explain handles GET /api/normalize?name=...&source=...
func (h *NormalizeHandler) Explain(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := q.Get("name")
	if raw == "" {
		writeError(w, r, errors.NewValidationError("name", "", "name is required"))
		return
	}
	source := dataset.SourceID(q.Get("source"))
	if source == "" {
		source = dataset.LivePrimaryFlows
	}

	steps := h.Normalizer.Explain(raw, source)
	simplified := steps[len(steps)-1].Output
	writeJSON(w, http.StatusOK, NormalizeResponse{
		RawName:        raw,
		Source:         source,
		SimplifiedName: simplified,
		Degenerate:     normalize.IsDegenerate(simplified),
		Steps:          steps,
	})
}
