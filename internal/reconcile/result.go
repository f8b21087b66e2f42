package reconcile

import (
	"github.com/google/uuid"

	"github.com/nged-substations/internal/dataset"
	"github.com/nged-substations/internal/errors"
	"github.com/nged-substations/internal/match"
)

// Resolution tags how a live record got (or failed to get) its canonical id
type Resolution string

const (
	ResolutionAutomatic  Resolution = "automatic"
	ResolutionOverride   Resolution = "override"
	ResolutionUnresolved Resolution = "unresolved"
)

// Reason explains an unresolved record
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonNoMatch              Reason = "no_match"
	ReasonCollision            Reason = "collision"
	ReasonNormalizationAnomaly Reason = "normalization_anomaly"
)

// WarningKind classifies a non-blocking observation about overrides
type WarningKind string

const (
	// WarnOverrideContradicts: the override points somewhere other than the automatic match
	WarnOverrideContradicts WarningKind = "override_contradicts_automatic"
	// WarnOverrideRedundant: the override agrees with the automatic match
	WarnOverrideRedundant WarningKind = "override_redundant"
	// WarnOverrideUnused: no live record carries the override's key
	WarnOverrideUnused WarningKind = "override_unused"
	// WarnOverrideKeyNotSimplified: the stored key is not a simplified name, so it can never match
	WarnOverrideKeyNotSimplified WarningKind = "override_key_not_simplified"
)

// Match is one MatchResult row, one per live record
type Match struct {
	FlowRawName        string     `json:"flow_raw_name"`
	FlowSimplifiedName string     `json:"flow_simplified_name"`
	CanonicalID        string     `json:"canonical_id,omitempty"`
	Resolution         Resolution `json:"resolution"`
	Reason             Reason     `json:"reason,omitempty"`
	ReferenceRawName   string     `json:"reference_raw_name,omitempty"`
	index              int
}

// Unresolved is one row of the curator triage report
type Unresolved struct {
	SimplifiedName string           `json:"simplified_name"`
	RawName        string           `json:"raw_name"`
	Source         dataset.SourceID `json:"source_dataset_id"`
	Reason         Reason           `json:"reason"`
}

// Warning reports a disagreement between an override and the automatic path
type Warning struct {
	Kind           WarningKind      `json:"kind"`
	Source         dataset.SourceID `json:"source_dataset_id"`
	SimplifiedName string           `json:"simplified_name"`
	OverrideID     string           `json:"override_canonical_id"`
	AutomaticID    string           `json:"automatic_canonical_id,omitempty"`
	SuggestedName  string           `json:"suggested_name,omitempty"` // set for override_key_not_simplified
}

// Stats summarises a run
type Stats struct {
	LiveRecords        int `json:"live_records"`
	ReferenceRecords   int `json:"reference_records"`
	Automatic          int `json:"automatic"`
	Override           int `json:"override"`
	Unresolved         int `json:"unresolved"`
	Collisions         int `json:"collisions"`
	Anomalies          int `json:"anomalies"`
	IntegrityErrors    int `json:"integrity_errors"`
	UnmatchedReference int `json:"unmatched_reference"`
}

// Result is everything a run produces. It is returned even when Run also
// returns integrity errors.
type Result struct {
	SnapshotID         uuid.UUID                          `json:"snapshot_id"`
	State              State                              `json:"state"`
	Live               dataset.SourceID                   `json:"live_source"`
	Reference          dataset.SourceID                   `json:"reference_source"`
	Matches            []Match                            `json:"matches"`
	Unresolved         []Unresolved                       `json:"unresolved"`
	Collisions         []match.Collision                  `json:"collisions"`
	Anomalies          []*errors.NormalizationAnomalyError `json:"anomalies"`
	IntegrityErrors    []*errors.OverrideIntegrityError   `json:"integrity_errors"`
	Warnings           []Warning                          `json:"warnings"`
	UnmatchedReference []dataset.Record                   `json:"unmatched_reference"`
	Stats              Stats                              `json:"stats"`
}

// Complete reports whether every live record was resolved
func (r *Result) Complete() bool {
	return r.State == Complete
}

// Err joins the integrity errors, or returns nil
func (r *Result) Err() error {
	if len(r.IntegrityErrors) == 0 {
		return nil
	}
	errs := make([]error, len(r.IntegrityErrors))
	for i, e := range r.IntegrityErrors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// SoftErrors lists the normalization anomalies and collisions of the run as
// errors. They never fail a run; they explain its unresolved rows.
func (r *Result) SoftErrors() []error {
	errs := make([]error, 0, len(r.Anomalies)+len(r.Collisions))
	for _, a := range r.Anomalies {
		errs = append(errs, a)
	}
	for _, c := range r.Collisions {
		errs = append(errs, c.Err())
	}
	return errs
}
