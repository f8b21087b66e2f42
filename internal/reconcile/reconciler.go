// Package reconcile assigns canonical location ids to live-flow records.
//
// A run walks Loaded → Normalized → AutoMatched → OverrideApplied → Validated
// and ends in Complete or PartialUnresolved. Unresolved records are a normal
// outcome meant for curator triage; only override integrity violations are
// returned as errors, and even then the full Result is returned alongside.
package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nged-substations/internal/dataset"
	"github.com/nged-substations/internal/errors"
	"github.com/nged-substations/internal/logging"
	"github.com/nged-substations/internal/match"
	"github.com/nged-substations/internal/normalize"
	"github.com/nged-substations/internal/override"
)

var snapshotNamespace = uuid.MustParse("6f1d7c1e-8a52-4c0e-9d55-2b7f0c3e9a41")

// Input is one pair of already-loaded tables. Live rows carry no canonical id;
// every Reference row must carry one.
type Input struct {
	Live      dataset.Table `json:"live"`
	Reference dataset.Table `json:"reference"`
}

// Reconciler runs reconciliations against an injected override store
type Reconciler struct {
	normalizer *normalize.Normalizer
	overrides  override.Reader
	logger     zerolog.Logger
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// New creates a reconciler
func New(normalizer *normalize.Normalizer, overrides override.Reader, opts ...Option) *Reconciler {
	r := &Reconciler{
		normalizer: normalizer,
		overrides:  overrides,
		logger:     *logging.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run carries the working state of one invocation
type run struct {
	state     State
	live      []dataset.Record
	reference []dataset.Record
	joined    match.Result
	overrides []override.Entry
	result    *Result
}

func (r *run) to(next State) {
	r.state = advance(r.state, next)
}

// Run reconciles one pair. The error is non-nil when the input is unusable,
// the override store cannot be read, or any override fails integrity
// validation; in the last case the returned Result is complete and usable.
func (r *Reconciler) Run(ctx context.Context, in Input) (*Result, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}

	log := r.logger.With().
		Str("live_source", string(in.Live.Source)).
		Str("reference_source", string(in.Reference.Source)).
		Logger()
	defer logging.Timing(&log, "reconcile")()

	rn := &run{
		state: Loaded,
		result: &Result{
			Live:      in.Live.Source,
			Reference: in.Reference.Source,
		},
	}

	r.normalize(rn, in)
	log.Debug().Stringer("state", rn.state).Int("anomalies", len(rn.result.Anomalies)).Msg("names normalized")

	rn.joined = match.Match(rn.live, rn.reference)
	rn.result.Collisions = rn.joined.Collisions
	rn.result.UnmatchedReference = rn.joined.RightOnly
	rn.to(AutoMatched)
	log.Debug().
		Int("matched", len(rn.joined.Matched)).
		Int("live_only", len(rn.joined.LeftOnly)).
		Int("reference_only", len(rn.joined.RightOnly)).
		Int("collisions", len(rn.joined.Collisions)).
		Msg("automatic join done")

	entries, err := r.overrides.Entries(ctx, in.Live.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to load overrides for %s: %w", in.Live.Source, err)
	}
	rn.overrides = entries
	r.applyOverrides(rn, in.Reference.CanonicalIDs())
	rn.to(OverrideApplied)

	if err := validateCoverage(rn); err != nil {
		return nil, err
	}
	rn.to(Validated)

	res := rn.result
	if res.Stats.Unresolved == 0 {
		rn.to(Complete)
	} else {
		rn.to(PartialUnresolved)
	}
	res.State = rn.state
	res.SnapshotID = snapshotID(in, rn.overrides)

	for _, c := range res.Collisions {
		log.Warn().Err(c.Err()).Msg("ambiguous simplified name")
	}
	for _, ie := range res.IntegrityErrors {
		log.Error().Err(ie).Msg("override failed integrity check")
	}
	for _, w := range res.Warnings {
		log.Warn().
			Str("kind", string(w.Kind)).
			Str("simplified_name", w.SimplifiedName).
			Str("override_id", w.OverrideID).
			Str("automatic_id", w.AutomaticID).
			Msg("override warning")
	}
	log.Info().
		Stringer("state", res.State).
		Int("automatic", res.Stats.Automatic).
		Int("override", res.Stats.Override).
		Int("unresolved", res.Stats.Unresolved).
		Msg("reconciliation finished")

	return res, res.Err()
}

func checkInput(in Input) error {
	if in.Live.Source == "" || in.Reference.Source == "" {
		return errors.NewValidationError("source_dataset_id", "", "both tables need a source dataset id")
	}
	if in.Live.Source == in.Reference.Source {
		return errors.NewValidationError("source_dataset_id", in.Live.Source, "live and reference tables must come from different sources")
	}
	for i, row := range in.Reference.Rows {
		if row.CanonicalID == "" {
			return errors.NewValidationError("canonical_id", i,
				fmt.Sprintf("reference row %d (%q) has no canonical id", i, row.RawName))
		}
	}
	return nil
}

// normalize simplifies both sides and records degenerate names
func (r *Reconciler) normalize(rn *run, in Input) {
	toRecords := func(t dataset.Table) []dataset.Record {
		out := make([]dataset.Record, len(t.Rows))
		for i, row := range t.Rows {
			simplified := r.normalizer.Simplify(row.RawName, t.Source)
			out[i] = dataset.Record{
				Source:         t.Source,
				Index:          i,
				RawName:        row.RawName,
				SimplifiedName: simplified,
				CanonicalID:    row.CanonicalID,
			}
			if normalize.IsDegenerate(simplified) {
				rn.result.Anomalies = append(rn.result.Anomalies, &errors.NormalizationAnomalyError{
					Source:         string(t.Source),
					RawName:        row.RawName,
					SimplifiedName: simplified,
				})
			}
		}
		return out
	}

	rn.live = toRecords(in.Live)
	rn.reference = toRecords(in.Reference)
	rn.to(Normalized)
}

// applyOverrides resolves every live record. Valid overrides win over
// automatic matches; invalid ones are reported and ignored so that adding
// an override can never grow the unresolved set. Keys that are not in
// simplified form could never match and are reported as warnings.
func (r *Reconciler) applyOverrides(rn *run, knownIDs map[string]bool) {
	res := rn.result

	valid := make(map[string]override.Entry, len(rn.overrides))
	for _, e := range rn.overrides {
		if !knownIDs[e.CanonicalID] {
			res.IntegrityErrors = append(res.IntegrityErrors, &errors.OverrideIntegrityError{
				Source:         string(e.Source),
				SimplifiedName: e.SimplifiedName,
				CanonicalID:    e.CanonicalID,
			})
			continue
		}
		if !r.normalizer.IsSimplified(e.SimplifiedName, e.Source) {
			res.Warnings = append(res.Warnings, Warning{
				Kind:           WarnOverrideKeyNotSimplified,
				Source:         e.Source,
				SimplifiedName: e.SimplifiedName,
				OverrideID:     e.CanonicalID,
				SuggestedName:  r.normalizer.Simplify(e.SimplifiedName, e.Source),
			})
			continue
		}
		valid[e.SimplifiedName] = e
	}

	auto := make(map[int]dataset.Record, len(rn.joined.Matched))
	for _, p := range rn.joined.Matched {
		auto[p.Left.Index] = p.Right
	}
	collided := make(map[int]bool)
	for _, c := range rn.joined.Collisions {
		for _, l := range c.Left {
			collided[l.Index] = true
		}
	}
	referenceByID := make(map[string]string, len(rn.reference))
	for _, ref := range rn.reference {
		if _, ok := referenceByID[ref.CanonicalID]; !ok {
			referenceByID[ref.CanonicalID] = ref.RawName
		}
	}

	used := make(map[string]bool)
	res.Matches = make([]Match, 0, len(rn.live))
	res.Unresolved = make([]Unresolved, 0)

	for _, rec := range rn.live {
		m := Match{
			FlowRawName:        rec.RawName,
			FlowSimplifiedName: rec.SimplifiedName,
			index:              rec.Index,
		}
		ref, hasAuto := auto[rec.Index]

		entry, hasOverride := valid[rec.SimplifiedName]
		if rec.SimplifiedName == "" {
			hasOverride = false
		}

		switch {
		case hasOverride:
			used[rec.SimplifiedName] = true
			m.CanonicalID = entry.CanonicalID
			m.Resolution = ResolutionOverride
			m.ReferenceRawName = referenceByID[entry.CanonicalID]
			if hasAuto {
				kind := WarnOverrideRedundant
				if ref.CanonicalID != entry.CanonicalID {
					kind = WarnOverrideContradicts
				}
				res.Warnings = append(res.Warnings, Warning{
					Kind:           kind,
					Source:         rec.Source,
					SimplifiedName: rec.SimplifiedName,
					OverrideID:     entry.CanonicalID,
					AutomaticID:    ref.CanonicalID,
				})
			}
			res.Stats.Override++
		case hasAuto:
			m.CanonicalID = ref.CanonicalID
			m.Resolution = ResolutionAutomatic
			m.ReferenceRawName = ref.RawName
			res.Stats.Automatic++
		default:
			m.Resolution = ResolutionUnresolved
			switch {
			case collided[rec.Index]:
				m.Reason = ReasonCollision
			case normalize.IsDegenerate(rec.SimplifiedName):
				m.Reason = ReasonNormalizationAnomaly
			default:
				m.Reason = ReasonNoMatch
			}
			res.Unresolved = append(res.Unresolved, Unresolved{
				SimplifiedName: rec.SimplifiedName,
				RawName:        rec.RawName,
				Source:         rec.Source,
				Reason:         m.Reason,
			})
			res.Stats.Unresolved++
		}
		res.Matches = append(res.Matches, m)
	}

	for name, e := range valid {
		if !used[name] {
			res.Warnings = append(res.Warnings, Warning{
				Kind:           WarnOverrideUnused,
				Source:         e.Source,
				SimplifiedName: name,
				OverrideID:     e.CanonicalID,
			})
		}
	}

	sort.SliceStable(res.Matches, func(i, j int) bool {
		a, b := res.Matches[i], res.Matches[j]
		if a.FlowSimplifiedName != b.FlowSimplifiedName {
			return a.FlowSimplifiedName < b.FlowSimplifiedName
		}
		return a.index < b.index
	})
	// live records were visited in index order, so a stable sort by name keeps index order
	sort.SliceStable(res.Unresolved, func(i, j int) bool {
		return res.Unresolved[i].SimplifiedName < res.Unresolved[j].SimplifiedName
	})
	sort.Slice(res.Warnings, func(i, j int) bool {
		a, b := res.Warnings[i], res.Warnings[j]
		if a.SimplifiedName != b.SimplifiedName {
			return a.SimplifiedName < b.SimplifiedName
		}
		return a.Kind < b.Kind
	})
	sort.Slice(res.IntegrityErrors, func(i, j int) bool {
		return res.IntegrityErrors[i].SimplifiedName < res.IntegrityErrors[j].SimplifiedName
	})

	res.Stats.LiveRecords = len(rn.live)
	res.Stats.ReferenceRecords = len(rn.reference)
	res.Stats.Collisions = len(rn.joined.Collisions)
	res.Stats.Anomalies = len(res.Anomalies)
	res.Stats.IntegrityErrors = len(res.IntegrityErrors)
	res.Stats.UnmatchedReference = len(rn.joined.RightOnly)
}

// validateCoverage checks that every live record has exactly one row and
// that each row is either resolved to an id or flagged unresolved, never both.
func validateCoverage(rn *run) error {
	rows := make(map[int]int, len(rn.live))
	var errs []error

	for _, m := range rn.result.Matches {
		rows[m.index]++
		resolved := m.CanonicalID != "" && m.Resolution != ResolutionUnresolved
		flagged := m.CanonicalID == "" && m.Resolution == ResolutionUnresolved
		if resolved == flagged {
			errs = append(errs, &errors.CoverageError{RawName: m.FlowRawName, Index: m.index, Paths: 2})
		}
	}
	for _, rec := range rn.live {
		if n := rows[rec.Index]; n != 1 {
			errs = append(errs, &errors.CoverageError{RawName: rec.RawName, Index: rec.Index, Paths: n})
		}
	}
	if len(rn.result.Unresolved) != rn.result.Stats.Unresolved {
		errs = append(errs, fmt.Errorf("%w: report lists %d unresolved rows, result counts %d",
			errors.ErrCoverage, len(rn.result.Unresolved), rn.result.Stats.Unresolved))
	}
	return errors.Join(errs...)
}

// snapshotID is derived from the inputs and override snapshot only, so
// identical snapshots produce identical results.
func snapshotID(in Input, entries []override.Entry) uuid.UUID {
	var buf bytes.Buffer
	writeTable := func(t dataset.Table) {
		fmt.Fprintf(&buf, "table\x1f%s\x1f%d\x1e", t.Source, len(t.Rows))
		for _, row := range t.Rows {
			fmt.Fprintf(&buf, "%s\x1f%s\x1e", row.RawName, row.CanonicalID)
		}
	}
	writeTable(in.Live)
	writeTable(in.Reference)
	for _, e := range entries {
		fmt.Fprintf(&buf, "override\x1f%s\x1f%s\x1f%s\x1e", e.Source, e.SimplifiedName, e.CanonicalID)
	}
	return uuid.NewSHA1(snapshotNamespace, buf.Bytes())
}
