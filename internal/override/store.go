// Package override persists curator corrections that map a simplified name in
// a given source dataset to a canonical location id. Entries take precedence
// over automatic matches and are only ever removed by an explicit Delete.
package override

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/nged-substations/internal/dataset"
	"github.com/nged-substations/internal/errors"
)

// Entry is a single correction, unique per (Source, SimplifiedName)
type Entry struct {
	Source         dataset.SourceID `json:"source_dataset_id" yaml:"source_dataset_id" db:"source_dataset_id"`
	SimplifiedName string           `json:"simplified_name" yaml:"simplified_name" db:"simplified_name"`
	CanonicalID    string           `json:"canonical_id" yaml:"canonical_id" db:"canonical_id"`
	UpdatedBy      string           `json:"updated_by,omitempty" yaml:"updated_by,omitempty" db:"updated_by"`
	UpdatedAt      time.Time        `json:"updated_at" yaml:"updated_at" db:"updated_at"`
	Note           string           `json:"note,omitempty" yaml:"note,omitempty" db:"note"`
}

// Key identifies an entry
type Key struct {
	Source         dataset.SourceID
	SimplifiedName string
}

// Key returns the entry's identity
func (e Entry) Key() Key {
	return Key{Source: e.Source, SimplifiedName: e.SimplifiedName}
}

// Reader is the read side used by the reconciler
type Reader interface {
	Lookup(ctx context.Context, source dataset.SourceID, simplifiedName string) (Entry, bool, error)
	Entries(ctx context.Context, source dataset.SourceID) ([]Entry, error)
}

// Store is the curator-facing read/write contract.
type Store interface {
	Reader
	// Upsert writes an entry. Replacing an existing mapping with a different
	// canonical id requires WithReplace; otherwise a StoreWriteConflictError
	// is returned and nothing is written.
	Upsert(ctx context.Context, entry Entry, opts ...WriteOption) error
	// Delete removes an entry. Removing a mapping is always an explicit action.
	Delete(ctx context.Context, source dataset.SourceID, simplifiedName string) error
	// Sources lists the source datasets that have at least one entry
	Sources(ctx context.Context) ([]dataset.SourceID, error)
	Close() error
}

type writeOptions struct {
	replace bool
	now     func() time.Time
}

// WriteOption tunes a single Upsert
type WriteOption func(*writeOptions)

// WithReplace allows an upsert to replace a different existing canonical id
func WithReplace() WriteOption {
	return func(o *writeOptions) { o.replace = true }
}

// WithClock sets the timestamp source for UpdatedAt
func WithClock(now func() time.Time) WriteOption {
	return func(o *writeOptions) { o.now = now }
}

func buildOptions(opts []WriteOption) writeOptions {
	o := writeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// validate checks required fields and trims whitespace
func validate(entry Entry) (Entry, error) {
	entry.Source = dataset.SourceID(strings.TrimSpace(string(entry.Source)))
	entry.SimplifiedName = strings.TrimSpace(entry.SimplifiedName)
	entry.CanonicalID = strings.TrimSpace(entry.CanonicalID)

	switch {
	case entry.Source == "":
		return entry, errors.NewValidationError("source_dataset_id", entry.Source, "must not be empty")
	case entry.SimplifiedName == "":
		return entry, errors.NewValidationError("simplified_name", entry.SimplifiedName, "must not be empty")
	case entry.CanonicalID == "":
		return entry, errors.NewValidationError("canonical_id", entry.CanonicalID, "must not be empty")
	}
	return entry, nil
}

// resolveWrite decides what an upsert does given the current entry, if any.
func resolveWrite(existing *Entry, entry Entry, o writeOptions) (Entry, error) {
	if existing != nil && existing.CanonicalID != entry.CanonicalID && !o.replace {
		return Entry{}, &errors.StoreWriteConflictError{
			Source:         string(entry.Source),
			SimplifiedName: entry.SimplifiedName,
			Existing:       existing.CanonicalID,
			Attempted:      entry.CanonicalID,
		}
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = o.now().UTC()
	}
	return entry, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Source != entries[j].Source {
			return entries[i].Source < entries[j].Source
		}
		return entries[i].SimplifiedName < entries[j].SimplifiedName
	})
}

// index builds a keyed map from entries, reporting keys held more than once
// with different canonical ids. Identical duplicates collapse silently.
func index(entries []Entry) (map[Key]Entry, error) {
	byKey := make(map[Key]Entry, len(entries))
	conflicts := make(map[Key][]string)

	for _, e := range entries {
		e, err := validate(e)
		if err != nil {
			return nil, err
		}
		prev, ok := byKey[e.Key()]
		if !ok {
			byKey[e.Key()] = e
			continue
		}
		if prev.CanonicalID != e.CanonicalID {
			if len(conflicts[e.Key()]) == 0 {
				conflicts[e.Key()] = []string{prev.CanonicalID}
			}
			conflicts[e.Key()] = append(conflicts[e.Key()], e.CanonicalID)
		}
	}

	if len(conflicts) == 0 {
		return byKey, nil
	}

	keys := make([]Key, 0, len(conflicts))
	for k := range conflicts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Source != keys[j].Source {
			return keys[i].Source < keys[j].Source
		}
		return keys[i].SimplifiedName < keys[j].SimplifiedName
	})

	errs := make([]error, 0, len(keys))
	for _, k := range keys {
		errs = append(errs, &errors.OverrideCollisionError{
			Source:         string(k.Source),
			SimplifiedName: k.SimplifiedName,
			CanonicalIDs:   conflicts[k],
		})
	}
	return nil, errors.Join(errs...)
}

// snapshot is an immutable view of all entries, swapped atomically on write
type snapshot map[Key]Entry

func (s snapshot) lookup(source dataset.SourceID, name string) (Entry, bool) {
	e, ok := s[Key{Source: source, SimplifiedName: name}]
	return e, ok
}

func (s snapshot) entries(source dataset.SourceID) []Entry {
	out := make([]Entry, 0)
	for k, e := range s {
		if k.Source == source {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

func (s snapshot) all() []Entry {
	out := make([]Entry, 0, len(s))
	for _, e := range s {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

func (s snapshot) sources() []dataset.SourceID {
	seen := make(map[dataset.SourceID]bool)
	for k := range s {
		seen[k.Source] = true
	}
	out := make([]dataset.SourceID, 0, len(seen))
	for src := range seen {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// with returns a copy of s with entry set
func (s snapshot) with(entry Entry) snapshot {
	next := make(snapshot, len(s)+1)
	for k, e := range s {
		next[k] = e
	}
	next[entry.Key()] = entry
	return next
}

// without returns a copy of s with key removed
func (s snapshot) without(key Key) snapshot {
	next := make(snapshot, len(s))
	for k, e := range s {
		if k != key {
			next[k] = e
		}
	}
	return next
}

// Historian is implemented by stores that keep an audit trail
type Historian interface {
	History(ctx context.Context, source dataset.SourceID, simplifiedName string) ([]AuditRecord, error)
}
