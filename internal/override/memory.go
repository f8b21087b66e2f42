package override

import (
	"context"
	"sync"

	"github.com/nged-substations/internal/dataset"
	"github.com/nged-substations/internal/errors"
)

// MemoryStore keeps entries in process memory. Used in tests and as the
// backing snapshot for FileStore.
type MemoryStore struct {
	writeMu sync.Mutex   // serializes writers
	mu      sync.RWMutex // guards snap
	snap    snapshot
}

// NewMemoryStore creates a store seeded with entries
func NewMemoryStore(entries ...Entry) (*MemoryStore, error) {
	byKey, err := index(entries)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{snap: snapshot(byKey)}, nil
}

func (m *MemoryStore) current() snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

func (m *MemoryStore) swap(next snapshot) {
	m.mu.Lock()
	m.snap = next
	m.mu.Unlock()
}

// Lookup returns the entry for a key
func (m *MemoryStore) Lookup(_ context.Context, source dataset.SourceID, simplifiedName string) (Entry, bool, error) {
	e, ok := m.current().lookup(source, simplifiedName)
	return e, ok, nil
}

// Entries returns all entries for a source sorted by simplified name
func (m *MemoryStore) Entries(_ context.Context, source dataset.SourceID) ([]Entry, error) {
	return m.current().entries(source), nil
}

// All returns every entry across sources
func (m *MemoryStore) All() []Entry {
	return m.current().all()
}

// Sources lists sources with entries
func (m *MemoryStore) Sources(_ context.Context) ([]dataset.SourceID, error) {
	return m.current().sources(), nil
}

// Upsert writes an entry
func (m *MemoryStore) Upsert(ctx context.Context, entry Entry, opts ...WriteOption) error {
	return m.apply(entry, opts, nil)
}

// apply performs an upsert and calls persist with the next snapshot before it
// becomes visible. A persist error leaves the store unchanged.
func (m *MemoryStore) apply(entry Entry, opts []WriteOption, persist func(snapshot) error) error {
	entry, err := validate(entry)
	if err != nil {
		return err
	}
	o := buildOptions(opts)

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur := m.current()
	var existing *Entry
	if e, ok := cur[entry.Key()]; ok {
		existing = &e
	}
	entry, err = resolveWrite(existing, entry, o)
	if err != nil {
		return err
	}

	next := cur.with(entry)
	if persist != nil {
		if err := persist(next); err != nil {
			return err
		}
	}
	m.swap(next)
	return nil
}

// Delete removes an entry
func (m *MemoryStore) Delete(_ context.Context, source dataset.SourceID, simplifiedName string) error {
	return m.remove(Key{Source: source, SimplifiedName: simplifiedName}, nil)
}

func (m *MemoryStore) remove(key Key, persist func(snapshot) error) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur := m.current()
	if _, ok := cur[key]; !ok {
		return errors.NewNotFoundError("override", string(key.Source)+"/"+key.SimplifiedName)
	}

	next := cur.without(key)
	if persist != nil {
		if err := persist(next); err != nil {
			return err
		}
	}
	m.swap(next)
	return nil
}

// Close is a no-op
func (m *MemoryStore) Close() error {
	return nil
}
