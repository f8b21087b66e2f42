package override

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nged-substations/internal/dataset"
	"github.com/nged-substations/internal/errors"
)

var fixedClock = WithClock(func() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
})

func entry(name, id string) Entry {
	return Entry{Source: dataset.LivePrimaryFlows, SimplifiedName: name, CanonicalID: id}
}

// stores returns a fresh instance of each in-process implementation
func stores(t *testing.T) map[string]Store {
	t.Helper()

	mem, err := NewMemoryStore()
	require.NoError(t, err)

	csvStore, err := OpenFile(filepath.Join(t.TempDir(), "overrides.csv"))
	require.NoError(t, err)

	yamlStore, err := OpenFile(filepath.Join(t.TempDir(), "overrides.yaml"))
	require.NoError(t, err)

	return map[string]Store{"memory": mem, "csv": csvStore, "yaml": yamlStore}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.Lookup(ctx, dataset.LivePrimaryFlows, "deanshanger")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Upsert(ctx, entry("deanshanger", "LOC-00417"), fixedClock))
			require.NoError(t, store.Upsert(ctx, entry("abington", "LOC-00001"), fixedClock))

			got, ok, err := store.Lookup(ctx, dataset.LivePrimaryFlows, "deanshanger")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "LOC-00417", got.CanonicalID)
			assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), got.UpdatedAt)

			entries, err := store.Entries(ctx, dataset.LivePrimaryFlows)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "abington", entries[0].SimplifiedName)
			assert.Equal(t, "deanshanger", entries[1].SimplifiedName)

			others, err := store.Entries(ctx, dataset.SubstationLocations)
			require.NoError(t, err)
			assert.Empty(t, others)

			sources, err := store.Sources(ctx)
			require.NoError(t, err)
			assert.Equal(t, []dataset.SourceID{dataset.LivePrimaryFlows}, sources)
		})
	}
}

func TestStoreRejectsConflictWithoutReplace(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Upsert(ctx, entry("kings lynn", "LOC-1")))

			// Same canonical id is not a conflict.
			require.NoError(t, store.Upsert(ctx, Entry{
				Source: dataset.LivePrimaryFlows, SimplifiedName: "kings lynn", CanonicalID: "LOC-1", Note: "checked",
			}))

			err := store.Upsert(ctx, entry("kings lynn", "LOC-2"))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrStoreWriteConflict))

			var conflict *errors.StoreWriteConflictError
			require.True(t, errors.As(err, &conflict))
			assert.Equal(t, "LOC-1", conflict.Existing)
			assert.Equal(t, "LOC-2", conflict.Attempted)

			got, _, err := store.Lookup(ctx, dataset.LivePrimaryFlows, "kings lynn")
			require.NoError(t, err)
			assert.Equal(t, "LOC-1", got.CanonicalID)
			assert.Equal(t, "checked", got.Note)

			require.NoError(t, store.Upsert(ctx, entry("kings lynn", "LOC-2"), WithReplace()))
			got, _, err = store.Lookup(ctx, dataset.LivePrimaryFlows, "kings lynn")
			require.NoError(t, err)
			assert.Equal(t, "LOC-2", got.CanonicalID)
		})
	}
}

func TestStoreValidation(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore()
	require.NoError(t, err)

	cases := []Entry{
		{SimplifiedName: "a", CanonicalID: "1"},
		{Source: dataset.LivePrimaryFlows, CanonicalID: "1"},
		{Source: dataset.LivePrimaryFlows, SimplifiedName: "a", CanonicalID: "  "},
	}
	for i, e := range cases {
		err := store.Upsert(ctx, e)
		assert.True(t, errors.Is(err, errors.ErrInvalidInput), "case %d: %v", i, err)
	}
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Delete(ctx, dataset.LivePrimaryFlows, "missing")
			assert.True(t, errors.Is(err, errors.ErrNotFound))

			require.NoError(t, store.Upsert(ctx, entry("deanshanger", "LOC-00417")))
			require.NoError(t, store.Delete(ctx, dataset.LivePrimaryFlows, "deanshanger"))

			_, ok, err := store.Lookup(ctx, dataset.LivePrimaryFlows, "deanshanger")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreConcurrentWritesSameKey(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, store.Upsert(ctx, entry("alveston", fmt.Sprintf("LOC-%02d", i)), WithReplace()))
				}(i)
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _, err := store.Lookup(ctx, dataset.LivePrimaryFlows, "alveston")
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			entries, err := store.Entries(ctx, dataset.LivePrimaryFlows)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Regexp(t, `^LOC-\d\d$`, entries[0].CanonicalID)

			if fs, ok := store.(*FileStore); ok {
				reopened, err := OpenFile(fs.Path())
				require.NoError(t, err)
				got, ok, err := reopened.Lookup(ctx, dataset.LivePrimaryFlows, "alveston")
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, entries[0].CanonicalID, got.CanonicalID)
			}
		})
	}
}

func TestNewMemoryStoreRejectsCollidingEntries(t *testing.T) {
	_, err := NewMemoryStore(
		entry("kings lynn", "LOC-1"),
		entry("kings lynn", "LOC-1"),
		entry("park lane", "LOC-7"),
		entry("park lane", "LOC-8"),
	)
	require.Error(t, err)

	var collision *errors.OverrideCollisionError
	require.True(t, errors.As(err, &collision))
	assert.Equal(t, "park lane", collision.SimplifiedName)
	assert.Equal(t, []string{"LOC-7", "LOC-8"}, collision.CanonicalIDs)
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()

	for _, ext := range []string{"csv", "yaml", "json"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "overrides."+ext)

			store, err := OpenFile(path)
			require.NoError(t, err)
			require.NoError(t, store.Upsert(ctx, Entry{
				Source:         dataset.LivePrimaryFlows,
				SimplifiedName: "deanshanger",
				CanonicalID:    "LOC-00417",
				UpdatedBy:      "curator",
				Note:           "renamed in 2024, see ticket",
			}, fixedClock))

			reopened, err := OpenFile(path)
			require.NoError(t, err)
			got, ok, err := reopened.Lookup(ctx, dataset.LivePrimaryFlows, "deanshanger")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "LOC-00417", got.CanonicalID)
			assert.Equal(t, "curator", got.UpdatedBy)
			assert.Equal(t, "renamed in 2024, see ticket", got.Note)
			assert.True(t, got.UpdatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

			leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".*.tmp"))
			require.NoError(t, err)
			assert.Empty(t, leftovers)
		})
	}
}

func TestOpenFileHandEdited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.csv")
	content := "simplified_name,canonical_id,source_dataset_id\n" +
		"deanshanger,LOC-00417,live_primary_flows\n" +
		"\n" +
		"kings lynn,LOC-00200,live_primary_flows\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	store, err := OpenFile(path)
	require.NoError(t, err)
	assert.Len(t, store.All(), 2)
}

func TestOpenFileRejectsDuplicateKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.csv")
	content := "source_dataset_id,simplified_name,canonical_id\n" +
		"live_primary_flows,deanshanger,LOC-00417\n" +
		"live_primary_flows,deanshanger,LOC-00999\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := OpenFile(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStoreWriteConflict))
}

func TestOpenFileHandEditedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.json")
	content := `{"overrides": [
  {"source_dataset_id": "live_primary_flows", "simplified_name": "deanshanger", "canonical_id": "LOC-00417", "updated_at": "2024-03-01T09:30:00Z"}
]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	store, err := OpenFile(path)
	require.NoError(t, err)
	got, ok, err := store.Lookup(context.Background(), dataset.LivePrimaryFlows, "deanshanger")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "LOC-00417", got.CanonicalID)

	format, err := FormatFor("OVERRIDES.JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, format)
}

func TestOpenFileRejectsUnknownExtension(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "overrides.txt"))
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestFailedPersistLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.csv")

	store, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, entry("deanshanger", "LOC-00417")))

	// Replace the target with a directory so the rename fails.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "keep"), nil, 0o644))

	err = store.Upsert(ctx, entry("abington", "LOC-00001"))
	require.Error(t, err)

	_, ok, err := store.Lookup(ctx, dataset.LivePrimaryFlows, "abington")
	require.NoError(t, err)
	assert.False(t, ok)
}
