package match

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nged-substations/internal/dataset"
	"github.com/nged-substations/internal/errors"
)

func records(source dataset.SourceID, keys ...string) []dataset.Record {
	out := make([]dataset.Record, len(keys))
	for i, k := range keys {
		out[i] = dataset.Record{Source: source, Index: i, RawName: k, SimplifiedName: k}
	}
	return out
}

func TestMatch(t *testing.T) {
	left := records(dataset.LivePrimaryFlows, "deanshanger", "alliance and leicester", "abington")
	right := records(dataset.SubstationLocations, "abington", "alliance and leicester", "bayston hill")
	right[0].CanonicalID = "LOC-1"
	right[1].CanonicalID = "LOC-2"
	right[2].CanonicalID = "LOC-3"

	result := Match(left, right)

	require.Len(t, result.Matched, 2)
	assert.Equal(t, "abington", result.Matched[0].Left.SimplifiedName)
	assert.Equal(t, "LOC-1", result.Matched[0].Right.CanonicalID)
	assert.Equal(t, "alliance and leicester", result.Matched[1].Left.SimplifiedName)
	assert.Equal(t, "LOC-2", result.Matched[1].Right.CanonicalID)

	require.Len(t, result.LeftOnly, 1)
	assert.Equal(t, "deanshanger", result.LeftOnly[0].SimplifiedName)

	require.Len(t, result.RightOnly, 1)
	assert.Equal(t, "bayston hill", result.RightOnly[0].SimplifiedName)

	assert.Empty(t, result.Collisions)
}

func TestMatchReferenceCollision(t *testing.T) {
	left := records(dataset.LivePrimaryFlows, "kings lynn", "alveston")
	right := records(dataset.SubstationLocations, "kings lynn", "alveston", "kings lynn")

	result := Match(left, right)

	require.Len(t, result.Collisions, 1)
	c := result.Collisions[0]
	assert.Equal(t, "kings lynn", c.SimplifiedName)
	assert.Len(t, c.Left, 1)
	assert.Len(t, c.Right, 2)
	assert.Equal(t, []Side{Right}, c.Sides())

	err := c.Err()
	assert.True(t, errors.Is(err, errors.ErrCollision))
	assert.Equal(t, &errors.CollisionError{SimplifiedName: "kings lynn", LeftCount: 1, RightCount: 2}, err)

	require.Len(t, result.Matched, 1)
	assert.Equal(t, "alveston", result.Matched[0].Left.SimplifiedName)
	assert.Empty(t, result.LeftOnly)
	assert.Empty(t, result.RightOnly)
}

func TestMatchLiveCollision(t *testing.T) {
	left := records(dataset.LivePrimaryFlows, "park lane", "park lane")
	right := records(dataset.SubstationLocations, "park lane")

	result := Match(left, right)

	require.Len(t, result.Collisions, 1)
	assert.Equal(t, []Side{Left}, result.Collisions[0].Sides())
	assert.Empty(t, result.Matched)
	assert.Empty(t, result.LeftOnly)
	assert.Empty(t, result.RightOnly)
}

func TestMatchCollisionWithoutCounterpart(t *testing.T) {
	result := Match(nil, records(dataset.SubstationLocations, "park lane", "park lane"))

	require.Len(t, result.Collisions, 1)
	assert.Empty(t, result.Collisions[0].Left)
	assert.Empty(t, result.RightOnly)
}

func TestMatchDegenerateKeysNeverJoin(t *testing.T) {
	left := records(dataset.LivePrimaryFlows, "", "42")
	right := records(dataset.SubstationLocations, "", "42")

	result := Match(left, right)

	assert.Empty(t, result.Matched)
	assert.Empty(t, result.Collisions)
	assert.Len(t, result.LeftOnly, 2)
	assert.Len(t, result.RightOnly, 2)
}

func TestMatchEveryRecordAppearsOnce(t *testing.T) {
	left := records(dataset.LivePrimaryFlows, "a", "b", "b", "c", "", "d")
	right := records(dataset.SubstationLocations, "a", "c", "c", "e", "e", "f")

	result := Match(left, right)

	seen := map[dataset.SourceID]map[int]int{
		dataset.LivePrimaryFlows:    {},
		dataset.SubstationLocations: {},
	}
	for _, p := range result.Matched {
		seen[p.Left.Source][p.Left.Index]++
		seen[p.Right.Source][p.Right.Index]++
	}
	for _, r := range append(append([]dataset.Record{}, result.LeftOnly...), result.RightOnly...) {
		seen[r.Source][r.Index]++
	}
	for _, c := range result.Collisions {
		for _, r := range append(append([]dataset.Record{}, c.Left...), c.Right...) {
			seen[r.Source][r.Index]++
		}
	}

	for i := range left {
		assert.Equal(t, 1, seen[dataset.LivePrimaryFlows][i], "left record %d", i)
	}
	for i := range right {
		assert.Equal(t, 1, seen[dataset.SubstationLocations][i], "right record %d", i)
	}
}

func TestMatchDeterministic(t *testing.T) {
	left := records(dataset.LivePrimaryFlows, "z", "y", "x", "w", "w", "v")
	right := records(dataset.SubstationLocations, "v", "w", "x", "u", "u", "t")

	first, err := json.Marshal(Match(left, right))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		again, err := json.Marshal(Match(left, right))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}
