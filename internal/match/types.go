package match

import (
	"github.com/nged-substations/internal/dataset"
	"github.com/nged-substations/internal/errors"
)

// Side identifies which input of a join a record came from
type Side string

const (
	Left  Side = "left"
	Right Side = "right"
)

// Pair is an automatic match: exactly one record on each side shares the key
type Pair struct {
	Left  dataset.Record `json:"left"`
	Right dataset.Record `json:"right"`
}

// Collision is a key held by more than one record on at least one side.
// All records carrying the key, from both sides, are listed so none of them
// can also appear as a residual.
type Collision struct {
	SimplifiedName string           `json:"simplified_name"`
	Left           []dataset.Record `json:"left"`
	Right          []dataset.Record `json:"right"`
}

// Sides returns the sides on which the key is duplicated
func (c Collision) Sides() []Side {
	var sides []Side
	if len(c.Left) > 1 {
		sides = append(sides, Left)
	}
	if len(c.Right) > 1 {
		sides = append(sides, Right)
	}
	return sides
}

// Err returns the collision as a soft error for reports and logs
func (c Collision) Err() *errors.CollisionError {
	return &errors.CollisionError{
		SimplifiedName: c.SimplifiedName,
		LeftCount:      len(c.Left),
		RightCount:     len(c.Right),
	}
}

// Result is the outcome of a join. Every input record appears in exactly one
// of Matched, LeftOnly, RightOnly or Collisions.
type Result struct {
	Matched    []Pair           `json:"matched"`
	LeftOnly   []dataset.Record `json:"left_only"`
	RightOnly  []dataset.Record `json:"right_only"`
	Collisions []Collision      `json:"collisions"`
}
