package reconcile

import (
	"encoding/json"
	"fmt"
)

// State is a stage of one reconciliation run
type State int

const (
	Loaded State = iota
	Normalized
	AutoMatched
	OverrideApplied
	Validated
	Complete
	PartialUnresolved
)

var stateNames = map[State]string{
	Loaded:            "loaded",
	Normalized:        "normalized",
	AutoMatched:       "auto_matched",
	OverrideApplied:   "override_applied",
	Validated:         "validated",
	Complete:          "complete",
	PartialUnresolved: "partial_unresolved",
}

// transitions lists the legal next states
var transitions = map[State][]State{
	Loaded:          {Normalized},
	Normalized:      {AutoMatched},
	AutoMatched:     {OverrideApplied},
	OverrideApplied: {Validated},
	Validated:       {Complete, PartialUnresolved},
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == Complete || s == PartialUnresolved
}

// MarshalJSON encodes the state by name
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state name
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for st, n := range stateNames {
		if n == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown reconcile state %q", name)
}

// advance moves from one state to the next, panicking on an illegal step.
// Transitions are fixed by the run sequence, so an illegal one is a bug.
func advance(from, to State) State {
	for _, next := range transitions[from] {
		if next == to {
			return to
		}
	}
	panic(fmt.Sprintf("reconcile: illegal transition %s -> %s", from, to))
}
