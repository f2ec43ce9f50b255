// Package workflow implements the results approval workflow: a small state
// machine that moves a competition result from capture through review and
// ratification to publication, with role-gated, audited transitions.
package workflow

import "strings"

// State is a result's position in the approval workflow.
type State string

// Workflow states, in canonical forward order.
const (
	// StateCaptured is the initial state: the result has been entered but
	// not yet checked.
	StateCaptured State = "captured"

	// StateReviewed means a registrar has checked the result.
	StateReviewed State = "reviewed"

	// StateRatified means the result has been formally approved.
	StateRatified State = "ratified"

	// StatePublished means the result is publicly visible. Publication is
	// reversible: a published result can be pulled back to ratified.
	StatePublished State = "published"
)

// transitions is the legal transition graph. Each state may step one
// position forward, and every non-initial state may step one position back.
// Skipping states is never legal.
var transitions = map[State][]State{
	StateCaptured:  {StateReviewed},
	StateReviewed:  {StateCaptured, StateRatified},
	StateRatified:  {StateReviewed, StatePublished},
	StatePublished: {StateRatified},
}

// ParseState normalizes raw workflow state text. Matching is
// case-insensitive with surrounding whitespace ignored; anything
// unrecognized (including empty) degrades to StateCaptured, so a result
// with corrupt or missing state re-enters the workflow at the start rather
// than being rejected.
func ParseState(raw string) State {
	switch State(strings.ToLower(strings.TrimSpace(raw))) {
	case StateReviewed:
		return StateReviewed
	case StateRatified:
		return StateRatified
	case StatePublished:
		return StatePublished
	default:
		return StateCaptured
	}
}

// Valid reports whether s is one of the four workflow states.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// String returns the state's wire representation.
func (s State) String() string {
	return string(s)
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Next returns the legal target states from s, in canonical order. The
// returned slice is a copy.
func (s State) Next() []State {
	legal := transitions[s]
	out := make([]State, len(legal))
	copy(out, legal)
	return out
}
