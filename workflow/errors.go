package workflow

import "fmt"

// ValidationError rejects malformed transition input (empty reason,
// unknown target state). Deterministic, never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// AuthorizationError rejects a transition requested by an actor outside
// the privileged roles. The UI should never have offered the control, but
// the engine re-checks independently. Deterministic, never retried.
type AuthorizationError struct {
	Actor Actor
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("role %q may not change workflow state", e.Actor.Role)
}

// InvalidTransitionError rejects a (from, to) pair not in the legal
// transition graph. The from state is the authoritative current state,
// never a client-supplied assumption. Deterministic, never retried.
type InvalidTransitionError struct {
	ResultID int64
	From     State
	To       State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("result %d: illegal transition %s -> %s", e.ResultID, e.From, e.To)
}
