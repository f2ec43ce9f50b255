package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// Transition is one immutable audit record of a workflow state change.
// Provisional transitions were applied locally while offline and await
// server confirmation; confirmed transitions carry the server timestamp.
type Transition struct {
	ResultID    int64     `json:"result_id"`
	From        State     `json:"from_state"`
	To          State     `json:"to_state"`
	Reason      string    `json:"reason"`
	Actor       Actor     `json:"actor"`
	Timestamp   time.Time `json:"timestamp"`
	Provisional bool      `json:"provisional,omitempty"`
}

// History is the ordered transition record for one result, oldest first,
// plus the current authoritative state. FromCache is set when the view was
// served from the offline cache rather than live, so the UI can tell the
// user the audit trail may be stale.
type History struct {
	ResultID  int64        `json:"result_id"`
	Current   State        `json:"current_status"`
	Entries   []Transition `json:"transitions"`
	FromCache bool         `json:"-"`
}

// rawHistory mirrors the server's workflow history payload, tolerating
// both spellings of the current-state field.
type rawHistory struct {
	Current     string          `json:"current_status"`
	CurrentAlt  string          `json:"currentStatus"`
	Transitions []rawTransition `json:"transitions"`
}

type rawTransition struct {
	From      string    `json:"from_state"`
	FromAlt   string    `json:"fromState"`
	To        string    `json:"to_state"`
	ToAlt     string    `json:"toState"`
	Reason    string    `json:"reason"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

// normalizeHistory decodes a server history payload into the canonical
// shape, normalizing every state value through ParseState.
func normalizeHistory(resultID int64, payload json.RawMessage) (History, error) {
	var raw rawHistory
	if err := json.Unmarshal(payload, &raw); err != nil {
		return History{}, fmt.Errorf("decode workflow history: %w", err)
	}

	hist := History{
		ResultID: resultID,
		Current:  ParseState(firstString(raw.Current, raw.CurrentAlt)),
		Entries:  make([]Transition, 0, len(raw.Transitions)),
	}
	for _, rt := range raw.Transitions {
		hist.Entries = append(hist.Entries, Transition{
			ResultID:  resultID,
			From:      ParseState(firstString(rt.From, rt.FromAlt)),
			To:        ParseState(firstString(rt.To, rt.ToAlt)),
			Reason:    rt.Reason,
			Actor:     rt.Actor,
			Timestamp: rt.Timestamp,
		})
	}
	return hist, nil
}
