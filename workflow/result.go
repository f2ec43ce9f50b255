package workflow

import (
	"encoding/json"
	"fmt"
)

// Result is a single athlete's outcome in one event of one race, in the
// canonical internal shape. Results are created by officials in the
// captured state and move only through legal workflow transitions; the
// core never deletes them.
type Result struct {
	ID        int64  `json:"id"`
	RaceID    int64  `json:"race_id"`
	EventID   int64  `json:"event_id"`
	AthleteID int64  `json:"athlete_id"`
	Athlete   string `json:"athlete_name"`
	Position  int    `json:"position"`
	Time      string `json:"time,omitempty"`
	Notes     string `json:"notes,omitempty"`
	Status    State  `json:"workflow_status"`
}

// rawResult tolerates the shape variance of server responses: snake_case
// and camelCase spellings, and several names for the workflow status
// field. This is the only place that accepts variant shapes; everything
// past NormalizeResult sees the canonical Result.
type rawResult struct {
	ID        int64  `json:"id"`
	RaceID    int64  `json:"race_id"`
	RaceIDAlt int64  `json:"raceId"`
	EventID   int64  `json:"event_id"`
	EventAlt  int64  `json:"eventId"`
	AthID     int64  `json:"athlete_id"`
	AthIDAlt  int64  `json:"athleteId"`
	Athlete   string `json:"athlete_name"`
	AthleteA  string `json:"athleteName"`
	Position  int    `json:"position"`
	Time      string `json:"time"`
	Notes     string `json:"notes"`
	Status    string `json:"workflow_status"`
	StatusA   string `json:"workflowStatus"`
	StatusB   string `json:"status"`
}

// NormalizeResult decodes a server result payload into the canonical
// shape. Field-name variants are folded together and the workflow status
// is normalized through ParseState, so an unknown or missing status comes
// out as captured rather than failing.
func NormalizeResult(payload json.RawMessage) (Result, error) {
	var raw rawResult
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}

	res := Result{
		ID:        raw.ID,
		RaceID:    firstInt64(raw.RaceID, raw.RaceIDAlt),
		EventID:   firstInt64(raw.EventID, raw.EventAlt),
		AthleteID: firstInt64(raw.AthID, raw.AthIDAlt),
		Athlete:   firstString(raw.Athlete, raw.AthleteA),
		Position:  raw.Position,
		Time:      raw.Time,
		Notes:     raw.Notes,
		Status:    ParseState(firstString(raw.Status, raw.StatusA, raw.StatusB)),
	}
	return res, nil
}

// NormalizeResults decodes a server result list, normalizing each element.
func NormalizeResults(payload json.RawMessage) ([]Result, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(payload, &raws); err != nil {
		return nil, fmt.Errorf("decode result list: %w", err)
	}

	out := make([]Result, 0, len(raws))
	for i, raw := range raws {
		res, err := NormalizeResult(raw)
		if err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
		out = append(out, res)
	}
	return out, nil
}

func firstInt64(vals ...int64) int64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
