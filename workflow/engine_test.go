package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Mwamiri/AthS/offline"
	"github.com/Mwamiri/AthS/offline/store"
)

var resultPath = regexp.MustCompile(`/api/results/(\d+)(/workflow)?$`)

// fakeBackend is a scripted results server speaking the REST shapes the
// engine expects.
type fakeBackend struct {
	mu           sync.Mutex
	status       map[int64]State
	history      map[int64][]Transition
	posts        int
	down         bool
	rejectStatus int // non-zero: reject every POST with this status
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		status:  make(map[int64]State),
		history: make(map[int64][]Transition),
	}
}

func (b *fakeBackend) Do(_ context.Context, req offline.Request) (offline.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.down {
		return offline.Response{}, &offline.TransportError{URL: req.URL, Err: errors.New("network down")}
	}

	m := resultPath.FindStringSubmatch(req.URL)
	if m == nil {
		return offline.Response{Status: 404, Body: json.RawMessage(`{"error":"not found"}`)}, nil
	}
	id, _ := strconv.ParseInt(m[1], 10, 64)
	isWorkflow := m[2] != ""

	switch {
	case req.Method == "GET" && !isWorkflow:
		payload := fmt.Sprintf(`{"id":%d,"race_id":1,"athlete_id":1,"athlete_name":"Test Athlete","position":1,"workflow_status":%q}`,
			id, b.status[id])
		return offline.Response{Status: 200, Body: json.RawMessage(payload)}, nil

	case req.Method == "GET" && isWorkflow:
		body, _ := json.Marshal(map[string]interface{}{
			"current_status": b.status[id],
			"transitions":    b.history[id],
		})
		return offline.Response{Status: 200, Body: body}, nil

	case req.Method == "POST" && isWorkflow:
		b.posts++
		if b.rejectStatus != 0 {
			return offline.Response{Status: b.rejectStatus, Body: json.RawMessage(`{"error":"state diverged"}`)}, nil
		}
		var tr transitionRequest
		if err := json.Unmarshal(req.Body, &tr); err != nil {
			return offline.Response{Status: 400, Body: json.RawMessage(`{"error":"bad request"}`)}, nil
		}
		from := b.status[id]
		to := ParseState(tr.ToState)
		b.status[id] = to
		entry := Transition{
			ResultID:  id,
			From:      from,
			To:        to,
			Reason:    tr.Reason,
			Actor:     tr.Actor,
			Timestamp: time.Now().UTC(),
		}
		b.history[id] = append(b.history[id], entry)
		body, _ := json.Marshal(map[string]interface{}{
			"ok":        true,
			"timestamp": entry.Timestamp,
		})
		return offline.Response{Status: 200, Body: body}, nil
	}

	return offline.Response{Status: 405, Body: json.RawMessage(`{"error":"method not allowed"}`)}, nil
}

func (b *fakeBackend) setDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *fakeBackend) postCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.posts
}

func (b *fakeBackend) currentStatus(id int64) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status[id]
}

// recordingSink captures sink notifications.
type recordingSink struct {
	mu         sync.Mutex
	applied    []Transition
	confirmed  []Transition
	rolledBack []Transition
}

func (rs *recordingSink) TransitionApplied(t Transition) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.applied = append(rs.applied, t)
}

func (rs *recordingSink) TransitionConfirmed(t Transition) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.confirmed = append(rs.confirmed, t)
}

func (rs *recordingSink) TransitionRolledBack(t Transition, _ error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rolledBack = append(rs.rolledBack, t)
}

func newTestEngine(t *testing.T, backend *fakeBackend) (*Engine, *offline.Cache, *recordingSink) {
	t.Helper()
	cache := offline.New(store.NewMemStore(), backend)
	sink := &recordingSink{}
	engine := NewEngine(cache, "http://api.test", WithSink(sink))
	return engine, cache, sink
}

var registrar = Actor{ID: "u1", Name: "R. Registrar", Role: RoleRegistrar}

func TestRequestTransition_CapturedToReviewed(t *testing.T) {
	backend := newFakeBackend()
	backend.status[42] = StateCaptured
	engine, _, sink := newTestEngine(t, backend)

	tr, err := engine.RequestTransition(t.Context(), 42, StateReviewed, "photo-finish reviewed", registrar)
	if err != nil {
		t.Fatalf("RequestTransition failed: %v", err)
	}
	if tr.From != StateCaptured || tr.To != StateReviewed {
		t.Errorf("transition = %s -> %s", tr.From, tr.To)
	}
	if tr.Provisional {
		t.Error("online transition must not be provisional")
	}
	if backend.currentStatus(42) != StateReviewed {
		t.Errorf("server status = %s, want reviewed", backend.currentStatus(42))
	}

	hist, err := engine.GetHistory(t.Context(), 42)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(hist.Entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(hist.Entries))
	}
	if hist.Entries[0].From != StateCaptured || hist.Entries[0].To != StateReviewed {
		t.Errorf("history entry = %s -> %s", hist.Entries[0].From, hist.Entries[0].To)
	}
	if hist.Entries[0].Reason != "photo-finish reviewed" {
		t.Errorf("reason = %q", hist.Entries[0].Reason)
	}
	if hist.Current != StateReviewed {
		t.Errorf("current = %s, want reviewed", hist.Current)
	}
	if len(sink.applied) != 1 {
		t.Errorf("expected 1 applied notification, got %d", len(sink.applied))
	}
}

func TestRequestTransition_UnprivilegedActor(t *testing.T) {
	backend := newFakeBackend()
	backend.status[42] = StateReviewed
	engine, _, _ := newTestEngine(t, backend)

	athlete := Actor{ID: "u2", Name: "A. Athlete", Role: "athlete"}
	_, err := engine.RequestTransition(t.Context(), 42, StateRatified, "looks right to me", athlete)

	var authErr *AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthorizationError, got %v", err)
	}
	if backend.postCount() != 0 {
		t.Error("unauthorized request must never reach the network")
	}
	hist, _ := engine.GetHistory(t.Context(), 42)
	if len(hist.Entries) != 0 {
		t.Errorf("history must be unchanged, got %d entries", len(hist.Entries))
	}
}

func TestRequestTransition_IllegalJump(t *testing.T) {
	backend := newFakeBackend()
	backend.status[42] = StateReviewed
	engine, _, _ := newTestEngine(t, backend)

	_, err := engine.RequestTransition(t.Context(), 42, StatePublished, "publish early", registrar)

	var invErr *InvalidTransitionError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected *InvalidTransitionError, got %v", err)
	}
	if invErr.From != StateReviewed || invErr.To != StatePublished {
		t.Errorf("error pair = %s -> %s", invErr.From, invErr.To)
	}
	if backend.postCount() != 0 {
		t.Error("illegal transition must never reach the network")
	}
}

func TestRequestTransition_BlankReason(t *testing.T) {
	backend := newFakeBackend()
	backend.status[42] = StateCaptured
	engine, _, _ := newTestEngine(t, backend)

	for _, reason := range []string{"", "   ", "\t\n"} {
		_, err := engine.RequestTransition(t.Context(), 42, StateReviewed, reason, registrar)
		var valErr *ValidationError
		if !errors.As(err, &valErr) {
			t.Errorf("reason %q: expected *ValidationError, got %v", reason, err)
		}
	}
	if backend.postCount() != 0 {
		t.Error("invalid requests must never reach the network")
	}
}

func TestRequestTransition_UnknownTargetState(t *testing.T) {
	backend := newFakeBackend()
	backend.status[42] = StateCaptured
	engine, _, _ := newTestEngine(t, backend)

	_, err := engine.RequestTransition(t.Context(), 42, State("archived"), "tidy up", registrar)
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
}

func TestRequestTransition_StaleClientStateIgnored(t *testing.T) {
	// The server says ratified; a client that believes the result is still
	// reviewed must have its request judged against the server state.
	backend := newFakeBackend()
	backend.status[42] = StateRatified
	engine, _, _ := newTestEngine(t, backend)

	// ratified -> published is legal; it would not be from reviewed.
	tr, err := engine.RequestTransition(t.Context(), 42, StatePublished, "final publication", registrar)
	if err != nil {
		t.Fatalf("RequestTransition failed: %v", err)
	}
	if tr.From != StateRatified {
		t.Errorf("From = %s, want the authoritative ratified", tr.From)
	}
}

func TestHistory_IsConnectedChain(t *testing.T) {
	backend := newFakeBackend()
	backend.status[42] = StateCaptured
	engine, _, _ := newTestEngine(t, backend)

	steps := []struct {
		to     State
		reason string
	}{
		{StateReviewed, "first check"},
		{StateRatified, "jury approved"},
		{StatePublished, "posted to board"},
		{StateRatified, "pulled for correction"},
		{StateReviewed, "re-check requested"},
	}
	for _, step := range steps {
		if _, err := engine.RequestTransition(t.Context(), 42, step.to, step.reason, registrar); err != nil {
			t.Fatalf("transition to %s failed: %v", step.to, err)
		}
	}

	hist, err := engine.GetHistory(t.Context(), 42)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(hist.Entries) != len(steps) {
		t.Fatalf("expected %d entries, got %d", len(steps), len(hist.Entries))
	}
	for i := 0; i < len(hist.Entries)-1; i++ {
		if hist.Entries[i].To != hist.Entries[i+1].From {
			t.Errorf("history broken at %d: %s -> %s then %s -> %s",
				i, hist.Entries[i].From, hist.Entries[i].To,
				hist.Entries[i+1].From, hist.Entries[i+1].To)
		}
	}
	if hist.Current != StateReviewed {
		t.Errorf("current = %s, want reviewed", hist.Current)
	}
}

func TestRequestTransition_OfflineOptimistic(t *testing.T) {
	backend := newFakeBackend()
	backend.status[42] = StateReviewed
	engine, cache, sink := newTestEngine(t, backend)

	// Prime the cache while online so the current state and history are
	// resolvable offline.
	if _, _, err := engine.GetResult(t.Context(), 42); err != nil {
		t.Fatalf("priming read failed: %v", err)
	}
	if _, err := engine.GetHistory(t.Context(), 42); err != nil {
		t.Fatalf("priming history read failed: %v", err)
	}

	backend.setDown(true)
	if err := cache.SetOnline(t.Context(), false); err != nil {
		t.Fatalf("SetOnline(false) failed: %v", err)
	}

	tr, err := engine.RequestTransition(t.Context(), 42, StateRatified, "jury approved", registrar)
	if err != nil {
		t.Fatalf("offline transition failed: %v", err)
	}
	if !tr.Provisional {
		t.Fatal("offline transition must be provisional")
	}

	// The optimistic state is visible immediately.
	state, fromCache, err := engine.CurrentState(t.Context(), 42)
	if err != nil {
		t.Fatalf("CurrentState failed: %v", err)
	}
	if state != StateRatified {
		t.Errorf("optimistic state = %s, want ratified", state)
	}
	if !fromCache {
		t.Error("offline read should be served from cache")
	}
	if pending := engine.PendingTransitions(42); len(pending) != 1 {
		t.Fatalf("expected 1 pending transition, got %d", len(pending))
	}

	// History shows the provisional entry at the end.
	hist, err := engine.GetHistory(t.Context(), 42)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	last := hist.Entries[len(hist.Entries)-1]
	if !last.Provisional || last.To != StateRatified {
		t.Errorf("last entry = %+v, want provisional -> ratified", last)
	}

	// Reconnect: the queued write replays, the transition confirms.
	backend.setDown(false)
	if err := cache.SetOnline(t.Context(), true); err != nil {
		t.Fatalf("SetOnline(true) failed: %v", err)
	}

	if backend.currentStatus(42) != StateRatified {
		t.Errorf("server status = %s, want ratified after replay", backend.currentStatus(42))
	}
	if pending := engine.PendingTransitions(42); len(pending) != 0 {
		t.Errorf("expected no pending transitions after replay, got %d", len(pending))
	}
	if len(sink.confirmed) != 1 {
		t.Errorf("expected 1 confirmed notification, got %d", len(sink.confirmed))
	}
	if depth, _ := cache.QueueDepth(t.Context()); depth != 0 {
		t.Errorf("queue depth = %d, want 0", depth)
	}
}

func TestRequestTransition_RollbackOnConflict(t *testing.T) {
	backend := newFakeBackend()
	backend.status[42] = StateReviewed
	engine, cache, sink := newTestEngine(t, backend)

	if _, _, err := engine.GetResult(t.Context(), 42); err != nil {
		t.Fatalf("priming read failed: %v", err)
	}

	backend.setDown(true)
	if err := cache.SetOnline(t.Context(), false); err != nil {
		t.Fatalf("SetOnline(false) failed: %v", err)
	}
	if _, err := engine.RequestTransition(t.Context(), 42, StateRatified, "jury approved", registrar); err != nil {
		t.Fatalf("offline transition failed: %v", err)
	}

	// Another actor changed the record meanwhile; the server rejects the
	// replay.
	backend.setDown(false)
	backend.mu.Lock()
	backend.rejectStatus = 409
	backend.mu.Unlock()

	err := cache.SetOnline(t.Context(), true)
	var cerr *offline.ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConflictError from sync, got %v", err)
	}

	// Optimistic state is gone, not silently kept.
	if pending := engine.PendingTransitions(42); len(pending) != 0 {
		t.Errorf("expected rollback to clear pending transitions, got %d", len(pending))
	}
	if len(sink.rolledBack) != 1 {
		t.Fatalf("expected 1 rollback notification, got %d", len(sink.rolledBack))
	}
	if sink.rolledBack[0].To != StateRatified {
		t.Errorf("rolled back transition = %+v", sink.rolledBack[0])
	}

	backend.mu.Lock()
	backend.rejectStatus = 0
	backend.mu.Unlock()

	state, _, err := engine.CurrentState(t.Context(), 42)
	if err != nil {
		t.Fatalf("CurrentState failed: %v", err)
	}
	if state != StateReviewed {
		t.Errorf("state after rollback = %s, want the server's reviewed", state)
	}
}

func TestRequestTransition_ChainedOfflineTransitionsRollBackTogether(t *testing.T) {
	backend := newFakeBackend()
	backend.status[42] = StateCaptured
	engine, cache, sink := newTestEngine(t, backend)

	if _, _, err := engine.GetResult(t.Context(), 42); err != nil {
		t.Fatalf("priming read failed: %v", err)
	}
	backend.setDown(true)
	if err := cache.SetOnline(t.Context(), false); err != nil {
		t.Fatalf("SetOnline(false) failed: %v", err)
	}

	// Two chained provisional transitions: captured -> reviewed -> ratified.
	if _, err := engine.RequestTransition(t.Context(), 42, StateReviewed, "first check", registrar); err != nil {
		t.Fatalf("first offline transition failed: %v", err)
	}
	if _, err := engine.RequestTransition(t.Context(), 42, StateRatified, "jury approved", registrar); err != nil {
		t.Fatalf("second offline transition failed: %v", err)
	}

	// Server rejects the first replay; the second chained off it and must
	// fall with it.
	backend.setDown(false)
	backend.mu.Lock()
	backend.rejectStatus = 409
	backend.mu.Unlock()

	var cerr *offline.ConflictError
	if err := cache.SetOnline(t.Context(), true); !errors.As(err, &cerr) {
		t.Fatalf("expected *ConflictError, got %v", err)
	}

	if pending := engine.PendingTransitions(42); len(pending) != 0 {
		t.Errorf("expected all chained transitions rolled back, got %d pending", len(pending))
	}
	if len(sink.rolledBack) != 2 {
		t.Errorf("expected 2 rollback notifications, got %d", len(sink.rolledBack))
	}
}

func TestRequestTransition_UsesServerTimestamp(t *testing.T) {
	backend := newFakeBackend()
	backend.status[42] = StateCaptured
	cache := offline.New(store.NewMemStore(), backend)

	// A deliberately skewed local clock: the confirmed transition must
	// carry the server's timestamp, not this one.
	skewed := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	engine := NewEngine(cache, "http://api.test", WithClock(func() time.Time { return skewed }))

	tr, err := engine.RequestTransition(t.Context(), 42, StateReviewed, "photo-finish reviewed", registrar)
	if err != nil {
		t.Fatalf("RequestTransition failed: %v", err)
	}

	backend.mu.Lock()
	serverTS := backend.history[42][0].Timestamp
	backend.mu.Unlock()

	if !tr.Timestamp.Equal(serverTS) {
		t.Errorf("Timestamp = %v, want server's %v", tr.Timestamp, serverTS)
	}
	if tr.Timestamp.Equal(skewed) {
		t.Error("confirmed transition kept the local clock timestamp")
	}
}

func TestOpReplayed_UntrackedOpStillInvalidatesCache(t *testing.T) {
	backend := newFakeBackend()
	backend.status[42] = StateCaptured
	st := store.NewMemStore()
	cache := offline.New(st, backend)
	engine := NewEngine(cache, "http://api.test", WithSink(&recordingSink{}))

	if _, _, err := engine.GetResult(t.Context(), 42); err != nil {
		t.Fatalf("priming read failed: %v", err)
	}
	backend.setDown(true)
	if err := cache.SetOnline(t.Context(), false); err != nil {
		t.Fatalf("SetOnline(false) failed: %v", err)
	}

	// Two chained provisional transitions, then a conflict on the first:
	// the rollback drops the engine's overlay, but the second op stays
	// durably queued.
	if _, err := engine.RequestTransition(t.Context(), 42, StateReviewed, "first check", registrar); err != nil {
		t.Fatalf("first offline transition failed: %v", err)
	}
	if _, err := engine.RequestTransition(t.Context(), 42, StateRatified, "jury approved", registrar); err != nil {
		t.Fatalf("second offline transition failed: %v", err)
	}

	backend.setDown(false)
	backend.mu.Lock()
	backend.rejectStatus = 409
	backend.mu.Unlock()

	var cerr *offline.ConflictError
	if err := cache.SetOnline(t.Context(), true); !errors.As(err, &cerr) {
		t.Fatalf("expected *ConflictError, got %v", err)
	}
	if depth, _ := cache.QueueDepth(t.Context()); depth != 1 {
		t.Fatalf("expected successor op still queued, depth = %d", depth)
	}

	// Cache a record, then let the server accept the orphaned op: even
	// though the engine no longer tracks it, the stale cached record must
	// be dropped.
	backend.mu.Lock()
	backend.rejectStatus = 0
	backend.mu.Unlock()
	if _, _, err := engine.GetResult(t.Context(), 42); err != nil {
		t.Fatalf("re-priming read failed: %v", err)
	}

	if err := cache.SyncQueue(t.Context()); err != nil {
		t.Fatalf("SyncQueue failed: %v", err)
	}
	if _, err := st.GetEntry(t.Context(), "results:42"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected cached record invalidated after orphaned replay, got %v", err)
	}
	if depth, _ := cache.QueueDepth(t.Context()); depth != 0 {
		t.Errorf("queue depth = %d, want 0", depth)
	}
}

func TestGetResult_NormalizesAndOverlays(t *testing.T) {
	backend := newFakeBackend()
	backend.status[7] = StatePublished
	engine, _, _ := newTestEngine(t, backend)

	res, fromCache, err := engine.GetResult(t.Context(), 7)
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if fromCache {
		t.Error("online read should be live")
	}
	if res.Status != StatePublished {
		t.Errorf("Status = %s, want published", res.Status)
	}
	if res.Athlete != "Test Athlete" {
		t.Errorf("Athlete = %q", res.Athlete)
	}
}
