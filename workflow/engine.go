package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Mwamiri/AthS/emit"
	"github.com/Mwamiri/AthS/offline"
	"github.com/Mwamiri/AthS/offline/store"
)

// Sink receives workflow notifications for presentation. The core exposes
// plain data; rendering belongs to the implementer. NullSink discards
// everything.
type Sink interface {
	// TransitionApplied fires when a transition is accepted locally,
	// confirmed or provisional (check Transition.Provisional).
	TransitionApplied(t Transition)

	// TransitionConfirmed fires when a provisional transition is accepted
	// by the server during queue replay.
	TransitionConfirmed(t Transition)

	// TransitionRolledBack fires when a provisional transition is rejected
	// on replay and its optimistic state has been discarded. cause is the
	// replay conflict.
	TransitionRolledBack(t Transition, cause error)
}

// NullSink discards all notifications.
type NullSink struct{}

func (NullSink) TransitionApplied(Transition) {}

func (NullSink) TransitionConfirmed(Transition) {}

func (NullSink) TransitionRolledBack(Transition, error) {}

// resultsListKey caches the full results listing.
const resultsListKey = "results"

func resultKey(id int64) string  { return fmt.Sprintf("results:%d", id) }
func historyKey(id int64) string { return fmt.Sprintf("results:%d:history", id) }

// pendingEntry tracks one provisional transition awaiting replay.
type pendingEntry struct {
	opID string
	t    Transition
}

// Engine enforces the legal workflow state graph for results and maintains
// the auditable transition history. All network I/O goes through the
// offline cache: online transitions confirm immediately, offline ones are
// applied optimistically and reconciled when the queue replays.
//
// Register the engine on its cache with Cache.Subscribe so replay outcomes
// flow back into provisional state.
type Engine struct {
	cache   *offline.Cache
	baseURL string
	emitter emit.Emitter
	metrics *Metrics
	sink    Sink
	clock   func() time.Time

	mu      sync.RWMutex
	overlay map[int64][]pendingEntry // provisional transitions per result, FIFO
	results map[string]int64         // op ID -> result ID
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSink sets the presentation sink.
func WithSink(sink Sink) EngineOption {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithEmitter sets the observability event receiver.
func WithEmitter(emitter emit.Emitter) EngineOption {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock substitutes the time source used for provisional timestamps.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewEngine creates an Engine over cache, targeting the REST backend at
// baseURL, and subscribes it for replay notifications.
func NewEngine(cache *offline.Cache, baseURL string, opts ...EngineOption) *Engine {
	e := &Engine{
		cache:   cache,
		baseURL: strings.TrimRight(baseURL, "/"),
		emitter: emit.NewNullEmitter(),
		sink:    NullSink{},
		clock:   time.Now,
		overlay: make(map[int64][]pendingEntry),
		results: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(e)
	}
	cache.Subscribe(e)
	return e
}

// transitionRequest is the wire body of a workflow transition POST.
type transitionRequest struct {
	ToState string `json:"to_state"`
	Reason  string `json:"reason"`
	Actor   Actor  `json:"actor"`
}

// RequestTransition validates and executes a workflow state change for the
// given result.
//
// Validation is local and ordered: a blank reason fails with
// *ValidationError, an unknown target state fails with *ValidationError,
// an unprivileged actor fails with *AuthorizationError, and an illegal
// (current, to) pair fails with *InvalidTransitionError. The current state
// is read from the authoritative record, never taken from the caller.
// These rejections are deterministic and never reach the network.
//
// Once validated, the transition is posted through the offline cache.
// Online, the returned Transition is confirmed and the affected cache keys
// are invalidated. Offline, the transition is applied optimistically with
// Provisional=true; it is confirmed or rolled back when the queue replays.
func (e *Engine) RequestTransition(ctx context.Context, resultID int64, to State, reason string, actor Actor) (Transition, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		e.reject("reason_required")
		return Transition{}, &ValidationError{Field: "reason", Msg: "reason required"}
	}
	if !to.Valid() {
		e.reject("unknown_state")
		return Transition{}, &ValidationError{Field: "to_state", Msg: fmt.Sprintf("unknown workflow state %q", to)}
	}
	if !actor.CanTransition() {
		e.reject("unauthorized")
		return Transition{}, &AuthorizationError{Actor: actor}
	}

	current, _, err := e.CurrentState(ctx, resultID)
	if err != nil {
		return Transition{}, fmt.Errorf("resolve current state of result %d: %w", resultID, err)
	}
	if !current.CanTransition(to) {
		e.reject("illegal_transition")
		return Transition{}, &InvalidTransitionError{ResultID: resultID, From: current, To: to}
	}

	body, err := json.Marshal(transitionRequest{ToState: to.String(), Reason: reason, Actor: actor})
	if err != nil {
		return Transition{}, fmt.Errorf("encode transition request: %w", err)
	}

	res, err := e.cache.Write(ctx, e.workflowURL(resultID), "POST", body)
	if err != nil {
		e.countTransition(current, to, "rejected")
		return Transition{}, err
	}

	t := Transition{
		ResultID:    resultID,
		From:        current,
		To:          to,
		Reason:      reason,
		Actor:       actor,
		Timestamp:   e.clock(),
		Provisional: res.Pending,
	}

	if res.Pending {
		e.mu.Lock()
		e.overlay[resultID] = append(e.overlay[resultID], pendingEntry{opID: res.OpID, t: t})
		e.results[res.OpID] = resultID
		e.mu.Unlock()

		e.countTransition(current, to, "pending")
		e.emitter.Emit(emit.Event{Subject: resultKey(resultID), Msg: "transition_pending", Meta: map[string]interface{}{
			"from": current.String(), "to": to.String(), "op_id": res.OpID,
		}})
	} else {
		// The server assigns the authoritative timestamp on a confirmed
		// transition.
		if ts, ok := serverTimestamp(res.Body); ok {
			t.Timestamp = ts
		}
		// Next reads must see the new state.
		if ierr := e.invalidateResult(ctx, resultID); ierr != nil {
			e.emitter.Emit(emit.Event{Subject: resultKey(resultID), Msg: "invalidate_failed", Meta: map[string]interface{}{"error": ierr.Error()}})
		}
		e.countTransition(current, to, "ok")
		e.emitter.Emit(emit.Event{Subject: resultKey(resultID), Msg: "transition_confirmed", Meta: map[string]interface{}{
			"from": current.String(), "to": to.String(),
		}})
	}

	e.setProvisionalGauge()
	e.sink.TransitionApplied(t)
	return t, nil
}

// GetResult returns the canonical result record, with any provisional
// transitions applied to its workflow status. The second return reports
// whether the record was served from cache.
func (e *Engine) GetResult(ctx context.Context, resultID int64) (Result, bool, error) {
	read, err := e.cache.ReadURL(ctx, resultKey(resultID), e.resultURL(resultID), 0)
	if err != nil {
		return Result{}, false, err
	}
	res, err := NormalizeResult(read.Payload)
	if err != nil {
		return Result{}, false, err
	}

	e.mu.RLock()
	if pending := e.overlay[resultID]; len(pending) > 0 {
		res.Status = pending[len(pending)-1].t.To
	}
	e.mu.RUnlock()

	return res, read.FromCache, nil
}

// ListResults returns all results, normalized, with provisional workflow
// states applied.
func (e *Engine) ListResults(ctx context.Context) ([]Result, bool, error) {
	read, err := e.cache.ReadURL(ctx, resultsListKey, e.baseURL+"/api/results", 0)
	if err != nil {
		return nil, false, err
	}
	results, err := NormalizeResults(read.Payload)
	if err != nil {
		return nil, false, err
	}

	e.mu.RLock()
	for i := range results {
		if pending := e.overlay[results[i].ID]; len(pending) > 0 {
			results[i].Status = pending[len(pending)-1].t.To
		}
	}
	e.mu.RUnlock()

	return results, read.FromCache, nil
}

// CurrentState returns the result's authoritative workflow state with
// provisional transitions applied, and whether it came from cache.
func (e *Engine) CurrentState(ctx context.Context, resultID int64) (State, bool, error) {
	res, fromCache, err := e.GetResult(ctx, resultID)
	if err != nil {
		return "", false, err
	}
	return res.Status, fromCache, nil
}

// GetHistory returns the ordered transition history for a result, oldest
// first, plus the current state. Provisional transitions are appended
// after the server-confirmed entries, flagged Provisional. The read goes
// through the cache under its standard TTL; History.FromCache reports a
// cached serve.
func (e *Engine) GetHistory(ctx context.Context, resultID int64) (History, error) {
	read, err := e.cache.ReadURL(ctx, historyKey(resultID), e.workflowURL(resultID), 0)
	if err != nil {
		return History{}, err
	}
	hist, err := normalizeHistory(resultID, read.Payload)
	if err != nil {
		return History{}, err
	}
	hist.FromCache = read.FromCache

	e.mu.RLock()
	for _, pe := range e.overlay[resultID] {
		hist.Entries = append(hist.Entries, pe.t)
		hist.Current = pe.t.To
	}
	e.mu.RUnlock()

	return hist, nil
}

// PendingTransitions returns the provisional transitions for a result,
// oldest first. Empty when everything is confirmed.
func (e *Engine) PendingTransitions(resultID int64) []Transition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pending := e.overlay[resultID]
	out := make([]Transition, 0, len(pending))
	for _, pe := range pending {
		out = append(out, pe.t)
	}
	return out
}

// OpReplayed confirms the provisional transition behind a successfully
// replayed operation. Implements offline.SyncListener.
func (e *Engine) OpReplayed(op store.Op, _ offline.Response) {
	e.mu.Lock()
	resultID, ok := e.results[op.ID]
	var confirmed Transition
	if ok {
		delete(e.results, op.ID)
		pending := e.overlay[resultID]
		for i, pe := range pending {
			if pe.opID == op.ID {
				confirmed = pe.t
				confirmed.Provisional = false
				e.overlay[resultID] = append(pending[:i:i], pending[i+1:]...)
				break
			}
		}
		if len(e.overlay[resultID]) == 0 {
			delete(e.overlay, resultID)
		}
	}
	e.mu.Unlock()

	if !ok {
		// An op whose overlay entry was rolled back earlier (or one queued
		// by a previous process) can still replay successfully and change
		// server state; the cached record is stale either way.
		if staleID, matched := resultIDFromOp(op); matched {
			if err := e.invalidateResult(context.Background(), staleID); err != nil {
				e.emitter.Emit(emit.Event{Subject: resultKey(staleID), Msg: "invalidate_failed", Meta: map[string]interface{}{"error": err.Error()}})
			}
			e.emitter.Emit(emit.Event{Subject: resultKey(staleID), Msg: "replay_reconciled", Meta: map[string]interface{}{"op_id": op.ID}})
		}
		return
	}

	ctx := context.Background()
	if err := e.invalidateResult(ctx, resultID); err != nil {
		e.emitter.Emit(emit.Event{Subject: resultKey(resultID), Msg: "invalidate_failed", Meta: map[string]interface{}{"error": err.Error()}})
	}

	e.countTransition(confirmed.From, confirmed.To, "confirmed")
	e.setProvisionalGauge()
	e.emitter.Emit(emit.Event{Subject: resultKey(resultID), Msg: "transition_confirmed", Meta: map[string]interface{}{
		"from": confirmed.From.String(), "to": confirmed.To.String(),
	}})
	e.sink.TransitionConfirmed(confirmed)
}

// OpConflicted rolls back the provisional transition behind a rejected
// replay, together with any later provisional transitions on the same
// result that chained from it. Implements offline.SyncListener.
func (e *Engine) OpConflicted(op store.Op, cerr *offline.ConflictError) {
	e.mu.Lock()
	resultID, ok := e.results[op.ID]
	var rolledBack []Transition
	if ok {
		pending := e.overlay[resultID]
		for i, pe := range pending {
			if pe.opID != op.ID {
				continue
			}
			// Everything from the conflicted transition onward chained off
			// a state the server refused; none of it can stand.
			for _, dropped := range pending[i:] {
				rolledBack = append(rolledBack, dropped.t)
				delete(e.results, dropped.opID)
			}
			e.overlay[resultID] = pending[:i:i]
			break
		}
		if len(e.overlay[resultID]) == 0 {
			delete(e.overlay, resultID)
		}
	}
	e.mu.Unlock()

	if len(rolledBack) == 0 {
		return
	}

	ctx := context.Background()
	if err := e.invalidateResult(ctx, resultID); err != nil {
		e.emitter.Emit(emit.Event{Subject: resultKey(resultID), Msg: "invalidate_failed", Meta: map[string]interface{}{"error": err.Error()}})
	}

	for _, t := range rolledBack {
		e.countTransition(t.From, t.To, "rolled_back")
		e.emitter.Emit(emit.Event{Subject: resultKey(resultID), Msg: "transition_rolled_back", Meta: map[string]interface{}{
			"from": t.From.String(), "to": t.To.String(), "error": cerr.Error(),
		}})
		e.sink.TransitionRolledBack(t, cerr)
	}
	e.setProvisionalGauge()
}

// QueueDrained implements offline.SyncListener.
func (e *Engine) QueueDrained() {
	e.emitter.Emit(emit.Event{Subject: "workflow", Msg: "queue_drained"})
}

var workflowPath = regexp.MustCompile(`/api/results/(\d+)/workflow$`)

// resultIDFromOp recovers the result a queued workflow operation targets
// from its URL.
func resultIDFromOp(op store.Op) (int64, bool) {
	m := workflowPath.FindStringSubmatch(op.URL)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// serverTimestamp extracts the server-assigned timestamp from a transition
// response, tolerating both a top-level field and a nested transition
// object.
func serverTimestamp(body json.RawMessage) (time.Time, bool) {
	var resp struct {
		Timestamp  time.Time `json:"timestamp"`
		Transition struct {
			Timestamp time.Time `json:"timestamp"`
		} `json:"transition"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, false
	}
	if !resp.Timestamp.IsZero() {
		return resp.Timestamp, true
	}
	if !resp.Transition.Timestamp.IsZero() {
		return resp.Transition.Timestamp, true
	}
	return time.Time{}, false
}

func (e *Engine) resultURL(id int64) string {
	return fmt.Sprintf("%s/api/results/%d", e.baseURL, id)
}

func (e *Engine) workflowURL(id int64) string {
	return fmt.Sprintf("%s/api/results/%d/workflow", e.baseURL, id)
}

// invalidateResult drops the cache keys a transition affects: the record,
// its history, and the results listing.
func (e *Engine) invalidateResult(ctx context.Context, resultID int64) error {
	return e.cache.Invalidate(ctx, resultKey(resultID), historyKey(resultID), resultsListKey)
}

func (e *Engine) reject(reason string) {
	if e.metrics != nil {
		e.metrics.Rejected(reason)
	}
}

func (e *Engine) countTransition(from, to State, outcome string) {
	if e.metrics != nil {
		e.metrics.TransitionFinished(from, to, outcome)
	}
}

func (e *Engine) setProvisionalGauge() {
	if e.metrics == nil {
		return
	}
	e.mu.RLock()
	count := 0
	for _, pending := range e.overlay {
		count += len(pending)
	}
	e.mu.RUnlock()
	e.metrics.SetProvisional(count)
}
