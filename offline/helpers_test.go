package offline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Mwamiri/AthS/offline/store"
)

// fakeTransport scripts responses per URL. Each call is recorded so tests
// can assert on replay order.
type fakeTransport struct {
	mu    sync.Mutex
	calls []Request

	// respond decides the outcome of each request. Defaults to 200 {} when
	// nil.
	respond func(req Request) (Response, error)
}

func (ft *fakeTransport) Do(_ context.Context, req Request) (Response, error) {
	ft.mu.Lock()
	ft.calls = append(ft.calls, req)
	ft.mu.Unlock()

	if ft.respond == nil {
		return Response{Status: 200, Body: json.RawMessage(`{}`)}, nil
	}
	return ft.respond(req)
}

func (ft *fakeTransport) callCount() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.calls)
}

func (ft *fakeTransport) calledURLs() []string {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	urls := make([]string, len(ft.calls))
	for i, call := range ft.calls {
		urls[i] = call.URL
	}
	return urls
}

// hangingTransport simulates a server that accepts the connection and then
// stalls: it ignores cancellation and answers only once released.
type hangingTransport struct {
	release chan struct{}
}

func newHangingTransport(t *testing.T) *hangingTransport {
	t.Helper()
	ht := &hangingTransport{release: make(chan struct{})}
	t.Cleanup(func() { close(ht.release) })
	return ht
}

func (h *hangingTransport) Do(context.Context, Request) (Response, error) {
	<-h.release
	return Response{Status: 200, Body: json.RawMessage(`{}`)}, nil
}

// downTransport fails every request at the network level.
type downTransport struct{}

func (downTransport) Do(_ context.Context, req Request) (Response, error) {
	return Response{}, &TransportError{URL: req.URL, Err: errors.New("connection refused")}
}

// recordingListener captures sync notifications in order.
type recordingListener struct {
	mu         sync.Mutex
	replayed   []store.Op
	conflicted []*ConflictError
	drained    int
}

func (rl *recordingListener) OpReplayed(op store.Op, _ Response) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.replayed = append(rl.replayed, op)
}

func (rl *recordingListener) OpConflicted(_ store.Op, cerr *ConflictError) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.conflicted = append(rl.conflicted, cerr)
}

func (rl *recordingListener) QueueDrained() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.drained++
}

// fixedClock is a settable time source for aging cache entries.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(now time.Time) *fixedClock {
	return &fixedClock{now: now}
}

func (fc *fixedClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

func (fc *fixedClock) Advance(d time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.now = fc.now.Add(d)
}
