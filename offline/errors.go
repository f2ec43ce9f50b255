// Package offline provides a read-through cache and a durable write-behind
// operation queue over a REST backend, so a results client keeps working
// without connectivity and reconciles automatically once it returns.
package offline

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Mwamiri/AthS/offline/store"
)

// ErrUnavailable is returned by Read when the network is down (or failed)
// and no cache entry within the allowed age exists for the key.
// The next explicit read may succeed once connectivity returns; the cache
// never retries reads on its own.
var ErrUnavailable = errors.New("no network and no cached data available")

// ErrSyncInProgress is returned by SyncQueue when a replay is already in
// flight. Replay is strictly sequential; overlapping syncs would break the
// FIFO ordering guarantee.
var ErrSyncInProgress = errors.New("queue sync already in progress")

// TransportError wraps a network-level failure: connection refused, DNS,
// timeout. It never represents a server-side HTTP status; those are
// RequestError. Transport failures on writes are absorbed into the queue,
// on reads they trigger cache fallback.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RequestError is a server-side rejection of an online call (HTTP 4xx/5xx).
// The server answered, so this is not an offline condition: the call is
// neither queued nor retried, and the error surfaces to the caller.
type RequestError struct {
	Method string
	URL    string
	Status int
	Body   json.RawMessage
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s rejected with status %d", e.Method, e.URL, e.Status)
}

// ConflictError is a server-side rejection of a queued operation during
// replay, typically because server state diverged while the client was
// offline. The operation is removed from the queue after the confirmed
// failed attempt, dependent optimistic state must be rolled back, and the
// remainder of the queue is halted.
type ConflictError struct {
	Op     store.Op
	Status int
	Body   json.RawMessage
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("queued %s %s rejected on replay with status %d", e.Op.Method, e.Op.URL, e.Status)
}
