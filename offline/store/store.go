package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested cache entry or queued operation
// does not exist.
var ErrNotFound = errors.New("not found")

// Entry is a cached snapshot of one network response.
//
// Entries are written on every successful GET and consulted whenever the
// network is unavailable. Age-based expiry is enforced by the cache layer,
// not the store; the store only records CreatedAt.
type Entry struct {
	// Key identifies the cached request, e.g. "results:raceA".
	Key string `json:"key"`

	// Payload is the raw JSON body returned by the server.
	Payload json.RawMessage `json:"payload"`

	// Version tags the cache schema that wrote this entry. Entries written
	// by an incompatible schema are treated as absent by the cache layer.
	Version string `json:"version"`

	// CreatedAt is the write time, used for age-based expiry.
	CreatedAt time.Time `json:"created_at"`
}

// Op is a deferred mutating network call, recorded while offline and
// replayed in enqueue order once connectivity returns.
type Op struct {
	// ID uniquely identifies the operation. The cache derives it from the
	// request identity and enqueue time, so replays are traceable.
	ID string `json:"id"`

	// URL is the absolute target of the original request.
	URL string `json:"url"`

	// Method is the HTTP method of the original request.
	Method string `json:"method"`

	// Body is the original JSON request body, replayed verbatim.
	Body json.RawMessage `json:"body"`

	// EnqueuedAt records when the operation was queued. Replay order is
	// insertion order, with EnqueuedAt kept for display and debugging.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Store provides durable persistence for cache entries and the operation
// queue. It must survive process restarts for the offline guarantees to
// hold (MemStore being the deliberate exception, for tests).
//
// Implementations can use:
//   - In-memory maps (testing, see memory.go)
//   - SQLite (single client, see sqlite.go)
//   - MySQL (shared sync gateway, see mysql.go)
//
// Only the offline cache mutates a Store; other components read derived
// views through the cache's public operations.
type Store interface {
	// PutEntry creates or overwrites the cache entry for entry.Key.
	PutEntry(ctx context.Context, entry Entry) error

	// GetEntry retrieves the cache entry for key.
	// Returns ErrNotFound if no entry exists.
	GetEntry(ctx context.Context, key string) (Entry, error)

	// DeleteEntry removes the cache entry for key.
	// Deleting a missing key is a no-op.
	DeleteEntry(ctx context.Context, key string) error

	// Entries returns all cache entries. Used for statistics and bulk
	// expiry sweeps; order is unspecified.
	Entries(ctx context.Context) ([]Entry, error)

	// AppendOp appends an operation to the tail of the queue.
	AppendOp(ctx context.Context, op Op) error

	// Ops returns all queued operations in enqueue (FIFO) order.
	Ops(ctx context.Context) ([]Op, error)

	// RemoveOp removes the operation with the given ID from the queue.
	// Returns ErrNotFound if no such operation is queued.
	RemoveOp(ctx context.Context, id string) error
}
