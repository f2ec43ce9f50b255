package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/Mwamiri/AthS/emit"
	"github.com/Mwamiri/AthS/offline/store"
)

// cacheVersion tags entries written by this cache schema. Entries carrying
// a different tag are treated as absent, so a format change never serves
// payloads written by an older client.
const cacheVersion = "2.1"

// DefaultMaxAge is the default maximum age at which a cached entry is still
// served while offline.
const DefaultMaxAge = 24 * time.Hour

// DefaultRequestTimeout bounds a single network attempt. A call that does
// not resolve within this interval is treated as a transport failure and
// falls into the offline path.
const DefaultRequestTimeout = 15 * time.Second

// Fetcher produces a fresh payload from the network. The cache invokes it
// on online reads; its result is stored under the read's key.
type Fetcher func(ctx context.Context) (json.RawMessage, error)

// ReadResult is the outcome of a cache read. FromCache tells the caller
// whether the payload is live or a cached snapshot, so users are never
// misled about freshness.
type ReadResult struct {
	Payload   json.RawMessage
	FromCache bool
}

// WriteResult is the outcome of a write. Pending means the call was queued
// for later replay; callers must treat it as provisional, not confirmed.
type WriteResult struct {
	Status  int
	Body    json.RawMessage
	Pending bool
	OpID    string
}

// Cache presents a single read/write interface over the network that
// degrades gracefully to cached reads and queued writes when offline, and
// reconciles automatically on reconnect.
//
// Cache exclusively owns the underlying store's entries and operation
// queue; no other component mutates them directly.
type Cache struct {
	mu        sync.Mutex
	store     store.Store
	transport Transport
	emitter   emit.Emitter
	metrics   *Metrics
	retry     *RetryPolicy
	listeners []SyncListener

	maxAge         time.Duration
	requestTimeout time.Duration
	online         bool
	syncing        bool

	clock func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxAge sets the default maximum entry age (default 24h).
func WithMaxAge(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.maxAge = d
		}
	}
}

// WithRequestTimeout bounds each network attempt (default 15s).
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithRetryPolicy enables automatic retries for transient read failures.
// Invalid policies are ignored.
func WithRetryPolicy(rp RetryPolicy) Option {
	return func(c *Cache) {
		if rp.Validate() == nil {
			c.retry = &rp
		}
	}
}

// WithEmitter sets the observability event receiver (default: none).
func WithEmitter(emitter emit.Emitter) Option {
	return func(c *Cache) {
		c.emitter = emitter
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithInitialOnline sets the starting connectivity assumption. The default
// is online; the external connectivity collaborator corrects it via
// SetOnline.
func WithInitialOnline(online bool) Option {
	return func(c *Cache) {
		c.online = online
	}
}

// WithClock substitutes the time source. Tests use this to age entries
// without sleeping.
func WithClock(clock func() time.Time) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New creates a Cache over the given durable store and transport.
func New(st store.Store, transport Transport, opts ...Option) *Cache {
	c := &Cache{
		store:          st,
		transport:      transport,
		emitter:        emit.NewNullEmitter(),
		maxAge:         DefaultMaxAge,
		requestTimeout: DefaultRequestTimeout,
		online:         true,
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Online reports the current connectivity assumption.
func (c *Cache) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Read returns the payload for key: live from the network when online,
// from the durable cache when offline or when the network attempt fails.
//
// Online path: fetch is invoked (bounded by the request timeout, retried
// per the RetryPolicy for transient failures); on success the payload is
// stored under key and returned with FromCache=false. A server-side
// rejection (*RequestError) surfaces to the caller directly — the server
// answered, so stale data must not mask it.
//
// Offline path (also reached when the online fetch fails at transport
// level): a synchronous local lookup. An entry within maxAge is returned
// with FromCache=true; otherwise ErrUnavailable.
//
// maxAge <= 0 uses the cache-wide default.
func (c *Cache) Read(ctx context.Context, key string, fetch Fetcher, maxAge time.Duration) (ReadResult, error) {
	if maxAge <= 0 {
		maxAge = c.maxAge
	}

	if c.Online() {
		payload, err := c.fetchWithRetry(ctx, fetch)
		if err == nil {
			entry := store.Entry{
				Key:       key,
				Payload:   payload,
				Version:   cacheVersion,
				CreatedAt: c.clock(),
			}
			if perr := c.store.PutEntry(ctx, entry); perr != nil {
				// A failed cache write must not fail the live read.
				c.emitter.Emit(emit.Event{Subject: key, Msg: "cache_write_failed", Meta: map[string]interface{}{"error": perr.Error()}})
			}
			if c.metrics != nil {
				c.metrics.ReadServed("network")
			}
			c.emitter.Emit(emit.Event{Subject: key, Msg: "read_live"})
			return ReadResult{Payload: payload}, nil
		}

		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			return ReadResult{}, err
		}

		c.emitter.Emit(emit.Event{Subject: key, Msg: "fetch_failed", Meta: map[string]interface{}{"error": err.Error()}})
	}

	return c.readCached(ctx, key, maxAge)
}

// ReadURL is a convenience Read whose fetcher performs a GET against url
// through the cache's transport.
func (c *Cache) ReadURL(ctx context.Context, key, url string, maxAge time.Duration) (ReadResult, error) {
	return c.Read(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
		resp, err := c.transport.Do(ctx, Request{Method: "GET", URL: url})
		if err != nil {
			return nil, err
		}
		if !resp.OK() {
			return nil, &RequestError{Method: "GET", URL: url, Status: resp.Status, Body: resp.Body}
		}
		return resp.Body, nil
	}, maxAge)
}

// readCached serves key from the durable store, enforcing maxAge.
func (c *Cache) readCached(ctx context.Context, key string, maxAge time.Duration) (ReadResult, error) {
	entry, err := c.store.GetEntry(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		if c.metrics != nil {
			c.metrics.ReadMissed()
		}
		return ReadResult{}, fmt.Errorf("%w: %s", ErrUnavailable, key)
	}
	if err != nil {
		return ReadResult{}, fmt.Errorf("cache lookup for %s: %w", key, err)
	}

	age := c.clock().Sub(entry.CreatedAt)
	if age > maxAge || entry.Version != cacheVersion {
		// Expired entries are treated as absent, never returned.
		_ = c.store.DeleteEntry(ctx, key)
		if c.metrics != nil {
			c.metrics.ReadMissed()
		}
		c.emitter.Emit(emit.Event{Subject: key, Msg: "cache_expired", Meta: map[string]interface{}{"age": age}})
		return ReadResult{}, fmt.Errorf("%w: %s", ErrUnavailable, key)
	}

	if c.metrics != nil {
		c.metrics.ReadServed("cache")
	}
	c.emitter.Emit(emit.Event{Subject: key, Msg: "cache_hit", Meta: map[string]interface{}{"age": age, "from_cache": true}})
	return ReadResult{Payload: entry.Payload, FromCache: true}, nil
}

// fetchWithRetry runs fetch with the request timeout, retrying transient
// failures per the configured policy.
func (c *Cache) fetchWithRetry(ctx context.Context, fetch Fetcher) (json.RawMessage, error) {
	attempts := 1
	if c.retry != nil {
		attempts = c.retry.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := computeBackoff(attempt-1, c.retry.BaseDelay, c.retry.MaxDelay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, &TransportError{Err: ctx.Err()}
			}
		}

		payload, err := c.runFetch(ctx, fetch)
		if err == nil {
			return payload, nil
		}
		lastErr = err

		if c.retry == nil || !c.retry.retryable(err) {
			break
		}
	}
	return nil, lastErr
}

// runFetch invokes fetch under the request timeout, mapping a deadline
// overrun to a transport failure. A fetcher that ignores cancellation must
// not wedge the caller, so the deadline is enforced here as well; the
// abandoned fetch finishes on its own goroutine.
func (c *Cache) runFetch(ctx context.Context, fetch Fetcher) (json.RawMessage, error) {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	type fetched struct {
		payload json.RawMessage
		err     error
	}
	done := make(chan fetched, 1)
	go func() {
		payload, err := fetch(ctx)
		done <- fetched{payload: payload, err: err}
	}()

	select {
	case f := <-done:
		if f.err != nil {
			if errors.Is(f.err, context.DeadlineExceeded) {
				return nil, &TransportError{Err: f.err}
			}
			return nil, f.err
		}
		return f.payload, nil
	case <-ctx.Done():
		return nil, &TransportError{Err: ctx.Err()}
	}
}

// perform executes one transport exchange under the request timeout. A
// call that does not resolve within the bound is a transport failure, even
// when the transport ignores cancellation; writes and queue replays go
// through here so a hung server can never block them indefinitely.
func (c *Cache) perform(ctx context.Context, req Request) (Response, error) {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	type outcome struct {
		resp Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := c.transport.Do(ctx, req)
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) {
			return Response{}, &TransportError{URL: req.URL, Err: o.err}
		}
		return o.resp, o.err
	case <-ctx.Done():
		return Response{}, &TransportError{URL: req.URL, Err: ctx.Err()}
	}
}

// Invalidate removes the given keys from the cache. Callers invalidate the
// specific keys their writes affect; writes never invalidate unrelated
// entries automatically.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := c.store.DeleteEntry(ctx, key); err != nil {
			return fmt.Errorf("invalidate %s: %w", key, err)
		}
		c.emitter.Emit(emit.Event{Subject: key, Msg: "cache_invalidated"})
	}
	return nil
}

// StatsItem describes one cache entry in a Stats snapshot.
type StatsItem struct {
	Key   string
	Bytes int
	Age   time.Duration
}

// Stats is a point-in-time view of the cache and queue, for a diagnostics
// or cache-statistics panel.
type Stats struct {
	EntryCount int
	TotalBytes int
	QueueDepth int
	Online     bool
	Items      []StatsItem
}

// Stats gathers cache and queue statistics.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	entries, err := c.store.Entries(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list cache entries: %w", err)
	}
	ops, err := c.store.Ops(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list queued operations: %w", err)
	}

	now := c.clock()
	stats := Stats{
		EntryCount: len(entries),
		QueueDepth: len(ops),
		Online:     c.Online(),
		Items:      make([]StatsItem, 0, len(entries)),
	}
	for _, entry := range entries {
		size := len(entry.Payload)
		stats.TotalBytes += size
		stats.Items = append(stats.Items, StatsItem{
			Key:   entry.Key,
			Bytes: size,
			Age:   now.Sub(entry.CreatedAt),
		})
	}
	return stats, nil
}

var keyUnsafe = regexp.MustCompile(`[^a-zA-Z0-9]`)

// KeyFromURL derives a cache key from a request URL by replacing every
// non-alphanumeric character with an underscore.
func KeyFromURL(url string) string {
	return keyUnsafe.ReplaceAllString(url, "_")
}
