package offline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Mwamiri/AthS/emit"
	"github.com/Mwamiri/AthS/offline/store"
)

// Write performs a mutating call (POST, PUT, DELETE) against url.
//
// Online path: the request is sent immediately. A success returns the
// server's response with Pending=false. A server-side rejection surfaces
// as *RequestError; the operation is not queued — the server answered.
// A transport failure flips the cache offline, enqueues the operation,
// and returns a pending result.
//
// Offline path: the operation is appended to the durable queue without
// touching the network and a pending result is returned. Queued writes
// replay in enqueue order on the next sync.
func (c *Cache) Write(ctx context.Context, url, method string, body []byte) (WriteResult, error) {
	if c.Online() {
		resp, err := c.perform(ctx, Request{Method: method, URL: url, Body: body})
		if err == nil {
			if !resp.OK() {
				return WriteResult{}, &RequestError{Method: method, URL: url, Status: resp.Status, Body: resp.Body}
			}
			c.emitter.Emit(emitEvent(url, "write_sent", nil))
			return WriteResult{Status: resp.Status, Body: resp.Body}, nil
		}

		var te *TransportError
		if !errors.As(err, &te) {
			return WriteResult{}, err
		}

		// Couldn't reach the server: treat the link as down and queue.
		c.markOffline()
		c.emitter.Emit(emitEvent(url, "write_offline", map[string]interface{}{"error": err.Error()}))
	}

	return c.enqueue(ctx, url, method, body)
}

// enqueue appends the operation to the durable queue.
func (c *Cache) enqueue(ctx context.Context, url, method string, body []byte) (WriteResult, error) {
	op := newOp(url, method, body, c.clock())
	if err := c.store.AppendOp(ctx, op); err != nil {
		return WriteResult{}, fmt.Errorf("enqueue %s %s: %w", method, url, err)
	}

	if c.metrics != nil {
		if ops, err := c.store.Ops(ctx); err == nil {
			c.metrics.SetQueueDepth(len(ops))
		}
	}
	c.emitter.Emit(emitEvent(url, "write_queued", map[string]interface{}{"op_id": op.ID, "method": method}))

	return WriteResult{Pending: true, OpID: op.ID}, nil
}

// QueueDepth reports the number of operations awaiting replay.
func (c *Cache) QueueDepth(ctx context.Context) (int, error) {
	ops, err := c.store.Ops(ctx)
	if err != nil {
		return 0, fmt.Errorf("list queued operations: %w", err)
	}
	return len(ops), nil
}

// markOffline records a lost link without triggering any sync machinery.
func (c *Cache) markOffline() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online = false
}

// opSeq disambiguates identical operations enqueued in the same instant.
var opSeq atomic.Uint64

// newOp builds a queued operation with a content-derived identifier.
// Hashing method, URL, body, enqueue time, and a process-wide sequence
// number keeps IDs stable enough to correlate a pending write through
// replay while guaranteeing repeated identical writes stay distinct.
func newOp(url, method string, body []byte, at time.Time) store.Op {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%d\n%d\n", method, url, at.UnixNano(), opSeq.Add(1))
	h.Write(body)

	return store.Op{
		ID:         "sha256:" + hex.EncodeToString(h.Sum(nil)),
		URL:        url,
		Method:     method,
		Body:       body,
		EnqueuedAt: at,
	}
}

func emitEvent(subject, msg string, meta map[string]interface{}) emit.Event {
	return emit.Event{Subject: subject, Msg: msg, Meta: meta}
}
