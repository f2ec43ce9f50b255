package offline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mwamiri/AthS/offline/store"
)

// SyncListener receives queue replay notifications. Implementations must
// be fast; callbacks run synchronously on the syncing goroutine, in replay
// order.
type SyncListener interface {
	// OpReplayed is called after a queued operation was accepted by the
	// server and removed from the queue.
	OpReplayed(op store.Op, resp Response)

	// OpConflicted is called when the server rejected a queued operation
	// during replay. The operation has already been removed; dependent
	// optimistic state must be rolled back. Replay halts after this call.
	OpConflicted(op store.Op, cerr *ConflictError)

	// QueueDrained is called when a sync pass ends with the queue empty.
	QueueDrained()
}

// Subscribe registers a listener for replay notifications. There is no
// unsubscribe; listeners live as long as the cache.
func (c *Cache) Subscribe(l SyncListener) {
	if l == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// SetOnline records a connectivity change from the external connectivity
// signal. An offline-to-online edge triggers a queue sync on the calling
// goroutine; every transition is observable regardless of queue state.
func (c *Cache) SetOnline(ctx context.Context, online bool) error {
	c.mu.Lock()
	wasOnline := c.online
	c.online = online
	c.mu.Unlock()

	c.emitter.Emit(emitEvent("connectivity", "connectivity_changed", map[string]interface{}{
		"online": online,
	}))

	if online && !wasOnline {
		if err := c.SyncQueue(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
			return err
		}
	}
	return nil
}

// SyncQueue replays queued operations strictly in enqueue order.
//
// Each operation is sent and, on server acceptance, removed from the queue
// before the next is attempted. A transport failure leaves the operation
// queued, flips the cache offline, and halts the pass; nothing is lost. A
// server rejection removes the operation (the attempt completed and was
// refused), notifies listeners so optimistic state can be rolled back, and
// halts the pass so later operations that may depend on the rejected one
// are not replayed against diverged state.
//
// Only one sync runs at a time; a concurrent call returns
// ErrSyncInProgress.
func (c *Cache) SyncQueue(ctx context.Context) error {
	c.mu.Lock()
	if c.syncing {
		c.mu.Unlock()
		return ErrSyncInProgress
	}
	c.syncing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.syncing = false
		c.mu.Unlock()
	}()

	for {
		ops, err := c.store.Ops(ctx)
		if err != nil {
			return fmt.Errorf("list queued operations: %w", err)
		}
		if c.metrics != nil {
			c.metrics.SetQueueDepth(len(ops))
		}
		if len(ops) == 0 {
			c.notifyDrained()
			return nil
		}

		op := ops[0]
		if err := c.replayOp(ctx, op); err != nil {
			return err
		}
	}
}

// replayOp sends one queued operation and settles its queue entry.
func (c *Cache) replayOp(ctx context.Context, op store.Op) error {
	start := time.Now()
	resp, err := c.perform(ctx, Request{Method: op.Method, URL: op.URL, Body: op.Body})
	if err != nil {
		// Link is down again; the op stays queued for the next pass.
		c.markOffline()
		if c.metrics != nil {
			c.metrics.ReplayFinished("transport_failure", time.Since(start))
		}
		c.emitter.Emit(emitEvent(op.URL, "replay_failed", map[string]interface{}{
			"op_id": op.ID,
			"error": err.Error(),
		}))
		return err
	}

	if !resp.OK() {
		cerr := &ConflictError{Op: op, Status: resp.Status, Body: resp.Body}
		if rerr := c.store.RemoveOp(ctx, op.ID); rerr != nil {
			return fmt.Errorf("remove rejected operation %s: %w", op.ID, rerr)
		}
		if c.metrics != nil {
			c.metrics.ReplayFinished("conflict", time.Since(start))
		}
		c.emitter.Emit(emitEvent(op.URL, "replay_conflict", map[string]interface{}{
			"op_id":  op.ID,
			"status": resp.Status,
			"error":  cerr.Error(),
		}))
		c.notifyConflicted(op, cerr)
		return cerr
	}

	if err := c.store.RemoveOp(ctx, op.ID); err != nil {
		return fmt.Errorf("remove replayed operation %s: %w", op.ID, err)
	}
	if c.metrics != nil {
		c.metrics.ReplayFinished("ok", time.Since(start))
	}
	c.emitter.Emit(emitEvent(op.URL, "replay_ok", map[string]interface{}{
		"op_id":  op.ID,
		"status": resp.Status,
	}))
	c.notifyReplayed(op, resp)
	return nil
}

func (c *Cache) snapshotListeners() []SyncListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SyncListener, len(c.listeners))
	copy(out, c.listeners)
	return out
}

func (c *Cache) notifyReplayed(op store.Op, resp Response) {
	for _, l := range c.snapshotListeners() {
		l.OpReplayed(op, resp)
	}
}

func (c *Cache) notifyConflicted(op store.Op, cerr *ConflictError) {
	for _, l := range c.snapshotListeners() {
		l.OpConflicted(op, cerr)
	}
}

func (c *Cache) notifyDrained() {
	for _, l := range c.snapshotListeners() {
		l.QueueDrained()
	}
}
