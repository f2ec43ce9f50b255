package emit

// NullEmitter implements Emitter by discarding all events.
//
// Use it when event output is not wanted:
//   - embedding the core where the host does its own instrumentation
//   - tests that don't assert on events
//
// Example usage:
//
//	cache := offline.New(st, transport, offline.WithEmitter(emit.NewNullEmitter()))
type NullEmitter struct{}

// NewNullEmitter creates a new NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event without any processing.
func (n *NullEmitter) Emit(event Event) {
	// No-op: discard the event
}
