package emit

// Event represents an observability event emitted by the workflow engine or
// the offline cache.
//
// Events give the embedding application insight into the core's behavior:
//   - Workflow transitions (requested, confirmed, rejected, rolled back)
//   - Cache activity (hits, misses, invalidations)
//   - Queue activity (enqueue, replay, conflict, drain)
//   - Connectivity changes
//
// Events are delivered to an Emitter which can log them, buffer them for a
// monitoring view, or forward them to OpenTelemetry.
type Event struct {
	// Subject identifies what the event is about: a result reference such
	// as "result:42", a cache key such as "results:raceA", or "sync" for
	// queue-level events.
	Subject string

	// Seq is a per-subject sequence number where one applies (history
	// position for transitions, queue position for replays). Zero for
	// events that have no natural ordering.
	Seq int

	// Msg is a short machine-friendly event name, e.g. "transition_confirmed"
	// or "op_enqueued".
	Msg string

	// Meta carries additional structured data specific to this event.
	// Common keys:
	//   - "from", "to": workflow states around a transition
	//   - "actor": identity that requested an operation
	//   - "error": failure details
	//   - "from_cache": whether a payload was served from cache
	//   - "op_id": queued operation identifier
	Meta map[string]interface{}
}
