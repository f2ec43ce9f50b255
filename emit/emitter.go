package emit

// Emitter receives observability events from the core.
//
// Emitters enable pluggable observability backends:
//   - Logging: stdout, files, syslog
//   - Distributed tracing: OpenTelemetry
//   - In-memory buffering for dashboards and tests
//
// Implementations should be:
//   - Non-blocking: never slow down a cache read or a transition
//   - Thread-safe: events may arrive from multiple goroutines
//   - Resilient: a failing backend must not crash the caller
type Emitter interface {
	// Emit delivers an event to the configured backend.
	//
	// Emit must not panic. Errors should be handled internally
	// (buffered, dropped with a log line, or sent asynchronously).
	Emit(event Event)
}
