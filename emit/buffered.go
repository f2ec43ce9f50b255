package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// Events are organized by subject for efficient retrieval, which makes this
// emitter a natural backend for a cache statistics panel or a workflow
// history modal in the embedding UI.
//
// Features:
//   - Thread-safe concurrent access
//   - Query by subject with optional filtering
//   - Clear events by subject or all events
//
// Warning: all events are kept in memory. Long-lived processes should clear
// drained subjects periodically.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter()
//	engine := workflow.NewEngine(cache, baseURL, workflow.WithEmitter(emitter))
//
//	// later, inspect what happened to one result
//	events := emitter.History("result:42")
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // subject -> events in arrival order
}

// HistoryFilter specifies criteria for filtering buffered events.
//
// All fields are optional; set fields combine with AND logic.
type HistoryFilter struct {
	Msg    string // filter by event name (empty = no filter)
	MinSeq *int   // minimum sequence number (nil = no filter)
	MaxSeq *int   // maximum sequence number (nil = no filter)
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores the event in the buffer, keyed by subject.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.Subject] = append(b.events[event.Subject], event)
}

// History returns all buffered events for a subject in arrival order.
//
// Returns a copy; mutating the result does not affect the buffer.
func (b *BufferedEmitter) History(subject string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[subject]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// HistoryWithFilter returns buffered events for a subject matching the filter.
func (b *BufferedEmitter) HistoryWithFilter(subject string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, event := range b.events[subject] {
		if filter.Msg != "" && event.Msg != filter.Msg {
			continue
		}
		if filter.MinSeq != nil && event.Seq < *filter.MinSeq {
			continue
		}
		if filter.MaxSeq != nil && event.Seq > *filter.MaxSeq {
			continue
		}
		out = append(out, event)
	}
	return out
}

// Subjects returns all subjects that currently have buffered events.
func (b *BufferedEmitter) Subjects() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subjects := make([]string, 0, len(b.events))
	for subject := range b.events {
		subjects = append(subjects, subject)
	}
	return subjects
}

// Clear removes all buffered events for a subject.
func (b *BufferedEmitter) Clear(subject string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, subject)
}

// ClearAll removes every buffered event.
func (b *BufferedEmitter) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make(map[string][]Event)
}
