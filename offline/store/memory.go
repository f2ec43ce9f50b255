package store

import (
	"context"
	"encoding/json"
	"sync"
)

// MemStore is an in-memory implementation of Store.
//
// Designed for:
//   - Testing and development
//   - Short-lived clients where offline durability isn't required
//
// MemStore is thread-safe. Data is lost when the process terminates, so it
// does not satisfy the reload-survival guarantee; use SQLiteStore or
// MySQLStore for that.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ops     []Op
	opIndex map[string]struct{} // op ID -> present
}

// NewMemStore creates a new empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		entries: make(map[string]Entry),
		opIndex: make(map[string]struct{}),
	}
}

// PutEntry creates or overwrites a cache entry.
func (m *MemStore) PutEntry(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Key] = entry
	return nil
}

// GetEntry retrieves a cache entry by key.
func (m *MemStore) GetEntry(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// DeleteEntry removes a cache entry. Missing keys are ignored.
func (m *MemStore) DeleteEntry(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Entries returns a copy of all cache entries.
func (m *MemStore) Entries(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, entry)
	}
	return out, nil
}

// AppendOp appends an operation to the queue tail.
func (m *MemStore) AppendOp(_ context.Context, op Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ops = append(m.ops, op)
	m.opIndex[op.ID] = struct{}{}
	return nil
}

// Ops returns queued operations in enqueue order.
func (m *MemStore) Ops(_ context.Context) ([]Op, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Op, len(m.ops))
	copy(out, m.ops)
	return out, nil
}

// RemoveOp removes a queued operation by ID.
func (m *MemStore) RemoveOp(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.opIndex[id]; !ok {
		return ErrNotFound
	}

	filtered := m.ops[:0]
	for _, op := range m.ops {
		if op.ID != id {
			filtered = append(filtered, op)
		}
	}
	m.ops = filtered
	delete(m.opIndex, id)
	return nil
}

// serializableMemStore is the JSON representation of MemStore, used to
// snapshot store contents in tests or persist them manually.
type serializableMemStore struct {
	Entries map[string]Entry `json:"entries"`
	Ops     []Op             `json:"ops"`
}

// MarshalJSON serializes the MemStore contents.
//
// Thread-safe: acquires a read lock during serialization.
func (m *MemStore) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return json.Marshal(serializableMemStore{
		Entries: m.entries,
		Ops:     m.ops,
	})
}

// UnmarshalJSON replaces the MemStore contents with the deserialized data.
//
// Thread-safe: acquires a write lock during deserialization.
func (m *MemStore) UnmarshalJSON(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s serializableMemStore
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	m.entries = s.Entries
	if m.entries == nil {
		m.entries = make(map[string]Entry)
	}
	m.ops = s.Ops

	m.opIndex = make(map[string]struct{}, len(m.ops))
	for _, op := range m.ops {
		m.opIndex[op.ID] = struct{}{}
	}

	return nil
}
