package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

// runStoreSuite exercises the Store contract against any implementation.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetEntry on empty store returns ErrNotFound", func(t *testing.T) {
		st := newStore(t)
		_, err := st.GetEntry(ctx, "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PutEntry then GetEntry round-trips payload", func(t *testing.T) {
		st := newStore(t)
		entry := Entry{
			Key:       "results:raceA",
			Payload:   json.RawMessage(`[{"id":1,"position":1}]`),
			Version:   "2.1",
			CreatedAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		}

		if err := st.PutEntry(ctx, entry); err != nil {
			t.Fatalf("PutEntry failed: %v", err)
		}

		got, err := st.GetEntry(ctx, "results:raceA")
		if err != nil {
			t.Fatalf("GetEntry failed: %v", err)
		}
		if string(got.Payload) != string(entry.Payload) {
			t.Errorf("payload = %s, want %s", got.Payload, entry.Payload)
		}
		if got.Version != "2.1" {
			t.Errorf("version = %q, want %q", got.Version, "2.1")
		}
		if !got.CreatedAt.Equal(entry.CreatedAt) {
			t.Errorf("created_at = %v, want %v", got.CreatedAt, entry.CreatedAt)
		}
	})

	t.Run("PutEntry overwrites existing key", func(t *testing.T) {
		st := newStore(t)
		now := time.Now().UTC().Truncate(time.Microsecond)

		_ = st.PutEntry(ctx, Entry{Key: "k", Payload: json.RawMessage(`"old"`), CreatedAt: now})
		_ = st.PutEntry(ctx, Entry{Key: "k", Payload: json.RawMessage(`"new"`), CreatedAt: now.Add(time.Hour)})

		got, err := st.GetEntry(ctx, "k")
		if err != nil {
			t.Fatalf("GetEntry failed: %v", err)
		}
		if string(got.Payload) != `"new"` {
			t.Errorf("payload = %s, want \"new\"", got.Payload)
		}
	})

	t.Run("DeleteEntry removes and tolerates missing keys", func(t *testing.T) {
		st := newStore(t)
		now := time.Now().UTC().Truncate(time.Microsecond)

		_ = st.PutEntry(ctx, Entry{Key: "gone", Payload: json.RawMessage(`1`), CreatedAt: now})
		if err := st.DeleteEntry(ctx, "gone"); err != nil {
			t.Fatalf("DeleteEntry failed: %v", err)
		}
		if _, err := st.GetEntry(ctx, "gone"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}

		// Deleting a missing key is a no-op.
		if err := st.DeleteEntry(ctx, "never-existed"); err != nil {
			t.Errorf("DeleteEntry on missing key returned %v", err)
		}
	})

	t.Run("Ops preserves FIFO order", func(t *testing.T) {
		st := newStore(t)
		base := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

		for i := 1; i <= 5; i++ {
			op := Op{
				ID:         fmt.Sprintf("op-%d", i),
				URL:        fmt.Sprintf("https://api.example.test/results/%d/workflow", i),
				Method:     "POST",
				Body:       json.RawMessage(`{"to_state":"reviewed"}`),
				EnqueuedAt: base.Add(time.Duration(i) * time.Second),
			}
			if err := st.AppendOp(ctx, op); err != nil {
				t.Fatalf("AppendOp failed: %v", err)
			}
		}

		ops, err := st.Ops(ctx)
		if err != nil {
			t.Fatalf("Ops failed: %v", err)
		}
		if len(ops) != 5 {
			t.Fatalf("expected 5 ops, got %d", len(ops))
		}
		for i, op := range ops {
			want := fmt.Sprintf("op-%d", i+1)
			if op.ID != want {
				t.Errorf("ops[%d].ID = %q, want %q", i, op.ID, want)
			}
		}
	})

	t.Run("RemoveOp removes only the target", func(t *testing.T) {
		st := newStore(t)
		now := time.Now().UTC().Truncate(time.Microsecond)

		for _, id := range []string{"a", "b", "c"} {
			_ = st.AppendOp(ctx, Op{ID: id, URL: "https://x", Method: "POST", Body: json.RawMessage(`{}`), EnqueuedAt: now})
		}

		if err := st.RemoveOp(ctx, "b"); err != nil {
			t.Fatalf("RemoveOp failed: %v", err)
		}

		ops, _ := st.Ops(ctx)
		if len(ops) != 2 || ops[0].ID != "a" || ops[1].ID != "c" {
			t.Errorf("unexpected remaining ops: %+v", ops)
		}

		if err := st.RemoveOp(ctx, "b"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for removed op, got %v", err)
		}
	})

	t.Run("Entries lists everything", func(t *testing.T) {
		st := newStore(t)
		now := time.Now().UTC().Truncate(time.Microsecond)

		_ = st.PutEntry(ctx, Entry{Key: "a", Payload: json.RawMessage(`1`), CreatedAt: now})
		_ = st.PutEntry(ctx, Entry{Key: "b", Payload: json.RawMessage(`2`), CreatedAt: now})

		entries, err := st.Entries(ctx)
		if err != nil {
			t.Fatalf("Entries failed: %v", err)
		}
		if len(entries) != 2 {
			t.Errorf("expected 2 entries, got %d", len(entries))
		}
	})
}
