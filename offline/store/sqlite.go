package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps cache entries and the operation queue in a single-file database,
// which is what gives the offline layer its reload-survival guarantee on a
// single client (kiosk, timing laptop, sync daemon).
//
// Features:
//   - Single file database (e.g. "./aths.db")
//   - Auto-migration on first use
//   - WAL mode for concurrent reads
//   - Transactional writes
//
// Schema:
//   - cache_entries: cached GET snapshots keyed by request identity
//   - operation_queue: deferred mutating calls in enqueue order
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./aths.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close, for tests)
//
// The store automatically creates the database file and required tables,
// enables WAL mode, and sets a busy timeout.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./aths.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}

	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// createTables creates the required schema if it doesn't exist.
func (s *SQLiteStore) createTables(ctx context.Context) error {
	entriesTable := `
		CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT NOT NULL PRIMARY KEY,
			payload TEXT NOT NULL,
			version TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, entriesTable); err != nil {
		return fmt.Errorf("failed to create cache_entries table: %w", err)
	}

	queueTable := `
		CREATE TABLE IF NOT EXISTS operation_queue (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			op_id TEXT NOT NULL UNIQUE,
			url TEXT NOT NULL,
			method TEXT NOT NULL,
			body TEXT NOT NULL,
			enqueued_at TIMESTAMP NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, queueTable); err != nil {
		return fmt.Errorf("failed to create operation_queue table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_queue_seq ON operation_queue(seq)"); err != nil {
		return fmt.Errorf("failed to create idx_queue_seq: %w", err)
	}

	return nil
}

// PutEntry creates or overwrites a cache entry (implements Store).
func (s *SQLiteStore) PutEntry(ctx context.Context, entry Entry) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO cache_entries (key, payload, version, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			version = excluded.version,
			created_at = excluded.created_at
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.Key,
		string(entry.Payload),
		entry.Version,
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

// GetEntry retrieves a cache entry by key (implements Store).
func (s *SQLiteStore) GetEntry(ctx context.Context, key string) (Entry, error) {
	if err := s.checkOpen(); err != nil {
		return Entry{}, err
	}

	query := `
		SELECT key, payload, version, created_at
		FROM cache_entries
		WHERE key = ?
	`

	var (
		entry      Entry
		payload    string
		createdStr string
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(&entry.Key, &payload, &entry.Version, &createdStr)
	if err == sql.ErrNoRows {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to get cache entry: %w", err)
	}

	entry.Payload = []byte(payload)
	entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to parse entry timestamp: %w", err)
	}

	return entry, nil
}

// DeleteEntry removes a cache entry (implements Store).
func (s *SQLiteStore) DeleteEntry(ctx context.Context, key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Entries returns all cache entries (implements Store).
func (s *SQLiteStore) Entries(ctx context.Context) ([]Entry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT key, payload, version, created_at FROM cache_entries")
	if err != nil {
		return nil, fmt.Errorf("failed to query cache entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			entry      Entry
			payload    string
			createdStr string
		)
		if err := rows.Scan(&entry.Key, &payload, &entry.Version, &createdStr); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		entry.Payload = []byte(payload)
		entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse entry timestamp: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cache entries: %w", err)
	}
	return entries, nil
}

// AppendOp appends an operation to the queue tail (implements Store).
//
// The AUTOINCREMENT seq column preserves enqueue order across restarts.
func (s *SQLiteStore) AppendOp(ctx context.Context, op Op) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO operation_queue (op_id, url, method, body, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		op.ID,
		op.URL,
		op.Method,
		string(op.Body),
		op.EnqueuedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append operation: %w", err)
	}
	return nil
}

// Ops returns queued operations in enqueue order (implements Store).
func (s *SQLiteStore) Ops(ctx context.Context) ([]Op, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT op_id, url, method, body, enqueued_at
		FROM operation_queue
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation queue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ops []Op
	for rows.Next() {
		var (
			op          Op
			body        string
			enqueuedStr string
		)
		if err := rows.Scan(&op.ID, &op.URL, &op.Method, &body, &enqueuedStr); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		op.Body = []byte(body)
		op.EnqueuedAt, err = time.Parse(time.RFC3339Nano, enqueuedStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse operation timestamp: %w", err)
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operation queue: %w", err)
	}
	return ops, nil
}

// RemoveOp removes a queued operation by ID (implements Store).
func (s *SQLiteStore) RemoveOp(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM operation_queue WHERE op_id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to remove operation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check removed rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database connection.
//
// After Close, all operations return an error. Double-close is a no-op.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path, useful for debugging and logging.
func (s *SQLiteStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}
