package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// Designed for a shared sync gateway where several officials' clients funnel
// their queued writes through one durable server-side queue:
//   - Persistence across restarts and across machines
//   - Connection pooling for concurrent clients
//   - Audit-friendly: the queue and cache are inspectable with plain SQL
//
// Schema:
//   - cache_entries: cached GET snapshots keyed by request identity
//   - operation_queue: deferred mutating calls in enqueue order
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Example:
//
//	user:password@tcp(localhost:3306)/aths
//
// Never hardcode credentials; read the DSN from configuration:
//
//	cfg, _ := config.Load()
//	st, err := store.NewMySQLStore(cfg.StoreDSN)
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}

	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// createTables creates the required schema if it doesn't exist.
func (m *MySQLStore) createTables(ctx context.Context) error {
	entriesTable := `
		CREATE TABLE IF NOT EXISTS cache_entries (
			cache_key VARCHAR(512) NOT NULL PRIMARY KEY,
			payload JSON NOT NULL,
			version VARCHAR(32) NOT NULL DEFAULT '',
			created_at DATETIME(6) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, entriesTable); err != nil {
		return fmt.Errorf("failed to create cache_entries table: %w", err)
	}

	queueTable := `
		CREATE TABLE IF NOT EXISTS operation_queue (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			op_id VARCHAR(128) NOT NULL,
			url VARCHAR(2048) NOT NULL,
			method VARCHAR(16) NOT NULL,
			body JSON NOT NULL,
			enqueued_at DATETIME(6) NOT NULL,
			UNIQUE KEY unique_op_id (op_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, queueTable); err != nil {
		return fmt.Errorf("failed to create operation_queue table: %w", err)
	}

	return nil
}

// PutEntry creates or overwrites a cache entry (implements Store).
func (m *MySQLStore) PutEntry(ctx context.Context, entry Entry) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO cache_entries (cache_key, payload, version, created_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			payload = VALUES(payload),
			version = VALUES(version),
			created_at = VALUES(created_at)
	`

	_, err := m.db.ExecContext(ctx, query,
		entry.Key,
		string(entry.Payload),
		entry.Version,
		entry.CreatedAt.UTC().Format("2006-01-02 15:04:05.000000"),
	)
	if err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

// GetEntry retrieves a cache entry by key (implements Store).
func (m *MySQLStore) GetEntry(ctx context.Context, key string) (Entry, error) {
	if err := m.checkOpen(); err != nil {
		return Entry{}, err
	}

	query := `
		SELECT cache_key, payload, version, created_at
		FROM cache_entries
		WHERE cache_key = ?
	`

	var (
		entry      Entry
		payload    string
		createdStr string
	)
	err := m.db.QueryRowContext(ctx, query, key).Scan(&entry.Key, &payload, &entry.Version, &createdStr)
	if err == sql.ErrNoRows {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to get cache entry: %w", err)
	}

	entry.Payload = []byte(payload)
	entry.CreatedAt, err = parseMySQLTime(createdStr)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to parse entry timestamp: %w", err)
	}
	return entry, nil
}

// DeleteEntry removes a cache entry (implements Store).
func (m *MySQLStore) DeleteEntry(ctx context.Context, key string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	if _, err := m.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE cache_key = ?", key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Entries returns all cache entries (implements Store).
func (m *MySQLStore) Entries(ctx context.Context) ([]Entry, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, "SELECT cache_key, payload, version, created_at FROM cache_entries")
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
		entry.CreatedAt, err = parseMySQLTime(createdStr)
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
func (m *MySQLStore) AppendOp(ctx context.Context, op Op) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO operation_queue (op_id, url, method, body, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := m.db.ExecContext(ctx, query,
		op.ID,
		op.URL,
		op.Method,
		string(op.Body),
		op.EnqueuedAt.UTC().Format("2006-01-02 15:04:05.000000"),
	)
	if err != nil {
		return fmt.Errorf("failed to append operation: %w", err)
	}
	return nil
}

// Ops returns queued operations in enqueue order (implements Store).
func (m *MySQLStore) Ops(ctx context.Context) ([]Op, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT op_id, url, method, body, enqueued_at
		FROM operation_queue
		ORDER BY seq ASC
	`

	rows, err := m.db.QueryContext(ctx, query)
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
		op.EnqueuedAt, err = parseMySQLTime(enqueuedStr)
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
func (m *MySQLStore) RemoveOp(ctx context.Context, id string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	res, err := m.db.ExecContext(ctx, "DELETE FROM operation_queue WHERE op_id = ?", id)
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

// Close closes the database connection. Double-close is a no-op.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

func (m *MySQLStore) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// parseMySQLTime handles both DATETIME string formats and RFC3339, covering
// drivers configured with and without parseTime.
func parseMySQLTime(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02 15:04:05.000000", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
