// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Durable per-thread item log with automatic schema creation and migrations

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timestampFormat is fixed width so stored timestamps sort lexically.
const timestampFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	locks  *keyedMutex
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. ":memory:" opens a private
// in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	inMemory := path == ":memory:"
	if !inMemory {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// Per-connection pragmas go in the DSN so every pooled connection gets them.
	// Immediate transactions take the write lock up front so the busy timeout
	// applies instead of failing on a read-to-write upgrade.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if inMemory {
		// Each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else {
		// Enable WAL mode for better concurrent performance
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		locks:  newKeyedMutex(),
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS threads (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_threads_owner
			ON threads(owner_id, created_at);

		CREATE TABLE IF NOT EXISTS items (
			item_id      TEXT PRIMARY KEY,
			thread_id    TEXT NOT NULL,
			seq          INTEGER NOT NULL,
			role         TEXT NOT NULL,
			content_json TEXT NOT NULL,
			created_at   TEXT NOT NULL,

			FOREIGN KEY (thread_id) REFERENCES threads(id),
			CHECK (role IN ('user', 'assistant'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_items_thread_seq
			ON items(thread_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies incremental schema changes to existing databases
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		table  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('threads') WHERE name = 'metadata_json'`,
			apply:  `ALTER TABLE threads ADD COLUMN metadata_json TEXT NOT NULL DEFAULT '{}'`,
			table:  "threads",
			column: "metadata_json",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateOrGetThread returns the thread with the given id, creating it if absent.
// A concurrent insert of the same id is resolved by re-reading the winner.
func (s *SQLiteStore) CreateOrGetThread(ctx context.Context, id, ownerID string) (*Thread, error) {
	if id == "" {
		id = uuid.New().String()
	} else {
		thread, err := s.GetThread(ctx, id)
		if err == nil {
			return thread, nil
		}
		if !errors.Is(err, ErrThreadNotFound) {
			return nil, err
		}
	}

	now := time.Now().UTC()
	thread := &Thread{
		ID:        id,
		OwnerID:   ownerID,
		Metadata:  map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.insertThread(ctx, thread)
	if errors.Is(err, ErrDuplicateThread) {
		existing, lookupErr := s.GetThread(ctx, id)
		if lookupErr == nil {
			s.logger.Debug("found existing thread after race", "thread_id", id)
			return existing, nil
		}
		s.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("created thread", "thread_id", id, "owner_id", ownerID)
	return copyThread(thread), nil
}

// insertThread writes a new thread row, returning ErrDuplicateThread on conflict.
func (s *SQLiteStore) insertThread(ctx context.Context, thread *Thread) error {
	metadata, err := json.Marshal(thread.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	query := `
		INSERT INTO threads (id, owner_id, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		thread.ID,
		thread.OwnerID,
		string(metadata),
		thread.CreatedAt.UTC().Format(timestampFormat),
		thread.UpdatedAt.UTC().Format(timestampFormat),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateThread
		}
		return fmt.Errorf("inserting thread: %w", err)
	}
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// GetThread retrieves a thread by ID.
// Returns ErrThreadNotFound if the thread doesn't exist.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	query := `
		SELECT id, owner_id, metadata_json, created_at, updated_at
		FROM threads
		WHERE id = ?
	`

	thread, err := scanThread(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}
	return thread, nil
}

// ListThreads returns the owner's threads, newest first
func (s *SQLiteStore) ListThreads(ctx context.Context, ownerID string, limit int) ([]*Thread, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, owner_id, metadata_json, created_at, updated_at
		FROM threads
		WHERE owner_id = ?
		ORDER BY created_at DESC, id ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning thread row: %w", err)
		}
		threads = append(threads, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating thread rows: %w", err)
	}
	return threads, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*Thread, error) {
	var thread Thread
	var metadataJSON, createdAtStr, updatedAtStr string

	if err := row.Scan(&thread.ID, &thread.OwnerID, &metadataJSON, &createdAtStr, &updatedAtStr); err != nil {
		return nil, err
	}

	thread.Metadata = map[string]string{}
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &thread.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}

	var err error
	thread.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	thread.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &thread, nil
}

// Append stores the item with the next sequence number for its thread.
// Appends to the same thread are serialized; the unique (thread_id, seq)
// index backs that up across processes.
func (s *SQLiteStore) Append(ctx context.Context, threadID string, item *Item) (*Item, error) {
	if err := validateItem(item); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(threadID)
	defer unlock()

	stored := copyItem(item)
	stored.ThreadID = threadID
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	content, err := json.Marshal(stored.Content)
	if err != nil {
		return nil, fmt.Errorf("encoding content: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM threads WHERE id = ?`, threadID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checking thread: %w", err)
	}

	var last int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM items WHERE thread_id = ?`, threadID,
	).Scan(&last); err != nil {
		return nil, fmt.Errorf("reading last seq: %w", err)
	}
	stored.Seq = last + 1

	createdAt := stored.CreatedAt.UTC().Format(timestampFormat)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO items (item_id, thread_id, seq, role, content_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, stored.ID, threadID, stored.Seq, string(stored.Role), string(content), createdAt)
	if err != nil {
		return nil, fmt.Errorf("inserting item: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE threads SET updated_at = ? WHERE id = ? AND updated_at < ?`,
		createdAt, threadID, createdAt,
	); err != nil {
		return nil, fmt.Errorf("touching thread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("appended item",
		"thread_id", threadID,
		"item_id", stored.ID,
		"seq", stored.Seq,
		"role", stored.Role)

	return &stored, nil
}

// LoadItems returns one page of a thread ordered by seq.
// Fetches limit+1 rows to detect whether another page exists.
func (s *SQLiteStore) LoadItems(ctx context.Context, threadID string, after *Cursor, limit int, order Order) (*Page, error) {
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}
	if err := validateOrder(order); err != nil {
		return nil, err
	}
	boundary, hasCursor, err := afterSeq(threadID, after)
	if err != nil {
		return nil, err
	}

	var args []any
	query := `
		SELECT item_id, thread_id, seq, role, content_json, created_at
		FROM items
		WHERE thread_id = ?
	`
	args = append(args, threadID)

	if order == OrderDesc {
		if hasCursor {
			query += ` AND seq < ?`
			args = append(args, boundary)
		}
		query += ` ORDER BY seq DESC`
	} else {
		if hasCursor {
			query += ` AND seq > ?`
			args = append(args, boundary)
		}
		query += ` ORDER BY seq ASC`
	}

	query += ` LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var item Item
		var role, contentJSON, createdAtStr string

		if err := rows.Scan(&item.ID, &item.ThreadID, &item.Seq, &role, &contentJSON, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning item row: %w", err)
		}

		item.Role = Role(role)
		if err := json.Unmarshal([]byte(contentJSON), &item.Content); err != nil {
			return nil, fmt.Errorf("decoding content: %w", err)
		}
		item.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating item rows: %w", err)
	}

	// Determine if there are more results
	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	page := &Page{Items: items}
	if hasMore {
		last := items[len(items)-1]
		page.NextCursor = CursorPtr(NewCursor(threadID, last.Seq))
	}
	return page, nil
}
