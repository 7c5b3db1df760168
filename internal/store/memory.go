// ABOUTME: In-memory Store implementation, one append-only log per thread
// ABOUTME: Appends serialize per thread; reads use immutable snapshots without locking

package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// threadLog is the ordered item log of a single thread. Item i has Seq i+1.
type threadLog struct {
	mu    sync.Mutex // serializes appends
	items atomic.Pointer[[]Item]
}

func newThreadLog() *threadLog {
	l := &threadLog{}
	empty := []Item{}
	l.items.Store(&empty)
	return l
}

// snapshot returns the items visible right now. Appends only ever write past
// the length of a published slice, so a snapshot never changes.
func (l *threadLog) snapshot() []Item {
	return *l.items.Load()
}

func (l *threadLog) append(item Item) Item {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.snapshot()
	item.Seq = int64(len(cur)) + 1
	next := append(cur, item)
	l.items.Store(&next)
	return item
}

// MemoryStore is the in-memory Store. History lives only as long as the process.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*Thread
	logs    map[string]*threadLog
	logger  *slog.Logger
}

// NewMemoryStore creates an empty MemoryStore. Pass nil logger for default.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		threads: make(map[string]*Thread),
		logs:    make(map[string]*threadLog),
		logger:  logger.With("component", "store"),
	}
}

// CreateOrGetThread returns the thread with the given id, creating it if absent.
func (m *MemoryStore) CreateOrGetThread(ctx context.Context, id, ownerID string) (*Thread, error) {
	if id == "" {
		id = uuid.New().String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.threads[id]; ok {
		return copyThread(t), nil
	}

	now := time.Now().UTC()
	t := &Thread{
		ID:        id,
		OwnerID:   ownerID,
		Metadata:  map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.threads[id] = t
	m.logs[id] = newThreadLog()

	m.logger.Debug("created thread", "thread_id", id, "owner_id", ownerID)
	return copyThread(t), nil
}

// GetThread retrieves a thread by ID.
func (m *MemoryStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.threads[id]
	if !ok {
		return nil, ErrThreadNotFound
	}
	return copyThread(t), nil
}

// ListThreads returns the owner's threads, newest first.
func (m *MemoryStore) ListThreads(ctx context.Context, ownerID string, limit int) ([]*Thread, error) {
	if limit <= 0 {
		limit = 50
	}

	m.mu.RLock()
	var result []*Thread
	for _, t := range m.threads {
		if t.OwnerID == ownerID {
			result = append(result, copyThread(t))
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Append assigns the next sequence number and stores the item.
func (m *MemoryStore) Append(ctx context.Context, threadID string, item *Item) (*Item, error) {
	if err := validateItem(item); err != nil {
		return nil, err
	}

	m.mu.RLock()
	log, ok := m.logs[threadID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrThreadNotFound
	}

	stored := copyItem(item)
	stored.ThreadID = threadID
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	stored = log.append(stored)

	m.mu.Lock()
	if t, ok := m.threads[threadID]; ok && stored.CreatedAt.After(t.UpdatedAt) {
		t.UpdatedAt = stored.CreatedAt
	}
	m.mu.Unlock()

	m.logger.Debug("appended item",
		"thread_id", threadID,
		"item_id", stored.ID,
		"seq", stored.Seq,
		"role", stored.Role)

	result := copyItem(&stored)
	return &result, nil
}

// LoadItems returns one page of a thread. Unknown threads yield an empty page.
func (m *MemoryStore) LoadItems(ctx context.Context, threadID string, after *Cursor, limit int, order Order) (*Page, error) {
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

	m.mu.RLock()
	log, ok := m.logs[threadID]
	m.mu.RUnlock()
	if !ok {
		return &Page{Items: []Item{}}, nil
	}

	return pageFromSnapshot(threadID, log.snapshot(), boundary, hasCursor, limit, order), nil
}

// pageFromSnapshot slices a seq-ordered snapshot into a page. Item i has Seq i+1.
func pageFromSnapshot(threadID string, snap []Item, boundary int64, hasCursor bool, limit int, order Order) *Page {
	n := int64(len(snap))
	page := &Page{Items: []Item{}}

	var more bool
	if order == OrderDesc {
		end := n // exclusive index
		if hasCursor {
			end = max(min(boundary-1, n), 0)
		}
		start := max(end-int64(limit), 0)
		for i := end - 1; i >= start; i-- {
			page.Items = append(page.Items, copyItem(&snap[i]))
		}
		more = start > 0
	} else {
		start := int64(0)
		if hasCursor {
			start = min(boundary, n)
		}
		end := min(start+int64(limit), n)
		for i := start; i < end; i++ {
			page.Items = append(page.Items, copyItem(&snap[i]))
		}
		more = end < n
	}

	if more && len(page.Items) > 0 {
		last := page.Items[len(page.Items)-1]
		page.NextCursor = CursorPtr(NewCursor(threadID, last.Seq))
	}
	return page
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op; it exists to satisfy Store.
func (m *MemoryStore) Close() error {
	return nil
}
