// ABOUTME: Store interface and data types for endobot conversation persistence
// ABOUTME: Defines Thread, Item, Page and the per-thread append/page contract

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrThreadNotFound is returned when a thread must exist and does not
var ErrThreadNotFound = errors.New("thread not found")

// ErrInvalidArgument is returned for bad pagination parameters, cursors or items
var ErrInvalidArgument = errors.New("invalid argument")

// ErrDuplicateThread is returned when trying to create a thread that already exists
var ErrDuplicateThread = errors.New("thread already exists")

// MaxPageSize caps the number of items a single LoadItems call returns.
const MaxPageSize = 500

// Role identifies who authored an item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ContentTypeText is the only content block type produced today.
const ContentTypeText = "text"

// ContentBlock is one typed piece of an item's content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextContent returns a single-block text content slice.
func TextContent(text string) []ContentBlock {
	return []ContentBlock{{Type: ContentTypeText, Text: text}}
}

// Order selects the direction LoadItems walks a thread.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ParseOrder converts a query value to an Order. Empty means desc.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(s) {
	case "", string(OrderDesc):
		return OrderDesc, nil
	case string(OrderAsc):
		return OrderAsc, nil
	default:
		return "", fmt.Errorf("%w: order must be asc or desc", ErrInvalidArgument)
	}
}

// Thread is a single conversation owned by one session identity
type Thread struct {
	ID        string
	OwnerID   string
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is one logged entry of a thread. Seq is assigned by Append and is
// contiguous from 1 within a thread.
type Item struct {
	ID        string
	ThreadID  string
	Seq       int64
	Role      Role
	Content   []ContentBlock
	CreatedAt time.Time
}

// Text concatenates the text blocks of the item.
func (i *Item) Text() string {
	var b strings.Builder
	for _, c := range i.Content {
		if c.Type == ContentTypeText {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// Page is an immutable slice of a thread's items. NextCursor is nil when the
// page reached the end of the thread at read time.
type Page struct {
	Items      []Item
	NextCursor *Cursor
}

// Store defines the interface for thread and item persistence
type Store interface {
	// Threads
	CreateOrGetThread(ctx context.Context, id, ownerID string) (*Thread, error)
	GetThread(ctx context.Context, id string) (*Thread, error)
	ListThreads(ctx context.Context, ownerID string, limit int) ([]*Thread, error)

	// Items
	Append(ctx context.Context, threadID string, item *Item) (*Item, error)
	LoadItems(ctx context.Context, threadID string, after *Cursor, limit int, order Order) (*Page, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// copyThread returns a deep copy so callers can never mutate stored state.
func copyThread(t *Thread) *Thread {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// copyItem returns a copy with its own content slice.
func copyItem(i *Item) Item {
	c := *i
	c.Content = append([]ContentBlock(nil), i.Content...)
	return c
}

// validateItem checks the parts of an item a caller controls.
func validateItem(item *Item) error {
	if item == nil {
		return fmt.Errorf("%w: item is required", ErrInvalidArgument)
	}
	if !item.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidArgument, item.Role)
	}
	return nil
}

// validateOrder rejects anything but asc and desc.
func validateOrder(order Order) error {
	if order != OrderAsc && order != OrderDesc {
		return fmt.Errorf("%w: unknown order %q", ErrInvalidArgument, order)
	}
	return nil
}

// clampLimit rejects non-positive limits and caps large ones.
func clampLimit(limit int) (int, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("%w: limit must be positive", ErrInvalidArgument)
	}
	if limit > MaxPageSize {
		return MaxPageSize, nil
	}
	return limit, nil
}
