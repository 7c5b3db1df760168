// ABOUTME: In-memory fan-out of appended items to subscribers of a thread
// ABOUTME: Drives the thread events SSE endpoint so other tabs see new items

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tomifer13/EndoBot/internal/store"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// DropCounter is notified when a slow subscriber misses an item.
type DropCounter interface {
	BroadcastDropped()
}

// EventBroadcaster fans out persisted items per thread id. Subscribers only
// see items appended after they subscribed.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *store.Item // threadID -> subID -> ch
	drops       DropCounter
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. logger and drops may be nil.
func NewEventBroadcaster(logger *slog.Logger, drops DropCounter) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[string]map[string]chan *store.Item),
		drops:       drops,
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for items on threadID. The channel is closed when ctx
// is cancelled, on Unsubscribe or on Close.
func (b *EventBroadcaster) Subscribe(ctx context.Context, threadID string) (<-chan *store.Item, string) {
	subID := uuid.New().String()
	ch := make(chan *store.Item, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[threadID]; !ok {
		b.subscribers[threadID] = make(map[string]chan *store.Item)
	}
	b.subscribers[threadID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "thread_id", threadID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(threadID, subID)
	}()

	return ch, subID
}

// Publish delivers item to every subscriber of its thread without blocking.
// Subscribers with a full buffer miss the item.
func (b *EventBroadcaster) Publish(item *store.Item) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[item.ThreadID] {
		select {
		case ch <- item:
		default:
			if b.drops != nil {
				b.drops.BroadcastDropped()
			}
			b.logger.Debug("dropped item for slow subscriber",
				"thread_id", item.ThreadID,
				"sub_id", subID,
				"item_id", item.ID)
		}
	}
}

// Subscribers returns how many subscribers a thread has.
func (b *EventBroadcaster) Subscribers(threadID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[threadID])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(threadID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[threadID]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, threadID)
	}

	b.logger.Debug("subscriber removed", "thread_id", threadID, "sub_id", subID)
}

// Close closes every subscriber channel.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for threadID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, threadID)
	}
	b.logger.Debug("broadcaster closed")
}
