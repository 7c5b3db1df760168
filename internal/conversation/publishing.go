// ABOUTME: Store decorator that announces every appended item
// ABOUTME: Feeds the in-process broadcaster, metrics and an optional external publisher

package conversation

import (
	"context"
	"log/slog"

	"github.com/tomifer13/EndoBot/internal/metrics"
	"github.com/tomifer13/EndoBot/internal/store"
)

// ItemPublisher forwards appended items outside the process.
type ItemPublisher interface {
	PublishItem(ctx context.Context, item *store.Item) error
}

// PublishingStore wraps a Store and announces items after a successful Append.
// Publishing failures are logged and never fail the append.
type PublishingStore struct {
	store.Store
	events    *EventBroadcaster
	publisher ItemPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewPublishingStore wraps st. events, publisher, m and logger may be nil.
func NewPublishingStore(st store.Store, events *EventBroadcaster, publisher ItemPublisher, m *metrics.Metrics, logger *slog.Logger) *PublishingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishingStore{
		Store:     st,
		events:    events,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With("component", "publishing_store"),
	}
}

// Append stores the item, then announces it.
func (p *PublishingStore) Append(ctx context.Context, threadID string, item *store.Item) (*store.Item, error) {
	stored, err := p.Store.Append(ctx, threadID, item)
	if err != nil {
		return nil, err
	}

	p.metrics.ItemAppended(string(stored.Role))

	if p.events != nil {
		p.events.Publish(stored)
	}
	if p.publisher != nil {
		if err := p.publisher.PublishItem(ctx, stored); err != nil {
			p.logger.Warn("failed to publish item",
				"thread_id", stored.ThreadID,
				"item_id", stored.ID,
				"error", err)
		}
	}
	return stored, nil
}
