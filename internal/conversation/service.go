// ABOUTME: Conversation service recording user turns and starting assistant replies
// ABOUTME: Record first, then act: the user item is stored before the bridge runs

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tomifer13/EndoBot/internal/dedupe"
	"github.com/tomifer13/EndoBot/internal/store"
	"github.com/tomifer13/EndoBot/internal/translator"
)

// ErrEmptyMessage is returned when a user turn has no text.
var ErrEmptyMessage = errors.New("message text is required")

// ErrDuplicateMessage is returned when a client message id was already accepted.
var ErrDuplicateMessage = errors.New("duplicate message")

// Responder produces the assistant reply for a thread.
type Responder interface {
	Run(ctx context.Context, threadID string) <-chan translator.Event
}

// Service is the entry point for owner-scoped conversation operations.
type Service struct {
	store     store.Store
	responder Responder
	dedupe    *dedupe.Cache
	events    *EventBroadcaster
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDedupe enables client message id deduplication.
func WithDedupe(cache *dedupe.Cache) Option {
	return func(s *Service) {
		s.dedupe = cache
	}
}

// WithBroadcaster exposes item subscriptions through the service.
func WithBroadcaster(b *EventBroadcaster) Option {
	return func(s *Service) {
		s.events = b
	}
}

// New creates a service. st should be the same store the responder appends
// to, usually a PublishingStore.
func New(st store.Store, responder Responder, opts ...Option) *Service {
	s := &Service{
		store:     st,
		responder: responder,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "conversation")
	return s
}

// TurnRequest is one inbound user message.
type TurnRequest struct {
	// ThreadID selects an existing thread or names a new one. Empty creates a
	// thread with a generated id.
	ThreadID string
	OwnerID  string
	Text     string
	// ClientMessageID makes retries idempotent within the dedupe window.
	ClientMessageID string
}

// TurnResult is the outcome of SubmitUserTurn.
type TurnResult struct {
	Thread   *store.Thread
	UserItem *store.Item
	// Events streams the assistant reply. It is closed when the reply ends.
	Events <-chan translator.Event
}

// SubmitUserTurn records the user's message and starts the assistant reply.
// Cancelling ctx abandons the reply; the user item stays recorded.
func (s *Service) SubmitUserTurn(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	thread, err := s.resolveThread(ctx, req.ThreadID, req.OwnerID)
	if err != nil {
		return nil, err
	}

	var claimKey string
	if s.dedupe != nil && req.ClientMessageID != "" {
		claimKey = dedupe.Key(thread.ID, req.ClientMessageID)
		if !s.dedupe.Claim(claimKey) {
			s.logger.Info("dropping duplicate user turn",
				"thread_id", thread.ID,
				"client_message_id", req.ClientMessageID)
			return nil, ErrDuplicateMessage
		}
	}

	item, err := s.store.Append(ctx, thread.ID, &store.Item{
		Role:    store.RoleUser,
		Content: store.TextContent(text),
	})
	if err != nil {
		if claimKey != "" {
			s.dedupe.Release(claimKey)
		}
		return nil, fmt.Errorf("recording user message: %w", err)
	}

	s.logger.Debug("user message recorded",
		"thread_id", thread.ID,
		"item_id", item.ID,
		"seq", item.Seq)

	return &TurnResult{
		Thread:   thread,
		UserItem: item,
		Events:   s.responder.Run(ctx, thread.ID),
	}, nil
}

// CreateThread creates a new thread for owner.
func (s *Service) CreateThread(ctx context.Context, ownerID string) (*store.Thread, error) {
	thread, err := s.store.CreateOrGetThread(ctx, "", ownerID)
	if err != nil {
		return nil, fmt.Errorf("creating thread: %w", err)
	}
	s.logger.Debug("thread created", "thread_id", thread.ID)
	return thread, nil
}

// GetThread returns a thread owned by ownerID. Threads of other owners are
// reported as not found.
func (s *Service) GetThread(ctx context.Context, threadID, ownerID string) (*store.Thread, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.OwnerID != ownerID {
		return nil, store.ErrThreadNotFound
	}
	return thread, nil
}

// ListThreads returns the owner's threads, newest first.
func (s *Service) ListThreads(ctx context.Context, ownerID string, limit int) ([]*store.Thread, error) {
	return s.store.ListThreads(ctx, ownerID, limit)
}

// LoadItems pages through an owner's thread. An unknown thread yields an
// empty page; a thread of another owner is reported as not found.
func (s *Service) LoadItems(ctx context.Context, threadID, ownerID string, after *store.Cursor, limit int, order store.Order) (*store.Page, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil && !errors.Is(err, store.ErrThreadNotFound) {
		return nil, err
	}
	if thread != nil && thread.OwnerID != ownerID {
		return nil, store.ErrThreadNotFound
	}
	return s.store.LoadItems(ctx, threadID, after, limit, order)
}

// Subscribe streams items appended to an owner's thread from now on.
func (s *Service) Subscribe(ctx context.Context, threadID, ownerID string) (<-chan *store.Item, error) {
	if s.events == nil {
		return nil, errors.New("item subscriptions are not enabled")
	}
	if _, err := s.GetThread(ctx, threadID, ownerID); err != nil {
		return nil, err
	}
	ch, _ := s.events.Subscribe(ctx, threadID)
	return ch, nil
}

// resolveThread finds the thread for a turn, creating it when needed.
func (s *Service) resolveThread(ctx context.Context, threadID, ownerID string) (*store.Thread, error) {
	thread, err := s.store.CreateOrGetThread(ctx, threadID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("resolving thread: %w", err)
	}
	if thread.OwnerID != ownerID {
		s.logger.Warn("thread owner mismatch", "thread_id", thread.ID)
		return nil, store.ErrThreadNotFound
	}
	return thread, nil
}
