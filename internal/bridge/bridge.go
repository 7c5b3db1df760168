// ABOUTME: Streaming bridge from one thread's latest user turn to an upstream run
// ABOUTME: Forwards translated events in order and persists the completed reply

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/tomifer13/EndoBot/internal/metrics"
	"github.com/tomifer13/EndoBot/internal/store"
	"github.com/tomifer13/EndoBot/internal/translator"
	"github.com/tomifer13/EndoBot/internal/upstream"
)

// Defaults applied by New when the config leaves a field zero.
const (
	DefaultHistoryLimit   = 30
	DefaultIdleTimeout    = 60 * time.Second
	DefaultFallbackPrompt = "Olá! Pode enviar sua dúvida."

	// eventBuffer bounds how far the bridge may run ahead of a slow consumer.
	eventBuffer = 16

	// persistTimeout bounds the final append, which runs detached from the
	// request context.
	persistTimeout = 5 * time.Second
)

// Mode selects how the upstream is called.
type Mode string

const (
	ModeStream   Mode = "stream"
	ModeComplete Mode = "complete"
)

// HeartbeatPolicy decides which frames extend the idle window.
type HeartbeatPolicy string

const (
	// HeartbeatReset treats every frame, including comments and malformed
	// data, as liveness.
	HeartbeatReset HeartbeatPolicy = "reset"
	// HeartbeatIgnore only lets text deltas extend the window.
	HeartbeatIgnore HeartbeatPolicy = "ignore"
)

// Turn outcomes reported to metrics.
const (
	outcomeCompleted = "completed"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

// ItemStore is the part of the conversation store the bridge needs.
type ItemStore interface {
	LoadItems(ctx context.Context, threadID string, after *store.Cursor, limit int, order store.Order) (*store.Page, error)
	Append(ctx context.Context, threadID string, item *store.Item) (*store.Item, error)
}

// Upstream opens workflow runs.
type Upstream interface {
	Stream(ctx context.Context, req upstream.Request) (*upstream.Stream, error)
	Complete(ctx context.Context, req upstream.Request) (string, error)
}

// Config holds bridge settings.
type Config struct {
	WorkflowID      string
	WorkflowVersion string
	Mode            Mode
	IdleTimeout     time.Duration
	HeartbeatPolicy HeartbeatPolicy
	HistoryLimit    int
	FallbackPrompt  string
	FallbackReply   string
	// Strict makes translator faults panic. Meant for tests.
	Strict bool
}

// Bridge runs upstream responses for threads.
type Bridge struct {
	store    ItemStore
	upstream Upstream
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates a bridge. logger and m may be nil.
func New(st ItemStore, up Upstream, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeStream
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.HeartbeatPolicy == "" {
		cfg.HeartbeatPolicy = HeartbeatReset
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.FallbackPrompt == "" {
		cfg.FallbackPrompt = DefaultFallbackPrompt
	}
	return &Bridge{
		store:    st,
		upstream: up,
		cfg:      cfg,
		logger:   logger.With("component", "bridge"),
		metrics:  m,
	}
}

// Run produces the assistant reply for threadID. The returned channel yields
// events in order and is closed after a terminal event or cancellation.
// Cancelling ctx aborts the upstream call and nothing is persisted.
func (b *Bridge) Run(ctx context.Context, threadID string) <-chan translator.Event {
	out := make(chan translator.Event, eventBuffer)
	go b.run(ctx, threadID, out)
	return out
}

// run is one response. It owns out and closes it on return.
func (b *Bridge) run(ctx context.Context, threadID string, out chan<- translator.Event) {
	defer close(out)

	r := &response{
		bridge:   b,
		threadID: threadID,
		out:      out,
		tr: translator.New(
			translator.WithFallbackText(b.cfg.FallbackReply),
			translator.WithStrict(b.cfg.Strict),
		),
		logger:  b.logger.With("thread_id", threadID),
		started: time.Now(),
		outcome: outcomeCancelled,
	}

	done := b.metrics.StreamStarted()
	defer func() {
		done(r.outcome)
		b.metrics.TurnFinished(r.outcome)
		r.logger.Debug("response finished",
			"outcome", r.outcome,
			"malformed_frames", r.malformed,
			"duration", time.Since(r.started))
	}()

	input, err := b.latestUserText(ctx, threadID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("failed to load history", "error", err)
		r.fail(ctx, translator.ErrorStore, 0, "failed to load conversation history")
		return
	}

	req := upstream.Request{
		Workflow: b.cfg.WorkflowID,
		Input:    input,
		Version:  b.cfg.WorkflowVersion,
	}

	if b.cfg.Mode == ModeComplete {
		r.complete(ctx, req)
		return
	}
	r.stream(ctx, req)
}

// latestUserText returns the text of the newest user item among the recent
// history, or the fallback prompt.
func (b *Bridge) latestUserText(ctx context.Context, threadID string) (string, error) {
	page, err := b.store.LoadItems(ctx, threadID, nil, b.cfg.HistoryLimit, store.OrderDesc)
	if err != nil {
		return "", fmt.Errorf("loading items: %w", err)
	}

	history := slices.Clone(page.Items)
	slices.Reverse(history)

	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != store.RoleUser {
			continue
		}
		if text := history[i].Text(); text != "" {
			return text, nil
		}
	}
	return b.cfg.FallbackPrompt, nil
}

// response carries the state of one Run.
type response struct {
	bridge    *Bridge
	threadID  string
	out       chan<- translator.Event
	tr        *translator.Translator
	logger    *slog.Logger
	started   time.Time
	opened    time.Time
	sawDelta  bool
	malformed int
	outcome   string
}

type readResult struct {
	delta upstream.Delta
	err   error
}

func (r *response) stream(ctx context.Context, req upstream.Request) {
	b := r.bridge

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The idle window also covers waiting for response headers.
	var openTimedOut atomic.Bool
	var openTimer *time.Timer
	if b.cfg.IdleTimeout > 0 {
		openTimer = time.AfterFunc(b.cfg.IdleTimeout, func() {
			openTimedOut.Store(true)
			cancel()
		})
	}
	s, err := b.upstream.Stream(streamCtx, req)
	if openTimer != nil {
		openTimer.Stop()
	}
	if openTimedOut.Load() {
		if err == nil {
			s.Close()
		}
		r.logger.Warn("upstream idle timeout before response", "timeout", b.cfg.IdleTimeout)
		r.fail(ctx, translator.ErrorTimeout, 0, "upstream stopped responding")
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.failUpstream(ctx, err)
		return
	}
	r.opened = time.Now()

	results := make(chan readResult)
	readerDone := make(chan struct{})
	defer func() {
		// Closing the body unblocks a pending read; the count is only safe
		// to read once the reader goroutine has exited.
		cancel()
		s.Close()
		<-readerDone
		r.malformed = s.Malformed()
		b.metrics.MalformedFrames(r.malformed)
	}()

	go func() {
		defer close(readerDone)
		for {
			d, err := s.Next()
			select {
			case results <- readResult{delta: d, err: err}:
			case <-streamCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var idle <-chan time.Time
	var timer *time.Timer
	if b.cfg.IdleTimeout > 0 {
		timer = time.NewTimer(b.cfg.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("response cancelled by client")
			return

		case <-idle:
			r.logger.Warn("upstream idle timeout", "timeout", b.cfg.IdleTimeout)
			r.fail(ctx, translator.ErrorTimeout, 0, "upstream stopped responding")
			return

		case res := <-results:
			if errors.Is(res.err, io.EOF) {
				events, err := r.tr.Finish()
				if err != nil {
					r.fault(ctx, err)
					return
				}
				r.emit(ctx, events)
				return
			}
			if res.err != nil {
				if ctx.Err() != nil {
					return
				}
				r.failUpstream(ctx, res.err)
				return
			}

			if timer != nil && r.extendsIdle(res.delta) {
				timer.Reset(b.cfg.IdleTimeout)
			}
			if res.delta.Kind == upstream.DeltaMalformed {
				r.logger.Debug("dropping malformed upstream frame", "raw", res.delta.Raw)
			}

			events, err := r.tr.Handle(res.delta)
			if err != nil {
				r.fault(ctx, err)
				return
			}
			if !r.emit(ctx, events) || r.tr.State().Terminal() {
				return
			}
		}
	}
}

func (r *response) extendsIdle(d upstream.Delta) bool {
	if r.bridge.cfg.HeartbeatPolicy == HeartbeatIgnore {
		return d.Kind == upstream.DeltaText
	}
	return true
}

func (r *response) complete(ctx context.Context, req upstream.Request) {
	r.opened = time.Now()
	text, err := r.bridge.upstream.Complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.failUpstream(ctx, err)
		return
	}

	for _, d := range []upstream.Delta{
		{Kind: upstream.DeltaText, Text: text},
		{Kind: upstream.DeltaDone},
	} {
		events, err := r.tr.Handle(d)
		if err != nil {
			r.fault(ctx, err)
			return
		}
		if !r.emit(ctx, events) {
			return
		}
	}
}

// emit forwards events in order. It persists the reply before forwarding
// message_completed. It returns false when the consumer went away.
func (r *response) emit(ctx context.Context, events []translator.Event) bool {
	for _, ev := range events {
		switch ev.Kind {
		case translator.EventTextDelta:
			if !r.sawDelta {
				r.sawDelta = true
				r.bridge.metrics.FirstDelta(time.Since(r.opened))
			}
		case translator.EventMessageCompleted:
			if ctx.Err() != nil {
				return false
			}
			if err := r.persist(ctx, ev); err != nil {
				r.logger.Error("failed to persist assistant reply", "item_id", ev.ItemID, "error", err)
				ev = translator.Event{
					Kind:    translator.EventStreamError,
					ItemID:  ev.ItemID,
					ErrKind: translator.ErrorStore,
					Message: "failed to save reply",
				}
			}
		}

		if ev.Kind == translator.EventStreamError {
			r.outcome = outcomeError
			r.bridge.metrics.StreamError(string(ev.ErrKind))
		} else if ev.Kind == translator.EventMessageCompleted {
			r.outcome = outcomeCompleted
		}

		select {
		case r.out <- ev:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (r *response) persist(ctx context.Context, ev translator.Event) error {
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	item, err := r.bridge.store.Append(appendCtx, r.threadID, &store.Item{
		ID:      ev.ItemID,
		Role:    store.RoleAssistant,
		Content: store.TextContent(ev.Text),
	})
	if err != nil {
		return err
	}
	r.logger.Info("assistant reply stored", "item_id", item.ID, "seq", item.Seq, "chars", len(ev.Text))
	return nil
}

// fail ends the response with a stream_error of the given kind.
func (r *response) fail(ctx context.Context, kind translator.ErrorKind, status int, msg string) {
	events, err := r.tr.Fail(kind, status, msg)
	if err != nil {
		r.logger.Error("translator fault", "error", err)
		return
	}
	r.emit(ctx, events)
}

// failUpstream maps an upstream error onto a stream_error.
func (r *response) failUpstream(ctx context.Context, err error) {
	var statusErr *upstream.StatusError
	switch {
	case errors.As(err, &statusErr):
		r.logger.Warn("upstream rejected request", "status", statusErr.StatusCode)
		r.fail(ctx, translator.ErrorStatus, statusErr.StatusCode, statusErr.Message())
	case errors.Is(err, context.DeadlineExceeded):
		r.logger.Warn("upstream request timed out", "error", err)
		r.fail(ctx, translator.ErrorTimeout, 0, "upstream request timed out")
	default:
		r.logger.Warn("upstream transport failure", "error", err)
		r.fail(ctx, translator.ErrorTransport, 0, "failed to reach upstream")
	}
}

func (r *response) fault(ctx context.Context, err error) {
	r.logger.Error("translator fault", "error", err)
	if r.tr.State().Terminal() {
		return
	}
	r.fail(ctx, translator.ErrorInternal, 0, "internal error")
}
