// ABOUTME: State machine turning upstream deltas into ordered thread events
// ABOUTME: Guarantees a message is started once, completed once or failed, never both

package translator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tomifer13/EndoBot/internal/upstream"
)

// DefaultFallbackText is the assistant reply used when the upstream finishes
// without producing any text.
const DefaultFallbackText = "Não consegui gerar uma resposta agora. Pode tentar novamente?"

// ErrFault is returned when input arrives after the translator reached a
// terminal state. It indicates a bug in the caller.
var ErrFault = errors.New("translator received input after terminal state")

// State is the lifecycle position of a Translator.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further input is accepted.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// PendingMessage accumulates the assistant reply being streamed.
type PendingMessage struct {
	ItemID    string
	text      strings.Builder
	Completed bool
}

// Text returns the text accumulated so far.
func (p *PendingMessage) Text() string {
	return p.text.String()
}

// Option configures a Translator.
type Option func(*Translator)

// WithIDFunc overrides how assistant item ids are generated.
func WithIDFunc(fn func() string) Option {
	return func(t *Translator) {
		t.newID = fn
	}
}

// WithFallbackText sets the reply synthesized for an empty stream.
func WithFallbackText(text string) Option {
	return func(t *Translator) {
		if text != "" {
			t.fallback = text
		}
	}
}

// WithStrict makes faults panic instead of returning ErrFault.
func WithStrict(strict bool) Option {
	return func(t *Translator) {
		t.strict = strict
	}
}

// Translator converts one upstream stream into domain events. One instance
// serves one response and is not safe for concurrent use.
type Translator struct {
	state    State
	pending  *PendingMessage
	newID    func() string
	fallback string
	strict   bool
}

// New creates a translator in the idle state.
func New(opts ...Option) *Translator {
	t := &Translator{
		newID:    func() string { return uuid.New().String() },
		fallback: DefaultFallbackText,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current state.
func (t *Translator) State() State {
	return t.state
}

// Pending returns the in-progress message, nil before the first text.
func (t *Translator) Pending() *PendingMessage {
	return t.pending
}

// Handle consumes one upstream delta.
func (t *Translator) Handle(d upstream.Delta) ([]Event, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}

	switch d.Kind {
	case upstream.DeltaText:
		return t.text(d.Text), nil
	case upstream.DeltaDone:
		return t.complete(), nil
	case upstream.DeltaHeartbeat, upstream.DeltaMalformed:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown delta kind %d", d.Kind)
	}
}

// Finish handles a clean end of the upstream without an explicit done.
func (t *Translator) Finish() ([]Event, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	return t.complete(), nil
}

// Fail ends the response with a stream_error. Accumulated text is dropped.
// Calling Fail in a terminal state is a fault.
func (t *Translator) Fail(kind ErrorKind, status int, msg string) ([]Event, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	itemID := ""
	if t.pending != nil {
		itemID = t.pending.ItemID
	}
	t.state = StateFailed
	return []Event{{
		Kind:    EventStreamError,
		ItemID:  itemID,
		ErrKind: kind,
		Status:  status,
		Message: msg,
	}}, nil
}

func (t *Translator) checkOpen() error {
	if !t.state.Terminal() {
		return nil
	}
	if t.strict {
		panic(fmt.Sprintf("%v (state %s)", ErrFault, t.state))
	}
	return fmt.Errorf("%w: state %s", ErrFault, t.state)
}

func (t *Translator) text(s string) []Event {
	if s == "" {
		return nil
	}

	var events []Event
	if t.state == StateIdle {
		t.pending = &PendingMessage{ItemID: t.newID()}
		t.state = StateStreaming
		events = append(events, Event{Kind: EventMessageStarted, ItemID: t.pending.ItemID})
	}

	t.pending.text.WriteString(s)
	return append(events, Event{Kind: EventTextDelta, ItemID: t.pending.ItemID, Text: s})
}

func (t *Translator) complete() []Event {
	var events []Event
	if t.state == StateIdle {
		t.pending = &PendingMessage{ItemID: t.newID()}
		t.pending.text.WriteString(t.fallback)
		events = append(events, Event{Kind: EventMessageStarted, ItemID: t.pending.ItemID})
	}

	t.pending.Completed = true
	t.state = StateCompleted
	return append(events, Event{
		Kind:   EventMessageCompleted,
		ItemID: t.pending.ItemID,
		Text:   t.pending.Text(),
	})
}
