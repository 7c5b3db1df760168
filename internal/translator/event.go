// ABOUTME: Domain events emitted while streaming an assistant reply
// ABOUTME: Event kinds, error kinds and their JSON wire shape

package translator

// EventKind names a domain event.
type EventKind string

const (
	EventMessageStarted   EventKind = "message_started"
	EventTextDelta        EventKind = "text_delta"
	EventMessageCompleted EventKind = "message_completed"
	EventStreamError      EventKind = "stream_error"
)

// ErrorKind classifies a stream_error.
type ErrorKind string

const (
	ErrorTransport ErrorKind = "transport"
	ErrorStatus    ErrorKind = "status"
	ErrorTimeout   ErrorKind = "timeout"
	ErrorStore     ErrorKind = "store"
	ErrorInternal  ErrorKind = "internal"
)

// Event is one ordered step of a streamed reply. For text_delta Text is the
// increment only; for message_completed it is the full reply.
type Event struct {
	Kind    EventKind `json:"type"`
	ItemID  string    `json:"item_id,omitempty"`
	Text    string    `json:"text,omitempty"`
	ErrKind ErrorKind `json:"error_kind,omitempty"`
	Status  int       `json:"status,omitempty"`
	Message string    `json:"message,omitempty"`
}
