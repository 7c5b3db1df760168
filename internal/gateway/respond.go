// ABOUTME: Response helpers shared by the gateway handlers
// ABOUTME: JSON bodies, JSON errors and server-sent event framing

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tomifer13/EndoBot/internal/conversation"
	"github.com/tomifer13/EndoBot/internal/store"
)

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// sendServiceError maps conversation and store errors to HTTP statuses.
func (g *Gateway) sendServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, store.ErrThreadNotFound):
		sendJSONError(w, http.StatusNotFound, "thread not found")
	case errors.Is(err, store.ErrInvalidArgument):
		sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrEmptyMessage):
		sendJSONError(w, http.StatusBadRequest, "message text is required")
	case errors.Is(err, conversation.ErrDuplicateMessage):
		sendJSONError(w, http.StatusConflict, "duplicate message")
	default:
		g.logger.Error(op+" failed", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// setSSEHeaders prepares a response for an event stream.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
