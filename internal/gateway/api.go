// ABOUTME: HTTP API handlers for threads, items, turns and live item streams
// ABOUTME: JSON for reads, SSE for assistant replies and item subscriptions

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomifer13/EndoBot/internal/auth"
	"github.com/tomifer13/EndoBot/internal/conversation"
	"github.com/tomifer13/EndoBot/internal/store"
	"github.com/tomifer13/EndoBot/internal/transcript"
)

// Page size defaults for list endpoints.
const (
	defaultThreadLimit = 50
	defaultItemLimit   = 50
)

// ThreadResponse is the JSON shape of a thread.
type ThreadResponse struct {
	ID        string            `json:"id"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ItemResponse is the JSON shape of an item.
type ItemResponse struct {
	ID        string               `json:"id"`
	ThreadID  string               `json:"thread_id"`
	Seq       int64                `json:"seq"`
	Role      store.Role           `json:"role"`
	Content   []store.ContentBlock `json:"content"`
	CreatedAt time.Time            `json:"created_at"`
}

// PageResponse is one page of items. NextCursor is null at the end.
type PageResponse struct {
	Items      []ItemResponse `json:"items"`
	NextCursor *string        `json:"next_cursor"`
}

// SendMessageRequest is the body of POST /api/threads/{id}/messages.
type SendMessageRequest struct {
	Text            string `json:"text"`
	ClientMessageID string `json:"client_message_id,omitempty"`
}

func toThreadResponse(t *store.Thread) ThreadResponse {
	return ThreadResponse{ID: t.ID, Metadata: t.Metadata, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt}
}

func toItemResponse(i *store.Item) ItemResponse {
	return ItemResponse{
		ID:        i.ID,
		ThreadID:  i.ThreadID,
		Seq:       i.Seq,
		Role:      i.Role,
		Content:   i.Content,
		CreatedAt: i.CreatedAt,
	}
}

// ownerID returns the caller identity set by the auth middleware.
func ownerID(r *http.Request) string {
	if id := auth.FromContext(r.Context()); id != nil {
		return id.Subject
	}
	return ""
}

// parseLimit reads an optional positive integer query parameter.
func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return n, nil
}

// handleCreateThread handles POST /api/threads.
func (g *Gateway) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	thread, err := g.conversation.CreateThread(r.Context(), ownerID(r))
	if err != nil {
		g.sendServiceError(w, err, "create thread")
		return
	}
	writeJSON(w, http.StatusCreated, toThreadResponse(thread))
}

// handleListThreads handles GET /api/threads.
func (g *Gateway) handleListThreads(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultThreadLimit)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	threads, err := g.conversation.ListThreads(r.Context(), ownerID(r), limit)
	if err != nil {
		g.sendServiceError(w, err, "list threads")
		return
	}

	out := make([]ThreadResponse, 0, len(threads))
	for _, t := range threads {
		out = append(out, toThreadResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": out})
}

// handleGetThread handles GET /api/threads/{threadID}.
func (g *Gateway) handleGetThread(w http.ResponseWriter, r *http.Request) {
	thread, err := g.conversation.GetThread(r.Context(), chi.URLParam(r, "threadID"), ownerID(r))
	if err != nil {
		g.sendServiceError(w, err, "get thread")
		return
	}
	writeJSON(w, http.StatusOK, toThreadResponse(thread))
}

// handleSendMessage handles POST /api/threads/{threadID}/messages. The thread
// is created when it does not exist. The reply streams as SSE: one "thread"
// event, then one event per reply step named after its type.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Check streaming support before sending (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	res, err := g.conversation.SubmitUserTurn(r.Context(), &conversation.TurnRequest{
		ThreadID:        chi.URLParam(r, "threadID"),
		OwnerID:         ownerID(r),
		Text:            req.Text,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		g.sendServiceError(w, err, "submit turn")
		return
	}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	g.writeSSEEvent(w, "thread", map[string]any{
		"thread":    toThreadResponse(res.Thread),
		"user_item": toItemResponse(res.UserItem),
	})
	flusher.Flush()

	// The channel closes after the terminal event or when the client leaves.
	for ev := range res.Events {
		g.writeSSEEvent(w, string(ev.Kind), ev)
		flusher.Flush()
	}
}

// handleListItems handles GET /api/threads/{threadID}/items.
func (g *Gateway) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := parseLimit(r, defaultItemLimit)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := store.ParseOrder(q.Get("order"))
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var after *store.Cursor
	if raw := q.Get("after"); raw != "" {
		after = store.CursorPtr(store.Cursor(raw))
	}

	page, err := g.conversation.LoadItems(r.Context(), chi.URLParam(r, "threadID"), ownerID(r), after, limit, order)
	if err != nil {
		g.sendServiceError(w, err, "load items")
		return
	}

	resp := PageResponse{Items: make([]ItemResponse, 0, len(page.Items))}
	for i := range page.Items {
		resp.Items = append(resp.Items, toItemResponse(&page.Items[i]))
	}
	if page.NextCursor != nil {
		next := page.NextCursor.String()
		resp.NextCursor = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleThreadEvents handles GET /api/threads/{threadID}/events, streaming
// items appended to the thread from now on.
func (g *Gateway) handleThreadEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	items, err := g.conversation.Subscribe(ctx, chi.URLParam(r, "threadID"), ownerID(r))
	if err != nil {
		g.sendServiceError(w, err, "subscribe")
		return
	}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(g.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case item, ok := <-items:
			if !ok {
				return
			}
			g.writeSSEEvent(w, "item", toItemResponse(item))
			flusher.Flush()
		}
	}
}

// handleTranscript handles GET /api/threads/{threadID}/transcript. Pass
// ?download=1 to get an attachment.
func (g *Gateway) handleTranscript(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerID(r)

	thread, err := g.conversation.GetThread(ctx, chi.URLParam(r, "threadID"), owner)
	if err != nil {
		g.sendServiceError(w, err, "get thread")
		return
	}

	var items []store.Item
	var after *store.Cursor
	for {
		page, err := g.conversation.LoadItems(ctx, thread.ID, owner, after, store.MaxPageSize, store.OrderAsc)
		if err != nil {
			g.sendServiceError(w, err, "load items")
			return
		}
		items = append(items, page.Items...)
		if page.NextCursor == nil {
			break
		}
		after = page.NextCursor
	}

	var buf bytes.Buffer
	if err := transcript.Render(&buf, thread, items, time.Now()); err != nil {
		g.logger.Error("rendering transcript", "thread_id", thread.ID, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if r.URL.Query().Get("download") != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "transcript-"+thread.ID+".html"))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
