// ABOUTME: Chat session exchange endpoint for the hosted chat widget
// ABOUTME: Trades a workflow id and the caller identity for a short-lived client secret

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tomifer13/EndoBot/internal/upstream"
)

// CreateSessionRequest is the body of POST /api/create-session. Every field
// is optional; the configured workflow is used when none is given.
type CreateSessionRequest struct {
	Workflow *struct {
		ID string `json:"id"`
	} `json:"workflow,omitempty"`
	WorkflowID string `json:"workflowId,omitempty"`
}

// workflowID picks body.workflow.id, then body.workflowId, then fallback.
func (req *CreateSessionRequest) workflowID(fallback string) string {
	if req.Workflow != nil {
		if id := strings.TrimSpace(req.Workflow.ID); id != "" {
			return id
		}
	}
	if id := strings.TrimSpace(req.WorkflowID); id != "" {
		return id
	}
	return strings.TrimSpace(fallback)
}

// handleCreateSession handles POST /api/create-session.
func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !g.upstream.Configured() {
		sendJSONError(w, http.StatusInternalServerError, "Missing OPENAI_API_KEY")
		return
	}

	// An unreadable body counts as empty.
	var req CreateSessionRequest
	body, _ := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if len(body) > 0 {
		_ = json.Unmarshal(body, &req)
	}

	workflowID := req.workflowID(g.config.Upstream.WorkflowID)
	if workflowID == "" {
		sendJSONError(w, http.StatusBadRequest, "Missing workflow id")
		return
	}

	session, err := g.upstream.CreateSession(r.Context(), workflowID, ownerID(r))
	if err != nil {
		var se *upstream.StatusError
		switch {
		case errors.As(err, &se):
			sendJSONError(w, se.StatusCode, se.Message())
		case errors.Is(err, upstream.ErrMissingSecret):
			sendJSONError(w, http.StatusBadGateway, "Missing client secret in response")
		default:
			g.logger.Warn("chat session exchange failed", "workflow", workflowID, "error", err)
			sendJSONError(w, http.StatusBadGateway, "Failed to reach ChatKit API")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"client_secret": session.ClientSecret,
		"expires_after": session.ExpiresAfter,
	})
}
