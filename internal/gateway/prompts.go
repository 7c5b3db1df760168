// ABOUTME: Read-only prompt library endpoints
// ABOUTME: Serves the category tree and live prompt content, 503 when no library is configured

package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/tomifer13/EndoBot/internal/prompts"
)

// handlePromptTree handles GET /api/pm/tree.
func (g *Gateway) handlePromptTree(w http.ResponseWriter, r *http.Request) {
	if g.prompts == nil {
		sendJSONError(w, http.StatusServiceUnavailable, "prompt library not configured")
		return
	}

	tree, err := g.prompts.Tree(r.Context())
	if err != nil {
		g.logger.Error("loading prompt tree", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed_to_load_tree")
		return
	}
	if tree == nil {
		tree = []*prompts.Node{}
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]any{"roots": tree})
}

// handlePromptContent handles GET /api/pm/prompt_content?id=. A missing,
// zero or unknown id yields empty content so the sidebar inserts nothing.
func (g *Gateway) handlePromptContent(w http.ResponseWriter, r *http.Request) {
	if g.prompts == nil {
		sendJSONError(w, http.StatusServiceUnavailable, "prompt library not configured")
		return
	}

	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusOK, map[string]any{"id": 0, "content": ""})
		return
	}

	content, err := g.prompts.LiveContent(r.Context(), id)
	if err != nil && !errors.Is(err, prompts.ErrPromptNotFound) {
		g.logger.Error("loading prompt content", "prompt_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"id": id, "content": ""})
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "content": content})
}
