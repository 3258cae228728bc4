package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/greenfell/hearth/internal/engine"
)

// SearchEngine is the retrieval surface the search handlers need.
type SearchEngine interface {
	Search(ctx context.Context, req engine.SearchRequest) (*engine.SearchResponse, error)
	RecordFeedback(ctx context.Context, conversationID, query string, success float64, usedEntities []string)
}

// SearchHandler handles retrieval and feedback requests.
type SearchHandler struct {
	engine SearchEngine
}

// NewSearchHandler creates a SearchHandler on top of the given engine.
func NewSearchHandler(eng SearchEngine) *SearchHandler {
	return &SearchHandler{engine: eng}
}

// Search handles POST /api/search - runs the retrieval pipeline and returns
// the ranked entity selection for prompt injection.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req engine.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "query is required", nil)
		return
	}

	resp, err := h.engine.Search(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "search failed", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// FeedbackRequest reports how well a selection served its query. Success is
// a rate in [0, 1]; used_entities lists the entities the assistant actually
// acted on or cited.
type FeedbackRequest struct {
	ConversationID string   `json:"conversation_id,omitempty"`
	Query          string   `json:"query"`
	Success        float64  `json:"success"`
	UsedEntities   []string `json:"used_entities,omitempty"`
}

// Feedback handles POST /api/feedback - feeds a downstream outcome back into
// the expansion memory and conversation boosts.
func (h *SearchHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "query is required", nil)
		return
	}

	h.engine.RecordFeedback(r.Context(), req.ConversationID, req.Query, req.Success, req.UsedEntities)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}
