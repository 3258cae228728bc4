package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/greenfell/hearth/internal/engine"
)

// DebugEngine is the traced-search surface the debug handlers need.
type DebugEngine interface {
	DebugSearch(ctx context.Context, req engine.SearchRequest) (*engine.SearchResponse, *engine.SessionTrace, error)
	Debugger() *engine.SearchDebugger
}

// DebugHandler exposes traced searches and captured session traces.
type DebugHandler struct {
	engine DebugEngine
}

// NewDebugHandler creates a DebugHandler on top of the given engine.
func NewDebugHandler(eng DebugEngine) *DebugHandler {
	return &DebugHandler{engine: eng}
}

// DebugSearchResponse pairs a search response with its session trace.
type DebugSearchResponse struct {
	Response *engine.SearchResponse `json:"response"`
	Trace    *engine.SessionTrace   `json:"trace"`
}

// DebugSearch handles POST /api/debug/search - runs a fully traced search
// and returns the selection together with per-entity score journeys.
func (h *DebugHandler) DebugSearch(w http.ResponseWriter, r *http.Request) {
	var req engine.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "query is required", nil)
		return
	}

	resp, trace, err := h.engine.DebugSearch(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "debug search failed", err)
		return
	}
	respondJSON(w, http.StatusOK, DebugSearchResponse{Response: resp, Trace: trace})
}

// ListTraces handles GET /api/debug/traces - returns recent session traces,
// newest first.
func (h *DebugHandler) ListTraces(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 20)
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	traces := h.engine.Debugger().Recent(limit)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"traces": traces,
		"total":  len(traces),
	})
}

// GetTrace handles GET /api/debug/traces/{id} - returns one session trace.
func (h *DebugHandler) GetTrace(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "trace ID is required", nil)
		return
	}

	trace, ok := h.engine.Debugger().Session(id)
	if !ok {
		respondError(w, http.StatusNotFound, "trace not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, trace)
}
