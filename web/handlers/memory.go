package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/greenfell/hearth/internal/memory"
)

// MemoryHandler exposes conversation memory for inspection and tuning.
type MemoryHandler struct {
	service *memory.Service
}

// NewMemoryHandler creates a MemoryHandler.
func NewMemoryHandler(service *memory.Service) *MemoryHandler {
	return &MemoryHandler{service: service}
}

// GetConversationMemory handles GET /api/conversations/{id}/memory - returns
// the live memory document of one conversation.
func (h *MemoryHandler) GetConversationMemory(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "conversation ID is required", nil)
		return
	}

	doc := h.service.Get(r.Context(), id)
	if doc == nil {
		respondError(w, http.StatusNotFound, "no memory for conversation", nil)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// BoostRequest is the request body for POST /api/conversations/{id}/boost.
type BoostRequest struct {
	EntityID   string  `json:"entity_id"`
	Multiplier float64 `json:"multiplier"`
}

// BoostEntity handles POST /api/conversations/{id}/boost - multiplies one
// remembered entity's boost weight. The result is clamped to the usual
// boost range.
func (h *MemoryHandler) BoostEntity(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "conversation ID is required", nil)
		return
	}

	var req BoostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.EntityID == "" {
		respondError(w, http.StatusBadRequest, "entity_id is required", nil)
		return
	}
	if req.Multiplier <= 0 {
		respondError(w, http.StatusBadRequest, "multiplier must be positive", nil)
		return
	}

	if !h.service.UpdateEntityBoost(r.Context(), id, req.EntityID, req.Multiplier) {
		respondError(w, http.StatusNotFound, "conversation or entity not tracked", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "boosted"})
}

// Sweep handles POST /api/memory/sweep - removes expired conversation
// memory documents and reports how many were deleted.
func (h *MemoryHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	removed, err := h.service.CleanupExpired(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "sweep failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
