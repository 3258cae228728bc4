package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/greenfell/hearth/internal/llm"
	"github.com/greenfell/hearth/internal/storage"
	"github.com/greenfell/hearth/pkg/types"
)

// EntityHandler handles entity listing and the bridge sync endpoint.
type EntityHandler struct {
	store    storage.EntityStore
	embedder llm.EmbeddingGenerator
}

// NewEntityHandler creates an EntityHandler.
func NewEntityHandler(store storage.EntityStore, embedder llm.EmbeddingGenerator) *EntityHandler {
	return &EntityHandler{store: store, embedder: embedder}
}

// ListEntities handles GET /api/entities - returns a paginated entity list.
//
// Query parameters:
//   - page, limit          - pagination (defaults 1 / 25)
//   - sort_by, sort_order  - entity_id, domain, area, updated_at; asc or desc
//   - domain, area         - exact-match filters
//   - available            - "true" excludes unavailable entities
func (h *EntityHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.ListOptions{
		Page:          parseInt(q.Get("page"), 1),
		Limit:         parseInt(q.Get("limit"), 25),
		SortBy:        q.Get("sort_by"),
		SortOrder:     q.Get("sort_order"),
		Domain:        q.Get("domain"),
		Area:          q.Get("area"),
		OnlyAvailable: q.Get("available") == "true",
	}

	result, err := h.store.ListEntities(r.Context(), opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list entities", err)
		return
	}

	respondJSON(w, http.StatusOK, EntityListResponse{
		Items:    result.Items,
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
		HasMore:  result.HasMore,
	})
}

// GetEntity handles GET /api/entities/{id} - returns a single entity.
func (h *EntityHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "entity ID is required", nil)
		return
	}

	entity, err := h.store.GetEntity(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "entity not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get entity", err)
		return
	}
	respondJSON(w, http.StatusOK, entity)
}

// SyncEntity is one entity in a sync payload. The payload is authoritative:
// every field overwrites the stored value.
type SyncEntity struct {
	EntityID     string     `json:"entity_id"`
	Domain       string     `json:"domain,omitempty"`
	Area         string     `json:"area,omitempty"`
	FriendlyName string     `json:"friendly_name,omitempty"`
	Description  string     `json:"description,omitempty"`
	State        string     `json:"state,omitempty"`
	Unit         string     `json:"unit,omitempty"`
	Available    *bool      `json:"available,omitempty"`
	LastChanged  *time.Time `json:"last_changed,omitempty"`
}

// SyncEntitiesRequest is the request body for POST /api/entities/sync.
type SyncEntitiesRequest struct {
	Entities []SyncEntity `json:"entities"`
}

// SyncEntitiesResponse summarizes one sync run.
type SyncEntitiesResponse struct {
	Synced   int      `json:"synced"`
	Embedded int      `json:"embedded"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// SyncEntities handles POST /api/entities/sync - upserts the home's entity
// population. Descriptions are embedded only when new or changed, so routine
// state refreshes never touch the embedding provider. An embedding failure
// stores the entity without a vector; cluster membership still reaches it.
func (h *EntityHandler) SyncEntities(w http.ResponseWriter, r *http.Request) {
	var req SyncEntitiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if len(req.Entities) == 0 {
		respondError(w, http.StatusBadRequest, "entities list is required", nil)
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	resp := SyncEntitiesResponse{}

	for _, se := range req.Entities {
		if se.EntityID == "" {
			resp.Skipped++
			resp.Errors = append(resp.Errors, "entity with empty entity_id")
			continue
		}

		existing, err := h.store.GetEntity(ctx, se.EntityID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			resp.Skipped++
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", se.EntityID, err))
			continue
		}

		entity := &types.HomeEntity{EntityID: se.EntityID}
		if existing != nil {
			entity = existing
		}

		stateChanged := existing == nil || existing.State != se.State

		entity.Domain = se.Domain
		if entity.Domain == "" {
			entity.Domain = types.DomainOf(se.EntityID)
		}
		entity.Area = se.Area
		entity.FriendlyName = se.FriendlyName
		entity.State = se.State
		entity.Unit = se.Unit
		entity.Available = se.Available == nil || *se.Available
		entity.UpdatedAt = now

		switch {
		case se.LastChanged != nil:
			entity.LastChanged = *se.LastChanged
		case stateChanged:
			entity.LastChanged = now
		}

		if h.needsEmbedding(existing, se.Description) {
			if vec, embErr := h.embedder.Embed(ctx, se.Description); embErr != nil {
				// An empty embedding makes the next sync retry.
				log.Printf("Entities: WARNING - embedding failed for %s, storing without embedding: %v", se.EntityID, embErr)
				entity.Embedding = nil
				entity.EmbeddingModel = ""
				entity.EmbeddingDimension = 0
			} else {
				entity.Embedding = vec
				entity.EmbeddingModel = h.embedder.GetModel()
				entity.EmbeddingDimension = len(vec)
				resp.Embedded++
			}
		}
		entity.Description = se.Description

		if err := h.store.UpsertEntity(ctx, entity); err != nil {
			resp.Skipped++
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", se.EntityID, err))
			continue
		}
		resp.Synced++
	}

	respondJSON(w, http.StatusOK, resp)
}

// needsEmbedding reports whether the description warrants an embedding call.
func (h *EntityHandler) needsEmbedding(existing *types.HomeEntity, description string) bool {
	if description == "" {
		return false
	}
	if existing == nil {
		return true
	}
	return existing.Description != description || len(existing.Embedding) == 0
}
