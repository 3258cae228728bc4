package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"

	"github.com/greenfell/hearth/internal/cluster"
	"github.com/greenfell/hearth/internal/llm"
	"github.com/greenfell/hearth/internal/storage"
	"github.com/greenfell/hearth/pkg/types"
)

// MaintenanceHandler serves embedding maintenance: coverage status and bulk
// re-embedding. Changing the embedding model leaves every stored vector in a
// space the new query vectors cannot reach, so the fix is a full reindex.
type MaintenanceHandler struct {
	store    storage.EntityStore
	clusters *cluster.Manager
	embedder llm.EmbeddingGenerator
}

// NewMaintenanceHandler creates a MaintenanceHandler.
func NewMaintenanceHandler(store storage.EntityStore, clusters *cluster.Manager, embedder llm.EmbeddingGenerator) *MaintenanceHandler {
	return &MaintenanceHandler{store: store, clusters: clusters, embedder: embedder}
}

// EmbeddingStatus is the response for GET /api/maintenance/embeddings.
type EmbeddingStatus struct {
	TotalEntities      int          `json:"total_entities"`
	MissingEmbeddings  int          `json:"missing_embeddings"`
	ModelMismatches    int          `json:"model_mismatches"`
	CurrentModel       string       `json:"current_model"`
	StoredModels       []ModelCount `json:"stored_models"`
	TotalClusters      int          `json:"total_clusters"`
	UnembeddedClusters int          `json:"unembedded_clusters"`
}

// ModelCount is a model name and the number of entity embeddings stored
// under it.
type ModelCount struct {
	Model string `json:"model"`
	Count int    `json:"count"`
}

// reindexPageSize is the entity page size used by maintenance walks.
const reindexPageSize = 200

// GetStatus handles GET /api/maintenance/embeddings. An entity counts as
// missing its embedding only when it has a description to embed; entities
// without descriptions cannot be reached by vector search at all.
func (h *MaintenanceHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	currentModel := h.embedder.GetModel()
	status := EmbeddingStatus{CurrentModel: currentModel}
	modelCounts := make(map[string]int)

	err := h.walkEntities(r.Context(), func(e *types.HomeEntity) {
		status.TotalEntities++
		if len(e.Embedding) == 0 {
			if e.Description != "" {
				status.MissingEmbeddings++
			}
			return
		}
		modelCounts[e.EmbeddingModel]++
		if e.EmbeddingModel != currentModel {
			status.ModelMismatches++
		}
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to scan entities", err)
		return
	}

	status.StoredModels = make([]ModelCount, 0, len(modelCounts))
	for model, count := range modelCounts {
		status.StoredModels = append(status.StoredModels, ModelCount{Model: model, Count: count})
	}
	sort.Slice(status.StoredModels, func(i, j int) bool {
		if status.StoredModels[i].Count != status.StoredModels[j].Count {
			return status.StoredModels[i].Count > status.StoredModels[j].Count
		}
		return status.StoredModels[i].Model < status.StoredModels[j].Model
	})

	clusters, err := h.clusters.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list clusters", err)
		return
	}
	status.TotalClusters = len(clusters)
	for _, c := range clusters {
		if !c.HasEmbedding() {
			status.UnembeddedClusters++
		}
	}

	respondJSON(w, http.StatusOK, status)
}

// ReindexRequest is the request body for POST /api/maintenance/reindex.
type ReindexRequest struct {
	// Scope selects what to re-embed: "entities", "clusters" or "all".
	// Empty means "all".
	Scope string `json:"scope"`
	// Mode is "missing" to embed only entities without a current-model
	// embedding, or "all" to force re-embedding everything. Empty means
	// "missing". Clusters are always fully re-embedded; there are few of
	// them and partial cluster indexes are not worth the bookkeeping.
	Mode string `json:"mode"`
}

// ReindexResponse summarizes one reindex run.
type ReindexResponse struct {
	Scope            string   `json:"scope"`
	Mode             string   `json:"mode"`
	EntitiesScanned  int      `json:"entities_scanned"`
	EntitiesEmbedded int      `json:"entities_embedded"`
	EntitiesFailed   int      `json:"entities_failed"`
	EntitiesSkipped  int      `json:"entities_skipped"`
	ClustersEmbedded int      `json:"clusters_embedded"`
	ClustersFailed   int      `json:"clusters_failed"`
	Errors           []string `json:"errors,omitempty"`
}

// RunReindex handles POST /api/maintenance/reindex. Individual embedding
// failures are counted and reported, not fatal; one unreachable description
// must not abort the sweep. The run stops early only when the request
// context is cancelled.
func (h *MaintenanceHandler) RunReindex(w http.ResponseWriter, r *http.Request) {
	var req ReindexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.Scope == "" {
		req.Scope = "all"
	}
	if req.Mode == "" {
		req.Mode = "missing"
	}
	if req.Scope != "all" && req.Scope != "entities" && req.Scope != "clusters" {
		respondError(w, http.StatusBadRequest, "scope must be entities, clusters or all", nil)
		return
	}
	if req.Mode != "missing" && req.Mode != "all" {
		respondError(w, http.StatusBadRequest, "mode must be missing or all", nil)
		return
	}

	ctx := r.Context()
	resp := ReindexResponse{Scope: req.Scope, Mode: req.Mode}

	if req.Scope == "all" || req.Scope == "entities" {
		if err := h.reindexEntities(ctx, req.Mode, &resp); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to scan entities", err)
			return
		}
	}

	if req.Scope == "all" || req.Scope == "clusters" {
		embedded, failed, err := h.clusters.Reindex(ctx)
		resp.ClustersEmbedded = embedded
		resp.ClustersFailed = failed
		if err != nil {
			resp.Errors = append(resp.Errors, err.Error())
		}
	}

	log.Printf("Maintenance: reindex scope=%s mode=%s entities=%d/%d clusters=%d",
		req.Scope, req.Mode, resp.EntitiesEmbedded, resp.EntitiesScanned, resp.ClustersEmbedded)
	respondJSON(w, http.StatusOK, resp)
}

// reindexEntities walks every stored entity and re-embeds the ones the mode
// selects. The walk is ordered by entity id so upserts during the walk never
// shift pagination.
func (h *MaintenanceHandler) reindexEntities(ctx context.Context, mode string, resp *ReindexResponse) error {
	currentModel := h.embedder.GetModel()

	return h.walkEntities(ctx, func(e *types.HomeEntity) {
		resp.EntitiesScanned++

		if e.Description == "" {
			resp.EntitiesSkipped++
			return
		}
		upToDate := len(e.Embedding) > 0 && e.EmbeddingModel == currentModel
		if mode == "missing" && upToDate {
			return
		}

		vec, err := h.embedder.Embed(ctx, e.Description)
		if err != nil {
			log.Printf("Maintenance: WARNING - embedding failed for %s: %v", e.EntityID, err)
			resp.EntitiesFailed++
			return
		}
		e.Embedding = vec
		e.EmbeddingModel = currentModel
		e.EmbeddingDimension = len(vec)

		if err := h.store.UpsertEntity(ctx, e); err != nil {
			log.Printf("Maintenance: WARNING - failed to store re-embedded %s: %v", e.EntityID, err)
			resp.EntitiesFailed++
			return
		}
		resp.EntitiesEmbedded++
	})
}

// walkEntities visits every stored entity page by page. It stops early when
// the context is cancelled and returns the context error.
func (h *MaintenanceHandler) walkEntities(ctx context.Context, visit func(*types.HomeEntity)) error {
	opts := storage.ListOptions{Page: 1, Limit: reindexPageSize, SortBy: "entity_id"}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := h.store.ListEntities(ctx, opts)
		if err != nil {
			return err
		}
		for i := range result.Items {
			visit(&result.Items[i])
		}
		if !result.HasMore {
			return nil
		}
		opts.Page++
	}
}
