package handlers

import (
	"context"
	"net/http"

	"github.com/greenfell/hearth/internal/engine"
	"github.com/greenfell/hearth/internal/storage"
	"github.com/greenfell/hearth/pkg/types"
)

// PipelineStats is the engine-side stats surface.
type PipelineStats interface {
	MetricsSnapshot() engine.MetricsSnapshot
	QueueDepth() int
}

// clusterLister is satisfied by the cluster manager.
type clusterLister interface {
	List(ctx context.Context) ([]*types.Cluster, error)
}

// StatsHandler handles the statistics endpoint.
type StatsHandler struct {
	pipeline PipelineStats
	entities storage.EntityStore
	clusters clusterLister
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(pipeline PipelineStats, entities storage.EntityStore, clusters clusterLister) *StatsHandler {
	return &StatsHandler{
		pipeline: pipeline,
		entities: entities,
		clusters: clusters,
	}
}

// GetStats handles GET /api/stats - returns store sizes and pipeline
// counters. Count failures degrade to zero rather than failing the request.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	entityCount := 0
	if n, err := h.entities.CountEntities(ctx); err == nil {
		entityCount = n
	}

	clusterCount := 0
	if clusters, err := h.clusters.List(ctx); err == nil {
		clusterCount = len(clusters)
	}

	respondJSON(w, http.StatusOK, StatsResponse{
		Entities:   entityCount,
		Clusters:   clusterCount,
		QueueDepth: h.pipeline.QueueDepth(),
		Pipeline:   h.pipeline.MetricsSnapshot(),
	})
}
