package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/greenfell/hearth/internal/cluster"
	"github.com/greenfell/hearth/internal/storage"
	"github.com/greenfell/hearth/pkg/types"
)

// ClusterHandler handles semantic cluster management requests.
type ClusterHandler struct {
	manager *cluster.Manager
}

// NewClusterHandler creates a ClusterHandler.
func NewClusterHandler(manager *cluster.Manager) *ClusterHandler {
	return &ClusterHandler{manager: manager}
}

// ListClusters handles GET /api/clusters - returns every cluster.
func (h *ClusterHandler) ListClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := h.manager.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list clusters", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"clusters": clusters,
		"total":    len(clusters),
	})
}

// ClusterMemberView is one membership edge in a cluster detail response.
type ClusterMemberView struct {
	EntityID     string               `json:"entity_id"`
	Role         types.MembershipRole `json:"role"`
	Weight       float64              `json:"weight"`
	ContextBoost float64              `json:"context_boost"`
	Area         string               `json:"area,omitempty"`
	Domain       string               `json:"domain,omitempty"`
}

// GetCluster handles GET /api/clusters/{key} - returns a cluster with its
// member entities.
func (h *ClusterHandler) GetCluster(w http.ResponseWriter, r *http.Request) {
	key := extractID(r, "key")
	if key == "" {
		respondError(w, http.StatusBadRequest, "cluster key is required", nil)
		return
	}

	clust, err := h.manager.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "cluster not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get cluster", err)
		return
	}

	joined, err := h.manager.Entities(r.Context(), []string{key}, "")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load cluster members", err)
		return
	}

	members := make([]ClusterMemberView, 0, len(joined))
	for _, me := range joined {
		view := ClusterMemberView{
			EntityID:     me.Membership.EntityID,
			Role:         me.Membership.Role,
			Weight:       me.Membership.Weight,
			ContextBoost: me.Membership.ContextBoost,
		}
		if me.Entity != nil {
			view.Area = me.Entity.Area
			view.Domain = me.Entity.Domain
		}
		members = append(members, view)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"cluster": clust,
		"members": members,
	})
}

// CreateClusterRequest is the request body for POST /api/clusters.
type CreateClusterRequest struct {
	Key           string   `json:"key"`
	Type          string   `json:"type"`
	Scope         string   `json:"scope,omitempty"`
	Description   string   `json:"description"`
	QueryPatterns []string `json:"query_patterns,omitempty"`
	Areas         []string `json:"areas,omitempty"`
	Domains       []string `json:"domains,omitempty"`
}

// CreateCluster handles POST /api/clusters - creates a cluster and embeds
// its description.
func (h *ClusterHandler) CreateCluster(w http.ResponseWriter, r *http.Request) {
	var req CreateClusterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.Key == "" {
		respondError(w, http.StatusBadRequest, "cluster key is required", nil)
		return
	}
	if !types.IsValidClusterType(types.ClusterType(req.Type)) {
		respondError(w, http.StatusBadRequest, "invalid cluster type", nil)
		return
	}
	if req.Scope != "" && !types.IsValidClusterScope(types.ClusterScope(req.Scope)) {
		respondError(w, http.StatusBadRequest, "invalid cluster scope", nil)
		return
	}

	clust := &types.Cluster{
		Key:           req.Key,
		Type:          types.ClusterType(req.Type),
		Scope:         types.ClusterScope(req.Scope),
		Description:   req.Description,
		QueryPatterns: req.QueryPatterns,
		Areas:         req.Areas,
		Domains:       req.Domains,
	}
	if err := h.manager.Create(r.Context(), clust); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create cluster", err)
		return
	}
	respondJSON(w, http.StatusCreated, clust)
}

// AddClusterMemberRequest is the request body for POST /api/clusters/{key}/entities.
type AddClusterMemberRequest struct {
	EntityID     string  `json:"entity_id"`
	Role         string  `json:"role,omitempty"`
	Weight       float64 `json:"weight,omitempty"`
	ContextBoost float64 `json:"context_boost,omitempty"`
}

// AddMember handles POST /api/clusters/{key}/entities - records one
// cluster→entity membership edge.
func (h *ClusterHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	key := extractID(r, "key")
	if key == "" {
		respondError(w, http.StatusBadRequest, "cluster key is required", nil)
		return
	}

	var req AddClusterMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.EntityID == "" {
		respondError(w, http.StatusBadRequest, "entity_id is required", nil)
		return
	}
	if req.Role != "" && !types.IsValidMembershipRole(types.MembershipRole(req.Role)) {
		respondError(w, http.StatusBadRequest, "invalid membership role", nil)
		return
	}

	if _, err := h.manager.Get(r.Context(), key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "cluster not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get cluster", err)
		return
	}

	err := h.manager.AddEntity(r.Context(), key, req.EntityID, types.MembershipRole(req.Role), req.Weight, req.ContextBoost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to add cluster member", err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "added"})
}
