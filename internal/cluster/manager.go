// Package cluster manages semantic entity clusters: creation with embedded
// descriptions, membership edges, vector search, and idempotent seeding from
// configuration.
package cluster

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/greenfell/hearth/internal/config"
	"github.com/greenfell/hearth/internal/llm"
	"github.com/greenfell/hearth/internal/storage"
	"github.com/greenfell/hearth/pkg/types"
)

// Manager owns the cluster layer. Clusters are stored with an embedding of
// their description and query patterns; searches match the query embedding
// against those and expand hits one hop into member entities.
type Manager struct {
	store    storage.ClusterStore
	embedder llm.EmbeddingGenerator
	now      func() time.Time
}

// NewManager creates a cluster manager on top of the given store and
// embedding generator.
func NewManager(store storage.ClusterStore, embedder llm.EmbeddingGenerator) *Manager {
	return &Manager{
		store:    store,
		embedder: embedder,
		now:      time.Now,
	}
}

// Create validates and persists a cluster. The embedding is computed from
// the description joined with the query patterns; if embedding generation
// fails the cluster is stored with an empty embedding and a warning, which
// keeps its memberships usable while leaving it invisible to vector search.
func (m *Manager) Create(ctx context.Context, cluster *types.Cluster) error {
	if cluster == nil {
		return fmt.Errorf("cluster: cluster is required")
	}
	if cluster.Key == "" {
		return fmt.Errorf("cluster: cluster key is required")
	}
	if !types.IsValidClusterType(cluster.Type) {
		return fmt.Errorf("cluster: invalid cluster type %q for %s", cluster.Type, cluster.Key)
	}
	if cluster.Scope == "" {
		cluster.Scope = defaultScopeForType(cluster.Type)
	}
	if !types.IsValidClusterScope(cluster.Scope) {
		return fmt.Errorf("cluster: invalid cluster scope %q for %s", cluster.Scope, cluster.Key)
	}

	embedding, err := m.embedder.Embed(ctx, embeddingText(cluster))
	if err != nil {
		log.Printf("Cluster: WARNING - embedding failed for cluster %s, storing without embedding: %v", cluster.Key, err)
		embedding = nil
	}
	cluster.Embedding = embedding

	now := m.now().UTC()
	if cluster.CreatedAt.IsZero() {
		cluster.CreatedAt = now
	}
	cluster.UpdatedAt = now

	if err := m.store.UpsertCluster(ctx, cluster); err != nil {
		return fmt.Errorf("cluster: failed to store cluster %s: %w", cluster.Key, err)
	}
	return nil
}

// Get retrieves a cluster by key.
func (m *Manager) Get(ctx context.Context, key string) (*types.Cluster, error) {
	return m.store.GetCluster(ctx, key)
}

// List returns every stored cluster ordered by key.
func (m *Manager) List(ctx context.Context) ([]*types.Cluster, error) {
	return m.store.ListClusters(ctx)
}

// AddEntity records a cluster→entity membership edge. An entity may belong
// to any number of clusters. A non-positive weight defaults to 1.0 so the
// edge never zeroes out similarity during expansion.
func (m *Manager) AddEntity(ctx context.Context, clusterKey, entityID string, role types.MembershipRole, weight, contextBoost float64) error {
	if clusterKey == "" || entityID == "" {
		return fmt.Errorf("cluster: cluster key and entity id are required")
	}
	if role == "" {
		role = types.RolePrimary
	}
	if !types.IsValidMembershipRole(role) {
		return fmt.Errorf("cluster: invalid membership role %q for %s -> %s", role, clusterKey, entityID)
	}
	if weight <= 0 {
		weight = 1.0
	}

	membership := &types.ClusterMembership{
		ClusterKey:   clusterKey,
		EntityID:     entityID,
		Label:        types.EdgeLabelContainsEntity,
		Role:         role,
		Weight:       weight,
		ContextBoost: contextBoost,
		CreatedAt:    m.now().UTC(),
	}
	if err := m.store.AddMembership(ctx, membership); err != nil {
		return fmt.Errorf("cluster: failed to add %s to cluster %s: %w", entityID, clusterKey, err)
	}
	return nil
}

// Search finds clusters similar to the query embedding. Clusters stored
// without an embedding are never returned. An empty clusterTypes slice
// searches all types.
func (m *Manager) Search(ctx context.Context, vector []float32, clusterTypes []types.ClusterType, limit int, threshold float64) ([]types.ClusterMatch, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	return m.store.SearchClusters(ctx, vector, clusterTypes, limit, threshold)
}

// Entities expands clusters one hop into their member entities, one element
// per membership edge. A non-empty role restricts the expansion to edges
// with that role.
func (m *Manager) Entities(ctx context.Context, clusterKeys []string, role types.MembershipRole) ([]storage.MembershipEntity, error) {
	if len(clusterKeys) == 0 {
		return nil, nil
	}
	return m.store.Memberships(ctx, clusterKeys, role)
}

// Bootstrap creates the configured seed clusters and their membership edges.
// Seeds whose key already exists are skipped, so re-running bootstrap after
// adding new seeds only creates the additions.
func (m *Manager) Bootstrap(ctx context.Context, seeds []config.ClusterSeed) (created, skipped int, err error) {
	existing, err := m.store.ListClusters(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("cluster: failed to list clusters for bootstrap: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		known[c.Key] = struct{}{}
	}

	for _, seed := range seeds {
		if _, ok := known[seed.Key]; ok {
			skipped++
			continue
		}

		c := &types.Cluster{
			Key:           seed.Key,
			Type:          types.ClusterType(seed.Type),
			Scope:         types.ClusterScope(seed.Scope),
			Description:   seed.Description,
			QueryPatterns: seed.QueryPatterns,
			Areas:         seed.Areas,
			Domains:       seed.Domains,
		}
		if err := m.Create(ctx, c); err != nil {
			return created, skipped, err
		}
		for _, se := range seed.Entities {
			if err := m.AddEntity(ctx, seed.Key, se.EntityID, types.MembershipRole(se.Role), se.Weight, se.ContextBoost); err != nil {
				return created, skipped, err
			}
		}

		known[seed.Key] = struct{}{}
		created++
		log.Printf("Cluster: seeded %s (%s, %d entities)", seed.Key, seed.Type, len(seed.Entities))
	}
	return created, skipped, nil
}

// Reindex recomputes the embedding of every stored cluster. This is how
// clusters recover after an embedding model change, when stored vectors no
// longer share a space with query vectors.
func (m *Manager) Reindex(ctx context.Context) (embedded, failed int, err error) {
	clusters, err := m.store.ListClusters(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("cluster: failed to list clusters for reindex: %w", err)
	}
	for _, c := range clusters {
		if err := m.Create(ctx, c); err != nil {
			return embedded, failed, err
		}
		if c.HasEmbedding() {
			embedded++
		} else {
			failed++
		}
	}
	return embedded, failed, nil
}

// embeddingText is the canonical text clusters are embedded from.
func embeddingText(c *types.Cluster) string {
	if len(c.QueryPatterns) == 0 {
		return c.Description
	}
	return c.Description + " Patterns: " + strings.Join(c.QueryPatterns, " ")
}

func defaultScopeForType(t types.ClusterType) types.ClusterScope {
	switch t {
	case types.ClusterMicro:
		return types.ClusterScopeSpecific
	case types.ClusterMacro:
		return types.ClusterScopeAreaWide
	default:
		return types.ClusterScopeGlobal
	}
}
