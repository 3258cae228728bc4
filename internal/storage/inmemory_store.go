package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/greenfell/hearth/pkg/types"
)

// InMemoryStore implements EntityStore and ClusterStore with mutex-guarded
// maps and exact cosine similarity. Used by tests and demo mode; nothing
// survives a restart, entities are re-synced on the next bridge startup.
type InMemoryStore struct {
	mu          sync.RWMutex
	entities    map[string]*types.HomeEntity
	clusters    map[string]*types.Cluster
	memberships []types.ClusterMembership
}

// Compile-time assertions.
var (
	_ EntityStore  = (*InMemoryStore)(nil)
	_ ClusterStore = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty in-memory entity and cluster store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entities: make(map[string]*types.HomeEntity),
		clusters: make(map[string]*types.Cluster),
	}
}

// UpsertEntity creates or updates an entity keyed by entity_id.
func (s *InMemoryStore) UpsertEntity(ctx context.Context, entity *types.HomeEntity) error {
	if entity == nil || entity.EntityID == "" {
		return fmt.Errorf("%w: entity_id is required", ErrInvalidInput)
	}

	s.mu.Lock()
	s.entities[entity.EntityID] = copyEntity(entity)
	s.mu.Unlock()
	return nil
}

// GetEntity retrieves an entity by id.
func (s *InMemoryStore) GetEntity(ctx context.Context, entityID string) (*types.HomeEntity, error) {
	s.mu.RLock()
	entity, ok := s.entities[entityID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return copyEntity(entity), nil
}

// ListEntities retrieves entities with pagination and filtering.
func (s *InMemoryStore) ListEntities(ctx context.Context, opts ListOptions) (*PaginatedResult[types.HomeEntity], error) {
	opts.Normalize()

	s.mu.RLock()
	filtered := make([]*types.HomeEntity, 0, len(s.entities))
	for _, entity := range s.entities {
		if opts.Domain != "" && entity.Domain != opts.Domain {
			continue
		}
		if opts.Area != "" && entity.Area != opts.Area {
			continue
		}
		if opts.OnlyAvailable && !entity.Available {
			continue
		}
		filtered = append(filtered, entity)
	}
	s.mu.RUnlock()

	sort.Slice(filtered, func(i, j int) bool {
		less := entityLess(filtered[i], filtered[j], opts.SortBy)
		if opts.SortOrder == "desc" {
			return !less
		}
		return less
	})

	total := len(filtered)
	start := opts.Offset()
	if start > total {
		start = total
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}

	items := make([]types.HomeEntity, 0, end-start)
	for _, entity := range filtered[start:end] {
		items = append(items, *copyEntity(entity))
	}

	return &PaginatedResult[types.HomeEntity]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  end < total,
	}, nil
}

// SearchEntities performs exact cosine similarity search over the stored
// entities. Entities without embeddings are skipped.
func (s *InMemoryStore) SearchEntities(ctx context.Context, vector []float32, opts VectorSearchOptions) ([]EntityMatch, error) {
	opts.Normalize()

	if len(vector) == 0 {
		return []EntityMatch{}, nil
	}

	s.mu.RLock()
	matches := make([]EntityMatch, 0)
	for _, entity := range s.entities {
		if len(entity.Embedding) == 0 {
			continue
		}
		if len(opts.Domains) > 0 && !containsString(opts.Domains, entity.Domain) {
			continue
		}
		if len(opts.Areas) > 0 && !containsString(opts.Areas, entity.Area) {
			continue
		}
		sim := cosine32(vector, entity.Embedding)
		if sim < opts.Threshold {
			continue
		}
		matches = append(matches, EntityMatch{Entity: copyEntity(entity), Similarity: sim})
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Entity.EntityID < matches[j].Entity.EntityID
	})
	if len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return matches, nil
}

// CountEntities returns the total number of stored entities.
func (s *InMemoryStore) CountEntities(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities), nil
}

// Close releases nothing; present to satisfy EntityStore.
func (s *InMemoryStore) Close() error {
	return nil
}

// UpsertCluster creates or updates a cluster keyed by cluster key.
func (s *InMemoryStore) UpsertCluster(ctx context.Context, cluster *types.Cluster) error {
	if cluster == nil || cluster.Key == "" {
		return fmt.Errorf("%w: cluster key is required", ErrInvalidInput)
	}

	s.mu.Lock()
	s.clusters[cluster.Key] = copyCluster(cluster)
	s.mu.Unlock()
	return nil
}

// GetCluster retrieves a cluster by key.
func (s *InMemoryStore) GetCluster(ctx context.Context, key string) (*types.Cluster, error) {
	s.mu.RLock()
	cluster, ok := s.clusters[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return copyCluster(cluster), nil
}

// ListClusters returns every stored cluster ordered by key.
func (s *InMemoryStore) ListClusters(ctx context.Context) ([]*types.Cluster, error) {
	s.mu.RLock()
	clusters := make([]*types.Cluster, 0, len(s.clusters))
	for _, cluster := range s.clusters {
		clusters = append(clusters, copyCluster(cluster))
	}
	s.mu.RUnlock()

	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].Key < clusters[j].Key
	})
	return clusters, nil
}

// SearchClusters performs exact cosine similarity search over clusters.
func (s *InMemoryStore) SearchClusters(ctx context.Context, vector []float32, clusterTypes []types.ClusterType, limit int, threshold float64) ([]types.ClusterMatch, error) {
	if len(vector) == 0 || limit <= 0 {
		return []types.ClusterMatch{}, nil
	}

	s.mu.RLock()
	matches := make([]types.ClusterMatch, 0)
	for _, cluster := range s.clusters {
		if len(cluster.Embedding) == 0 {
			continue
		}
		if len(clusterTypes) > 0 && !containsClusterType(clusterTypes, cluster.Type) {
			continue
		}
		sim := cosine32(vector, cluster.Embedding)
		if sim < threshold {
			continue
		}
		matches = append(matches, types.ClusterMatch{Cluster: copyCluster(cluster), Similarity: sim})
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Cluster.Key < matches[j].Cluster.Key
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// AddMembership records one cluster→entity edge, replacing an existing edge
// for the same cluster and entity.
func (s *InMemoryStore) AddMembership(ctx context.Context, membership *types.ClusterMembership) error {
	if membership == nil || membership.ClusterKey == "" || membership.EntityID == "" {
		return fmt.Errorf("%w: cluster key and entity_id are required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clusters[membership.ClusterKey]; !ok {
		return fmt.Errorf("inmemory: cluster %s: %w", membership.ClusterKey, ErrNotFound)
	}

	for i, existing := range s.memberships {
		if existing.ClusterKey == membership.ClusterKey && existing.EntityID == membership.EntityID {
			s.memberships[i] = *membership
			return nil
		}
	}
	s.memberships = append(s.memberships, *membership)
	return nil
}

// Memberships returns the membership edges of the given clusters joined with
// their entities. Edges pointing at entities not in the store are dropped,
// matching the SQL backends' inner join.
func (s *InMemoryStore) Memberships(ctx context.Context, clusterKeys []string, role types.MembershipRole) ([]MembershipEntity, error) {
	if len(clusterKeys) == 0 {
		return []MembershipEntity{}, nil
	}

	wanted := make(map[string]bool, len(clusterKeys))
	for _, key := range clusterKeys {
		wanted[key] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	joined := make([]MembershipEntity, 0)
	for _, membership := range s.memberships {
		if !wanted[membership.ClusterKey] {
			continue
		}
		if role != "" && membership.Role != role {
			continue
		}
		entity, ok := s.entities[membership.EntityID]
		if !ok {
			continue
		}
		joined = append(joined, MembershipEntity{
			Entity:     copyEntity(entity),
			Membership: membership,
		})
	}
	return joined, nil
}

func copyEntity(entity *types.HomeEntity) *types.HomeEntity {
	clone := *entity
	if len(entity.Embedding) > 0 {
		clone.Embedding = append([]float32(nil), entity.Embedding...)
	}
	return &clone
}

func copyCluster(cluster *types.Cluster) *types.Cluster {
	clone := *cluster
	if len(cluster.Embedding) > 0 {
		clone.Embedding = append([]float32(nil), cluster.Embedding...)
	}
	if len(cluster.QueryPatterns) > 0 {
		clone.QueryPatterns = append([]string(nil), cluster.QueryPatterns...)
	}
	if len(cluster.Areas) > 0 {
		clone.Areas = append([]string(nil), cluster.Areas...)
	}
	if len(cluster.Domains) > 0 {
		clone.Domains = append([]string(nil), cluster.Domains...)
	}
	return &clone
}

func entityLess(a, b *types.HomeEntity, sortBy string) bool {
	switch sortBy {
	case "domain":
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
	case "area":
		if a.Area != b.Area {
			return a.Area < b.Area
		}
	case "updated_at":
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
	}
	return a.EntityID < b.EntityID
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsClusterType(haystack []types.ClusterType, needle types.ClusterType) bool {
	for _, t := range haystack {
		if t == needle {
			return true
		}
	}
	return false
}

func cosine32(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
