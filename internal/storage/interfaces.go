// Package storage provides composable storage interfaces for the hearth
// retrieval bridge.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. Entity and cluster data
// live in a vector-capable SQL backend; conversation memory documents live
// in any keyed store with expiry (redis, SQL, or in-memory).
package storage

import (
	"context"
	"time"

	"github.com/greenfell/hearth/pkg/types"
)

// EntityStore provides persistence and vector search for home entities.
type EntityStore interface {
	// UpsertEntity creates or updates an entity keyed by entity_id.
	UpsertEntity(ctx context.Context, entity *types.HomeEntity) error

	// GetEntity retrieves an entity by id.
	// Returns ErrNotFound if the entity doesn't exist.
	GetEntity(ctx context.Context, entityID string) (*types.HomeEntity, error)

	// ListEntities retrieves entities with pagination and filtering.
	ListEntities(ctx context.Context, opts ListOptions) (*PaginatedResult[types.HomeEntity], error)

	// SearchEntities performs vector search over the entity population.
	// Entities without embeddings are skipped. Results are ordered by
	// similarity descending and filtered by opts.Threshold.
	SearchEntities(ctx context.Context, vector []float32, opts VectorSearchOptions) ([]EntityMatch, error)

	// CountEntities returns the total number of stored entities.
	CountEntities(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// ClusterStore provides persistence and vector search for semantic clusters
// and their membership edges.
type ClusterStore interface {
	// UpsertCluster creates or updates a cluster keyed by cluster key.
	UpsertCluster(ctx context.Context, cluster *types.Cluster) error

	// GetCluster retrieves a cluster by key.
	// Returns ErrNotFound if the cluster doesn't exist.
	GetCluster(ctx context.Context, key string) (*types.Cluster, error)

	// ListClusters returns every stored cluster. Used by bootstrap to
	// detect already-seeded keys; cluster counts stay small.
	ListClusters(ctx context.Context) ([]*types.Cluster, error)

	// SearchClusters performs vector search over clusters. Clusters with
	// empty embeddings are skipped; clusterTypes restricts the candidate
	// set (empty slice means all types). Results are ordered by similarity
	// descending, filtered by threshold, and capped at limit.
	SearchClusters(ctx context.Context, vector []float32, clusterTypes []types.ClusterType, limit int, threshold float64) ([]types.ClusterMatch, error)

	// AddMembership records one cluster→entity edge. An entity may belong
	// to any number of clusters.
	AddMembership(ctx context.Context, membership *types.ClusterMembership) error

	// Memberships returns the membership edges of the given clusters joined
	// with their entities, one element per edge. A non-empty role filters
	// to edges with that role.
	Memberships(ctx context.Context, clusterKeys []string, role types.MembershipRole) ([]MembershipEntity, error)
}

// ConversationStore provides keyed conversation-memory documents with expiry.
//
// Documents are self-describing: the ttl deadline is embedded in the JSON so
// lazy expiry works identically across backends. Backends with native expiry
// (redis) additionally set it as a second line of defense.
type ConversationStore interface {
	// GetDocument retrieves a document by key, expired or not; expiry
	// policy is applied by the caller. Returns ErrNotFound when absent.
	GetDocument(ctx context.Context, key string) (*types.ConversationMemory, error)

	// PutDocument stores a document under its Key, replacing any previous
	// version.
	PutDocument(ctx context.Context, doc *types.ConversationMemory) error

	// DeleteDocument removes a document. Deleting a missing document is
	// not an error; concurrent sweeps may race on the same key.
	DeleteDocument(ctx context.Context, key string) error

	// ExpiredKeys returns up to limit document keys whose ttl passed
	// before now.
	ExpiredKeys(ctx context.Context, now time.Time, limit int) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}
