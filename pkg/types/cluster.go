package types

import "time"

// Cluster is a semantic grouping of home entities. Clusters are searched by
// vector similarity against the query embedding; matched clusters expand
// one hop into their member entities.
type Cluster struct {
	// Key is the unique cluster key (e.g. "living_room_lights").
	Key string `json:"key"`

	Type  ClusterType  `json:"type"`
	Scope ClusterScope `json:"scope"`

	// Description is the text the embedding was computed from, together
	// with the query patterns.
	Description   string   `json:"description"`
	QueryPatterns []string `json:"query_patterns,omitempty"`

	// Embedding may be empty when embedding generation failed at creation
	// time; such clusters are skipped by vector search but keep their
	// memberships.
	Embedding []float32 `json:"embedding,omitempty"`

	Areas   []string `json:"areas,omitempty"`
	Domains []string `json:"domains,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasEmbedding reports whether the cluster is reachable by vector search.
func (c *Cluster) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

// ClusterMembership is one cluster→entity edge.
type ClusterMembership struct {
	ClusterKey   string         `json:"cluster_key"`
	EntityID     string         `json:"entity_id"`
	Label        string         `json:"label"` // Always EdgeLabelContainsEntity
	Role         MembershipRole `json:"role"`
	Weight       float64        `json:"weight"`
	ContextBoost float64        `json:"context_boost"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ClusterMatch is a cluster returned by vector search with its similarity.
type ClusterMatch struct {
	Cluster    *Cluster `json:"cluster"`
	Similarity float64  `json:"similarity"`
}
