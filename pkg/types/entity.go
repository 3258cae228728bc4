package types

import (
	"strings"
	"time"
)

// HomeEntity is the stored representation of a smart-home entity as hearth
// sees it. Ingestion (state sync, friendly-name generation, embedding of the
// descriptive text) happens upstream; hearth reads these rows and ranks them.
type HomeEntity struct {
	// Core identification fields
	EntityID     string `json:"entity_id"`               // Canonical id (format: domain.object_id, e.g. light.kitchen_ceiling)
	Domain       string `json:"domain"`                  // Integration domain (light, sensor, climate, ...)
	Area         string `json:"area,omitempty"`          // Area/room the entity is assigned to
	FriendlyName string `json:"friendly_name,omitempty"` // Human-readable name
	Description  string `json:"description,omitempty"`   // Descriptive text the embedding was computed from

	// Live state snapshot
	State       string    `json:"state,omitempty"`        // Last known state value ("on", "21.5", "unavailable")
	Unit        string    `json:"unit,omitempty"`         // Unit of measurement, when any
	Available   bool      `json:"available"`              // False when the integration reports the entity unavailable
	LastChanged time.Time `json:"last_changed,omitempty"` // When the state last changed

	// Embedding fields
	Embedding          []float32 `json:"embedding,omitempty"`           // Vector embedding of Description
	EmbeddingModel     string    `json:"embedding_model,omitempty"`     // Embedding model used
	EmbeddingDimension int       `json:"embedding_dimension,omitempty"` // Embedding dimension

	// Bookkeeping
	UpdatedAt time.Time `json:"updated_at"` // Last sync timestamp
}

// DomainOf extracts the domain prefix from an entity id
// ("light.kitchen_ceiling" → "light"). Returns "" for malformed ids.
func DomainOf(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i > 0 {
		return entityID[:i]
	}
	return ""
}

// ClusterContext records which cluster produced a candidate and with what
// membership attributes. Carried through reranking for explainability.
type ClusterContext struct {
	ClusterKey   string         `json:"cluster_key"`
	Role         MembershipRole `json:"role"`
	Weight       float64        `json:"weight"`
	ContextBoost float64        `json:"context_boost"`
}

// EntityCandidate is the unit flowing through the retrieval pipeline: an
// entity plus the retrieval signals attached to it so far. The struct is
// typed end to end; optional enrichments that have no dedicated field go in
// Extensions instead of ad-hoc keys.
type EntityCandidate struct {
	EntityID string `json:"entity_id"`
	Domain   string `json:"domain"`
	Area     string `json:"area,omitempty"`
	State    string `json:"state,omitempty"`

	// Similarity is the vector similarity that produced this candidate,
	// 0 when the candidate arrived through a non-vector path.
	Similarity float64 `json:"similarity,omitempty"`

	// Available mirrors HomeEntity.Available at retrieval time.
	Available bool `json:"available"`

	// MemoryBoosted marks candidates injected from conversation memory.
	MemoryBoosted bool `json:"_memory_boosted,omitempty"`

	// ClusterContext is set for candidates produced by cluster expansion.
	ClusterContext *ClusterContext `json:"_cluster_context,omitempty"`

	// Extensions carries optional enrichments keyed by name.
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// CandidateFromEntity builds a candidate from a stored entity with the given
// vector similarity.
func CandidateFromEntity(e *HomeEntity, similarity float64) EntityCandidate {
	return EntityCandidate{
		EntityID:   e.EntityID,
		Domain:     e.Domain,
		Area:       e.Area,
		State:      e.State,
		Similarity: similarity,
		Available:  e.Available,
	}
}

// WithExtension returns a copy of the candidate with one extension set.
// The receiver is not modified.
func (c EntityCandidate) WithExtension(key string, value interface{}) EntityCandidate {
	ext := make(map[string]interface{}, len(c.Extensions)+1)
	for k, v := range c.Extensions {
		ext[k] = v
	}
	ext[key] = value
	c.Extensions = ext
	return c
}
