package types

import (
	"fmt"
	"time"
)

// MaxRememberedEntities caps the working set kept per conversation.
const MaxRememberedEntities = 20

// MaxFocusHistory caps how many superseded focus topics a conversation keeps.
const MaxFocusHistory = 9

// Boost weight bounds for remembered entities.
const (
	MinBoostWeight = 0.1
	MaxBoostWeight = 3.0
)

// RememberedEntity is one entity inside a conversation's working set.
type RememberedEntity struct {
	EntityID       string      `json:"entity_id"`
	RelevanceScore float64     `json:"relevance_score"`          // Relevance at the time it was stored (0.0-1.0)
	MentionedAt    time.Time   `json:"mentioned_at"`             // Stored in UTC, RFC 3339 on the wire
	Context        string      `json:"context,omitempty"`        // Query fragment that surfaced the entity
	Area           string      `json:"area,omitempty"`
	Domain         string      `json:"domain,omitempty"`
	BoostWeight    float64     `json:"boost_weight"`             // Multiplicative boost, clamped to [0.1, 3.0]
	ContextType    ContextType `json:"context_type"`             // primary / secondary / historical
}

// EffectiveScore is the ordering key for the working set.
func (e *RememberedEntity) EffectiveScore() float64 {
	return e.RelevanceScore * e.BoostWeight
}

// ClampBoost clamps the entity's boost weight into [MinBoostWeight, MaxBoostWeight].
func (e *RememberedEntity) ClampBoost() {
	if e.BoostWeight < MinBoostWeight {
		e.BoostWeight = MinBoostWeight
	}
	if e.BoostWeight > MaxBoostWeight {
		e.BoostWeight = MaxBoostWeight
	}
}

// ConversationMemory is the durable per-conversation document. One document
// exists per conversation id; merges replace it wholesale (last write wins
// for concurrent merges on the same conversation).
type ConversationMemory struct {
	Key            string `json:"_key"`            // Document key: conv_{conversation_id}_memory
	ConversationID string `json:"conversation_id"`

	Entities         []RememberedEntity `json:"entities"`
	AreasMentioned   []string           `json:"areas_mentioned"`
	DomainsMentioned []string           `json:"domains_mentioned"`

	LastUpdated time.Time `json:"last_updated"`
	TTL         time.Time `json:"ttl"` // Expiry deadline; readers treat ttl <= now as absent
	QueryCount  int       `json:"query_count"`

	// Topic tracking
	TopicSummary        string   `json:"topic_summary,omitempty"`
	CurrentFocus        string   `json:"current_focus,omitempty"`
	IntentPattern       string   `json:"intent_pattern,omitempty"`
	TopicDomains        []string `json:"topic_domains,omitempty"`
	FocusHistory        []string `json:"focus_history,omitempty"` // Oldest first, capped at MaxFocusHistory
	ConversationSummary string   `json:"conversation_summary,omitempty"`
}

// MemoryDocKey builds the document key for a conversation id.
func MemoryDocKey(conversationID string) string {
	return fmt.Sprintf("conv_%s_memory", conversationID)
}

// Expired reports whether the document's ttl has passed at the given time.
func (m *ConversationMemory) Expired(now time.Time) bool {
	return !m.TTL.After(now)
}

// FindEntity returns the remembered entity with the given id, or nil.
func (m *ConversationMemory) FindEntity(entityID string) *RememberedEntity {
	for i := range m.Entities {
		if m.Entities[i].EntityID == entityID {
			return &m.Entities[i]
		}
	}
	return nil
}

// ConversationContext is the caller-supplied snapshot of the conversation
// used by scope detection and memory classification. All fields are optional.
type ConversationContext struct {
	ActiveAreas   []string `json:"active_areas,omitempty"`   // Areas the conversation has touched
	ActiveDomains []string `json:"active_domains,omitempty"` // Domains the conversation has touched
	IsFollowUp    bool     `json:"is_follow_up,omitempty"`   // Set for continuations of the previous turn
	LastQuery     string   `json:"last_query,omitempty"`
}

// AreaCount returns the number of active areas, 0 for a nil context.
func (c *ConversationContext) AreaCount() int {
	if c == nil {
		return 0
	}
	return len(c.ActiveAreas)
}

// DomainCount returns the number of active domains, 0 for a nil context.
func (c *ConversationContext) DomainCount() int {
	if c == nil {
		return 0
	}
	return len(c.ActiveDomains)
}
