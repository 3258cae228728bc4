// Package memory implements the durable conversation working set: which
// entities a conversation has been about, how strongly, and for how long.
//
// Each conversation owns one TTL'd document in the conversation store.
// Writes merge the latest exchange into the document (new entities classified
// and boosted, absent ones decayed, the list capped); reads score the
// remembered entities against the current query. Storage failures never
// propagate: every method logs and returns its safe default.
package memory

import (
	"context"
	"errors"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/greenfell/hearth/internal/storage"
	"github.com/greenfell/hearth/pkg/types"
)

const (
	// DefaultTTL is how long a conversation document lives after its last
	// update.
	DefaultTTL = 15 * time.Minute

	// defaultRecallLimit caps RelevantEntities when the caller passes no
	// positive max.
	defaultRecallLimit = 10

	// defaultSweepBatch is the number of expired keys fetched per
	// CleanupExpired pass.
	defaultSweepBatch = 100

	// decayHalfWindow is the window over which an unmentioned entity's
	// boost decays linearly toward the 0.5 floor.
	decayHalfWindow = 600.0 // seconds

	// decayFloor is the lowest decay factor applied to stale entities.
	decayFloor = 0.5
)

// Boost weight factors applied to entities entering the working set.
// Factors are independent and multiply in this order.
const (
	primaryFlagFactor      = 1.5
	strongMatchFactor      = 1.3
	partialMatchFactor     = 1.1
	sensorDomainFactor     = 1.2
	strongMatchSimilarity  = 0.8
	partialMatchSimilarity = 0.6
)

// ObservedEntity is one entity from the current exchange, in selection order.
type ObservedEntity struct {
	EntityID   string
	Relevance  float64 // final relevance from the reranker
	Similarity float64 // raw vector similarity
	Area       string
	Domain     string
	Context    string // short free-text context, e.g. the state at mention time
	Primary    bool   // caller marks entities the response actually used
	Position   int    // zero-based rank in the selection
}

// StoreRequest carries one exchange's worth of memory updates.
type StoreRequest struct {
	ConversationID      string
	Entities            []ObservedEntity
	Areas               []string
	Domains             []string
	CurrentFocus        string
	TopicDomains        []string
	IntentPattern       string
	TopicSummary        string
	ConversationSummary string
}

// ServiceConfig configures a Service. Zero values fall back to defaults.
type ServiceConfig struct {
	TTL            time.Duration
	SweepBatchSize int
	Tables         *RelevanceTables
	Clock          func() time.Time
}

// Service is the conversation memory service.
type Service struct {
	store      storage.ConversationStore
	tablesMu   sync.RWMutex
	tables     *RelevanceTables
	ttl        time.Duration
	sweepBatch int
	now        func() time.Time
}

// NewService creates a conversation memory service on top of a conversation
// store.
func NewService(store storage.ConversationStore, cfg ServiceConfig) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = defaultSweepBatch
	}
	if cfg.Tables == nil {
		cfg.Tables = NewRelevanceTables(nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{
		store:      store,
		tables:     cfg.Tables,
		ttl:        cfg.TTL,
		sweepBatch: cfg.SweepBatchSize,
		now:        cfg.Clock,
	}
}

// SetTables swaps the recall scoring tables, used when retrieval tuning is
// hot-reloaded. A nil argument is ignored.
func (s *Service) SetTables(tables *RelevanceTables) {
	if tables == nil {
		return
	}
	s.tablesMu.Lock()
	s.tables = tables
	s.tablesMu.Unlock()
}

// scoringTables returns the current tables under the swap lock.
func (s *Service) scoringTables() *RelevanceTables {
	s.tablesMu.RLock()
	defer s.tablesMu.RUnlock()
	return s.tables
}

// Get returns the conversation's memory document, or nil when the
// conversation has none or its document expired. Reading an expired document
// deletes it, so a second read also returns nil.
func (s *Service) Get(ctx context.Context, conversationID string) *types.ConversationMemory {
	if conversationID == "" {
		return nil
	}

	key := types.MemoryDocKey(conversationID)
	doc, err := s.store.GetDocument(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("Memory: WARNING - failed to load document %s: %v", key, err)
		}
		return nil
	}

	if doc.Expired(s.now()) {
		if err := s.store.DeleteDocument(ctx, key); err != nil {
			log.Printf("Memory: WARNING - failed to delete expired document %s: %v", key, err)
		}
		return nil
	}
	return doc
}

// Store merges one exchange into the conversation's memory document and
// persists it with a refreshed ttl. Returns false when persistence failed;
// the failure is logged, never raised.
func (s *Service) Store(ctx context.Context, req StoreRequest) bool {
	if req.ConversationID == "" {
		return false
	}

	now := s.now()
	doc := s.Get(ctx, req.ConversationID)
	if doc == nil {
		doc = &types.ConversationMemory{
			Key:            types.MemoryDocKey(req.ConversationID),
			ConversationID: req.ConversationID,
		}
	}

	incoming := make([]types.RememberedEntity, 0, len(req.Entities))
	inBatch := make(map[string]struct{}, len(req.Entities))
	for _, obs := range req.Entities {
		if obs.EntityID == "" {
			continue
		}
		inBatch[obs.EntityID] = struct{}{}
		incoming = append(incoming, types.RememberedEntity{
			EntityID:       obs.EntityID,
			RelevanceScore: obs.Relevance,
			MentionedAt:    now,
			Context:        obs.Context,
			Area:           obs.Area,
			Domain:         obs.Domain,
			BoostWeight:    entryBoost(obs),
			ContextType:    classifyContext(obs),
		})
	}

	// Entities the exchange did not mention again fade toward the floor.
	merged := incoming
	for _, existing := range doc.Entities {
		if _, ok := inBatch[existing.EntityID]; ok {
			continue
		}
		elapsed := now.Sub(existing.MentionedAt).Seconds()
		factor := math.Max(decayFloor, 1-elapsed/decayHalfWindow)
		existing.BoostWeight = clampBoost(existing.BoostWeight * factor)
		merged = append(merged, existing)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].EffectiveScore() > merged[j].EffectiveScore()
	})
	if len(merged) > types.MaxRememberedEntities {
		merged = merged[:types.MaxRememberedEntities]
	}
	doc.Entities = merged

	doc.AreasMentioned = unionStrings(doc.AreasMentioned, req.Areas)
	doc.DomainsMentioned = unionStrings(doc.DomainsMentioned, req.Domains)
	doc.QueryCount++

	s.mergeTopic(doc, req)

	doc.LastUpdated = now
	doc.TTL = now.Add(s.ttl)

	if err := s.store.PutDocument(ctx, doc); err != nil {
		log.Printf("Memory: ERROR failed to store document %s: %v", doc.Key, err)
		return false
	}
	return true
}

// mergeTopic folds the exchange's topic signals into the document. A changed
// focus pushes the previous one onto the focus history (last 9 kept);
// summaries and the intent pattern only overwrite when non-empty.
func (s *Service) mergeTopic(doc *types.ConversationMemory, req StoreRequest) {
	if req.CurrentFocus != "" && req.CurrentFocus != doc.CurrentFocus {
		if doc.CurrentFocus != "" {
			doc.FocusHistory = append(doc.FocusHistory, doc.CurrentFocus)
			if len(doc.FocusHistory) > types.MaxFocusHistory {
				doc.FocusHistory = doc.FocusHistory[len(doc.FocusHistory)-types.MaxFocusHistory:]
			}
		}
		doc.CurrentFocus = req.CurrentFocus
	}

	doc.TopicDomains = unionStrings(doc.TopicDomains, req.TopicDomains)

	if req.TopicSummary != "" {
		doc.TopicSummary = req.TopicSummary
	}
	if req.IntentPattern != "" {
		doc.IntentPattern = req.IntentPattern
	}
	if req.ConversationSummary != "" {
		doc.ConversationSummary = req.ConversationSummary
	}
}

// RelevantEntities scores the conversation's remembered entities against the
// query and returns those above the recall threshold, strongest first.
// Read-only: scores and boosts are not modified.
func (s *Service) RelevantEntities(ctx context.Context, conversationID, query string, max int) []types.RememberedEntity {
	if max <= 0 {
		max = defaultRecallLimit
	}

	doc := s.Get(ctx, conversationID)
	if doc == nil || len(doc.Entities) == 0 {
		return nil
	}

	now := s.now()
	tables := s.scoringTables()
	type scored struct {
		entity types.RememberedEntity
		score  float64
	}
	hits := make([]scored, 0, len(doc.Entities))
	for _, entity := range doc.Entities {
		score := tables.ScoreEntity(entity, query, now)
		if score <= recallThreshold {
			continue
		}
		hits = append(hits, scored{entity: entity, score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score*hits[i].entity.BoostWeight > hits[j].score*hits[j].entity.BoostWeight
	})
	if len(hits) > max {
		hits = hits[:max]
	}

	result := make([]types.RememberedEntity, len(hits))
	for i, h := range hits {
		result[i] = h.entity
	}
	return result
}

// UpdateEntityBoost multiplies one remembered entity's boost weight and
// clamps it to the allowed range. The document is re-persisted as-is; no
// decay pass, no ttl refresh. Returns false when the conversation, the
// entity, or the write is missing/failing.
func (s *Service) UpdateEntityBoost(ctx context.Context, conversationID, entityID string, mult float64) bool {
	doc := s.Get(ctx, conversationID)
	if doc == nil {
		return false
	}

	entity := doc.FindEntity(entityID)
	if entity == nil {
		return false
	}
	entity.BoostWeight = clampBoost(entity.BoostWeight * mult)

	if err := s.store.PutDocument(ctx, doc); err != nil {
		log.Printf("Memory: ERROR failed to update boost in %s: %v", doc.Key, err)
		return false
	}
	return true
}

// CleanupExpired deletes every expired conversation document and returns how
// many were removed. Safe to run concurrently: a key someone else already
// deleted still counts as swept.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	deleted := 0
	for {
		keys, err := s.store.ExpiredKeys(ctx, s.now(), s.sweepBatch)
		if err != nil {
			return deleted, err
		}
		if len(keys) == 0 {
			return deleted, nil
		}

		progress := 0
		for _, key := range keys {
			if err := s.store.DeleteDocument(ctx, key); err != nil {
				log.Printf("Memory: WARNING - failed to delete expired document %s: %v", key, err)
				continue
			}
			deleted++
			progress++
		}

		// A pass with no successful deletions would loop on the same keys.
		if progress == 0 || len(keys) < s.sweepBatch {
			return deleted, nil
		}
	}
}

// classifyContext assigns the context type of an incoming entity from its
// relevance and selection position.
func classifyContext(obs ObservedEntity) types.ContextType {
	switch {
	case obs.Relevance > 0.7 || obs.Position < 3:
		return types.ContextPrimary
	case obs.Relevance > 0.4 || obs.Position < 8:
		return types.ContextSecondary
	default:
		return types.ContextHistorical
	}
}

// entryBoost computes the starting boost weight of an incoming entity.
func entryBoost(obs ObservedEntity) float64 {
	boost := 1.0
	if obs.Primary {
		boost *= primaryFlagFactor
	}
	if obs.Similarity > strongMatchSimilarity {
		boost *= strongMatchFactor
	} else if obs.Similarity > partialMatchSimilarity {
		boost *= partialMatchFactor
	}
	if obs.Domain == "sensor" {
		boost *= sensorDomainFactor
	}
	return clampBoost(boost)
}

// clampBoost bounds a boost weight to [MinBoostWeight, MaxBoostWeight].
func clampBoost(boost float64) float64 {
	if boost < types.MinBoostWeight {
		return types.MinBoostWeight
	}
	if boost > types.MaxBoostWeight {
		return types.MaxBoostWeight
	}
	return boost
}

// unionStrings appends the values of add not already present in base,
// preserving first-seen order.
func unionStrings(base, add []string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, v := range base {
		seen[v] = struct{}{}
	}
	for _, v := range add {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		base = append(base, v)
	}
	return base
}
