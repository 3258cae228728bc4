package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/greenfell/hearth/internal/memory"
	"github.com/greenfell/hearth/internal/storage"
	"github.com/greenfell/hearth/pkg/types"
)

// stageMemoryRecall is tracked in metrics alongside the traced stages.
const stageMemoryRecall = "memory_recall"

// minVectorSimilarity floors the fallback vector search. Cluster search has
// per-scope thresholds; the fallback only needs to keep noise out of the
// reranker.
const minVectorSimilarity = 0.25

// clusterSearchLimit caps how many clusters one search expands. Roughly a
// third of the candidate target, but always enough to cover overlapping
// tiers.
func clusterSearchLimit(kMax int) int {
	limit := (kMax + 2) / 3
	if limit < 3 {
		limit = 3
	}
	return limit
}

// SearchRequest is one retrieval invocation.
type SearchRequest struct {
	// Query is the user's message, verbatim.
	Query string `json:"query"`

	// ConversationID keys conversation memory. Empty runs the search
	// without memory recall or memory writes.
	ConversationID string `json:"conversation_id,omitempty"`

	// Context carries what the caller already knows about the
	// conversation. Optional.
	Context *types.ConversationContext `json:"context,omitempty"`

	// K overrides the scope-detected candidate count when positive.
	K int `json:"k,omitempty"`
}

// SearchResponse is the ranked selection plus how it came to be.
type SearchResponse struct {
	Query string `json:"query"`

	// Scope is the full scope decision, including reasoning.
	Scope ScopeDecision `json:"scope"`

	// Selection is the final ranked candidate list, best first.
	Selection []RankedCandidate `json:"selection"`

	// EstimatedTokens is the prompt token cost of the selection.
	EstimatedTokens int `json:"estimated_tokens"`

	// Candidate provenance counts, before dedup.
	FromClusters int `json:"from_clusters"`
	FromVector   int `json:"from_vector"`
	FromMemory   int `json:"from_memory"`

	// SessionID is set on traced searches.
	SessionID string `json:"session_id,omitempty"`
}

// Search runs the retrieval pipeline for one query. Cluster search and
// conversation memory recall run in parallel; vector fallback fires only
// when cluster expansion leaves the candidate set under the scope minimum.
// Stage failures and timeouts degrade that stage to zero contribution; the
// worst case is an empty selection, never an error from a degraded stage.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	e.mu.RLock()
	if !e.started {
		e.mu.RUnlock()
		return nil, fmt.Errorf("engine not started")
	}
	e.mu.RUnlock()

	e.metrics.IncSearch()

	decision := e.scopeDetector().Detect(req.Query, req.Context)
	k := decision.OptimalK
	if req.K > 0 {
		k = req.K
	}

	// Embedding failure downgrades to memory-only retrieval.
	embedding, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		log.Printf("Engine: WARNING - query embedding failed: %v", err)
		e.metrics.IncEmbeddingFailure()
		embedding = nil
	}

	emitToContext(ctx, EventSessionStarted(req.Query, string(decision.Scope), decision.Config.Threshold, len(embedding)))

	// Cluster search and memory recall are independent; run them in
	// parallel under their own timeouts.
	var (
		wg           sync.WaitGroup
		clusterCands []types.EntityCandidate
		remembered   []types.RememberedEntity
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		clusterCands = e.clusterStage(ctx, embedding, decision)
	}()
	go func() {
		defer wg.Done()
		remembered = e.memoryStage(ctx, req.ConversationID, req.Query, decision)
	}()
	wg.Wait()

	// Vector fallback tops the pool up when clusters came up short.
	var vectorCands []types.EntityCandidate
	if len(clusterCands) < decision.Config.KMin && len(embedding) > 0 {
		vectorCands = e.vectorStage(ctx, embedding, decision)
	}

	memoryByID := make(map[string]types.RememberedEntity, len(remembered))
	for _, rem := range remembered {
		memoryByID[rem.EntityID] = rem
	}

	candidates := make([]types.EntityCandidate, 0, len(clusterCands)+len(vectorCands)+len(remembered))
	candidates = append(candidates, clusterCands...)
	candidates = append(candidates, vectorCands...)

	// Remembered entities join the pool and compete on equal footing.
	present := make(map[string]struct{}, len(candidates))
	for i := range candidates {
		present[candidates[i].EntityID] = struct{}{}
		if _, ok := memoryByID[candidates[i].EntityID]; ok {
			candidates[i].MemoryBoosted = true
		}
	}
	for _, rem := range remembered {
		if _, ok := present[rem.EntityID]; ok {
			continue
		}
		if c, ok := e.hydrateRemembered(ctx, rem); ok {
			candidates = append(candidates, c)
		}
	}

	suggestion := e.expansion.Suggestions(req.Query)
	suggested := make(map[string]float64, len(suggestion.Entities))
	for _, entityID := range suggestion.Entities {
		suggested[entityID] = suggestion.Confidence
	}

	rankStart := time.Now()
	ranked := e.reranker.Rank(ctx, RankingInput{
		Query:       req.Query,
		Candidates:  candidates,
		Memory:      memoryByID,
		Suggested:   suggested,
		ActiveAreas: activeAreas(req.Context),
		K:           k,
	})
	rankDuration := time.Since(rankStart)
	e.metrics.ObserveStage(StageReranking, rankDuration, len(ranked))
	emitToContext(ctx, EventStageCompleted(StageReranking, len(candidates), len(ranked), rankDuration, map[string]interface{}{
		"k":                k,
		"suggested_boosts": len(suggested),
	}))

	selection, estimatedTokens := e.finalSelection(ctx, ranked, decision)

	for i := range selection {
		c := selection[i].Candidate
		e.tracker.RecordMention(c.EntityID, c.Area, c.Domain, selection[i].Score)
	}

	if req.ConversationID != "" && len(selection) > 0 {
		e.QueueMemoryUpdate(buildStoreRequest(req, decision, selection))
	}

	return &SearchResponse{
		Query:           req.Query,
		Scope:           decision,
		Selection:       selection,
		EstimatedTokens: estimatedTokens,
		FromClusters:    len(clusterCands),
		FromVector:      len(vectorCands),
		FromMemory:      len(remembered),
	}, nil
}

// DebugSearch runs a fully traced search and returns the selection together
// with the captured session trace.
func (e *Engine) DebugSearch(ctx context.Context, req SearchRequest) (*SearchResponse, *SessionTrace, error) {
	ctx, tc, sessionID := e.debugger.StartSession(ctx)

	resp, err := e.Search(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	trace := e.debugger.FinishSession(sessionID, tc)
	resp.SessionID = sessionID
	return resp, trace, nil
}

// clusterStage searches clusters with the scope's tier order and threshold,
// then expands matches one hop into member entities. Any failure or timeout
// degrades the stage to zero candidates.
func (e *Engine) clusterStage(ctx context.Context, embedding []float32, decision ScopeDecision) []types.EntityCandidate {
	if len(embedding) == 0 {
		return nil
	}

	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, e.cfg.Retrieval.ClusterSearchTimeout)
	defer cancel()

	limit := clusterSearchLimit(decision.Config.KMax)
	matches, err := e.clusters.Search(cctx, embedding, decision.Config.ClusterTypes, limit, decision.Config.Threshold)
	if err != nil {
		e.logStageError(StageClusterSearch, err)
		e.observeStage(ctx, StageClusterSearch, start, 0, 0, map[string]interface{}{"error": err.Error()})
		return nil
	}
	if len(matches) == 0 {
		e.observeStage(ctx, StageClusterSearch, start, 0, 0, nil)
		return nil
	}

	keys := make([]string, len(matches))
	similarityByKey := make(map[string]float64, len(matches))
	for i, m := range matches {
		keys[i] = m.Cluster.Key
		similarityByKey[m.Cluster.Key] = m.Similarity
	}

	members, err := e.clusters.Entities(cctx, keys, "")
	if err != nil {
		e.logStageError(StageClusterSearch, err)
		e.observeStage(ctx, StageClusterSearch, start, len(matches), 0, map[string]interface{}{"error": err.Error()})
		return nil
	}

	candidates := make([]types.EntityCandidate, 0, len(members))
	for _, me := range members {
		if me.Entity == nil {
			continue
		}
		similarity := similarityByKey[me.Membership.ClusterKey] * me.Membership.Weight
		c := types.CandidateFromEntity(me.Entity, similarity)
		c.ClusterContext = &types.ClusterContext{
			ClusterKey:   me.Membership.ClusterKey,
			Role:         me.Membership.Role,
			Weight:       me.Membership.Weight,
			ContextBoost: me.Membership.ContextBoost,
		}
		candidates = append(candidates, c)
		emitToContext(ctx, EventCandidateScored(StageClusterSearch, c.EntityID, similarity, nil))
	}

	e.observeStage(ctx, StageClusterSearch, start, len(matches), len(candidates), map[string]interface{}{"clusters": keys})
	return candidates
}

// memoryStage recalls conversation entities relevant to the query. The
// service itself degrades storage failures to nil; only the timeout budget
// is enforced here.
func (e *Engine) memoryStage(ctx context.Context, conversationID, query string, decision ScopeDecision) []types.RememberedEntity {
	if conversationID == "" {
		return nil
	}

	start := time.Now()
	mctx, cancel := context.WithTimeout(ctx, e.cfg.Retrieval.MemoryFetchTimeout)
	defer cancel()

	recalled := e.memory.RelevantEntities(mctx, conversationID, query, decision.Config.KMax)
	e.metrics.ObserveStage(stageMemoryRecall, time.Since(start), len(recalled))
	if len(recalled) > 0 {
		e.metrics.IncMemoryHit()
	}
	return recalled
}

// vectorStage searches the full entity population to top the candidate pool
// up to the scope maximum.
func (e *Engine) vectorStage(ctx context.Context, embedding []float32, decision ScopeDecision) []types.EntityCandidate {
	e.metrics.IncVectorFallback()

	start := time.Now()
	vctx, cancel := context.WithTimeout(ctx, e.cfg.Retrieval.VectorSearchTimeout)
	defer cancel()

	matches, err := e.entities.SearchEntities(vctx, embedding, storage.VectorSearchOptions{
		Limit:     decision.Config.KMax,
		Threshold: minVectorSimilarity,
	})
	if err != nil {
		e.logStageError(StageVectorFallback, err)
		e.observeStage(ctx, StageVectorFallback, start, 0, 0, map[string]interface{}{"error": err.Error()})
		return nil
	}

	candidates := make([]types.EntityCandidate, 0, len(matches))
	for _, m := range matches {
		if m.Entity == nil {
			continue
		}
		c := types.CandidateFromEntity(m.Entity, m.Similarity)
		candidates = append(candidates, c)
		emitToContext(ctx, EventCandidateScored(StageVectorFallback, c.EntityID, m.Similarity, nil))
	}

	e.observeStage(ctx, StageVectorFallback, start, len(matches), len(candidates), nil)
	return candidates
}

// finalSelection trims the ranked list to the token budget and emits the
// selection trace.
func (e *Engine) finalSelection(ctx context.Context, ranked []RankedCandidate, decision ScopeDecision) ([]RankedCandidate, int) {
	start := time.Now()

	selection, estimatedTokens := e.tokens.TrimToBudget(ranked, e.cfg.Retrieval.TokenBudget, decision.Config.KMin)
	for _, cut := range ranked[len(selection):] {
		emitToContext(ctx, EventCandidateDropped(StageFinalSelection, cut.Candidate.EntityID, "over token budget"))
	}

	entityIDs := make([]string, len(selection))
	activeCount := 0
	for i, rc := range selection {
		entityIDs[i] = rc.Candidate.EntityID
		if rc.Factors["has_active_value"] > 0 {
			activeCount++
		}
	}

	duration := time.Since(start)
	e.metrics.ObserveStage(StageFinalSelection, duration, len(selection))
	emitToContext(ctx, EventStageCompleted(StageFinalSelection, len(ranked), len(selection), duration, map[string]interface{}{
		"estimated_tokens": estimatedTokens,
		"token_budget":     e.cfg.Retrieval.TokenBudget,
	}))
	emitToContext(ctx, EventSelectionReturned(entityIDs, map[string]interface{}{
		"active_entities": activeCount,
	}))

	return selection, estimatedTokens
}

// hydrateRemembered turns a remembered entity into a candidate, pulling the
// live state snapshot from the entity store. Entities that no longer exist
// are skipped; other lookup failures fall back to the remembered snapshot.
func (e *Engine) hydrateRemembered(ctx context.Context, rem types.RememberedEntity) (types.EntityCandidate, bool) {
	entity, err := e.entities.GetEntity(ctx, rem.EntityID)
	if err == nil {
		c := types.CandidateFromEntity(entity, 0)
		c.MemoryBoosted = true
		return c, true
	}
	if errors.Is(err, storage.ErrNotFound) {
		return types.EntityCandidate{}, false
	}

	log.Printf("Engine: WARNING - hydrating remembered entity %s failed: %v", rem.EntityID, err)
	return types.EntityCandidate{
		EntityID:      rem.EntityID,
		Domain:        rem.Domain,
		Area:          rem.Area,
		Available:     true,
		MemoryBoosted: true,
	}, true
}

// observeStage records stage metrics and emits the stage trace event.
func (e *Engine) observeStage(ctx context.Context, stage string, start time.Time, inputCount, outputCount int, metadata map[string]interface{}) {
	duration := time.Since(start)
	e.metrics.ObserveStage(stage, duration, outputCount)
	emitToContext(ctx, EventStageCompleted(stage, inputCount, outputCount, duration, metadata))
}

// logStageError distinguishes deadline pressure from real failures in the log.
func (e *Engine) logStageError(stage string, err error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Printf("Engine: WARNING - %s timed out: %v", stage, err)
		return
	}
	log.Printf("Engine: WARNING - %s failed: %v", stage, err)
}

// activeAreas extracts the context's areas, nil-safe.
func activeAreas(conv *types.ConversationContext) []string {
	if conv == nil {
		return nil
	}
	return conv.ActiveAreas
}

// buildStoreRequest converts the final selection into the asynchronous
// memory update for this exchange.
func buildStoreRequest(req SearchRequest, decision ScopeDecision, selection []RankedCandidate) memory.StoreRequest {
	observed := make([]memory.ObservedEntity, len(selection))
	areaSet := make(map[string]struct{})
	domainSet := make(map[string]struct{})
	focus := ""

	for i, rc := range selection {
		c := rc.Candidate
		observed[i] = memory.ObservedEntity{
			EntityID:   c.EntityID,
			Relevance:  rc.Score,
			Similarity: c.Similarity,
			Area:       c.Area,
			Domain:     c.Domain,
			Context:    c.State,
			Position:   i,
		}
		if c.Area != "" {
			areaSet[c.Area] = struct{}{}
			if focus == "" {
				focus = c.Area
			}
		}
		if c.Domain != "" {
			domainSet[c.Domain] = struct{}{}
		}
	}

	return memory.StoreRequest{
		ConversationID: req.ConversationID,
		Entities:       observed,
		Areas:          sortedSet(areaSet),
		Domains:        sortedSet(domainSet),
		CurrentFocus:   focus,
		TopicDomains:   sortedSet(domainSet),
		IntentPattern:  string(decision.Scope),
	}
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
