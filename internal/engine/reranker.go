package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/greenfell/hearth/pkg/types"
)

// Score combination weights. The final score is this single weighted sum of
// normalized factors; no other rule modifies candidate ordering:
//
//	final = 0.40*base + 0.25*context + 0.20*memory + 0.15*affinity
//
// where base is the retrieval similarity, context reflects live state and
// area fit, memory reflects conversation recall, and affinity reflects
// process-local reinforcement.
const (
	weightBase     = 0.40
	weightContext  = 0.25
	weightMemory   = 0.20
	weightAffinity = 0.15
)

const (
	// memoryScoreCeiling normalizes remembered-entity effective scores
	// (relevance x boost, boost capped at 3.0) into [0, 1].
	memoryScoreCeiling = 3.0

	// suggestionWeight discounts expansion suggestions against direct
	// conversation recall.
	suggestionWeight = 0.5
)

// RankingInput bundles everything one rerank call needs.
type RankingInput struct {
	// Query is the user query, kept for reason strings.
	Query string

	// Candidates is the unioned candidate set from cluster expansion,
	// vector fallback, and memory injection, in arrival order. Arrival
	// order breaks score ties.
	Candidates []types.EntityCandidate

	// Memory maps entity id to its remembered conversation entry.
	Memory map[string]types.RememberedEntity

	// Suggested maps entity id to expansion suggestion confidence.
	Suggested map[string]float64

	// ActiveAreas lists areas the conversation has touched.
	ActiveAreas []string

	// K caps the result length. Non-positive keeps every candidate.
	K int
}

// RankedCandidate is one candidate with its final score and the named
// factors that produced it.
type RankedCandidate struct {
	Candidate types.EntityCandidate `json:"candidate"`
	Score     float64               `json:"score"`
	Factors   map[string]float64    `json:"factors"`
	Reason    string                `json:"reason"`
}

// Reranker combines retrieval signals into the final candidate ordering.
// Ranking is deterministic: the same input and tracker state always produce
// the same order.
type Reranker struct {
	tracker *EntityContextTracker
}

// NewReranker creates a reranker. The tracker is optional; without one the
// affinity factor stays neutral.
func NewReranker(tracker *EntityContextTracker) *Reranker {
	return &Reranker{tracker: tracker}
}

// Rank deduplicates, scores, sorts, and truncates the candidate set.
// Duplicates keep the best base similarity and union their retrieval flags
// before any boosting. Empty input yields an empty result, never an error.
func (r *Reranker) Rank(ctx context.Context, in RankingInput) []RankedCandidate {
	if len(in.Candidates) == 0 {
		return []RankedCandidate{}
	}

	deduped := dedupeCandidates(in.Candidates)

	areas := make(map[string]struct{}, len(in.ActiveAreas))
	for _, a := range in.ActiveAreas {
		if a != "" {
			areas[strings.ToLower(a)] = struct{}{}
		}
	}

	ranked := make([]RankedCandidate, 0, len(deduped))
	for _, c := range deduped {
		score, factors := r.score(c, in, areas)
		emitToContext(ctx, EventCandidateScored(StageReranking, c.EntityID, score, factors))
		ranked = append(ranked, RankedCandidate{
			Candidate: c,
			Score:     score,
			Factors:   factors,
			Reason:    buildRankReason(factors),
		})
	}

	// Stable sort keeps arrival order on equal scores.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if in.K > 0 && len(ranked) > in.K {
		for _, cut := range ranked[in.K:] {
			emitToContext(ctx, EventCandidateDropped(StageReranking, cut.Candidate.EntityID, "below selection cutoff"))
		}
		ranked = ranked[:in.K]
	}

	return ranked
}

// score applies the weighted sum to one candidate.
func (r *Reranker) score(c types.EntityCandidate, in RankingInput, areas map[string]struct{}) (float64, map[string]float64) {
	factors := make(map[string]float64, 10)

	base := clamp01(c.Similarity)
	factors["base_similarity"] = base

	// Context: neutral 0.5, pushed by live state, availability, and area fit.
	contextValue := 0.5
	if hasActiveValue(c.State) {
		contextValue += 0.3
		factors["has_active_value"] = 1
	}
	if !c.Available {
		contextValue -= 0.4
		factors["unavailable_penalty"] = 1
	}
	if _, ok := areas[strings.ToLower(c.Area)]; ok && c.Area != "" {
		contextValue += 0.2
		factors["area_match_boost"] = 1
	}
	if cc := c.ClusterContext; cc != nil {
		boost := cc.ContextBoost
		if boost > 1 {
			boost = 1
		}
		if boost > 0 {
			contextValue += 0.1 * boost
			factors["cluster_context_boost"] = boost
		}
	}
	contextValue = clamp01(contextValue)
	factors["context_value"] = contextValue

	// Memory: remembered entries and expansion suggestions compete; the
	// stronger signal wins.
	memoryScore := 0.0
	if entry, ok := in.Memory[c.EntityID]; ok {
		memoryScore = clamp01(entry.EffectiveScore() / memoryScoreCeiling)
		factors["memory_boost"] = memoryScore
	}
	if conf, ok := in.Suggested[c.EntityID]; ok {
		if s := clamp01(conf * suggestionWeight); s > memoryScore {
			memoryScore = s
		}
		factors["suggestion_boost"] = clamp01(conf)
	}

	// Affinity: process-local reinforcement, neutral without a tracker.
	affinityBoost := 1.0
	if r.tracker != nil {
		affinityBoost = r.tracker.Boost(c.EntityID)
	}
	affinity := clamp01(affinityBoost / frequencyCap)
	factors["recency_affinity"] = affinity

	score := weightBase*base +
		weightContext*contextValue +
		weightMemory*memoryScore +
		weightAffinity*affinity

	return score, factors
}

// dedupeCandidates collapses duplicate entity ids before scoring. The first
// arrival keeps its position; the best base similarity and the union of
// retrieval flags survive.
func dedupeCandidates(candidates []types.EntityCandidate) []types.EntityCandidate {
	seen := make(map[string]int, len(candidates))
	deduped := make([]types.EntityCandidate, 0, len(candidates))

	for _, c := range candidates {
		idx, ok := seen[c.EntityID]
		if !ok {
			seen[c.EntityID] = len(deduped)
			deduped = append(deduped, c)
			continue
		}

		kept := &deduped[idx]
		if c.Similarity > kept.Similarity {
			kept.Similarity = c.Similarity
		}
		if c.MemoryBoosted {
			kept.MemoryBoosted = true
		}
		if kept.ClusterContext == nil && c.ClusterContext != nil {
			kept.ClusterContext = c.ClusterContext
		}
		// Prefer the richer state snapshot.
		if kept.State == "" && c.State != "" {
			kept.State = c.State
			kept.Available = c.Available
		}
		if kept.Area == "" {
			kept.Area = c.Area
		}
	}

	return deduped
}

// hasActiveValue reports whether the state snapshot carries something worth
// telling the model about.
func hasActiveValue(state string) bool {
	switch strings.ToLower(state) {
	case "", "unknown", "unavailable", "none":
		return false
	}
	return true
}

// buildRankReason constructs a human-readable explanation from the factors.
func buildRankReason(factors map[string]float64) string {
	var reasons []string

	if factors["base_similarity"] > 0.8 {
		reasons = append(reasons, "strong similarity")
	} else if factors["base_similarity"] > 0.5 {
		reasons = append(reasons, "partial similarity")
	}
	if factors["memory_boost"] > 0 {
		reasons = append(reasons, "conversation recall")
	}
	if factors["suggestion_boost"] > 0 {
		reasons = append(reasons, "learned pattern")
	}
	if factors["area_match_boost"] > 0 {
		reasons = append(reasons, "area match")
	}
	if factors["has_active_value"] > 0 {
		reasons = append(reasons, "active state")
	}
	if factors["unavailable_penalty"] > 0 {
		reasons = append(reasons, "unavailable")
	}

	if len(reasons) == 0 {
		return "matched query"
	}
	return strings.Join(reasons, ", ")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
