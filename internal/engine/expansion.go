package engine

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// defaultExpansionSize caps how many learned query patterns are kept.
	defaultExpansionSize = 512

	// expansionSimilarity is the minimum Jaccard token similarity for a
	// past query to contribute its entities to a suggestion.
	expansionSimilarity = 0.6
)

// expansionRecord is the learned outcome for one normalized query.
type expansionRecord struct {
	samples       int
	successRate   float64
	boostEntities map[string]struct{}
}

// ExpansionSuggestion is the merged advice for a query: entities that
// helped similar queries before, and how confident the memory is in them.
type ExpansionSuggestion struct {
	Entities   []string `json:"entities"`
	Confidence float64  `json:"confidence"`
}

// QueryExpansionMemory remembers which entities ended up useful for which
// queries and suggests them again for similar queries. Like the context
// tracker it is process-local by design: entries live in an LRU cache with
// no TTL and no persistence, so the memory adapts to the current workload
// and resets with the process.
type QueryExpansionMemory struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *expansionRecord]
}

// NewQueryExpansionMemory creates an expansion memory keeping up to size
// learned patterns. A non-positive size uses the default.
func NewQueryExpansionMemory(size int) *QueryExpansionMemory {
	if size <= 0 {
		size = defaultExpansionSize
	}
	cache, _ := lru.New[string, *expansionRecord](size)
	return &QueryExpansionMemory{cache: cache}
}

// LearnPattern folds one outcome into the query's record. The success rate
// becomes a running average over all samples; boost entities accumulate as
// a set.
func (m *QueryExpansionMemory) LearnPattern(query string, successRate float64, boostEntities []string) {
	key := normalizeQuery(query)
	if key == "" {
		return
	}
	if successRate < 0 {
		successRate = 0
	}
	if successRate > 1 {
		successRate = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.cache.Get(key)
	if !ok {
		rec = &expansionRecord{boostEntities: make(map[string]struct{})}
	}
	rec.samples++
	rec.successRate = (rec.successRate*float64(rec.samples-1) + successRate) / float64(rec.samples)
	for _, entityID := range boostEntities {
		if entityID != "" {
			rec.boostEntities[entityID] = struct{}{}
		}
	}
	m.cache.Add(key, rec)
}

// Suggestions returns the entities learned for this query plus those of
// sufficiently similar past queries. Confidence is the best success rate
// among the contributing records; an empty suggestion has confidence 0.
func (m *QueryExpansionMemory) Suggestions(query string) ExpansionSuggestion {
	key := normalizeQuery(query)
	if key == "" {
		return ExpansionSuggestion{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entities := make(map[string]struct{})
	confidence := 0.0
	merge := func(rec *expansionRecord) {
		for entityID := range rec.boostEntities {
			entities[entityID] = struct{}{}
		}
		if rec.successRate > confidence {
			confidence = rec.successRate
		}
	}

	if rec, ok := m.cache.Get(key); ok {
		merge(rec)
	}

	// Peek keeps the scan from reshuffling LRU recency.
	queryTokens := tokenSet(key)
	for _, past := range m.cache.Keys() {
		if past == key {
			continue
		}
		if jaccard(queryTokens, tokenSet(past)) > expansionSimilarity {
			if rec, ok := m.cache.Peek(past); ok {
				merge(rec)
			}
		}
	}

	if len(entities) == 0 {
		return ExpansionSuggestion{}
	}

	out := make([]string, 0, len(entities))
	for entityID := range entities {
		out = append(out, entityID)
	}
	sort.Strings(out)
	return ExpansionSuggestion{Entities: out, Confidence: confidence}
}

// Len returns the number of learned patterns.
func (m *QueryExpansionMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}

func normalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[tok] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
