package engine

import (
	"log"
	"math"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// tokenEncoding is the tokenizer used for prompt budget estimates.
	tokenEncoding = "cl100k_base"

	// fallbackTokensPerWord approximates token counts when the encoding
	// cannot be loaded.
	fallbackTokensPerWord = 1.3
)

// TokenCounter estimates how many prompt tokens a candidate selection will
// cost, so the pipeline can trim selections to the configured budget.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter loads the tokenizer. When the encoding is unavailable the
// counter falls back to a words-times-1.3 estimate instead of failing.
func NewTokenCounter() *TokenCounter {
	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		log.Printf("TokenCounter: WARNING - %s unavailable, falling back to word estimate: %v", tokenEncoding, err)
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

// Count returns the estimated token count of the text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.enc == nil {
		words := len(strings.Fields(text))
		return int(math.Ceil(float64(words) * fallbackTokensPerWord))
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CandidateLine renders the prompt line a candidate occupies. The format
// mirrors what downstream prompt builders emit per entity, so the budget
// estimate tracks real cost.
func CandidateLine(rc RankedCandidate) string {
	var b strings.Builder
	b.WriteString(rc.Candidate.EntityID)
	if rc.Candidate.Area != "" {
		b.WriteString(" [")
		b.WriteString(rc.Candidate.Area)
		b.WriteString("]")
	}
	if rc.Candidate.State != "" {
		b.WriteString(": ")
		b.WriteString(rc.Candidate.State)
	}
	return b.String()
}

// TrimToBudget drops candidates from the tail of the ranked selection until
// the estimated token cost fits the budget, but never trims below keep.
// It returns the trimmed selection and its estimated token cost. A
// non-positive budget disables trimming.
func (c *TokenCounter) TrimToBudget(ranked []RankedCandidate, budget, keep int) ([]RankedCandidate, int) {
	if len(ranked) == 0 {
		return ranked, 0
	}
	if keep < 1 {
		keep = 1
	}

	costs := make([]int, len(ranked))
	total := 0
	for i, rc := range ranked {
		costs[i] = c.Count(CandidateLine(rc))
		total += costs[i]
	}

	if budget <= 0 {
		return ranked, total
	}

	for len(ranked) > keep && total > budget {
		last := len(ranked) - 1
		total -= costs[last]
		ranked = ranked[:last]
	}
	return ranked, total
}
