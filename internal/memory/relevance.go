package memory

import (
	"strings"
	"time"
	"unicode"

	"github.com/greenfell/hearth/internal/config"
	"github.com/greenfell/hearth/pkg/types"
)

// RelevanceTables holds the lookup data for recall scoring: which query
// words imply which areas, which words indicate a domain, and which tokens
// mark a follow-up query. Built once from the retrieval file; all entries
// are lowercased at construction.
type RelevanceTables struct {
	areaAliases    map[string][]string
	domainKeywords map[string][]string
	followUpWords  map[string]struct{}
}

// NewRelevanceTables builds lookup tables from retrieval data. A nil file
// uses the built-in defaults.
func NewRelevanceTables(file *config.RetrievalFile) *RelevanceTables {
	if file == nil {
		file = config.DefaultRetrievalFile()
	}

	t := &RelevanceTables{
		areaAliases:    make(map[string][]string, len(file.AreaAliases)),
		domainKeywords: make(map[string][]string, len(file.DomainKeywords)),
		followUpWords:  make(map[string]struct{}, len(file.FollowUpWords)),
	}
	for area, aliases := range file.AreaAliases {
		lowered := make([]string, len(aliases))
		for i, a := range aliases {
			lowered[i] = strings.ToLower(a)
		}
		t.areaAliases[strings.ToLower(area)] = lowered
	}
	for domain, keywords := range file.DomainKeywords {
		lowered := make([]string, len(keywords))
		for i, k := range keywords {
			lowered[i] = strings.ToLower(k)
		}
		t.domainKeywords[strings.ToLower(domain)] = lowered
	}
	for _, w := range file.FollowUpWords {
		t.followUpWords[strings.ToLower(w)] = struct{}{}
	}
	return t
}

// Recall scoring weights. Contributions are additive; entities below
// recallThreshold stay out of the result entirely.
const (
	recallThreshold = 0.3

	idContainsTokenScore = 2.0
	areaMentionScore     = 1.5
	areaAliasScore       = 1.3
	domainKeywordScore   = 1.2
	wordOverlapScore     = 0.5
	recentMentionScore   = 0.8
	staleMentionScore    = 0.4
	highBoostScore       = 0.6
	followUpScore        = 0.5

	recentMentionWindow = 5 * time.Minute
	staleMentionWindow  = 15 * time.Minute
)

// ScoreEntity computes the recall relevance of one remembered entity for a
// query. Every contribution is independent and additive; the result does not
// include the entity's boost weight (callers rank by score × boost).
func (t *RelevanceTables) ScoreEntity(entity types.RememberedEntity, query string, now time.Time) float64 {
	queryLower := strings.ToLower(query)
	queryTokens := tokenize(queryLower)
	querySet := make(map[string]struct{}, len(queryTokens))
	for _, tok := range queryTokens {
		querySet[tok] = struct{}{}
	}

	idNorm := normalizeEntityID(entity.EntityID)
	score := 0.0

	// Direct id mention: any substantial query token inside the entity id.
	for _, tok := range queryTokens {
		if len([]rune(tok)) > 2 && strings.Contains(idNorm, tok) {
			score += idContainsTokenScore
			break
		}
	}

	// Area: the stored area name itself, or one of its alias words.
	if entity.Area != "" {
		areaLower := strings.ToLower(entity.Area)
		areaSpaced := strings.ReplaceAll(areaLower, "_", " ")
		if strings.Contains(queryLower, areaLower) || strings.Contains(queryLower, areaSpaced) {
			score += areaMentionScore
		} else if aliases, ok := t.areaAliases[areaLower]; ok {
			for _, alias := range aliases {
				if strings.Contains(queryLower, alias) {
					score += areaAliasScore
					break
				}
			}
		}
	}

	// Domain keywords.
	if keywords, ok := t.domainKeywords[strings.ToLower(entity.Domain)]; ok {
		for _, kw := range keywords {
			if strings.Contains(queryLower, kw) {
				score += domainKeywordScore
				break
			}
		}
	}

	// Word overlap between query tokens and entity id tokens.
	overlap := 0
	for _, idTok := range tokenize(idNorm) {
		if _, ok := querySet[idTok]; ok {
			overlap++
		}
	}
	score += wordOverlapScore * float64(overlap)

	// Recency of the last mention.
	elapsed := now.Sub(entity.MentionedAt)
	if elapsed < recentMentionWindow {
		score += recentMentionScore
	} else if elapsed < staleMentionWindow {
		score += staleMentionScore
	}

	// Entities the conversation keeps returning to.
	if entity.BoostWeight > 1.5 {
		score += highBoostScore
	}

	// Follow-up queries lean on everything remembered.
	for tok := range querySet {
		if _, ok := t.followUpWords[tok]; ok {
			score += followUpScore
			break
		}
	}

	return score
}

// IsFollowUp reports whether the query contains a follow-up token.
func (t *RelevanceTables) IsFollowUp(query string) bool {
	for _, tok := range tokenize(strings.ToLower(query)) {
		if _, ok := t.followUpWords[tok]; ok {
			return true
		}
	}
	return false
}

// tokenize splits text into lowercase alphanumeric tokens. Unicode letters
// count, so Hungarian accented words survive intact.
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalizeEntityID lowercases an entity id and replaces punctuation with
// spaces, so light.living_room_ceiling becomes "light living room ceiling".
func normalizeEntityID(entityID string) string {
	lower := strings.ToLower(entityID)
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, lower)
}
