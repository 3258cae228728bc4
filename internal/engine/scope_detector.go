package engine

import (
	"fmt"
	"strings"

	"github.com/greenfell/hearth/internal/config"
	"github.com/greenfell/hearth/pkg/types"
)

// ScopeConfig describes the retrieval strategy tied to one query scope:
// the candidate count range, which cluster tiers to search and in what
// order, the downstream formatter hint, and the cluster similarity
// threshold.
type ScopeConfig struct {
	Scope        types.QueryScope    `json:"scope"`
	KMin         int                 `json:"k_min"`
	KMax         int                 `json:"k_max"`
	ClusterTypes []types.ClusterType `json:"cluster_types"`
	Formatter    string              `json:"formatter"`
	Threshold    float64             `json:"threshold"`
}

// DefaultScopeConfigs returns the built-in per-scope retrieval strategies.
func DefaultScopeConfigs() map[types.QueryScope]ScopeConfig {
	return map[types.QueryScope]ScopeConfig{
		types.ScopeMicro: {
			Scope:        types.ScopeMicro,
			KMin:         5,
			KMax:         10,
			ClusterTypes: []types.ClusterType{types.ClusterMicro, types.ClusterMacro},
			Formatter:    types.FormatterDetailed,
			Threshold:    0.75,
		},
		types.ScopeMacro: {
			Scope:        types.ScopeMacro,
			KMin:         10,
			KMax:         15,
			ClusterTypes: []types.ClusterType{types.ClusterMacro, types.ClusterMicro},
			Formatter:    types.FormatterGrouped,
			Threshold:    0.70,
		},
		types.ScopeOverview: {
			Scope:        types.ScopeOverview,
			KMin:         15,
			KMax:         20,
			ClusterTypes: []types.ClusterType{types.ClusterOverview, types.ClusterMacro},
			Formatter:    types.FormatterHierarchical,
			Threshold:    0.65,
		},
	}
}

// ScopeDecision is the outcome of scope detection for one query.
type ScopeDecision struct {
	// Scope is the winning scope.
	Scope types.QueryScope `json:"scope"`

	// Config is the retrieval strategy for the winning scope.
	Config ScopeConfig `json:"config"`

	// OptimalK is the candidate count chosen within [KMin, KMax].
	OptimalK int `json:"optimal_k"`

	// Formatter mirrors Config.Formatter for callers that only render.
	Formatter string `json:"formatter"`

	// Confidence is the winner's share of all positive scope scores,
	// 0.3 when the word-count fallback decided.
	Confidence float64 `json:"confidence"`

	// Reasoning is a human-readable account of what fired.
	Reasoning string `json:"reasoning"`

	// Scores holds the per-scope totals that produced the decision.
	Scores map[types.QueryScope]float64 `json:"scores"`

	// MatchedPatterns lists the pattern sources that matched, per scope.
	MatchedPatterns map[types.QueryScope][]string `json:"matched_patterns,omitempty"`

	// ControlPatterns lists the control pattern sources that matched.
	ControlPatterns []string `json:"control_patterns,omitempty"`

	// FallbackUsed is set when no signal scored and word count decided.
	FallbackUsed bool `json:"fallback_used,omitempty"`
}

// fallbackConfidence is reported when word count decided the scope.
const fallbackConfidence = 0.3

// ScopeDetector classifies queries into retrieval scopes using per-language
// pattern lists plus conversation context. All patterns are compiled once at
// construction; Detect never fails and tolerates empty input.
type ScopeDetector struct {
	patterns *PatternSet
	configs  map[types.QueryScope]ScopeConfig
}

// NewScopeDetector builds a detector from a retrieval file. A nil file uses
// the built-in defaults. Scope overrides in the file adjust KMin, KMax, and
// Threshold of the affected scopes; cluster type order and formatter are
// fixed per scope.
func NewScopeDetector(file *config.RetrievalFile) *ScopeDetector {
	if file == nil {
		file = config.DefaultRetrievalFile()
	}

	configs := DefaultScopeConfigs()
	for _, o := range file.Scopes {
		scope := types.QueryScope(o.Scope)
		cfg, ok := configs[scope]
		if !ok {
			continue
		}
		if o.KMin > 0 {
			cfg.KMin = o.KMin
		}
		if o.KMax > 0 {
			cfg.KMax = o.KMax
		}
		if o.Threshold > 0 {
			cfg.Threshold = o.Threshold
		}
		if cfg.KMin > cfg.KMax {
			cfg.KMin = cfg.KMax
		}
		configs[scope] = cfg
	}

	return &ScopeDetector{
		patterns: CompilePatterns(file),
		configs:  configs,
	}
}

// Config returns the retrieval strategy for a scope.
func (d *ScopeDetector) Config(scope types.QueryScope) ScopeConfig {
	return d.configs[scope]
}

// Detect classifies the query. Every matching pattern adds 1.0 to its
// scope; conversation context then adjusts the totals. The highest total
// wins, with ties resolved in scope declaration order. When nothing scores,
// word count decides: short queries are micro, long ones overview.
func (d *ScopeDetector) Detect(query string, conv *types.ConversationContext) ScopeDecision {
	scores := map[types.QueryScope]float64{
		types.ScopeMicro:    0,
		types.ScopeMacro:    0,
		types.ScopeOverview: 0,
	}
	matched := map[types.QueryScope][]string{}
	var controlMatched []string
	var reasons []string

	for _, lang := range d.patterns.languages {
		for scope, list := range map[types.QueryScope][]compiledPattern{
			types.ScopeMicro:    lang.Micro,
			types.ScopeMacro:    lang.Macro,
			types.ScopeOverview: lang.Overview,
		} {
			hits := matchAll(list, query)
			if len(hits) == 0 {
				continue
			}
			scores[scope] += float64(len(hits))
			matched[scope] = append(matched[scope], hits...)
		}
		controlMatched = append(controlMatched, matchAll(lang.Control, query)...)
	}

	for _, scope := range types.QueryScopes {
		if len(matched[scope]) > 0 {
			reasons = append(reasons, fmt.Sprintf("%s patterns [%s]",
				scope, strings.Join(matched[scope], " | ")))
		}
	}

	areas := conv.AreaCount()
	domains := conv.DomainCount()

	switch {
	case areas == 1:
		scores[types.ScopeMacro] += 2.0
		reasons = append(reasons, "one active area")
	case areas > 1:
		scores[types.ScopeOverview] += 1.5
		reasons = append(reasons, fmt.Sprintf("%d active areas", areas))
	}

	if domains > 2 {
		scores[types.ScopeOverview] += 1.0
		reasons = append(reasons, fmt.Sprintf("%d active domains", domains))
	}
	if domains == 1 {
		scores[types.ScopeMicro] += 0.5
		reasons = append(reasons, "one active domain")
	}

	if conv != nil && conv.IsFollowUp {
		scores[types.ScopeMacro] += 1.0
		reasons = append(reasons, "follow-up turn")
	}

	if len(controlMatched) > 0 {
		scores[types.ScopeMicro] += 1.0
		scores[types.ScopeOverview] -= 0.5
		reasons = append(reasons, "control intent")
	}

	// Earlier scopes win ties, so only a strictly higher score replaces.
	winner := types.QueryScopes[0]
	for _, scope := range types.QueryScopes {
		if scores[scope] > scores[winner] {
			winner = scope
		}
	}

	fallback := false
	confidence := 0.0
	if scores[winner] <= 0 {
		fallback = true
		words := len(strings.Fields(query))
		winner = fallbackScope(words)
		confidence = fallbackConfidence
		reasons = append(reasons, fmt.Sprintf("no signals, %d-word fallback", words))
	} else {
		var positive float64
		for _, v := range scores {
			if v > 0 {
				positive += v
			}
		}
		confidence = scores[winner] / positive
	}

	cfg := d.configs[winner]
	decision := ScopeDecision{
		Scope:           winner,
		Config:          cfg,
		OptimalK:        optimalK(winner, cfg, areas, domains),
		Formatter:       cfg.Formatter,
		Confidence:      confidence,
		Reasoning:       strings.Join(reasons, "; "),
		Scores:          scores,
		MatchedPatterns: matched,
		ControlPatterns: controlMatched,
		FallbackUsed:    fallback,
	}
	return decision
}

// fallbackScope maps query length to a scope when no pattern or context
// signal scored.
func fallbackScope(words int) types.QueryScope {
	switch {
	case words <= 3:
		return types.ScopeMicro
	case words >= 10:
		return types.ScopeOverview
	default:
		return types.ScopeMacro
	}
}

// optimalK picks the candidate count inside [KMin, KMax]. Micro queries
// about a single spot stay at the minimum; macro queries widen with the
// number of active areas and domains; overview always takes the maximum.
func optimalK(scope types.QueryScope, cfg ScopeConfig, areas, domains int) int {
	mid := (cfg.KMin + cfg.KMax) / 2

	var k int
	switch scope {
	case types.ScopeMicro:
		if areas <= 1 && domains <= 1 {
			return cfg.KMin
		}
		k = mid
	case types.ScopeMacro:
		spread := areas + domains - 1
		if spread > 5 {
			spread = 5
		}
		k = mid + 2*spread
	case types.ScopeOverview:
		return cfg.KMax
	default:
		k = mid
	}

	if k < cfg.KMin {
		k = cfg.KMin
	}
	if k > cfg.KMax {
		k = cfg.KMax
	}
	return k
}
