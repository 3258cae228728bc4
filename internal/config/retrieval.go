package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RetrievalFile is the YAML-backed retrieval tuning data: scope detection
// language packs, relevance tables and cluster seeds. Every section is
// optional; empty sections fall back to the built-in defaults so a file with
// only cluster seeds still detects scopes bilingually.
type RetrievalFile struct {
	// Languages holds one pattern pack per language, applied in order.
	Languages []LanguagePack `yaml:"languages"`

	// AreaAliases maps a canonical area name onto the query words that
	// refer to it, e.g. garden -> [garden, outside, kert].
	AreaAliases map[string][]string `yaml:"area_aliases"`

	// DomainKeywords maps an entity domain onto query words that indicate
	// it, e.g. light -> [lamp, brightness, lámpa].
	DomainKeywords map[string][]string `yaml:"domain_keywords"`

	// FollowUpWords are tokens that mark a query as continuing the
	// previous exchange.
	FollowUpWords []string `yaml:"follow_up_words"`

	// Scopes overrides the per-scope retrieval parameters.
	Scopes []ScopeOverride `yaml:"scopes"`

	// Clusters seeds the cluster graph at bootstrap.
	Clusters []ClusterSeed `yaml:"clusters"`
}

// LanguagePack holds the scope detection regexes of one language.
// Patterns are matched case-insensitively against the raw query; each match
// adds one point to its scope.
type LanguagePack struct {
	Code     string   `yaml:"code"`
	Micro    []string `yaml:"micro"`
	Macro    []string `yaml:"macro"`
	Overview []string `yaml:"overview"`
	Control  []string `yaml:"control"`
}

// ScopeOverride adjusts the retrieval parameters of one scope.
// Zero values leave the built-in parameter untouched.
type ScopeOverride struct {
	Scope     string  `yaml:"scope"`
	KMin      int     `yaml:"k_min"`
	KMax      int     `yaml:"k_max"`
	Threshold float64 `yaml:"threshold"`
}

// ClusterSeed describes one cluster to create at bootstrap, with its
// member entities.
type ClusterSeed struct {
	Key           string       `yaml:"key"`
	Type          string       `yaml:"type"`
	Scope         string       `yaml:"scope"`
	Description   string       `yaml:"description"`
	QueryPatterns []string     `yaml:"query_patterns"`
	Areas         []string     `yaml:"areas"`
	Domains       []string     `yaml:"domains"`
	Entities      []SeedEntity `yaml:"entities"`
}

// SeedEntity describes one cluster membership edge in a seed.
type SeedEntity struct {
	EntityID     string  `yaml:"entity_id"`
	Role         string  `yaml:"role"`
	Weight       float64 `yaml:"weight"`
	ContextBoost float64 `yaml:"context_boost"`
}

// LoadRetrievalFile reads and validates a retrieval YAML file. Sections the
// file leaves empty are filled from the built-in defaults.
func LoadRetrievalFile(path string) (*RetrievalFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read retrieval file %s: %w", path, err)
	}

	var file RetrievalFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: invalid retrieval file %s: %w", path, err)
	}

	file.ApplyDefaults()
	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("config: retrieval file %s: %w", path, err)
	}
	return &file, nil
}

// ApplyDefaults fills empty sections from the built-in retrieval data.
// Cluster seeds are not defaulted; an empty file seeds nothing.
func (f *RetrievalFile) ApplyDefaults() {
	defaults := DefaultRetrievalFile()
	if len(f.Languages) == 0 {
		f.Languages = defaults.Languages
	}
	if len(f.AreaAliases) == 0 {
		f.AreaAliases = defaults.AreaAliases
	}
	if len(f.DomainKeywords) == 0 {
		f.DomainKeywords = defaults.DomainKeywords
	}
	if len(f.FollowUpWords) == 0 {
		f.FollowUpWords = defaults.FollowUpWords
	}
}

// Validate rejects contradictory overrides and malformed seeds.
func (f *RetrievalFile) Validate() error {
	for _, o := range f.Scopes {
		switch o.Scope {
		case "micro", "macro", "overview":
		default:
			return fmt.Errorf("unknown scope %q in override", o.Scope)
		}
		if o.KMin > 0 && o.KMax > 0 && o.KMin > o.KMax {
			return fmt.Errorf("scope %s: k_min %d exceeds k_max %d", o.Scope, o.KMin, o.KMax)
		}
		if o.Threshold < 0 || o.Threshold > 1 {
			return fmt.Errorf("scope %s: threshold %g outside [0, 1]", o.Scope, o.Threshold)
		}
	}

	for _, seed := range f.Clusters {
		if seed.Key == "" {
			return fmt.Errorf("cluster seed with empty key")
		}
		switch seed.Type {
		case "micro_cluster", "macro_cluster", "overview_cluster":
		default:
			return fmt.Errorf("cluster %s: unknown type %q", seed.Key, seed.Type)
		}
		for _, e := range seed.Entities {
			if e.EntityID == "" {
				return fmt.Errorf("cluster %s: member with empty entity_id", seed.Key)
			}
			switch e.Role {
			case "", "primary", "related":
			default:
				return fmt.Errorf("cluster %s: member %s has unknown role %q", seed.Key, e.EntityID, e.Role)
			}
		}
	}
	return nil
}
