package engine

import (
	"log"
	"regexp"
	"strings"

	"github.com/greenfell/hearth/internal/config"
)

// compiledPattern pairs a pattern's source text with its compiled form.
// The source text is reported back in scope reasoning so callers can see
// which patterns fired.
type compiledPattern struct {
	Source string
	Re     *regexp.Regexp
}

// languagePack holds one language's compiled pattern lists.
type languagePack struct {
	Code     string
	Micro    []compiledPattern
	Macro    []compiledPattern
	Overview []compiledPattern
	Control  []compiledPattern
}

// PatternSet is the compiled form of a retrieval file's language packs.
// It is built once and treated as immutable afterwards; hot reloads swap in
// a whole new set rather than mutating this one.
type PatternSet struct {
	languages []languagePack
}

// CompilePatterns compiles every language pack in the retrieval file.
// A nil file compiles the built-in defaults. Patterns that fail to compile
// are skipped with a warning so one bad expression cannot take scope
// detection down.
func CompilePatterns(file *config.RetrievalFile) *PatternSet {
	if file == nil {
		file = config.DefaultRetrievalFile()
	}

	set := &PatternSet{}
	for _, lang := range file.Languages {
		set.languages = append(set.languages, languagePack{
			Code:     lang.Code,
			Micro:    compilePatternList(lang.Code, "micro", lang.Micro),
			Macro:    compilePatternList(lang.Code, "macro", lang.Macro),
			Overview: compilePatternList(lang.Code, "overview", lang.Overview),
			Control:  compilePatternList(lang.Code, "control", lang.Control),
		})
	}
	return set
}

// compilePatternList compiles one ordered pattern list. Expressions are made
// case-insensitive unless they already carry an inline flag group.
func compilePatternList(code, list string, patterns []string) []compiledPattern {
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		expr := p
		if !strings.HasPrefix(expr, "(?") {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			log.Printf("PatternSet: WARNING - skipping invalid %s/%s pattern %q: %v", code, list, p, err)
			continue
		}
		compiled = append(compiled, compiledPattern{Source: p, Re: re})
	}
	return compiled
}

// matchAll returns the source texts of every pattern in the list that
// matches the query, preserving list order.
func matchAll(patterns []compiledPattern, query string) []string {
	var matched []string
	for _, p := range patterns {
		if p.Re.MatchString(query) {
			matched = append(matched, p.Source)
		}
	}
	return matched
}
