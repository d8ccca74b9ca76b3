package subst

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

type compiledRule struct {
	re          *regexp.Regexp
	replacement string
}

// Engine applies a compiled, ordered rule set to text. Matching state lives
// entirely on the stack, so a compiled engine is safe for concurrent use.
type Engine struct {
	rules []compiledRule
}

// Compile builds a matcher from rules. Each rule becomes one case-insensitive
// alternation of its literal patterns, longer patterns first so the longest
// variant wins at a given position.
func Compile(rules []Rule) (*Engine, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, rule := range rules {
		patterns := make([]string, 0, len(rule.Patterns))
		for _, p := range rule.Patterns {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				patterns = append(patterns, trimmed)
			}
		}
		if len(patterns) == 0 {
			continue
		}
		sort.SliceStable(patterns, func(a, b int) bool {
			return len(patterns[a]) > len(patterns[b])
		})
		alts := make([]string, len(patterns))
		for j, p := range patterns {
			alts[j] = regexp.QuoteMeta(p)
		}
		re, err := regexp.Compile("(?i)(?:" + strings.Join(alts, "|") + ")")
		if err != nil {
			return nil, fmt.Errorf("compile rule %d: %w", i, err)
		}
		compiled = append(compiled, compiledRule{re: re, replacement: rule.Replacement})
	}
	return &Engine{rules: compiled}, nil
}

// Len reports the number of compiled rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Apply rewrites text in a single left-to-right pass. At each position the
// earliest match wins; ties go to the longer span, then to the rule defined
// first. Replacements are inserted verbatim and never rescanned, so rules do
// not cascade into each other's output.
func (e *Engine) Apply(text string) string {
	if len(e.rules) == 0 || text == "" {
		return text
	}

	var out strings.Builder
	pos := 0
	for pos < len(text) {
		bestStart, bestEnd, bestRule := -1, -1, -1
		for i := range e.rules {
			loc := e.rules[i].re.FindStringIndex(text[pos:])
			if loc == nil {
				continue
			}
			start, end := pos+loc[0], pos+loc[1]
			if bestRule == -1 || start < bestStart || (start == bestStart && end > bestEnd) {
				bestStart, bestEnd, bestRule = start, end, i
			}
		}
		if bestRule == -1 {
			out.WriteString(text[pos:])
			return out.String()
		}
		out.WriteString(text[pos:bestStart])
		out.WriteString(e.rules[bestRule].replacement)
		pos = bestEnd
	}
	return out.String()
}
