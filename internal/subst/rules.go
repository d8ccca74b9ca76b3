package subst

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Rule maps one or more case-insensitive patterns to a single replacement.
// Definition order is the priority order when rules compete for a span.
type Rule struct {
	Patterns    []string
	Replacement string
}

// Rule files are discovered under these names, working directory first, then
// the config directory.
var ruleFileNames = []string{"substitutions.txt", "transcription_substitutions.txt"}

// Parse reads rule definitions from text. One rule per line, three accepted
// forms:
//
//	replacement <- pattern, pattern2
//	pattern, pattern2 -> replacement
//	pattern = replacement
//
// Patterns on the pattern side are split on "|" and ",". Blank lines and
// lines starting with "#" are skipped, as are malformed lines.
func Parse(text string) []Rule {
	var rules []Rule
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var patternPart, replacement string
		switch {
		case strings.Contains(line, "<-"):
			parts := strings.SplitN(line, "<-", 2)
			replacement = strings.TrimSpace(parts[0])
			patternPart = parts[1]
		case strings.Contains(line, "->"):
			parts := strings.SplitN(line, "->", 2)
			patternPart = parts[0]
			replacement = strings.TrimSpace(parts[1])
		case strings.Contains(line, "="):
			parts := strings.SplitN(line, "=", 2)
			patternPart = parts[0]
			replacement = strings.TrimSpace(parts[1])
		default:
			continue
		}

		patterns := splitPatterns(patternPart)
		if len(patterns) == 0 || replacement == "" {
			continue
		}
		rules = append(rules, Rule{Patterns: patterns, Replacement: replacement})
	}
	return rules
}

func splitPatterns(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '|' || r == ','
	})
	var patterns []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			patterns = append(patterns, trimmed)
		}
	}
	return patterns
}

// LoadFile parses rules from a file.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(string(data)), nil
}

// Discover returns the first rule file found in the working directory, then
// configDir.
func Discover(configDir string) (string, bool) {
	for _, dir := range []string{".", configDir} {
		for _, name := range ruleFileNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, true
			}
		}
	}
	return "", false
}
