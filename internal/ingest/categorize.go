package ingest

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/robingodinho/energy-intel/internal/intel"
)

const (
	strongWeight  = 3
	regularWeight = 1
)

//go:embed categories.yaml
var defaultRules []byte

type (
	// CategoryRule scores one category: strong keywords weigh 3, regular
	// keywords weigh 1.
	CategoryRule struct {
		Name    intel.Category `yaml:"name"`
		Strong  []string       `yaml:"strong"`
		Regular []string       `yaml:"regular"`
	}

	// Rules is the ordered rule set the categorizer evaluates. Order is the
	// tie-break between categories with equal scores.
	Rules struct {
		Categories []CategoryRule `yaml:"categories"`
	}
)

// LoadRules reads categorizer rules from path, or the embedded defaults
// when path is empty.
func LoadRules(path string) (Rules, error) {
	raw := defaultRules
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Rules{}, fmt.Errorf("error reading category rules: %w", err)
		}
		raw = b
	}

	var rules Rules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return Rules{}, fmt.Errorf("error parsing category rules: %w", err)
	}
	if len(rules.Categories) == 0 {
		return Rules{}, fmt.Errorf("category rules are empty")
	}

	return rules, nil
}

// Categorize assigns a category to the item by weighted keyword match.
// The title is counted twice to bias toward it; ties go to the earliest
// rule. A zero score on every category falls back to the catch-all, so
// classification is total.
func (r Rules) Categorize(title, excerpt string) intel.Category {
	haystack := strings.ToLower(title + " " + title + " " + excerpt)

	best := intel.CategoryPolicy
	bestScore := 0
	for _, rule := range r.Categories {
		score := 0
		for _, kw := range rule.Strong {
			score += strongWeight * strings.Count(haystack, strings.ToLower(kw))
		}
		for _, kw := range rule.Regular {
			score += regularWeight * strings.Count(haystack, strings.ToLower(kw))
		}

		if score > bestScore {
			best = rule.Name
			bestScore = score
		}
	}

	return best
}
