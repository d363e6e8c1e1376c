package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robingodinho/energy-intel/internal/intel"
)

func testRules(t *testing.T) Rules {
	t.Helper()

	rules, err := LoadRules("")
	require.NoError(t, err)

	return rules
}

func TestCategorize(t *testing.T) {
	rules := testRules(t)

	tests := []struct {
		name     string
		title    string
		excerpt  string
		expected intel.Category
	}{
		{
			name:     "strong regulation keyword",
			title:    "FERC issues new transmission order",
			expected: intel.CategoryRegulation,
		},
		{
			name:     "renewables from title",
			title:    "Texas solar farm breaks ground",
			expected: intel.CategoryRenewables,
		},
		{
			name:     "oil and gas from excerpt",
			title:    "Producers respond to price pressure",
			excerpt:  "Crude inventories fell as OPEC signaled output cuts.",
			expected: intel.CategoryOilGas,
		},
		{
			name:     "markets",
			title:    "Utility earnings beat forecasts as shares rally",
			expected: intel.CategoryMarkets,
		},
		{
			name:     "no keywords falls back to catch-all",
			title:    "A quiet week in the sector",
			expected: intel.CategoryPolicy,
		},
		{
			name:     "empty string still classifies",
			title:    "",
			expected: intel.CategoryPolicy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rules.Categorize(tt.title, tt.excerpt)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCategorize_TitleCountsTwice(t *testing.T) {
	rules := Rules{Categories: []CategoryRule{
		{Name: intel.CategoryMarkets, Regular: []string{"market"}},
		{Name: intel.CategoryOilGas, Regular: []string{"crude"}},
	}}

	// One title hit (doubled to 2) beats one excerpt hit (1).
	got := rules.Categorize("market outlook", "crude oil mentioned once")
	assert.Equal(t, intel.CategoryMarkets, got)
}

func TestCategorize_TieBreakIsRuleOrder(t *testing.T) {
	rules := Rules{Categories: []CategoryRule{
		{Name: intel.CategoryRegulation, Regular: []string{"energy"}},
		{Name: intel.CategoryMarkets, Regular: []string{"energy"}},
	}}

	got := rules.Categorize("energy briefing", "")
	assert.Equal(t, intel.CategoryRegulation, got)
}

func TestCategorize_IsTotal(t *testing.T) {
	rules := testRules(t)

	for _, s := range []string{"", "   ", "!!!", "über-regulierung", "12345"} {
		got := rules.Categorize(s, "")
		assert.Contains(t, intel.Categories, got, "input %q", s)
	}
}

func TestLoadRules_Defaults(t *testing.T) {
	rules := testRules(t)

	require.Len(t, rules.Categories, 5)
	// The catch-all must be last so it never wins a tie it didn't earn.
	assert.Equal(t, intel.CategoryPolicy, rules.Categories[len(rules.Categories)-1].Name)
}
