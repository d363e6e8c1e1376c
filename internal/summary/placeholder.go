package summary

import (
	"strings"
)

// Word-overlap threshold past which a short summary is considered a
// disguised copy of the title.
const overlapThreshold = 0.8

// Summaries at or under this many words get the overlap check; longer
// summaries are assumed to carry real content.
const shortSummaryWords = 30

// IsLikelyPlaceholder reports whether a stored summary looks like it came
// from the fallback path rather than real generation: it equals the title,
// is a truncated prefix of it, ends in an ellipsis that is itself a title
// prefix, or (for short summaries) shares more than 80% of its words with
// the title. Used only by the out-of-band backfill, never by the main
// pipeline.
func IsLikelyPlaceholder(title, summary string) bool {
	t := strings.TrimSpace(title)
	s := strings.TrimSpace(summary)
	if s == "" {
		return true
	}

	if strings.EqualFold(s, t) {
		return true
	}
	if strings.HasPrefix(strings.ToLower(t), strings.ToLower(s)) {
		return true
	}

	trimmed := strings.TrimRight(s, ".…")
	if trimmed != s && strings.HasPrefix(strings.ToLower(t), strings.ToLower(strings.TrimSpace(trimmed))) {
		return true
	}

	words := strings.Fields(strings.ToLower(s))
	if len(words) > 0 && len(words) <= shortSummaryWords {
		titleWords := make(map[string]struct{})
		for _, w := range strings.Fields(strings.ToLower(t)) {
			titleWords[strings.Trim(w, ".,:;!?…")] = struct{}{}
		}

		hits := 0
		for _, w := range words {
			if _, ok := titleWords[strings.Trim(w, ".,:;!?…")]; ok {
				hits++
			}
		}
		if float64(hits)/float64(len(words)) > overlapThreshold {
			return true
		}
	}

	return false
}
