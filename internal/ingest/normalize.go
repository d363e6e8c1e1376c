package ingest

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	goaway "github.com/TwiN/go-away"
	"github.com/araddon/dateparse"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/robingodinho/energy-intel/internal/intel"
)

const maxExcerptLen = 2048

// Space sanitization is off: the default detector joins words before
// matching, so innocent headlines match profanity across word boundaries
// ("installations hit" contains "s hit").
var profanity = goaway.NewProfanityDetector().WithSanitizeSpaces(false)

// DiscardError explains why an item was dropped during normalization.
// Discards are logged and counted, never fatal.
type DiscardError struct {
	Reason string
}

func (e *DiscardError) Error() string {
	return fmt.Sprintf("item discarded: %s", e.Reason)
}

// Normalizer converts raw feed items into canonical articles.
type Normalizer struct {
	rules Rules
	now   func() time.Time
}

// NewNormalizer builds a Normalizer over the given category rules.
func NewNormalizer(rules Rules) *Normalizer {
	return &Normalizer{
		rules: rules,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Normalize produces a canonical article from one raw feed item, or a
// *DiscardError when the item is not worth keeping. The returned article
// has no summary yet: summarization happens after dedup so duplicate items
// never cost a generation call.
func (n *Normalizer) Normalize(item *gofeed.Item, desc intel.FeedDescriptor) (intel.Article, string, error) {
	title := sanitize(item.Title)
	link := strings.TrimSpace(item.Link)

	if title == "" {
		return intel.Article{}, "", &DiscardError{Reason: "missing title"}
	}
	if link == "" {
		return intel.Article{}, "", &DiscardError{Reason: "missing link"}
	}
	if profanity.IsProfane(title) {
		return intel.Article{}, "", &DiscardError{Reason: "profane title"}
	}

	publishedAt := n.resolveTimestamp(item)
	excerpt := excerptOf(item)

	return intel.Article{
		ID:          itemID(item, title, publishedAt),
		Title:       title,
		Link:        link,
		PublishedAt: publishedAt,
		Source:      desc.Name,
		Category:    n.rules.Categorize(title, excerpt),
		ContentType: desc.ContentType,
	}, excerpt, nil
}

// itemID derives the stable article id: guid when the feed provides one,
// link as the fallback, title+date as the last resort. The same logical
// item always hashes to the same id across runs.
func itemID(item *gofeed.Item, title string, publishedAt time.Time) string {
	key := strings.TrimSpace(item.GUID)
	if key == "" {
		key = strings.TrimSpace(item.Link)
	}
	if key == "" {
		key = title + "|" + publishedAt.Format(time.DateOnly)
	}

	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("sha256:%x", h[:16])
}

// resolveTimestamp never fails: parsed date field, then a loose parse of
// the publish string, then the current time.
func (n *Normalizer) resolveTimestamp(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.Published != "" {
		if t, err := dateparse.ParseAny(item.Published); err == nil {
			return t.UTC()
		}
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}

	return n.now()
}

func excerptOf(item *gofeed.Item) string {
	excerpt := item.Description
	if excerpt == "" {
		excerpt = item.Content
	}

	return sanitize(excerpt)
}

var stripPolicy = bluemonday.StrictPolicy()

// Removes all html tags from the string and caps its length so a feed
// shipping entire article bodies doesn't balloon downstream prompts.
func sanitize(s string) string {
	s = stripPolicy.Sanitize(s)
	s = strings.TrimSpace(s)
	if len(s) > maxExcerptLen {
		cut := maxExcerptLen
		// Back off a byte cut that would split a multibyte rune.
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}

	return s
}
