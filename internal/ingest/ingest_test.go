package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robingodinho/energy-intel/internal/feed"
	"github.com/robingodinho/energy-intel/internal/intel"
	"github.com/robingodinho/energy-intel/internal/summary"
)

const testFeedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Feed A</title>
    <item>
      <title>FERC approves transmission ruling</title>
      <link>https://example.com/post-1</link>
      <guid>guid-1</guid>
      <description>The commission issued a compliance order.</description>
      <pubDate>Mon, 03 Aug 2026 12:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Solar installations hit record</title>
      <link>https://example.com/post-2</link>
      <guid>guid-2</guid>
      <description>Wind and solar growth continues.</description>
      <pubDate>Tue, 04 Aug 2026 12:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Crude prices slide on OPEC news</title>
      <link>https://example.com/post-3</link>
      <guid>guid-3</guid>
      <description>Oil markets reacted to the announcement.</description>
      <pubDate>Wed, 05 Aug 2026 12:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

// stubSummarizer is a deterministic Summarizer double.
type stubSummarizer struct {
	fail  bool
	calls int
}

func (s *stubSummarizer) Summarize(_ context.Context, title, _, _ string) (string, error) {
	s.calls++
	if s.fail {
		return "", errors.New("generation unavailable")
	}

	return "A generated summary of: " + title, nil
}

func (s *stubSummarizer) Fallback(title string) string {
	return summary.Fallback(title)
}

func newTestIngester(t *testing.T, registry feed.Registry, repo intel.ArticleRepo, sum Summarizer) *Ingester {
	t.Helper()

	rules, err := LoadRules("")
	require.NoError(t, err)

	return NewIngester(registry, feed.NewFetcher(nil), NewNormalizer(rules), NewDeduper(repo), sum, repo, 0)
}

func TestIngester_Run(t *testing.T) {
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(testFeedXML))
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srvB.Close()

	registry := feed.Registry{Feeds: []intel.FeedDescriptor{
		{Name: "Feed A", Address: srvA.URL, Enabled: true, ContentType: intel.ContentTypePolicy},
		{Name: "Feed B", Address: srvB.URL, Enabled: true, ContentType: intel.ContentTypeFinance},
	}}

	var (
		repo = newFakeRepo()
		sum  = &stubSummarizer{}
		in   = newTestIngester(t, registry, repo, sum)
	)

	m, err := in.Run(context.Background())
	require.NoError(t, err)

	// Feed A succeeds with 3 items, feed B's 403 is isolated.
	assert.Equal(t, 1, m.SuccessfulSources)
	assert.Equal(t, 1, m.FailedSources)
	assert.Equal(t, 3, m.ItemsConsidered)
	assert.Zero(t, m.ValidationSkips)
	assert.Equal(t, 3, m.Inserted)
	assert.Zero(t, m.Duplicates)
	assert.Equal(t, 3, sum.calls)

	require.Len(t, m.Sources, 2)
	assert.Equal(t, http.StatusForbidden, m.Sources[1].Diagnostics.StatusCode)
	assert.NotEmpty(t, m.Sources[1].Error)

	// Every persisted article carries a summary.
	for _, a := range repo.articles {
		assert.NotEmpty(t, a.Summary)
	}
}

func TestIngester_Run_Idempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(testFeedXML))
	}))
	defer srv.Close()

	registry := feed.Registry{Feeds: []intel.FeedDescriptor{
		{Name: "Feed A", Address: srv.URL, Enabled: true, ContentType: intel.ContentTypePolicy},
	}}

	var (
		repo = newFakeRepo()
		sum  = &stubSummarizer{}
		in   = newTestIngester(t, registry, repo, sum)
	)

	first, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, first.Inserted)

	second, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Inserted)
	assert.Equal(t, first.Inserted, second.Duplicates)

	// Dedup happens before summarization, so the second pass costs no
	// generation calls.
	assert.Equal(t, 3, sum.calls)
}

func TestIngester_Run_SummaryFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(testFeedXML))
	}))
	defer srv.Close()

	registry := feed.Registry{Feeds: []intel.FeedDescriptor{
		{Name: "Feed A", Address: srv.URL, Enabled: true, ContentType: intel.ContentTypePolicy},
	}}

	var (
		repo = newFakeRepo()
		in   = newTestIngester(t, registry, repo, &stubSummarizer{fail: true})
	)

	m, err := in.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, m.Inserted)
	assert.Equal(t, 3, m.SummaryFallbacks)

	// The fallback summary is derived from the title alone and capped.
	for _, a := range repo.articles {
		assert.NotEmpty(t, a.Summary)
		assert.LessOrEqual(t, len(a.Summary), summary.FallbackMaxLen+len("…"))
		assert.Contains(t, a.Title, a.Summary)
	}
}
