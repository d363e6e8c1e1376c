package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/robingodinho/energy-intel/internal/feed"
	"github.com/robingodinho/energy-intel/internal/images"
	"github.com/robingodinho/energy-intel/internal/ingest"
	"github.com/robingodinho/energy-intel/internal/intel"
	"github.com/robingodinho/energy-intel/internal/migrations"
	"github.com/robingodinho/energy-intel/internal/pipeline"
	"github.com/robingodinho/energy-intel/internal/sqlite"
)

const testSecret = "test-secret"

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
	<title>Test Wire</title>
	<item>
		<title>Interior approves offshore wind lease sale</title>
		<link>https://example.com/story/one</link>
		<guid>wire-1</guid>
		<pubDate>Mon, 10 Aug 2026 08:00:00 GMT</pubDate>
		<description>The sale covers two lease areas.</description>
	</item>
</channel></rss>`

type noopSummarizer struct{}

func (noopSummarizer) Summarize(_ context.Context, title, _, _ string) (string, error) {
	return "Summary: " + title, nil
}

func (noopSummarizer) Fallback(title string) string { return title + "…" }

func newTestServer(t *testing.T) (*Server, *sqlite.Repo) {
	return newTestServerWith(t, false)
}

func newTestServerWith(t *testing.T, background bool) (*Server, *sqlite.Repo) {
	t.Helper()

	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, feedXML)
	}))
	t.Cleanup(feedSrv.Close)

	dbx, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	dbx.SetMaxOpenConns(1)
	t.Cleanup(func() { dbx.Close() })
	require.NoError(t, migrations.Run(dbx))
	repo := sqlite.New(dbx)

	registry := feed.Registry{Feeds: []intel.FeedDescriptor{{
		Name:        "Test Wire",
		Address:     feedSrv.URL,
		Enabled:     true,
		ContentType: intel.ContentTypePolicy,
	}}}

	rules, err := ingest.LoadRules("")
	require.NoError(t, err)

	summ := noopSummarizer{}
	ingester := ingest.NewIngester(
		registry,
		feed.NewFetcher(feedSrv.Client()),
		ingest.NewNormalizer(rules),
		ingest.NewDeduper(repo),
		summ,
		repo,
		0,
	)

	pipe := pipeline.New(pipeline.Config{
		Budget:      time.Minute,
		EnrichLimit: 0,
		ArchiveKeep: 50,
		StaleAfter:  10 * time.Minute,
		Background:  background,
	}, ingester, images.NewEnricher(feedSrv.Client(), repo), summ, repo, repo, nil)

	s := New(Config{Port: 0, Secret: testSecret}, pipe, repo, repo)
	pipe.SetInvalidator(s.Invalidator())

	return s, repo
}

func do(s *Server, method, target, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if secret != "" {
		req.Header.Set("X-Trigger-Secret", secret)
	}
	w := httptest.NewRecorder()
	s.Handler.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodPost, "/v1/jobs/ingest/trigger", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(s, http.MethodPost, "/v1/jobs/ingest/trigger", "wrong-secret")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Bearer form is accepted too.
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/ingest", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerEndpoint_Synchronous(t *testing.T) {
	s, repo := newTestServer(t)

	w := do(s, http.MethodPost, "/v1/jobs/ingest/trigger", testSecret)
	require.Equal(t, http.StatusOK, w.Code)

	var m pipeline.RunMetrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, 1, m.Inserted)
	assert.Equal(t, 1, m.SuccessfulSources)
	assert.Empty(t, m.Sources)

	run, err := repo.JobRun(context.Background(), pipeline.IngestJobName)
	require.NoError(t, err)
	assert.Equal(t, intel.RunStatusSuccess, run.Status)
}

func TestTriggerEndpoint_DebugKeepsSourceReports(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodPost, "/v1/jobs/ingest/trigger?debug=1", testSecret)
	require.Equal(t, http.StatusOK, w.Code)

	var m pipeline.RunMetrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	require.Len(t, m.Sources, 1)
	assert.Equal(t, "Test Wire", m.Sources[0].Feed)
}

func TestTriggerEndpoint_ConflictWhileRunning(t *testing.T) {
	s, repo := newTestServer(t)

	require.NoError(t, repo.UpsertJobRun(context.Background(), intel.JobRun{
		JobName: pipeline.IngestJobName,
		RanAt:   time.Now().UTC(),
		Status:  intel.RunStatusStarted,
	}))

	w := do(s, http.MethodPost, "/v1/jobs/ingest/trigger", testSecret)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTriggerEndpoint_RejectsBadLimit(t *testing.T) {
	s, _ := newTestServer(t)

	for _, raw := range []string{"abc", "0", "-1"} {
		w := do(s, http.MethodPost, "/v1/jobs/ingest/trigger?limit="+raw, testSecret)
		assert.Equal(t, http.StatusBadRequest, w.Code, raw)
	}
}

func TestTriggerEndpoint_SyncFlag(t *testing.T) {
	s, repo := newTestServerWith(t, true)

	// Background-configured, but sync holds the response open for the run
	// and returns the stats payload instead of an acknowledgement.
	w := do(s, http.MethodPost, "/v1/jobs/ingest/trigger?sync=1", testSecret)
	require.Equal(t, http.StatusOK, w.Code)

	var m pipeline.RunMetrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, 1, m.Inserted)

	run, err := repo.JobRun(context.Background(), pipeline.IngestJobName)
	require.NoError(t, err)
	assert.Equal(t, intel.RunStatusSuccess, run.Status)
}

func TestTriggerEndpoint_Background(t *testing.T) {
	s, repo := newTestServerWith(t, true)

	w := do(s, http.MethodPost, "/v1/jobs/ingest/trigger", testSecret)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"started"`)

	require.Eventually(t, func() bool {
		run, err := repo.JobRun(context.Background(), pipeline.IngestJobName)
		return err == nil && run.Status == intel.RunStatusSuccess
	}, 10*time.Second, 20*time.Millisecond)
}

func TestBackfillEndpoint(t *testing.T) {
	s, repo := newTestServer(t)

	_, err := repo.InsertArticles(context.Background(), []intel.Article{{
		ID:          "a-1",
		Title:       "Some headline",
		Summary:     "Some headline…",
		Link:        "https://example.com/1",
		PublishedAt: time.Now().UTC(),
		Source:      "Test Wire",
		Category:    intel.CategoryPolicy,
		ContentType: intel.ContentTypePolicy,
	}})
	require.NoError(t, err)

	w := do(s, http.MethodPost, "/v1/jobs/summaries/backfill", testSecret)
	require.Equal(t, http.StatusOK, w.Code)

	var m pipeline.BackfillMetrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, 1, m.Scanned)
	assert.Equal(t, 1, m.Regenerated)
}

func TestJobStatusEndpoint(t *testing.T) {
	s, repo := newTestServer(t)

	w := do(s, http.MethodGet, "/v1/jobs/ingest", testSecret)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, repo.UpsertJobRun(context.Background(), intel.JobRun{
		JobName:       pipeline.IngestJobName,
		RanAt:         time.Now().UTC(),
		Status:        intel.RunStatusSuccess,
		InsertedCount: 7,
	}))

	w = do(s, http.MethodGet, "/v1/jobs/ingest", testSecret)
	require.Equal(t, http.StatusOK, w.Code)

	var run intel.JobRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, intel.RunStatusSuccess, run.Status)
	assert.Equal(t, 7, run.InsertedCount)
}

func seedArticle(t *testing.T, repo *sqlite.Repo, id string, ct intel.ContentType) {
	t.Helper()
	_, err := repo.InsertArticles(context.Background(), []intel.Article{{
		ID:          id,
		Title:       "Title " + id,
		Summary:     "Summary " + id,
		Link:        "https://example.com/" + id,
		PublishedAt: time.Now().UTC(),
		Source:      "Test Wire",
		Category:    intel.CategoryPolicy,
		ContentType: ct,
	}})
	require.NoError(t, err)
}

func listArticles(t *testing.T, s *Server, target string) []ArticleResp {
	t.Helper()
	w := do(s, http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Articles []ArticleResp `json:"articles"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Articles
}

func TestListArticlesEndpoint(t *testing.T) {
	s, repo := newTestServer(t)
	seedArticle(t, repo, "a-1", intel.ContentTypePolicy)
	seedArticle(t, repo, "a-2", intel.ContentTypeFinance)

	// No auth required on the read side.
	articles := listArticles(t, s, "/v1/articles")
	assert.Len(t, articles, 2)

	articles = listArticles(t, s, "/v1/articles?contentType=finance")
	require.Len(t, articles, 1)
	assert.Equal(t, "a-2", articles[0].ID)
	assert.Equal(t, "finance", articles[0].ContentType)

	w := do(s, http.MethodGet, "/v1/articles?contentType=sports", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(s, http.MethodGet, "/v1/articles?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(s, http.MethodGet, "/v1/articles?limit=201", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	articles = listArticles(t, s, "/v1/articles?limit=1")
	assert.Len(t, articles, 1)
}

func TestListArticles_CacheAndInvalidation(t *testing.T) {
	s, repo := newTestServer(t)
	seedArticle(t, repo, "a-1", intel.ContentTypePolicy)

	assert.Len(t, listArticles(t, s, "/v1/articles"), 1)

	// A ninja write behind the cache's back is invisible until a purge.
	seedArticle(t, repo, "a-2", intel.ContentTypePolicy)
	assert.Len(t, listArticles(t, s, "/v1/articles"), 1)

	s.Invalidator().Invalidate()
	assert.Len(t, listArticles(t, s, "/v1/articles"), 2)
}

func TestListArticles_FreshAfterPipelineRun(t *testing.T) {
	s, _ := newTestServer(t)

	// Prime an empty cache entry, then run the pipeline through the
	// endpoint; the run's final stage purges the cache.
	assert.Empty(t, listArticles(t, s, "/v1/articles"))

	w := do(s, http.MethodPost, "/v1/jobs/ingest/trigger", testSecret)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Len(t, listArticles(t, s, "/v1/articles"), 1)
}
