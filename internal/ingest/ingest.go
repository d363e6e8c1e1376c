// Package ingest implements the write half of the pipeline: normalizing
// raw feed items, deduplicating them, and persisting the survivors.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robingodinho/energy-intel/internal/feed"
	"github.com/robingodinho/energy-intel/internal/intel"
)

type (
	// Summarizer produces the short synthetic summary for one item.
	// Fallback must be total: it is the guarantee that no article is ever
	// persisted without a summary.
	Summarizer interface {
		Summarize(ctx context.Context, title, excerpt, source string) (string, error)
		Fallback(title string) string
	}

	// SourceReport is the per-feed diagnostic rolled into the run report.
	SourceReport struct {
		Feed        string           `json:"feed"`
		ItemCount   int              `json:"itemCount"`
		Error       string           `json:"error,omitempty"`
		Diagnostics feed.Diagnostics `json:"diagnostics,omitempty"`
	}

	// Metrics accumulates what one ingest pass did.
	Metrics struct {
		SuccessfulSources int            `json:"successfulSources"`
		FailedSources     int            `json:"failedSources"`
		ItemsConsidered   int            `json:"itemsConsidered"`
		ValidationSkips   int            `json:"validationSkips"`
		Inserted          int            `json:"inserted"`
		Duplicates        int            `json:"duplicates"`
		SummaryFallbacks  int            `json:"summaryFallbacks"`
		WriteErrors       int            `json:"writeErrors"`
		Sources           []SourceReport `json:"sources,omitempty"`
	}

	// Ingester runs one ingest pass end to end.
	Ingester struct {
		registry     feed.Registry
		fetcher      *feed.Fetcher
		normalizer   *Normalizer
		deduper      *Deduper
		summarizer   Summarizer
		repo         intel.ArticleRepo
		summaryDelay time.Duration
	}
)

// NewIngester wires the ingest stage. Every collaborator is injected so
// tests can substitute fakes.
func NewIngester(
	registry feed.Registry,
	fetcher *feed.Fetcher,
	normalizer *Normalizer,
	deduper *Deduper,
	summarizer Summarizer,
	repo intel.ArticleRepo,
	summaryDelay time.Duration,
) *Ingester {
	return &Ingester{
		registry:     registry,
		fetcher:      fetcher,
		normalizer:   normalizer,
		deduper:      deduper,
		summarizer:   summarizer,
		repo:         repo,
		summaryDelay: summaryDelay,
	}
}

// Run executes one ingest pass: fetch all enabled feeds concurrently,
// normalize and deduplicate the combined batch, summarize the survivors
// sequentially, and upsert them. Only a store failure is fatal; everything
// narrower degrades and is counted.
func (in *Ingester) Run(ctx context.Context) (Metrics, error) {
	var m Metrics

	results := in.fetcher.FetchAll(ctx, in.registry.Enabled())

	var batch []Candidate
	for _, res := range results {
		report := SourceReport{
			Feed:        res.Descriptor.Name,
			ItemCount:   len(res.Items),
			Diagnostics: res.Diagnostics,
		}
		if res.Err != nil {
			report.Error = res.Err.Error()
			m.FailedSources++
			m.Sources = append(m.Sources, report)
			continue
		}
		m.SuccessfulSources++
		m.Sources = append(m.Sources, report)

		for _, item := range res.Items {
			m.ItemsConsidered++

			article, excerpt, err := in.normalizer.Normalize(item, res.Descriptor)
			var discard *DiscardError
			if errors.As(err, &discard) {
				slog.Debug("item discarded", "feed", res.Descriptor.Name, "reason", discard.Reason)
				m.ValidationSkips++
				continue
			}

			batch = append(batch, Candidate{Article: article, Excerpt: excerpt})
		}
	}

	survivors, dropped, err := in.deduper.Dedupe(ctx, batch)
	if err != nil {
		return m, fmt.Errorf("error deduplicating batch: %w", err)
	}
	m.Duplicates += dropped

	articles := make([]intel.Article, 0, len(survivors))
	for i, c := range survivors {
		// Sequential on purpose: the generation service is rate limited.
		if i > 0 && in.summaryDelay > 0 {
			select {
			case <-ctx.Done():
				return m, ctx.Err()
			case <-time.After(in.summaryDelay):
			}
		}

		a := c.Article
		summary, err := in.summarizer.Summarize(ctx, a.Title, c.Excerpt, a.Source)
		if err != nil {
			slog.Warn("summarization failed, using fallback", "id", a.ID, "error", err)
			summary = in.summarizer.Fallback(a.Title)
			m.SummaryFallbacks++
		}
		a.Summary = summary
		articles = append(articles, a)
	}

	res, err := in.repo.InsertArticles(ctx, articles)
	if err != nil {
		return m, fmt.Errorf("error inserting articles: %w", err)
	}
	m.Inserted += res.Inserted
	m.Duplicates += res.Duplicates
	m.WriteErrors += len(res.Errs)
	for _, werr := range res.Errs {
		slog.Error("article write failed", "error", werr)
	}

	return m, nil
}
