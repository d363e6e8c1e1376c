package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robingodinho/energy-intel/internal/intel"
	"github.com/robingodinho/energy-intel/internal/summary"
)

// BackfillJobName keys the heartbeat row for summary backfill runs.
const BackfillJobName = "summaries-backfill"

// How many recent articles one backfill pass scans for placeholders.
const backfillScanLimit = 200

// BackfillMetrics reports one summary backfill pass.
type BackfillMetrics struct {
	Scanned     int    `json:"scanned"`
	Candidates  int    `json:"candidates"`
	Regenerated int    `json:"regenerated"`
	Failures    int    `json:"failures"`
	DurationMS  int64  `json:"durationMs"`
	Error       string `json:"error,omitempty"`
}

// BackfillSummaries regenerates summaries that look like fallback
// placeholders. force bypasses the placeholder filter and regenerates
// every scanned article up to limit; limit caps how many regenerations
// are attempted (0 means no cap beyond the scan window).
func (p *Pipeline) BackfillSummaries(ctx context.Context, force bool, limit int) (BackfillMetrics, error) {
	var m BackfillMetrics
	start := time.Now()

	if err := p.runs.UpsertJobRun(ctx, intel.JobRun{
		JobName: BackfillJobName,
		RanAt:   start.UTC(),
		Status:  intel.RunStatusStarted,
		Host:    hostname(),
	}); err != nil {
		return m, fmt.Errorf("error writing backfill heartbeat: %w", err)
	}

	articles, err := p.articles.Articles(ctx, intel.ListArgs{Limit: backfillScanLimit})
	if err != nil {
		m.Error = err.Error()
		p.recordBackfillTerminal(ctx, &m, start)
		return m, fmt.Errorf("error listing articles for backfill: %w", err)
	}
	m.Scanned = len(articles)

	for _, a := range articles {
		if limit > 0 && m.Candidates >= limit {
			break
		}
		if !force && !summary.IsLikelyPlaceholder(a.Title, a.Summary) {
			continue
		}
		m.Candidates++

		if m.Candidates > 1 && p.cfg.EnrichDelay > 0 {
			select {
			case <-ctx.Done():
				m.Error = ctx.Err().Error()
				p.recordBackfillTerminal(ctx, &m, start)
				return m, ctx.Err()
			case <-time.After(p.cfg.EnrichDelay):
			}
		}

		regenerated, err := p.summarizer.Summarize(ctx, a.Title, "", a.Source)
		if err != nil {
			slog.Warn("backfill summarization failed", "id", a.ID, "error", err)
			m.Failures++
			continue
		}
		if err := p.articles.SetSummary(ctx, a.ID, regenerated); err != nil {
			slog.Error("error persisting regenerated summary", "id", a.ID, "error", err)
			m.Failures++
			continue
		}
		m.Regenerated++
	}

	p.recordBackfillTerminal(ctx, &m, start)
	return m, nil
}

func (p *Pipeline) recordBackfillTerminal(ctx context.Context, m *BackfillMetrics, start time.Time) {
	m.DurationMS = time.Since(start).Milliseconds()

	run := intel.JobRun{
		JobName:    BackfillJobName,
		RanAt:      time.Now().UTC(),
		Status:     intel.RunStatusSuccess,
		DurationMS: m.DurationMS,
		Host:       hostname(),
	}
	if m.Error != "" {
		run.Status = intel.RunStatusError
		run.ErrorMessage = &m.Error
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.runs.UpsertJobRun(writeCtx, run); err != nil {
		slog.Error("error writing backfill terminal job run", "error", err)
	}
}
