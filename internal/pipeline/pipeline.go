// Package pipeline composes the run: ingest, enrich, archive, invalidate,
// all wrapped in a job run heartbeat.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/robingodinho/energy-intel/internal/images"
	"github.com/robingodinho/energy-intel/internal/ingest"
	"github.com/robingodinho/energy-intel/internal/intel"
	"github.com/robingodinho/energy-intel/logger"
)

// IngestJobName keys the heartbeat row for the main pipeline run.
const IngestJobName = "ingest"

type (
	// Config holds the knobs for one pipeline instance.
	Config struct {
		// Budget is the soft wall-clock ceiling for a run. Lower-priority
		// stages shrink or skip once it is spent.
		Budget time.Duration
		// EnrichLimit caps how many articles get image backfill per run.
		EnrichLimit int
		// EnrichDelay spaces out page fetches during enrichment.
		EnrichDelay time.Duration
		// ArchiveKeep is how many recent active articles each content type
		// retains.
		ArchiveKeep int
		// StaleAfter is the lease staleness window: a started heartbeat
		// older than this no longer blocks a new run.
		StaleAfter time.Duration
		// Background selects fire-and-acknowledge over inline execution.
		Background bool
	}

	// Invalidator is the downstream cache hook poked after a run commits.
	Invalidator interface {
		Invalidate()
	}

	// TriggerOptions are the per-run overrides a trigger may carry.
	TriggerOptions struct {
		// EnrichLimit caps this run's image backfill batch when > 0,
		// overriding the configured limit.
		EnrichLimit int
		// Sync forces inline execution even when the pipeline is configured
		// for background runs.
		Sync bool
	}

	// RunMetrics is the stats payload accumulated across all stages.
	RunMetrics struct {
		RunID string `json:"runId"`
		ingest.Metrics
		ImagesEnriched int   `json:"imagesEnriched"`
		ImageFailures  int   `json:"imageFailures"`
		Archived       int   `json:"archived"`
		EnrichSkipped  bool   `json:"enrichSkipped,omitempty"`
		ArchiveSkipped bool   `json:"archiveSkipped,omitempty"`
		DurationMS     int64  `json:"durationMs"`
		Error          string `json:"error,omitempty"`
	}

	// Pipeline owns one run at a time. Every collaborator is injected.
	Pipeline struct {
		cfg         Config
		ingester    *ingest.Ingester
		enricher    *images.Enricher
		summarizer  ingest.Summarizer
		articles    intel.ArticleRepo
		runs        intel.JobRunRepo
		invalidator Invalidator
	}
)

// New wires the orchestrator.
func New(
	cfg Config,
	ingester *ingest.Ingester,
	enricher *images.Enricher,
	summarizer ingest.Summarizer,
	articles intel.ArticleRepo,
	runs intel.JobRunRepo,
	invalidator Invalidator,
) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		ingester:    ingester,
		enricher:    enricher,
		summarizer:  summarizer,
		articles:    articles,
		runs:        runs,
		invalidator: invalidator,
	}
}

// SetInvalidator attaches the downstream cache hook. The cache lives on
// the HTTP side and the server needs the pipeline first, so this is set
// after construction, before any run starts.
func (p *Pipeline) SetInvalidator(inv Invalidator) {
	p.invalidator = inv
}

// Trigger starts a run after taking the heartbeat lease. In background
// mode it spawns the stages onto a detached task and returns immediately
// with a nil metrics pointer; in synchronous mode it blocks and returns
// the full stats. intel.ErrRunInProgress means another run holds the lease.
func (p *Pipeline) Trigger(ctx context.Context, opts TriggerOptions) (*RunMetrics, error) {
	if err := p.acquireLease(ctx); err != nil {
		return nil, err
	}

	if !p.cfg.Background || opts.Sync {
		m := p.execute(ctx, opts)
		return &m, nil
	}

	// The triggering request must not await the run: detach from its
	// cancellation and keep only the values. The heartbeat row is the sole
	// synchronization point with the background task.
	bg := context.WithoutCancel(ctx)
	go p.execute(bg, opts)

	return nil, nil
}

// acquireLease refuses to start while a non-stale started heartbeat
// exists, then writes the started row synchronously. Two overlapping
// triggers would otherwise both pass dedup against the same store snapshot
// and double-spend generation calls.
func (p *Pipeline) acquireLease(ctx context.Context) error {
	current, err := p.runs.JobRun(ctx, IngestJobName)
	if err != nil && !errors.Is(err, intel.ErrNotFound) {
		return fmt.Errorf("error reading job run lease: %w", err)
	}
	if err == nil && current.Status == intel.RunStatusStarted && time.Since(current.RanAt) < p.cfg.StaleAfter {
		return intel.ErrRunInProgress
	}

	return p.runs.UpsertJobRun(ctx, intel.JobRun{
		JobName: IngestJobName,
		RanAt:   time.Now().UTC(),
		Status:  intel.RunStatusStarted,
		Host:    hostname(),
	})
}

// execute runs the stages sequentially and always performs exactly one
// terminal heartbeat write, whichever stage failed. Panics are recovered
// into an error heartbeat so a bad run cannot crash the host process.
func (p *Pipeline) execute(ctx context.Context, opts TriggerOptions) (m RunMetrics) {
	start := time.Now()
	deadline := start.Add(p.cfg.Budget)
	m.RunID = uuid.NewString()
	ctx = logger.Ctx(ctx, slog.String("run_id", m.RunID))

	var runErr error
	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("pipeline panicked: %v", r)
		}
		m.DurationMS = time.Since(start).Milliseconds()
		p.recordTerminal(ctx, &m, runErr)
	}()

	slog.InfoContext(ctx, "pipeline run starting", "budget", p.cfg.Budget)

	// Stage 1: ingest.
	ingestMetrics, err := p.ingester.Run(ctx)
	m.Metrics = ingestMetrics
	if err != nil {
		runErr = fmt.Errorf("ingest stage failed: %w", err)
		return m
	}

	// Stage 2: enrich, shrunk to whatever budget is left. Enrichment is
	// the dominant latency source, so it absorbs the squeeze first.
	limit := p.enrichBudget(deadline, opts.EnrichLimit)
	if limit == 0 {
		m.EnrichSkipped = true
		slog.WarnContext(ctx, "budget exhausted, skipping enrichment")
	} else {
		enrichCtx, cancel := context.WithDeadline(ctx, deadline)
		enriched, failed, err := p.enricher.EnrichBatch(enrichCtx, limit, p.cfg.EnrichDelay)
		cancel()
		m.ImagesEnriched = enriched
		m.ImageFailures = failed
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("enrich stage failed: %w", err)
			return m
		}
	}

	// Stage 3: archive. Cheap, but still skipped once over budget so we
	// never leave partial writes racing the host's hard ceiling.
	if time.Now().After(deadline) {
		m.ArchiveSkipped = true
		slog.WarnContext(ctx, "budget exhausted, skipping archive")
	} else {
		for _, ct := range []intel.ContentType{intel.ContentTypePolicy, intel.ContentTypeFinance} {
			n, err := p.articles.ArchiveOlder(ctx, ct, p.cfg.ArchiveKeep)
			if err != nil {
				runErr = fmt.Errorf("archive stage failed: %w", err)
				return m
			}
			m.Archived += n
		}
	}

	// Stage 4: downstream cache invalidation.
	if p.invalidator != nil {
		p.invalidator.Invalidate()
	}

	return m
}

// enrichBudget caps the enrichment batch by the remaining wall clock.
// Each item costs roughly the inter-request delay plus a page fetch.
// override replaces the configured limit for this run when positive.
func (p *Pipeline) enrichBudget(deadline time.Time, override int) int {
	limit := p.cfg.EnrichLimit
	if override > 0 {
		limit = override
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return 0
	}

	perItem := p.cfg.EnrichDelay + 5*time.Second
	if fit := int(remaining / perItem); fit < limit {
		return fit
	}

	return limit
}

func (p *Pipeline) recordTerminal(ctx context.Context, m *RunMetrics, runErr error) {
	run := intel.JobRun{
		JobName:             IngestJobName,
		RanAt:               time.Now().UTC(),
		Status:              intel.RunStatusSuccess,
		DurationMS:          m.DurationMS,
		InsertedCount:       m.Inserted,
		DuplicateCount:      m.Duplicates,
		ImagesEnrichedCount: m.ImagesEnriched,
		Host:                hostname(),
	}
	if runErr != nil {
		msg := runErr.Error()
		run.Status = intel.RunStatusError
		run.ErrorMessage = &msg
		m.Error = msg
		slog.ErrorContext(ctx, "pipeline run failed", "error", runErr)
	} else {
		slog.InfoContext(ctx, "pipeline run finished",
			"inserted", m.Inserted,
			"duplicates", m.Duplicates,
			"images_enriched", m.ImagesEnriched,
			"archived", m.Archived,
			"duration_ms", m.DurationMS,
		)
	}

	// The terminal write gets its own timeout: the run context may already
	// be past its deadline, and losing the heartbeat would leave the row
	// stuck on started.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.runs.UpsertJobRun(writeCtx, run); err != nil {
		slog.ErrorContext(ctx, "error writing terminal job run", "error", err)
	}
}

func hostname() *string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return nil
	}

	return &h
}
