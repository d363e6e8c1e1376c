// Energy-intel aggregates energy policy and finance news feeds, cleans
// and deduplicates the items, attaches a topic and a short synthetic
// summary, and backfills cover images, all on a scheduler-driven budget.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/robingodinho/energy-intel/internal/feed"
	"github.com/robingodinho/energy-intel/internal/images"
	"github.com/robingodinho/energy-intel/internal/ingest"
	"github.com/robingodinho/energy-intel/internal/migrations"
	"github.com/robingodinho/energy-intel/internal/pipeline"
	"github.com/robingodinho/energy-intel/internal/server"
	"github.com/robingodinho/energy-intel/internal/sqlite"
	"github.com/robingodinho/energy-intel/internal/summary"
	"github.com/robingodinho/energy-intel/logger"
)

type config struct {
	Port     int    `env:"PORT, default=4444"`
	Database string `env:"DATABASE, required"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`

	TriggerSecret   string `env:"TRIGGER_SECRET, required"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	CorsOrigin      string `env:"CORS_ORIGIN"`

	// Data files overriding the embedded defaults.
	FeedsFile         string `env:"FEEDS_FILE"`
	CategoryRulesFile string `env:"CATEGORY_RULES_FILE"`

	// Pipeline knobs.
	RunBudget      time.Duration `env:"RUN_BUDGET, default=4m"`
	EnrichLimit    int           `env:"ENRICH_LIMIT, default=10"`
	EnrichDelay    time.Duration `env:"ENRICH_DELAY, default=2s"`
	SummaryDelay   time.Duration `env:"SUMMARY_DELAY, default=500ms"`
	ArchiveKeep    int           `env:"ARCHIVE_KEEP, default=50"`
	LeaseStale     time.Duration `env:"LEASE_STALE_AFTER, default=10m"`
	BackgroundRuns bool          `env:"BACKGROUND_RUNS, default=true"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	// Determine which logger format to use
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, nil)
	if cfg.LoggerFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	}
	l := slog.New(logger.NewContextHandler(handler))
	slog.SetDefault(l)

	// Start the application
	if err := run(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config) error {
	slog.Info("running", "port", cfg.Port, "database", cfg.Database)

	// Connect to the db
	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_txlock=immediate&_journal_mode=WAL&_busy_timeout=5000", cfg.Database))
	if err != nil {
		return fmt.Errorf("error opening database: %s", err)
	}
	defer dbx.Close()

	// Migrate, always
	if err := migrations.Run(dbx); err != nil {
		return fmt.Errorf("error migrating: %s", err)
	}

	registry, err := feed.LoadRegistry(cfg.FeedsFile)
	if err != nil {
		return fmt.Errorf("error loading feed registry: %s", err)
	}
	rules, err := ingest.LoadRules(cfg.CategoryRulesFile)
	if err != nil {
		return fmt.Errorf("error loading category rules: %s", err)
	}

	// Construct every collaborator once at process start and hand the
	// pipeline explicit handles: no package-level clients anywhere.
	var (
		repo       = sqlite.New(dbx)
		fetcher    = feed.NewFetcher(nil)
		normalizer = ingest.NewNormalizer(rules)
		deduper    = ingest.NewDeduper(repo)
		summarizer = summary.New(cfg.AnthropicAPIKey)
		enricher   = images.NewEnricher(nil, repo)
		ingester   = ingest.NewIngester(registry, fetcher, normalizer, deduper, summarizer, repo, cfg.SummaryDelay)
	)

	pipe := pipeline.New(pipeline.Config{
		Budget:      cfg.RunBudget,
		EnrichLimit: cfg.EnrichLimit,
		EnrichDelay: cfg.EnrichDelay,
		ArchiveKeep: cfg.ArchiveKeep,
		StaleAfter:  cfg.LeaseStale,
		Background:  cfg.BackgroundRuns,
	}, ingester, enricher, summarizer, repo, repo, nil)

	s := server.New(server.Config{
		Port:       cfg.Port,
		Secret:     cfg.TriggerSecret,
		CorsOrigin: cfg.CorsOrigin,
	}, pipe, repo, repo)
	pipe.SetInvalidator(s.Invalidator())

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Start the server
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %s", err)
		}

		return nil
	})
	g.Go(func() error {
		// Block from shutting down until the group is canceled
		<-gCtx.Done()

		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("error running: %s", err)
	}

	return nil
}
