// Package intel holds the domain types shared across the ingestion
// pipeline: feed descriptors, articles, and job run heartbeats.
package intel

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrConflict      = errors.New("resource already exists")
	ErrNotFound      = errors.New("resource not found")
	ErrRunInProgress = errors.New("a run is already in progress")
)

// ContentType partitions feeds and articles into the two halves of the
// site: policy coverage and finance coverage.
type ContentType string

const (
	ContentTypePolicy  ContentType = "policy"
	ContentTypeFinance ContentType = "finance"
)

// Category is the closed set of topics an article can be filed under.
type Category string

const (
	// CategoryPolicy is the catch-all when nothing else scores.
	CategoryPolicy     Category = "policy"
	CategoryRegulation Category = "regulation"
	CategoryMarkets    Category = "markets"
	CategoryRenewables Category = "renewables"
	CategoryOilGas     Category = "oil-gas"
)

// Categories lists every category in evaluation order. The order matters:
// it is the tie-break when two categories score the same.
var Categories = []Category{
	CategoryRegulation,
	CategoryMarkets,
	CategoryRenewables,
	CategoryOilGas,
	CategoryPolicy,
}

type (
	// FeedDescriptor is one configured syndication source. Descriptors are
	// deploy-time data: adding a source is a registry change, not a code change.
	FeedDescriptor struct {
		Name        string      `yaml:"name"`
		Address     string      `yaml:"address"`
		Enabled     bool        `yaml:"enabled"`
		ContentType ContentType `yaml:"contentType"`
	}

	// Article is a persisted, enriched feed item. TitleNorm is the stored
	// dedup form of the title, always derived via NormalizeTitle; it is
	// folded in Go rather than in the database, whose lower() is ASCII-only.
	Article struct {
		ID          string      `db:"id"`
		Title       string      `db:"title"`
		TitleNorm   string      `db:"title_norm"`
		Summary     string      `db:"summary"`
		Link        string      `db:"link"`
		PublishedAt time.Time   `db:"published_at"`
		Source      string      `db:"source"`
		Category    Category    `db:"category"`
		ContentType ContentType `db:"content_type"`
		ImageURL    *string     `db:"image_url"`
		IsArchived  bool        `db:"is_archived"`
		CreatedAt   time.Time   `db:"created_at"`
	}

	// JobRun is the latest-run heartbeat for a named job. One logical row per
	// job name, overwritten on every run.
	JobRun struct {
		JobName             string    `db:"job_name" json:"jobName"`
		RanAt               time.Time `db:"ran_at" json:"ranAt"`
		Status              RunStatus `db:"status" json:"status"`
		DurationMS          int64     `db:"duration_ms" json:"durationMs"`
		InsertedCount       int       `db:"inserted_count" json:"insertedCount"`
		DuplicateCount      int       `db:"duplicate_count" json:"duplicateCount"`
		ImagesEnrichedCount int       `db:"images_enriched_count" json:"imagesEnrichedCount"`
		ErrorMessage        *string   `db:"error_message" json:"errorMessage,omitempty"`
		Host                *string   `db:"host" json:"host,omitempty"`
	}

	// ListArgs narrows an article list read.
	ListArgs struct {
		ContentType ContentType
		Limit       int
	}

	// InsertResult reports what happened to a batch insert. Duplicates are
	// not errors: callers need to count them separately for run metrics.
	InsertResult struct {
		Inserted   int
		Duplicates int
		Errs       []error
	}

	// ArticleRepo is the persistence surface the pipeline writes through.
	ArticleRepo interface {
		InsertArticles(ctx context.Context, articles []Article) (InsertResult, error)
		ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
		ExistingTitles(ctx context.Context, titles []string) (map[string]struct{}, error)
		ArticlesMissingImage(ctx context.Context, limit int) ([]Article, error)
		SetImageURL(ctx context.Context, id, imageURL string) error
		SetSummary(ctx context.Context, id, summary string) error
		Articles(ctx context.Context, args ListArgs) ([]Article, error)
		ArchiveOlder(ctx context.Context, contentType ContentType, keep int) (int, error)
	}

	// JobRunRepo records and reads job heartbeats.
	JobRunRepo interface {
		UpsertJobRun(ctx context.Context, run JobRun) error
		JobRun(ctx context.Context, name string) (JobRun, error)
	}
)

// NormalizeTitle folds a title into its deduplication form. Folding
// happens in Go so that non-ASCII case differences collapse too.
func NormalizeTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// RunStatus is the lifecycle state of a job run.
type RunStatus string

const (
	RunStatusStarted RunStatus = "started"
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)
