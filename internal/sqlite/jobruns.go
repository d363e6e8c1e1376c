package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/robingodinho/energy-intel/internal/intel"
)

// UpsertJobRun overwrites the heartbeat row for the run's job name. One
// logical row per job: this is a latest-run record, not a history log.
func (r *Repo) UpsertJobRun(ctx context.Context, run intel.JobRun) error {
	const q = `INSERT INTO job_runs (job_name, ran_at, status, duration_ms, inserted_count, duplicate_count, images_enriched_count, error_message, host)
	VALUES (:job_name, :ran_at, :status, :duration_ms, :inserted_count, :duplicate_count, :images_enriched_count, :error_message, :host)
	ON CONFLICT(job_name) DO UPDATE SET
		ran_at = excluded.ran_at,
		status = excluded.status,
		duration_ms = excluded.duration_ms,
		inserted_count = excluded.inserted_count,
		duplicate_count = excluded.duplicate_count,
		images_enriched_count = excluded.images_enriched_count,
		error_message = excluded.error_message,
		host = excluded.host;`

	if _, err := r.db.NamedExecContext(ctx, q, run); err != nil {
		return fmt.Errorf("error upserting job run: %s", err)
	}

	return nil
}

// JobRun reads the latest heartbeat for the named job.
func (r *Repo) JobRun(ctx context.Context, name string) (intel.JobRun, error) {
	const q = `SELECT * FROM job_runs WHERE job_name = ?;`

	var run intel.JobRun
	err := r.db.GetContext(ctx, &run, q, name)
	if errors.Is(err, sql.ErrNoRows) {
		return intel.JobRun{}, intel.ErrNotFound
	}
	if err != nil {
		return intel.JobRun{}, fmt.Errorf("error fetching job run: %s", err)
	}

	return run, nil
}
