package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	eierrs "github.com/robingodinho/energy-intel/internal/errors"
	"github.com/robingodinho/energy-intel/internal/intel"
	"github.com/robingodinho/energy-intel/internal/pipeline"
)

// handleTrigger kicks off a pipeline run. In background mode the response
// is an immediate acknowledgement: the scheduler's response timeout is far
// shorter than a full run, so the stages continue on a detached task and
// the heartbeat row is the only way to observe completion. In synchronous
// mode the full stats payload comes back. Query flags: debug keeps the
// per-source diagnostics, sync forces inline execution, limit caps this
// run's image backfill batch.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) error {
	debug := r.URL.Query().Get("debug") != ""

	opts := pipeline.TriggerOptions{
		Sync: r.URL.Query().Get("sync") != "",
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return eierrs.E(http.StatusBadRequest, "limit must be a positive integer")
		}
		opts.EnrichLimit = n
	}

	metrics, err := s.pipe.Trigger(r.Context(), opts)
	if errors.Is(err, intel.ErrRunInProgress) {
		return eierrs.E(http.StatusConflict, err)
	}
	if err != nil {
		return err
	}

	if metrics == nil {
		return writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "started",
		})
	}

	if !debug {
		// Trim the per-source diagnostics unless they were asked for.
		metrics.Sources = nil
	}

	return writeJSON(w, http.StatusOK, metrics)
}

// handleBackfill regenerates placeholder summaries out of band.
func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) error {
	var (
		force    = r.URL.Query().Get("force") != ""
		limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	)

	metrics, err := s.pipe.BackfillSummaries(r.Context(), force, limit)
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, metrics)
}

// handleJobStatus reads the latest heartbeat for a job, proving liveness
// without host-platform log access.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) error {
	name := mux.Vars(r)["name"]

	run, err := s.runs.JobRun(r.Context(), name)
	if errors.Is(err, intel.ErrNotFound) {
		return eierrs.E(http.StatusNotFound, err)
	}
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, run)
}

// handleListArticles serves the UI read, via the response cache.
func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) error {
	args := intel.ListArgs{
		ContentType: intel.ContentType(r.URL.Query().Get("contentType")),
		Limit:       50,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			return eierrs.E(http.StatusBadRequest, "limit must be between 1 and 200")
		}
		args.Limit = n
	}
	if args.ContentType != "" && args.ContentType != intel.ContentTypePolicy && args.ContentType != intel.ContentTypeFinance {
		return eierrs.E(http.StatusBadRequest, "unknown content type")
	}

	articles, err := s.cache.list(r.Context(), args)
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, map[string]any{
		"articles": articles,
	})
}
