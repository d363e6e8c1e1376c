// Package server is the HTTP surface: the scheduler-facing trigger
// endpoints, the job status read, and the article list for the UI.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	eierrs "github.com/robingodinho/energy-intel/internal/errors"
	"github.com/robingodinho/energy-intel/internal/intel"
	"github.com/robingodinho/energy-intel/internal/pipeline"
)

type (
	// Server hosts the trigger/status/read endpoints.
	Server struct {
		*http.Server

		pipe   *pipeline.Pipeline
		runs   intel.JobRunRepo
		cache  *articleCache
		secret string
	}

	// Config holds the server options.
	Config struct {
		Port       int
		Secret     string
		CorsOrigin string
	}
)

// New builds the server, its routes, and the read-side cache. The cache
// doubles as the pipeline's downstream invalidation target.
func New(cfg Config, pipe *pipeline.Pipeline, articles intel.ArticleRepo, runs intel.JobRunRepo) *Server {
	srvr := &Server{
		pipe:   pipe,
		runs:   runs,
		cache:  newArticleCache(articles),
		secret: cfg.Secret,
	}

	r := mux.NewRouter()
	r.Handle("/v1/jobs/ingest/trigger", srvr.authed(srvr.handleTrigger)).Methods(http.MethodPost)
	r.Handle("/v1/jobs/summaries/backfill", srvr.authed(srvr.handleBackfill)).Methods(http.MethodPost)
	r.Handle("/v1/jobs/{name}", srvr.authed(srvr.handleJobStatus)).Methods(http.MethodGet)
	r.Handle("/v1/articles", HandlerFuncE(srvr.handleListArticles)).Methods(http.MethodGet)
	r.Use(accessLogMiddleware)

	var root http.Handler = r
	if cfg.CorsOrigin != "" {
		root = handlers.CORS(handlers.AllowedOrigins([]string{cfg.CorsOrigin}))(r)
	}

	srvr.Server = &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		// Generous write timeout: the synchronous trigger variant holds the
		// response open for the whole run.
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute,
		Handler:      root,
	}

	return srvr
}

// Invalidator exposes the read cache for the pipeline's final stage.
func (s *Server) Invalidator() pipeline.Invalidator {
	return s.cache
}

// authed wraps a handler with the shared-secret check: bearer token or
// X-Trigger-Secret header, compared in constant time.
func (s *Server) authed(f HandlerFuncE) http.Handler {
	return HandlerFuncE(func(w http.ResponseWriter, r *http.Request) error {
		got := r.Header.Get("X-Trigger-Secret")
		if got == "" {
			got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}

		if s.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
			return eierrs.E(http.StatusUnauthorized, "invalid trigger secret")
		}

		return f(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("error encoding json response: %s", err)
	}

	return nil
}

// HandlerFuncE is a modified type of [http.HandlerFunc] that returns an error.
type HandlerFuncE func(w http.ResponseWriter, r *http.Request) error

func (f HandlerFuncE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := f(w, r)
	if err == nil {
		return
	}

	// Either it's already a structured error, or coerce it to one
	sErr := &eierrs.Error{}
	if !errors.As(err, &sErr) {
		slog.Error("unstructured handler error", "error", err)
		sErr = eierrs.E(http.StatusInternalServerError, err)
	}

	if err := writeJSON(w, sErr.Status, sErr); err != nil {
		slog.Error("error writing response", "error", err)
	}
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		writer := &respCodeWriter{ResponseWriter: w}
		next.ServeHTTP(writer, r)

		slog.Info("request completed",
			"method", r.Method,
			"url", r.URL.String(),
			"duration", time.Since(start),
			"status_code", writer.code,
		)
	})
}

// To trap the response status code for logging later.
type respCodeWriter struct {
	http.ResponseWriter
	code int
}

func (w *respCodeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
