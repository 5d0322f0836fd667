// Package api exposes the HTTP interface for triggering and watching
// ingestion runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/examarchive/paperingest/internal/metrics"
	"github.com/examarchive/paperingest/internal/pipeline"
	"github.com/examarchive/paperingest/internal/progress"
)

// Runner executes one ingestion run. *pipeline.Pipeline is adapted to
// this interface in the app wiring; tests substitute a stub.
type Runner interface {
	Run(ctx context.Context, spec JobSpec, reporter progress.Reporter) (pipeline.Summary, error)
}

// Config controls the HTTP server.
type Config struct {
	// APIKey enables key auth on the job routes when non-empty.
	APIKey string
	// RequestTimeout bounds each request. Defaults to 60s.
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the job store and pipeline runner.
type Server struct {
	router   chi.Router
	jobs     JobStore
	runner   Runner
	stats    *metrics.Metrics
	cfg      Config
	logger   *zap.Logger
	baseCtx  context.Context
	inFlight sync.WaitGroup
}

// NewServer constructs a Server. baseCtx bounds background job
// execution; canceling it stops running jobs.
func NewServer(baseCtx context.Context, jobs JobStore, runner Runner, stats *metrics.Metrics, cfg Config, logger *zap.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		jobs:    jobs,
		runner:  runner,
		stats:   stats,
		cfg:     cfg,
		logger:  logger,
		baseCtx: baseCtx,
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", stats.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Get("/{job_id}/status", s.getJobStatus)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wait blocks until background jobs finish. Call during shutdown after
// canceling the base context.
func (s *Server) Wait() {
	s.inFlight.Wait()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var spec JobSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateSpec(spec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := Job{
		ID:          NewJobID(),
		Spec:        spec,
		Status:      JobQueued,
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.jobs.Create(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	s.inFlight.Add(1)
	go s.runJob(job)

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// runJob executes the pipeline on the server's base context so a closed
// client connection does not abort the run.
func (s *Server) runJob(job Job) {
	defer s.inFlight.Done()
	ctx := s.baseCtx

	if err := s.jobs.SetStatus(ctx, job.ID, JobRunning, ""); err != nil {
		s.logger.Error("job status update failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	reporter := &jobReporter{jobs: s.jobs, jobID: job.ID, logger: s.logger}
	summary, err := s.runner.Run(ctx, job.Spec, reporter)
	if setErr := s.jobs.SetSummary(ctx, job.ID, summary); setErr != nil {
		s.logger.Error("job summary update failed", zap.String("job_id", job.ID), zap.Error(setErr))
	}

	status, errText := JobSucceeded, ""
	if err != nil {
		status, errText = JobFailed, err.Error()
		s.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	if err := s.jobs.SetStatus(ctx, job.ID, status, errText); err != nil {
		s.logger.Error("job status update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func validateSpec(spec JobSpec) error {
	if spec.SubjectURL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(spec.SubjectURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("url must be absolute")
	}
	if spec.StartYear != 0 && spec.EndYear != 0 && spec.EndYear > spec.StartYear {
		return errors.New("end_year must not be after start_year")
	}
	return nil
}

// jobReporter forwards pipeline progress into the job store.
type jobReporter struct {
	jobs   JobStore
	jobID  string
	logger *zap.Logger
}

func (r *jobReporter) Report(e progress.Event) {
	if err := r.jobs.RecordProgress(context.Background(), r.jobID, e); err != nil {
		r.logger.Warn("progress record failed", zap.String("job_id", r.jobID), zap.Error(err))
	}
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
