// Package server exposes entity resolution, synchronous enrichment and the
// job queue over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/monitoring"
	"github.com/sells-group/entity-enrich/internal/pipeline"
	"github.com/sells-group/entity-enrich/internal/resolve"
	"github.com/sells-group/entity-enrich/internal/store"
)

// Config holds server configuration.
type Config struct {
	Port     int
	AllowAll bool // allow all CORS origins
	// MaxRows caps rows accepted by /v1/enrich. 0 means no cap.
	MaxRows int
	// RequestTimeout bounds each request, including synchronous runs.
	RequestTimeout time.Duration
}

// JobStore accepts jobs and reports on them. Both the database store and
// the NATS queue satisfy it.
type JobStore interface {
	Enqueue(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error)
}

// Server serves the enrichment API.
type Server struct {
	cfg        Config
	runner     *pipeline.Runner
	jobs       JobStore
	gatherer   prometheus.Gatherer
	monitor    *monitoring.Collector
	lookback   int
	router     chi.Router
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMonitor mounts GET /v1/stats, reporting job health over the given
// lookback window.
func WithMonitor(c *monitoring.Collector, lookbackHours int) Option {
	return func(s *Server) {
		s.monitor = c
		s.lookback = lookbackHours
	}
}

// New creates a Server. jobs may be nil, which leaves the job routes
// unmounted; gatherer may be nil, which leaves /metrics unmounted.
func New(cfg Config, runner *pipeline.Runner, jobs JobStore, gatherer prometheus.Gatherer, opts ...Option) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}
	s := &Server{cfg: cfg, runner: runner, jobs: jobs, gatherer: gatherer, lookback: 24}
	for _, o := range opts {
		o(s)
	}
	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	corsOpts := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
		corsOpts.AllowCredentials = false
	}
	r.Use(cors.Handler(corsOpts))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		r.Post("/resolve", s.handleResolve)
		r.Post("/enrich", s.handleEnrich)
		if s.jobs != nil {
			r.Post("/jobs", s.handleEnqueue)
			r.Get("/jobs", s.handleListJobs)
			r.Get("/jobs/{id}", s.handleGetJob)
		}
		if s.monitor != nil {
			r.Get("/stats", s.handleStats)
		}
	})

	return r
}

// Start listens on the configured port until Shutdown.
func (s *Server) Start() error {
	zap.L().Info("server: listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// tableRequest is the body shared by resolve, enrich and job submission.
type tableRequest struct {
	Rows        []model.RowData    `json:"rows"`
	Columns     []model.ColumnData `json:"columns"`
	BudgetCents int                `json:"budget_cents"`
	Concurrency int                `json:"concurrency"`
}

func (req *tableRequest) validate() error {
	switch {
	case len(req.Rows) == 0:
		return errors.New("rows are required")
	case req.BudgetCents < 0:
		return errors.New("budget_cents must be >= 0")
	case req.Concurrency < 0 || req.Concurrency > 64:
		return errors.New("concurrency must be between 0 and 64")
	}
	return nil
}

type resolveResponse struct {
	Entities []*model.Entity   `json:"entities"`
	Stats    resolve.Stats     `json:"stats"`
	Warnings []resolve.Warning `json:"warnings"`
}

type enrichResponse struct {
	Result   *model.BatchResult `json:"result"`
	Stats    resolve.Stats      `json:"stats"`
	Warnings []resolve.Warning  `json:"warnings"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTable(w, r)
	if !ok {
		return
	}
	entities, stats, warnings := resolve.ResolveEntities(req.Rows, req.Columns)
	if entities == nil {
		entities = []*model.Entity{}
	}
	writeJSON(w, http.StatusOK, resolveResponse{Entities: entities, Stats: stats, Warnings: nonNil(warnings)})
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTable(w, r)
	if !ok {
		return
	}
	if s.cfg.MaxRows > 0 && len(req.Rows) > s.cfg.MaxRows {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("%d rows exceeds the synchronous limit of %d; submit a job instead", len(req.Rows), s.cfg.MaxRows))
		return
	}

	entities, stats, warnings := resolve.ResolveEntities(req.Rows, req.Columns)
	result, err := s.runner.RunWaterfall(r.Context(), entities, req.BudgetCents, req.Concurrency)
	if err != nil {
		zap.L().Error("server: enrich failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enrichment failed")
		return
	}
	writeJSON(w, http.StatusOK, enrichResponse{Result: result, Stats: stats, Warnings: nonNil(warnings)})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTable(w, r)
	if !ok {
		return
	}
	job := &model.Job{
		Rows:        req.Rows,
		Columns:     req.Columns,
		BudgetCents: req.BudgetCents,
		Concurrency: req.Concurrency,
	}
	if err := s.jobs.Enqueue(r.Context(), job); err != nil {
		zap.L().Error("server: enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "status": job.Status})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		zap.L().Error("server: get job failed", zap.String("job", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{Status: model.JobStatus(q.Get("status"))}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	jobs, err := s.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		zap.L().Error("server: list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	// Rows are the job input and can be large.
	for i := range jobs {
		jobs[i].Rows = nil
		jobs[i].Columns = nil
	}
	writeJSON(w, http.StatusOK, jobs)
}

func decodeTable(w http.ResponseWriter, r *http.Request) (*tableRequest, bool) {
	var req tableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func nonNil(ws []resolve.Warning) []resolve.Warning {
	if ws == nil {
		return []resolve.Warning{}
	}
	return ws
}

// requestLogger logs each request with zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	lookback := s.lookback
	if v := r.URL.Query().Get("lookback_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "lookback_hours must be a positive integer")
			return
		}
		lookback = n
	}

	snap, err := s.monitor.Collect(r.Context(), lookback)
	if err != nil {
		zap.L().Error("server: collect stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to collect stats")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
