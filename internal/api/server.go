// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-webcrawler/internal/config"
	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
	"github.com/JakeFAU/parallel-webcrawler/internal/metrics"
)

// Enqueuer accepts queued crawl jobs. *dispatcher.Dispatcher satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router   chi.Router
	jobStore crawler.JobStore
	enqueuer Enqueuer
	idGen    crawler.IDGenerator
	clock    crawler.Clock
	cfg      config.Config
	logger   *zap.Logger
	checks   map[string]ReadinessCheck
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore crawler.JobStore,
	enqueuer Enqueuer,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore: jobStore,
		enqueuer: enqueuer,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
		checks:   map[string]ReadinessCheck{},
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Server.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.Server.APIKey))
		}
		r.Route("/crawls", func(r chi.Router) {
			r.Post("/", s.submitCrawl)
			r.Route("/{crawl_id}", func(r chi.Router) {
				r.Get("/", s.getCrawl)
				r.Get("/result", s.getCrawlResult)
			})
		})
	})

	s.router = r
	return s
}

// AddReadinessCheck registers a named check run by /readyz.
func (s *Server) AddReadinessCheck(name string, check ReadinessCheck) {
	s.checks[name] = check
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toJobParameters(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	crawlID, err := s.enqueueJob(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusRequestTimeout
		case errors.Is(err, crawler.ErrQueueClosed):
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("submit crawl failed", zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"crawl_id": crawlID})
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) getCrawlResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if job.Result == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("crawl is %s", job.Status))
		return
	}
	writeJSON(w, http.StatusOK, job.Result)
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (crawler.Job, bool) {
	crawlID := chi.URLParam(r, "crawl_id")
	job, err := s.jobStore.GetJob(r.Context(), crawlID)
	switch {
	case errors.Is(err, crawler.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "crawl not found")
		return crawler.Job{}, false
	case err != nil:
		s.logger.Error("get crawl failed", zap.String("crawl_id", crawlID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch crawl")
		return crawler.Job{}, false
	}
	return job, true
}

func (s *Server) enqueueJob(ctx context.Context, params crawler.JobParameters) (string, error) {
	crawlID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate crawl id: %w", err)
	}
	now := s.clock.Now()
	job := crawler.Job{
		ID:         crawlID,
		Status:     crawler.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := crawler.QueueItem{
		JobID:     crawlID,
		Params:    params,
		Submitted: now.Unix(),
	}
	if err := s.enqueuer.Enqueue(queueCtx, item); err != nil {
		if uerr := s.jobStore.UpdateJobStatus(
			context.WithoutCancel(ctx), crawlID, crawler.JobStatusFailed, err.Error(),
		); uerr != nil {
			s.logger.Warn("mark unqueued crawl failed", zap.String("crawl_id", crawlID), zap.Error(uerr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return crawlID, nil
}

func (s *Server) toJobParameters(req crawlRequest) (crawler.JobParameters, error) {
	if len(req.StartPages) == 0 {
		return crawler.JobParameters{}, errors.New("start_pages required")
	}
	for _, raw := range req.StartPages {
		if err := validateStartPage(raw); err != nil {
			return crawler.JobParameters{}, err
		}
	}
	defaults := s.cfg.DefaultJobParameters()
	params := crawler.JobParameters{
		StartPages:       append([]string(nil), req.StartPages...),
		MaxDepth:         valueOrDefault(req.MaxDepth, defaults.MaxDepth),
		PopularWordCount: valueOrDefault(req.PopularWordCount, defaults.PopularWordCount),
		Timeout:          defaults.Timeout,
		IgnoredURLs:      defaults.IgnoredURLs,
	}
	if req.TimeoutSeconds != nil {
		params.Timeout = time.Duration(*req.TimeoutSeconds * float64(time.Second))
	}
	if req.IgnoredURLs != nil {
		params.IgnoredURLs = append([]string(nil), req.IgnoredURLs...)
	}

	if params.MaxDepth < 0 {
		return crawler.JobParameters{}, errors.New("max_depth must be >= 0")
	}
	if params.PopularWordCount < 0 {
		return crawler.JobParameters{}, errors.New("popular_word_count must be >= 0")
	}
	if params.Timeout <= 0 {
		return crawler.JobParameters{}, errors.New("timeout_seconds must be > 0")
	}
	if _, err := crawler.CompilePatterns(params.IgnoredURLs); err != nil {
		return crawler.JobParameters{}, fmt.Errorf("ignored_urls: %w", err)
	}
	return params, nil
}

func validateStartPage(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("start page %q must be an absolute http(s) URL", raw)
	}
	return nil
}

type crawlRequest struct {
	StartPages       []string `json:"start_pages"`
	MaxDepth         *int     `json:"max_depth"`
	PopularWordCount *int     `json:"popular_word_count"`
	TimeoutSeconds   *float64 `json:"timeout_seconds"`
	IgnoredURLs      []string `json:"ignored_urls"`
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
