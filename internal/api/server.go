package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/config"
	"github.com/JakeFAU/site-indexer/internal/crawler"
	"github.com/JakeFAU/site-indexer/internal/indexer"
	"github.com/JakeFAU/site-indexer/internal/metrics"
)

const (
	defaultRequestTimeout = 30 * time.Second
	readinessTimeout      = 2 * time.Second
)

// Indexer is the slice of indexer.Coordinator the API drives.
type Indexer interface {
	Start() (*indexer.Run, error)
	Running() bool
	Current() *indexer.Run
}

// SiteLister lists persisted site records.
type SiteLister interface {
	List(ctx context.Context) ([]crawler.SiteRecord, error)
}

// ReadinessCheck reports whether downstream dependencies are reachable.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the indexing coordinator and site store.
type Server struct {
	router  chi.Router
	indexer Indexer
	sites   SiteLister
	ready   ReadinessCheck
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil.
func NewServer(
	idx Indexer,
	sites SiteLister,
	ready ReadinessCheck,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		indexer: idx,
		sites:   sites,
		ready:   ready,
		cfg:     cfg,
		logger:  logger,
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/startIndexing", s.startIndexing)
		r.Post("/startIndexing", s.startIndexing)
		r.Get("/status", s.status)
		r.Get("/sites", s.listSites)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type startResponse struct {
	Started bool   `json:"started"`
	RunID   string `json:"run_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// startIndexing never waits for the run; it only reports whether one began.
func (s *Server) startIndexing(w http.ResponseWriter, _ *http.Request) {
	run, err := s.indexer.Start()
	switch {
	case errors.Is(err, indexer.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, startResponse{Started: false, Reason: "already running"})
	case errors.Is(err, indexer.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, startResponse{Started: false, Reason: "shutting down"})
	case err != nil:
		s.logger.Error("start indexing failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, startResponse{Started: false, Reason: "internal error"})
	default:
		s.logger.Info("indexing run accepted", zap.String("run_id", run.ID))
		writeJSON(w, http.StatusAccepted, startResponse{Started: true, RunID: run.ID})
	}
}

type siteResultDTO struct {
	URL           string             `json:"url"`
	SiteID        string             `json:"site_id,omitempty"`
	Status        crawler.SiteStatus `json:"status,omitempty"`
	CrawlState    crawler.CrawlState `json:"crawl_state,omitempty"`
	Pages         int                `json:"pages"`
	FetchFailures int                `json:"fetch_failures"`
	Error         string             `json:"error,omitempty"`
}

type runDTO struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Sites      []siteResultDTO `json:"sites"`
}

type statusResponse struct {
	Indexing bool    `json:"indexing"`
	LastRun  *runDTO `json:"last_run,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Indexing: s.indexer.Running()}
	if run := s.indexer.Current(); run != nil {
		resp.LastRun = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, resp)
}

func toRunDTO(run *indexer.Run) *runDTO {
	dto := &runDTO{ID: run.ID, StartedAt: run.StartedAt, Sites: []siteResultDTO{}}
	if finished := run.FinishedAt(); !finished.IsZero() {
		dto.FinishedAt = &finished
	}
	for _, res := range run.Results() {
		site := siteResultDTO{
			URL:           res.Seed.URL,
			SiteID:        res.SiteID,
			Status:        res.Status,
			CrawlState:    res.Outcome.State,
			Pages:         res.Outcome.PagesRecorded,
			FetchFailures: res.Outcome.FetchFailures,
		}
		if res.Err != nil {
			site.Error = res.Err.Error()
		}
		dto.Sites = append(dto.Sites, site)
	}
	return dto
}

// listSites handles GET /api/sites?status=. It returns {"sites": [...]}, 400
// for an unknown status filter, or 500 if the store call fails.
func (s *Server) listSites(w http.ResponseWriter, r *http.Request) {
	var filter crawler.SiteStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, err := parseSiteStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter = parsed
	}
	sites, err := s.sites.List(r.Context())
	if err != nil {
		s.logger.Error("list sites failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sites")
		return
	}
	out := make([]crawler.SiteRecord, 0, len(sites))
	for _, site := range sites {
		if filter == "" || site.Status == filter {
			out = append(out, site)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": out})
}

func parseSiteStatus(raw string) (crawler.SiteStatus, error) {
	status := crawler.SiteStatus(strings.ToUpper(raw))
	switch status {
	case crawler.SiteStatusIndexing, crawler.SiteStatusIndexed, crawler.SiteStatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("invalid status %q", raw)
	}
}

type requestIDKey struct{}

// RequestID returns the request ID stored by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
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
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
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
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec),
					)
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
