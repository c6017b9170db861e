package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrapekit/scrapekit/internal/engine"
	"github.com/scrapekit/scrapekit/internal/extract"
	"github.com/scrapekit/scrapekit/internal/metrics"
)

// Submitter is the slice of the engine the server needs. Satisfied by
// *engine.Engine.
type Submitter interface {
	Submit(ctx context.Context, rawURL string, kind engine.BackendKind, fn engine.ExtractFunc, priority int) (*engine.Handle, error)
	Stats() engine.Stats
}

// Server wires HTTP handlers to the scrape engine.
type Server struct {
	router chi.Router
	eng    Submitter
	logger *zap.Logger

	mu      sync.RWMutex
	handles map[string]*engine.Handle
}

// NewServer constructs a Server with middleware and routes.
func NewServer(eng Submitter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		eng:     eng,
		logger:  logger,
		handles: make(map[string]*engine.Handle),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.getStats)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/{job_id}", s.getJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.eng == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	if s.eng == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.eng.Stats())
}

type submitJobRequest struct {
	URL       string            `json:"url"`
	Backend   string            `json:"backend"`
	Priority  int               `json:"priority"`
	Selectors map[string]string `json:"selectors"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	if s.eng == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not configured")
		return
	}
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	if len(req.Selectors) == 0 {
		writeError(w, http.StatusBadRequest, "selectors required")
		return
	}
	kind := engine.BackendStatic
	if req.Backend != "" {
		kind = engine.BackendKind(req.Backend)
	}
	handle, err := s.eng.Submit(r.Context(), req.URL, kind, extract.Fields(req.Selectors), req.Priority)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, engine.ErrShuttingDown) || errors.Is(err, engine.ErrNotStarted) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	s.mu.Lock()
	s.handles[handle.ID()] = handle
	s.mu.Unlock()
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": handle.ID()})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	s.mu.RLock()
	handle, ok := s.handles[jobID]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	resp := map[string]any{
		"job_id":   handle.ID(),
		"url":      handle.URL(),
		"status":   string(handle.Status()),
		"attempts": handle.Attempts(),
	}
	if err := handle.Err(); err != nil {
		resp["error"] = err.Error()
		resp["error_kind"] = string(engine.KindOf(err))
	}
	writeJSON(w, http.StatusOK, resp)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
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
				s.logger.Error("panic recovered", zap.Any("error", rec))
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

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
