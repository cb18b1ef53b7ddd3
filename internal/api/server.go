// Package api exposes the read-only HTTP interface over stored markets.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/polywatch/marketd/internal/metrics"
	"github.com/polywatch/marketd/internal/model"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Store is the storage surface the read API depends on.
type Store interface {
	GetByID(ctx context.Context, id string) (*model.Market, error)
	List(ctx context.Context, limit, offset int) ([]model.Market, int64, error)
	ListSince(ctx context.Context, since time.Time) ([]model.Market, error)
	CountMarkets(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the market store and metrics collector.
type Server struct {
	router chi.Router
	store  Store
	stats  *metrics.Collector
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store Store, stats *metrics.Collector, logger *zap.Logger) *Server {
	s := &Server{
		store:  store,
		stats:  stats,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/status", s.status)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/markets", func(r chi.Router) {
			r.Get("/", s.listMarkets)
			r.Get("/new", s.listNewMarkets)
			r.Get("/{market_id}", s.getMarket)
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
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// status reports cycle counters and the stored market total as JSON.
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	total, err := s.store.CountMarkets(r.Context())
	if err != nil {
		s.logger.Error("count markets failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	snap := s.stats.Snapshot()
	s.writeJSON(w, http.StatusOK, model.StatusReport{
		TotalMarkets:     total,
		TotalCycles:      snap.TotalCycles,
		SuccessfulCycles: snap.SuccessfulCycles,
		FailedCycles:     snap.FailedCycles,
		LastCycleTime:    snap.LastCycleTime,
	})
}

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultLimit)
	offset := queryInt(r, "offset", 0)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}

	markets, total, err := s.store.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list markets failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, model.MarketsPage{
		Markets: markets,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

func (s *Server) listNewMarkets(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		s.writeError(w, http.StatusBadRequest, "missing since parameter")
		return
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
		return
	}

	markets, err := s.store.ListSince(r.Context(), since)
	if err != nil {
		s.logger.Error("list markets since failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, markets)
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "market_id")
	market, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("get market failed", zap.String("id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if market == nil {
		s.writeError(w, http.StatusNotFound, "market not found")
		return
	}
	s.writeJSON(w, http.StatusOK, market)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
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
				s.writeError(w, http.StatusInternalServerError, "internal server error")
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

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
