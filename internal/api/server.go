package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kjannette/energy-monitor/internal/query"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Port         int
	CORSOrigin   string
	DefaultLimit int
	Backend      string
	Gatherer     prometheus.Gatherer // nil disables /metrics
	Ingest       IngestStatus        // nil omits ingest from /health
	Logger       *slog.Logger
}

type Server struct {
	queries      *query.Service
	store        Pinger
	ingest       IngestStatus
	backend      string
	defaultLimit int
	logger       *slog.Logger
	handler      http.Handler
	httpServer   *http.Server
}

func NewServer(queries *query.Service, store Pinger, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 100
	}
	s := &Server{
		queries:      queries,
		store:        store,
		ingest:       opts.Ingest,
		backend:      opts.Backend,
		defaultLimit: min(opts.DefaultLimit, queries.MaxLimit()),
		logger:       opts.Logger.With("component", "api"),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /prices", s.handleLatestPrices)
	mux.HandleFunc("GET /stats", s.handleDailyStats)
	mux.HandleFunc("GET /health", s.handleHealth)
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	s.handler = corsMiddleware(mux, opts.CORSOrigin)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the routed handler, middleware included.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Start() error {
	s.logger.Info("REST API listening", "addr", s.httpServer.Addr, "health", "/health")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- request helpers ---

// parseLimit reads ?limit. Absent means defaultLimit; anything that is not a
// plain integer is reported so the caller can answer 400.
func parseLimit(r *http.Request, defaultLimit int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: limit %q is not an integer", query.ErrInvalidArgument, v)
	}
	return n, nil
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
