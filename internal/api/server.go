package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"frontier/internal/analysis"
	"frontier/internal/config"
	"frontier/internal/data"
	"frontier/internal/storage"
)

// RunStore is the subset of the history store the API needs.
type RunStore interface {
	SaveRun(ctx context.Context, run *storage.Run) error
	GetRun(ctx context.Context, id string) (*storage.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*storage.Run, error)
	DeleteRun(ctx context.Context, id string) error
}

// Server wires the HTTP routes to the analysis pipeline.
type Server struct {
	cfg       *config.Config
	router    *mux.Router
	fetcher   *data.CachedFetcher
	analyzer  *analysis.Analyzer
	store     RunStore
	universes data.Universes
	metrics   *Metrics
	now       func() time.Time
}

// NewServer builds the router. store may be nil, which disables run history.
func NewServer(cfg *config.Config, fetcher *data.CachedFetcher, store RunStore, universes data.Universes, metrics *Metrics) *Server {
	s := &Server{
		cfg:       cfg,
		router:    mux.NewRouter(),
		fetcher:   fetcher,
		analyzer:  analysis.New(fetcher, metrics),
		store:     store,
		universes: universes,
		metrics:   metrics,
		now:       time.Now,
	}
	s.setupRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.corsMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonContentTypeMiddleware)

	api.HandleFunc("/health", s.Health).Methods(http.MethodGet)
	api.HandleFunc("/analyze", s.Analyze).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/optimize", s.Optimize).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/universes", s.ListUniverses).Methods(http.MethodGet)
	api.HandleFunc("/runs", s.ListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", s.GetRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", s.DeleteRun).Methods(http.MethodDelete, http.MethodOptions)
	api.HandleFunc("/runs/{id}/weights.png", s.RunWeightsChart).Methods(http.MethodGet)
	api.HandleFunc("/cache", s.InvalidateCache).Methods(http.MethodDelete, http.MethodOptions)

	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.cfg.StaticDir)))
}

// Run serves on the configured port until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("frontier server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

type ctxKey int

const requestIDKey ctxKey = iota

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// requestLoggingMiddleware logs every request and records its latency
// under the matched route template.
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		elapsed := time.Since(start)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.RequestDuration.
			WithLabelValues(route, r.Method, strconv.Itoa(wrapper.statusCode)).
			Observe(elapsed.Seconds())

		id, _ := r.Context().Value(requestIDKey).(string)
		log.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
