// Package bridge is the local HTTP endpoint the browser extension reports
// tab and player changes to. It also serves the read API and metrics.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/activitytracker/internal/arbiter"
	"github.com/user/activitytracker/internal/types"
)

const maxBodyBytes = 64 << 10

// Arbiter is the part of *arbiter.Arbiter the bridge uses.
type Arbiter interface {
	Submit(ctx context.Context, ev arbiter.Event) error
	Current() arbiter.Snapshot
}

// Reader serves the read API. *store.Reader implements it.
type Reader interface {
	Past24h(ctx context.Context, kind types.Kind, now time.Time) ([]types.SummaryLog, error)
	SummariesToday(ctx context.Context, kind types.Kind, now time.Time) ([]types.DailySummary, error)
}

// Health reports degradation. *store.Health implements it.
type Health interface {
	Degraded() bool
	Snapshot() map[string]int64
}

type Options struct {
	AllowedOrigins []string
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Clock    quartz.Clock
	Logger   *slog.Logger
}

// Server routes bridge requests.
type Server struct {
	arbiter  Arbiter
	reader   Reader
	health   Health
	opts     Options
	validate *validator.Validate
	router   chi.Router
}

func NewServer(a Arbiter, reader Reader, health Health, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		arbiter:  a,
		reader:   reader,
		health:   health,
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/browser", func(r chi.Router) {
		r.Post("/tab", ingest[tabChange](s))
		r.Post("/youtube/tab", ingest[youtubeTabChange](s))
		r.Post("/youtube/player", ingest[youtubePlayerChange](s))
		r.Post("/netflix/tab", ingest[netflixTabChange](s))
		r.Post("/netflix/player", ingest[netflixPlayerChange](s))
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/current", s.handleCurrent)
		r.Get("/logs/{kind}/past24h", s.handlePast24h)
		r.Get("/summaries/{kind}/today", s.handleToday)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.opts.Logger.Info("browser bridge listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type payload interface {
	events() ([]arbiter.Event, error)
}

// ingest decodes and validates a P payload, then forwards its events.
func ingest[P payload](s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p P
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		if err := s.validate.Struct(p); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		evs, err := p.events()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		for _, ev := range evs {
			if err := s.arbiter.Submit(r.Context(), ev); err != nil {
				if errors.Is(err, types.ErrClosed) {
					writeError(w, http.StatusServiceUnavailable, "shutting down")
					return
				}
				s.opts.Logger.Warn("bridge event not delivered", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusServiceUnavailable, "event not delivered")
				return
			}
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.health != nil {
		if s.health.Degraded() {
			resp["status"] = "degraded"
		}
		resp["counters"] = s.health.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.arbiter.Current())
}

func (s *Server) kind(w http.ResponseWriter, r *http.Request) (types.Kind, bool) {
	kind, err := types.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return 0, false
	}
	if s.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "read API not configured")
		return 0, false
	}
	return kind, true
}

func (s *Server) handlePast24h(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kind(w, r)
	if !ok {
		return
	}
	logs, err := s.reader.Past24h(r.Context(), kind, s.opts.Clock.Now())
	if err != nil {
		s.opts.Logger.Error("read past 24h failed", "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if logs == nil {
		logs = []types.SummaryLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kind(w, r)
	if !ok {
		return
	}
	rows, err := s.reader.SummariesToday(r.Context(), kind, s.opts.Clock.Now())
	if err != nil {
		s.opts.Logger.Error("read today's summaries failed", "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if rows == nil {
		rows = []types.DailySummary{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
