// Package server exposes run status over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taskq/internal/runner"
	"taskq/internal/storage"
	"taskq/pkg/eventbus"
	"taskq/pkg/taskq"
	logx "taskq/pkg/logx"
)

// Source is the run state the API reports on. *runner.Runner implements it.
type Source interface {
	Last() (runner.Report, bool)
	Live() (taskq.Snapshot, bool)
}

const (
	defaultRunsLimit = 10
	maxRunsLimit     = 200
	eventRingSize    = 100
)

type Server struct {
	log       logx.Logger
	src       Source
	store     storage.Store
	router    chi.Router
	startTime time.Time

	profiler bool

	evMu   sync.Mutex
	events []eventbus.Event
	unsub  func()
}

type Option func(*Server)

// WithProfiler mounts net/http/pprof under /debug.
func WithProfiler(enabled bool) Option {
	return func(s *Server) { s.profiler = enabled }
}

// New builds the router. store and bus may be nil. With a bus, the most
// recent run/task/queue events are kept for /api/v1/events; call Close to
// unsubscribe.
func New(src Source, store storage.Store, bus eventbus.Bus, log logx.Logger, opts ...Option) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		log:       log.With(logx.String("comp", "server")),
		src:       src,
		store:     store,
		router:    chi.NewRouter(),
		startTime: time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	if bus != nil {
		ch, unsub := bus.Subscribe(eventRingSize, "run.", "task.", "queue.")
		s.unsub = unsub
		go s.collect(ch)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.log))

	r.Get("/healthz", s.handleHealth)
	if s.profiler {
		r.Mount("/debug", middleware.Profiler())
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/queue", s.handleQueue)
		r.Get("/events", s.handleEvents)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleRuns)
			r.Get("/last", s.handleLastRun)
		})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops event collection.
func (s *Server) Close() {
	if s.unsub != nil {
		s.unsub()
	}
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("status api listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	return nil
}

func (s *Server) collect(ch <-chan eventbus.Event) {
	for ev := range ch {
		s.evMu.Lock()
		if len(s.events) == eventRingSize {
			copy(s.events, s.events[1:])
			s.events = s.events[:eventRingSize-1]
		}
		s.events = append(s.events, ev)
		s.evMu.Unlock()
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Store     string `json:"store"`
	Running   bool   `json:"running"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	store := "disabled"
	if s.store != nil {
		store = "enabled"
	}
	_, running := s.src.Live()
	respondOK(w, RequestIDFromContext(r.Context()), healthResponse{
		Status:    "healthy",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Store:     store,
		Running:   running,
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	snap, ok := s.src.Live()
	if !ok {
		respondError(w, reqID, http.StatusNotFound, "not_running", "no run in progress")
		return
	}
	respondOK(w, reqID, snap)
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	rep, ok := s.src.Last()
	if !ok {
		respondError(w, reqID, http.StatusNotFound, "no_runs", "no run has finished yet")
		return
	}
	respondOK(w, reqID, rep)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.store == nil {
		respondError(w, reqID, http.StatusServiceUnavailable, "storage_disabled", "run history storage is disabled")
		return
	}
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, reqID, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}
	runs, err := s.store.RecentRuns(r.Context(), limit)
	if err != nil {
		s.log.Warn("recent runs failed", logx.Err(err))
		respondError(w, reqID, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	respondOK(w, reqID, runs)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.evMu.Lock()
	out := append([]eventbus.Event(nil), s.events...)
	s.evMu.Unlock()
	if out == nil {
		out = []eventbus.Event{}
	}
	respondOK(w, RequestIDFromContext(r.Context()), out)
}
