// Package status serves the HTTP status API and the websocket transition feed.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/roompaneld/internal/animator"
	"github.com/dokzlo13/roompaneld/internal/dispatch"
	"github.com/dokzlo13/roompaneld/internal/layer"
	"github.com/dokzlo13/roompaneld/internal/panel"
	"github.com/dokzlo13/roompaneld/internal/switcher"
)

// maxRequestBodySize is the maximum allowed request body size (64 KB).
const maxRequestBodySize = 64 << 10

// Panel is the state machine as seen by the API.
type Panel interface {
	Snapshot() panel.Snapshot
	RequestTransition(target layer.Layer) bool
}

// Animator exposes the progress animation state.
type Animator interface {
	Snapshot() animator.Snapshot
}

// Switcher exposes the device integration adapter.
type Switcher interface {
	Status() switcher.Status
	UpdateMapping(m switcher.Mapping) error
}

// Dispatcher runs fn on the dispatch goroutine and waits for it.
type Dispatcher interface {
	DoWait(ctx context.Context, fn func(ctx context.Context) error) error
}

// Options configures the server.
type Options struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	// RequestRate limits POST /layers per second; zero disables limiting.
	RequestRate float64

	Panel      Panel
	Animator   Animator
	Switcher   Switcher
	Dispatcher Dispatcher
	Hub        *Hub
	// Ready reports whether startup has finished.
	Ready func() bool
}

// Response is the body of GET /status.
type Response struct {
	Panel    panel.Snapshot    `json:"panel"`
	Animator animator.Snapshot `json:"animator"`
	Switcher *switcher.Status  `json:"switcher,omitempty"`
}

// Server is the status HTTP server.
type Server struct {
	opts       Options
	addr       string
	limiter    *rate.Limiter
	httpServer *http.Server
}

// NewServer creates a new status server.
func NewServer(opts Options) *Server {
	s := &Server{
		opts: opts,
		addr: fmt.Sprintf("%s:%d", opts.Host, opts.Port),
	}
	if opts.RequestRate > 0 {
		burst := int(opts.RequestRate)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RequestRate), burst)
	}
	if s.opts.Hub == nil {
		s.opts.Hub = NewHub()
	}
	return s
}

// Hub returns the websocket hub, for registration as an observer.
func (s *Server) Hub() *Hub {
	return s.opts.Hub
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(loggingMiddleware)
	r.Use(recoveryMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/status", s.handleStatus)
	r.Post("/layers/{name}", s.handleRequestLayer)
	r.Put("/switcher/mapping", s.handleUpdateMapping)
	r.Handle("/ws", s.opts.Hub)
	return r
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting status server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		s.opts.Hub.CloseAll()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Status server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Ready != nil && !s.opts.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := Response{Panel: s.opts.Panel.Snapshot()}
	if s.opts.Animator != nil {
		resp.Animator = s.opts.Animator.Snapshot()
	}
	if s.opts.Switcher != nil {
		st := s.opts.Switcher.Status()
		resp.Switcher = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRequestLayer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	target, ok := layer.Parse(name)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("unknown layer %q", name))
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "too many layer requests")
		return
	}

	var accepted bool
	err := s.opts.Dispatcher.DoWait(r.Context(), func(context.Context) error {
		accepted = s.opts.Panel.RequestTransition(target)
		return nil
	})
	if err != nil {
		if errors.Is(err, dispatch.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "shutting down")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	snap := s.opts.Panel.Snapshot()
	if !accepted {
		writeError(w, http.StatusConflict, ErrCodeConflict,
			fmt.Sprintf("transition %s -> %s not allowed", snap.Active, target))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true, "active": snap.Active, "seq": snap.Seq})
}

func (s *Server) handleUpdateMapping(w http.ResponseWriter, r *http.Request) {
	if s.opts.Switcher == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "switcher not configured")
		return
	}

	var m switcher.Mapping
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid mapping: "+err.Error())
		return
	}

	var updateErr error
	err := s.opts.Dispatcher.DoWait(r.Context(), func(context.Context) error {
		updateErr = s.opts.Switcher.UpdateMapping(m)
		return nil
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		return
	}
	if updateErr != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, updateErr.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Switcher.Status())
}
