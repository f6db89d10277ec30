// Package httpapi exposes the runner state and the control channel commands
// over a small JSON API, for operators poking a headless instance.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/pulsekeeper/pulsekeeper"
)

// Config wires the admin API. All collaborators are required.
type Config struct {
	Runner  *pulsekeeper.Runner
	Channel *pulsekeeper.Bus
	Logs    pulsekeeper.LogSink
	// ReadLimit bounds GET /logs responses that carry no explicit limit.
	ReadLimit int
}

// Server serves runner state reads directly and turns the write endpoints
// into channel commands, so an HTTP caller goes through the same path as any
// other publisher.
type Server struct {
	cfg    Config
	router *mux.Router
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, errors.New("httpapi: runner cannot be nil")
	}
	if cfg.Channel == nil {
		return nil, errors.New("httpapi: channel cannot be nil")
	}
	if cfg.Logs == nil {
		return nil, errors.New("httpapi: log sink cannot be nil")
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 500
	}
	s := &Server{cfg: cfg}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/logs", s.handleLogs).Methods("GET")
	r.HandleFunc("/service/foreground", s.handleCommand(pulsekeeper.TopicSetForeground, pulsekeeper.SetForeground{})).Methods("POST")
	r.HandleFunc("/service/background", s.handleCommand(pulsekeeper.TopicSetBackground, pulsekeeper.SetBackground{})).Methods("POST")
	r.HandleFunc("/service/stop", s.handleCommand(pulsekeeper.TopicStopService, pulsekeeper.StopService{})).Methods("POST")
	r.HandleFunc("/service/device", s.handleDevice).Methods("POST")
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrapf(err, "httpapi: serve on %s failed", addr)
	}
}
