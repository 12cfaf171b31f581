package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"firestige.xyz/fwip/internal/log"
)

// StatusFunc produces a JSON-encodable status document.
type StatusFunc func() any

// Server exposes the prometheus registry, a liveness probe at /healthz and
// any status documents registered with HandleStatus.
type Server struct {
	addr   string
	path   string
	status map[string]StatusFunc

	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

// NewServer creates a metrics server. An empty path serves /metrics.
func NewServer(addr, path string) *Server {
	if path == "" {
		path = "/metrics"
	}
	return &Server{addr: addr, path: path, status: make(map[string]StatusFunc)}
}

// HandleStatus serves the JSON encoding of fn at path. It must be called
// before Start.
func (s *Server) HandleStatus(path string, fn StatusFunc) {
	s.status[path] = fn
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	for path, fn := range s.status {
		mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if err := enc.Encode(fn()); err != nil {
				log.GetLogger().WithError(err).WithField("path", path).Warn("status encoding failed")
			}
		})
	}
	return mux
}

// Start binds the listen address and serves in the background. Binding
// errors are returned; serving errors are logged.
func (s *Server) Start(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics server listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.done = make(chan struct{})

	log.GetLogger().WithFields(map[string]interface{}{
		"addr": ln.Addr().String(), "path": s.path,
	}).Info("metrics server listening")

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.GetLogger().WithError(err).Error("metrics server failed")
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop shuts the server down and waits for the serve loop to exit.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	log.GetLogger().Info("metrics server stopped")
	return nil
}
