// Package server exposes metrics and health probes outside of the
// controller-runtime manager.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Server serves /metrics, /healthz and /readyz.
type Server struct {
	addr     string
	log      logr.Logger
	gatherer prometheus.Gatherer
	ready    atomic.Bool
}

// New returns a Server on addr gathering from the controller-runtime registry.
func New(addr string, log logr.Logger) *Server {
	return &Server{addr: addr, log: log, gatherer: metrics.Registry}
}

// MarkReady flips /readyz to 200. Callers mark readiness after the first
// completed cycle.
func (s *Server) MarkReady() {
	if !s.ready.Swap(true) {
		s.log.Info("ready")
	}
}

// Handler returns the HTTP handler for all endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !s.ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// Run serves until ctx is done. An empty or "0" address disables the server.
func (s *Server) Run(ctx context.Context) error {
	if s.addr == "" || s.addr == "0" {
		<-ctx.Done()
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("serving metrics and health probes", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving %s: %w", s.addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
