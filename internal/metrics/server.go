package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the dedicated metrics listener: /metrics for Prometheus,
// /healthz for liveness probes. It never shares a port with anything
// user-facing.
type Server struct {
	addr   string
	logger *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a metrics server bound to addr (e.g. "127.0.0.1:9090").
func NewServer(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{addr: addr, logger: logger.With("component", "metrics")}
}

// Start listens and serves in the background. A busy port fails fast so
// the operator sees it at startup.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handleHealthz)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", "error", err)
		}
	}()

	s.logger.Info("metrics server listening", "addr", s.addr)
	return nil
}

// Shutdown stops the listener, waiting up to five seconds for in-flight
// scrapes when ctx carries no deadline.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	shutdownCtx := ctx
	var cancel context.CancelFunc
	if shutdownCtx == nil {
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("metrics server shutdown error", "error", err)
	}
	s.httpServer = nil
	s.listener = nil
}

// Addr returns the bound address, useful when addr requested port 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
