package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxmail/voxmail/internal/instrumentation"
)

const (
	// DefaultMetricsAddr is where the metrics server listens when no
	// address is configured.
	DefaultMetricsAddr = ":9090"

	metricsReadTimeout  = 10 * time.Second
	metricsWriteTimeout = 10 * time.Second
	metricsIdleTimeout  = 60 * time.Second
)

// MetricsServer serves Prometheus metrics on its own port, keeping
// operational data off the application listener.
type MetricsServer struct {
	httpServer *http.Server
	addr       string
	logger     *slog.Logger
}

// NewMetricsServer creates a metrics server backed by the provider's
// Prometheus registry.
func NewMetricsServer(addr string, provider *instrumentation.Provider, logger *slog.Logger) (*MetricsServer, error) {
	if provider == nil || !provider.HasPrometheus() {
		return nil, fmt.Errorf("prometheus metrics are not enabled")
	}
	if addr == "" {
		addr = DefaultMetricsAddr
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsServer{addr: addr, logger: logger}, nil
}

// Start serves /metrics until the listener fails. Blocking.
func (s *MetricsServer) Start() error {
	mux := http.NewServeMux()

	// The OTel prometheus exporter registers on the default registry,
	// which promhttp.Handler exposes.
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadTimeout,
		WriteTimeout:      metricsWriteTimeout,
		IdleTimeout:       metricsIdleTimeout,
	}

	s.logger.Info("starting metrics server", slog.String("addr", s.addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains the metrics listener.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *MetricsServer) Addr() string {
	return s.addr
}
