// Package server exposes the payment gateway over HTTP: invoice lifecycle,
// simulated payments, refunds, mempool watches and inclusion proofs.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/broswen/testnetpay/service/config"
	"github.com/broswen/testnetpay/service/ledger"
	"github.com/broswen/testnetpay/service/metrics"
	"github.com/broswen/testnetpay/service/processor"
)

// Server represents the HTTP server for the payment gateway.
type Server struct {
	addr      string
	cfg       *config.Config
	ledger    *ledger.Ledger
	processor *processor.Processor
	limiter   *rateLimiter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The metrics collector is optional - if nil, the metrics endpoint and
// request instrumentation are disabled.
func New(addr string, cfg *config.Config, l *ledger.Ledger, proc *processor.Processor, m *metrics.Metrics, clk clock.Clock, logger *slog.Logger) *Server {
	return &Server{
		addr:      addr,
		cfg:       cfg,
		ledger:    l,
		processor: proc,
		limiter:   newRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow, clk),
		metrics:   m,
		logger:    logger,
	}
}

// Handler builds the route table. Exposed separately from Start so tests can
// exercise the full stack with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		if s.metrics != nil {
			h = metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
		}
		mux.Handle(pattern, h)
	}

	// Invoice routes
	route("POST /api/v1/invoices", "create_invoice",
		handleCreateInvoice(s.processor, s.limiter, s.metrics, s.logger))
	route("GET /api/v1/invoices/{id}", "get_invoice",
		handleGetInvoice(s.processor, s.logger))
	route("POST /api/v1/invoices/{id}/payments", "simulate_payment",
		handleSimulatePayment(s.processor, s.logger))
	route("POST /api/v1/invoices/{id}/refunds", "create_refund",
		handleCreateRefund(s.processor, s.logger))

	// Chain routes
	route("GET /api/v1/mempool/{address}", "watch_mempool",
		handleWatchMempool(s.processor, s.logger))
	route("GET /api/v1/proofs/{tx_id}", "get_proof",
		handleGetProof(s.ledger, s.logger))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(s.sweepMiddleware(mux))
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// sweepMiddleware flips overdue pending invoices before each request is
// served, so expiry is observed even between ticker runs.
func (s *Server) sweepMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n := s.processor.CheckForExpiredInvoices(); n > 0 {
			s.logger.Debug("expired invoices during sweep", "count", n)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
