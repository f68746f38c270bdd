package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/broswen/testnetpay/service/config"
	"github.com/broswen/testnetpay/service/events"
	"github.com/broswen/testnetpay/service/ledger"
	"github.com/broswen/testnetpay/service/metrics"
	"github.com/broswen/testnetpay/service/processor"
	"github.com/broswen/testnetpay/service/server"
	"github.com/broswen/testnetpay/service/wallet"
	"github.com/broswen/testnetpay/service/webhook"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the payment gateway server",
		Action: func(c *cli.Context) error {
			// Load and validate configuration from environment
			// This fails fast if any required config is missing or invalid
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger := setupLogger(cfg.LogLevel)
			logger.Info("starting server",
				"addr", cfg.ServerAddr,
				"log_level", cfg.LogLevel,
			)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			m := metrics.NewMetrics(prometheus.DefaultRegisterer)

			// Core domain wiring: chain, wallet, webhook dispatcher, processor
			l := ledger.New(ledger.RateFeeEstimator(cfg.FeeRate), nil, m, logger)
			w := wallet.New(l, cfg.WalletXpub, logger)

			queue := webhook.NewQueue(webhook.NewHTTPSender(nil), cfg.WebhookRetryDelays, nil, m, logger)
			queue.Start(ctx)
			defer queue.Stop()

			proc := processor.New(l, w, cfg.InvoiceTTL, nil, m, logger)
			proc.AddSettlementListener(processor.WebhookListener{Queue: queue, URL: cfg.WebhookURL})

			// Settlement events over NATS JetStream (optional)
			if cfg.NATSURL != "" {
				publisher, err := events.NewPublisher(cfg.NATSURL, logger)
				if err != nil {
					logger.Error("failed to connect to NATS", "url", cfg.NATSURL, "error", err)
					os.Exit(1)
				}
				defer publisher.Close()
				proc.AddSettlementListener(processor.EventListener{Publisher: publisher, Metrics: m, Logger: logger})
				logger.Info("settlement event publishing enabled", "nats_url", cfg.NATSURL)
			} else {
				logger.Info("NATS URL not configured, settlement events disabled")
			}

			// Background expiration sweep
			go func() {
				ticker := time.NewTicker(cfg.SweepInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if n := proc.CheckForExpiredInvoices(); n > 0 {
							logger.Info("expired invoices", "count", n)
						}
					}
				}
			}()

			httpServer := server.New(cfg.ServerAddr, cfg, l, proc, m, nil, logger)

			serverErrors := make(chan error, 1)
			go func() {
				serverErrors <- httpServer.Start()
			}()

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-serverErrors:
				logger.Error("server error", "error", err)
				return err
			case sig := <-shutdown:
				logger.Info("shutdown signal received", "signal", sig.String())

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer shutdownCancel()

				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					logger.Error("failed to shutdown server gracefully", "error", err)
					return err
				}

				logger.Info("server shutdown complete")
			}

			return nil
		},
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
