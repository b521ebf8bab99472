package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goSession "github.com/MrEthical07/goSession"
	promexport "github.com/MrEthical07/goSession/metrics/export/prometheus"
)

func newServeCmd(opts *options) *cobra.Command {
	var (
		addr         string
		mock         bool
		mockLatency  time.Duration
		shutdownWait time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session manager over HTTP",
		Long: `Serve exposes login, MFA, refresh and account management as a JSON API,
runs the auth queue in the background and publishes Prometheus metrics
on /metrics.

Mutating endpoints enqueue by default and answer 202 with a correlation id.
Poll GET /v1/queue/{id}, or pass ?wait=1 to block until the queue runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if mock {
				ln, err := net.Listen("tcp", "127.0.0.1:0")
				if err != nil {
					return fmt.Errorf("listen for mock provider: %w", err)
				}
				mockSrv := &http.Server{Handler: newMockProvider(mockLatency).Handler(), ReadHeaderTimeout: 5 * time.Second}
				go func() { _ = mockSrv.Serve(ln) }()
				defer mockSrv.Close()
				opts.providerBase = "http://" + ln.Addr().String()
				logger.Info("mock provider started", slog.String("url", opts.providerBase))
			}

			m, cleanup, err := opts.build(opts.config(), logger)
			if err != nil {
				return err
			}
			defer cleanup()

			return serve(ctx, addr, m, logger, shutdownWait)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().BoolVar(&mock, "mock-provider", false, "run against a built-in mock provider")
	cmd.Flags().DurationVar(&mockLatency, "mock-latency", 0, "artificial latency per mock provider call")
	cmd.Flags().DurationVar(&shutdownWait, "shutdown-timeout", 10*time.Second, "grace period for in-flight requests")
	return cmd
}

func serve(ctx context.Context, addr string, m *goSession.Manager, logger *slog.Logger, shutdownWait time.Duration) error {
	metrics, err := promexport.Handler(m)
	if err != nil {
		return fmt.Errorf("metrics handler: %w", err)
	}
	a := &api{m: m, logger: logger, now: time.Now}
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.routes(metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}

	queueDone := make(chan error, 1)
	go func() { queueDone <- m.RunQueue(ctx) }()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.Any("error", err))
	}
	if err := <-queueDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("auth queue", slog.Any("error", err))
	}
	return m.Close(shutdownCtx)
}
