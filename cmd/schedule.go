package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rasnes/alphavantage-warehouse/pipeline"
	"github.com/rasnes/alphavantage-warehouse/scheduler"
	"github.com/spf13/cobra"
)

func newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule [tickers]",
		Short: "Ensures the schema once, then syncs on the configured cron schedule until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeConfigAndLogger()
			if err != nil {
				return err
			}

			symbols, err := resolveTickers(args, cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, wh, err := openPipeline(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer wh.Close()

			if err := p.EnsureSchema(ctx, symbols, false); err != nil {
				return fmt.Errorf("error ensuring schema: %w", err)
			}

			if cfg.Metrics.Addr != "" {
				shutdown := serveMetrics(cfg.Metrics.Addr, p.Metrics, log)
				defer shutdown()
			}

			s, err := scheduler.New(cfg.Schedule.Cron, func(ctx context.Context) {
				summary := p.Sync(ctx, symbols)
				log.Info(fmt.Sprintf("Scheduled sync wrote %d rows", summary.Total()),
					"succeeded", len(summary), "failed", len(symbols)-len(summary))
			}, log)
			if err != nil {
				return err
			}
			s.RunOnStart = cfg.Schedule.RunOnStart

			return s.Start(ctx)
		},
	}
}

// serveMetrics exposes /metrics on addr and returns a func that shuts the listener down.
func serveMetrics(addr string, metrics *pipeline.Metrics, log *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("Serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Warn("Error shutting down metrics server", "error", err)
		}
	}
}
