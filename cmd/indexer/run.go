package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/web3-frozen/yield-indexer/internal/handler"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run snapshot cycles on a fixed interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(flags)
			if err != nil {
				return err
			}
			defer e.Close()
			if interval == 0 {
				interval = e.cfg.SnapshotInterval
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			x, err := e.newIndexer(ctx)
			if err != nil {
				return err
			}

			r := chi.NewRouter()
			r.Handle("/metrics", promhttp.Handler())
			r.Get("/healthz", handler.Health())
			srv := &http.Server{
				Addr:         ":" + e.cfg.MetricsPort,
				Handler:      r,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
			}
			go func() {
				e.logger.Info("metrics server starting", "port", e.cfg.MetricsPort)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					e.logger.Error("metrics server failed", "error", err)
				}
			}()

			e.logger.Info("indexer running", "interval", interval.String())
			runErr := x.Run(ctx, interval)

			e.logger.Info("shutting down gracefully")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			return runErr
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "cycle interval (defaults to SNAPSHOT_INTERVAL)")
	return cmd
}
