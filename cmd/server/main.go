package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/web3-frozen/yield-indexer/internal/apr"
	"github.com/web3-frozen/yield-indexer/internal/config"
	"github.com/web3-frozen/yield-indexer/internal/handler"
	"github.com/web3-frozen/yield-indexer/internal/logging"
	"github.com/web3-frozen/yield-indexer/internal/query"
	"github.com/web3-frozen/yield-indexer/internal/store"
)

func main() {
	cfg := config.Load()
	logger, logCloser, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Snapshot source (retries while Redis or Postgres come up)
	src, err := store.OpenSource(ctx, store.Source(cfg.SnapshotSource), cfg.StoreOptions(), logger)
	if err != nil {
		logger.Error("failed to open snapshot source", "error", err)
		os.Exit(1)
	}
	defer src.Close()
	logger.Info("snapshot source ready", "backend", src.Name())

	proj := query.New(apr.New(apr.DefaultConfig()).Labels())
	r := handler.NewRouter(src, proj, handler.RouterConfig{
		FrontendOrigin: cfg.FrontendOrigin,
		CacheMaxAge:    cfg.CacheMaxAge,
		CacheStale:     cfg.CacheStale,
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
