// Command server serves the read-only query API over the configured store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"token-sniffer/internal/api"
	"token-sniffer/internal/app"
	"token-sniffer/internal/config"
	"token-sniffer/internal/logging"
	"token-sniffer/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (optional)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of the configured store")
	flag.Parse()

	cfg, err := config.Read(*configPath)
	if err == nil && !*useMemory {
		err = cfg.ValidateStore()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, *useMemory, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func serve(ctx context.Context, cfg *config.Config, useMemory bool, log *zap.Logger) error {
	store, err := app.OpenStore(ctx, cfg.Store, useMemory)
	if err != nil {
		return err
	}
	defer store.Close()

	var history storage.HistoryStore
	h, err := app.OpenHistory(ctx, cfg.History, useMemory)
	if err != nil {
		return err
	}
	if h != nil {
		defer h.Close()
		history = h
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewHandler(store, history, log).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("query API listening", zap.String("addr", cfg.Server.Addr), zap.Bool("history", history != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
