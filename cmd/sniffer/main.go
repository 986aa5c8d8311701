// Command sniffer screens new pump.fun tokens and analyzes the top traders of
// the ones that pass.
//
// Modes:
//   - monitor: follow the live feed until interrupted
//   - analyze: screen and analyze one mint, print a report and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"token-sniffer/internal/app"
	"token-sniffer/internal/config"
	"token-sniffer/internal/ingestion"
	"token-sniffer/internal/logging"
	"token-sniffer/internal/observability"
	"token-sniffer/internal/reporting"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (optional)")
	mode := flag.String("mode", "monitor", "Mode: monitor, analyze")
	mint := flag.String("mint", "", "Token mint to analyze (analyze mode)")
	format := flag.String("format", "markdown", "Report format for analyze mode: markdown, csv")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of the configured store")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		cfg.Server.MetricsAddr = *metricsAddr
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *mode == "analyze" && *mint == "" {
		logger.Fatal("-mint is required in analyze mode")
	}
	if *mode != "monitor" && *mode != "analyze" {
		logger.Fatal("unknown mode", zap.String("mode", *mode))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals with graceful timeout
	forceExitTimeout := cfg.ShutdownTimeout()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		case <-done:
			return
		}
		cancel()

		select {
		case sig := <-sigCh:
			logger.Error("received second signal, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(forceExitTimeout):
			logger.Error("graceful shutdown timed out, forcing exit", zap.Duration("timeout", forceExitTimeout))
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, logger, *mode, *mint, *format, *useMemory)
	close(done)

	if err != nil {
		logger.Error("sniffer failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, mode, mint, format string, useMemory bool) error {
	store, err := app.OpenStore(ctx, cfg.Store, useMemory)
	if err != nil {
		return err
	}
	defer store.Close()

	history, err := app.OpenHistory(ctx, cfg.History, useMemory)
	if err != nil {
		return err
	}
	defer history.Close()

	notifier, err := app.OpenNotifier(ctx, cfg.Notify)
	if err != nil {
		return err
	}
	defer notifier.Close()

	components := app.Components{Store: store, Notifier: notifier}
	if history != nil {
		components.History = history
	}

	if mode == "analyze" {
		ing, err := app.NewIngestor(cfg, components, log)
		if err != nil {
			return err
		}
		return analyzeOnce(ctx, ing, mint, format)
	}

	components.Feed = app.NewFeed(cfg.Feed, log)
	ing, err := app.NewIngestor(cfg, components, log)
	if err != nil {
		return err
	}
	return monitor(ctx, ing, cfg, log)
}

func monitor(ctx context.Context, ing *ingestion.Ingestor, cfg *config.Config, log *zap.Logger) error {
	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	if cfg.Server.MetricsAddr != "" {
		go func() {
			if err := observability.Serve(metricsCtx, cfg.Server.MetricsAddr, log); err != nil {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	log.Info("monitoring feed",
		zap.String("endpoint", cfg.Feed.Endpoint),
		zap.String("store", cfg.Store.Driver),
		zap.String("price_source", cfg.Pricing.Source))

	if err := ing.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func analyzeOnce(ctx context.Context, ing *ingestion.Ingestor, mint, format string) error {
	tok, run, err := ing.AnalyzeOnce(ctx, mint)
	if err != nil {
		return err
	}

	report := reporting.NewReport(tok, run, time.Now())
	switch format {
	case "csv":
		out, err := reporting.RenderCSV(report)
		if err != nil {
			return fmt.Errorf("render csv: %w", err)
		}
		fmt.Print(out)
	default:
		fmt.Print(reporting.RenderMarkdown(report))
	}
	return nil
}
