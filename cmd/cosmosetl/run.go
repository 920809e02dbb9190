package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/cosmosetl/cosmos-indexer/pkg/data/mongodb/checkpoint"
	"github.com/cosmosetl/cosmos-indexer/pkg/metrics"
	"github.com/cosmosetl/cosmos-indexer/pkg/mongodb"
	"github.com/cosmosetl/cosmos-indexer/pkg/streamer"
	"github.com/cosmosetl/cosmos-indexer/pkg/utils"
)

func stream(c *cli.Context) error {
	// Build configuration from CLI flags
	cfg, err := buildConfig(c, mongodb.Load())
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"verbose", cfg.Verbose,
		"chainID", cfg.ChainID,
		"rpcURL", cfg.RPC.URL,
		"rpcConcurrency", cfg.RPC.MaxConcurrency,
		"collectorID", cfg.Stream.CollectorID,
		"start", cfg.Stream.StartBlock,
		"end", cfg.Stream.EndBlock,
		"lag", cfg.Stream.Lag,
		"batchSize", cfg.Stream.BatchSize,
		"period", cfg.Stream.Period,
		"retryErrors", cfg.Stream.RetryErrors,
		"entityTypes", c.StringSlice("entity-types"),
		"database", cfg.Mongo.DatabaseName(),
		"metricsHost", cfg.MetricsHost,
		"metricsPort", cfg.MetricsPort,
		"environment", cfg.Environment,
		"region", cfg.Region,
		"cloudProvider", cfg.CloudProvider,
	)

	// Initialize Prometheus metrics with labels for multi-instance filtering
	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithLabels(registry, metrics.Labels{
		ChainID:       cfg.ChainID,
		Environment:   cfg.Environment,
		Region:        cfg.Region,
		CloudProvider: cfg.CloudProvider,
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg, sugar, m)
	if err != nil {
		return err
	}
	defer p.Close() //nolint:errcheck // best-effort disconnect

	cp := checkpoint.NewCheckpointer(checkpoint.NewRepository(p.store.Database()))
	s, err := streamer.New(cfg.Stream, p.exporter, p.node, cp, sugar.Named("streamer"), streamer.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to create streamer: %w", err)
	}

	// Start metrics server
	metricsServer := metrics.NewServer(cfg.MetricsAddr(), registry, p.store.Ping)
	metricsErrCh := metricsServer.Start()
	if cfg.MetricsHost == "" {
		sugar.Infof("metrics server listening on http://0.0.0.0:%d/metrics", cfg.MetricsPort)
	} else {
		sugar.Infof("metrics server listening on http://%s/metrics", cfg.MetricsAddr())
	}

	// the metrics server stops once the streamer returns
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancelRun()
		return s.Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-metricsErrCh:
			if err != nil {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		sugar.Infow("exiting due to context cancellation")
		err = nil
	} else if err != nil {
		sugar.Errorw("stream failed", "error", err)
	}

	// Gracefully shutdown metrics server
	sugar.Info("shutting down metrics server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("metrics server shutdown error", "error", err)
	}

	sugar.Info("shutdown complete")
	return err
}
