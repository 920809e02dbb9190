package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/cosmosetl/cosmos-indexer/internal/contractfilter"
	"github.com/cosmosetl/cosmos-indexer/pkg/mongodb"
	"github.com/cosmosetl/cosmos-indexer/pkg/utils"
)

func export(c *cli.Context) error {
	cfg, err := buildConfig(c, mongodb.Load())
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}
	if err := cfg.validateExport(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"verbose", cfg.Verbose,
		"rpcURL", cfg.RPC.URL,
		"start", cfg.StartBlock,
		"end", cfg.EndBlock,
		"batchSize", cfg.BatchSize,
		"entityTypes", c.StringSlice("entity-types"),
		"database", cfg.Mongo.DatabaseName(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg, sugar, nil)
	if err != nil {
		return err
	}
	defer p.Close() //nolint:errcheck // best-effort disconnect

	began := time.Now()
	filter := contractfilter.NewMemory()
	for _, r := range splitRange(cfg.StartBlock, cfg.EndBlock, cfg.BatchSize) {
		if err := p.exporter.ExportRange(ctx, r.start, r.end, filter); err != nil {
			return fmt.Errorf("failed to export [%d, %d]: %w", r.start, r.end, err)
		}
	}

	sugar.Infow("export complete",
		"start", cfg.StartBlock,
		"end", cfg.EndBlock,
		"elapsed", time.Since(began),
	)
	return nil
}

type heightRange struct {
	start, end uint64
}

// splitRange slices [start, end] into consecutive ranges of at most size
// heights.
func splitRange(start, end, size uint64) []heightRange {
	var out []heightRange
	for s := start; s <= end; {
		e := end
		if end-s >= size {
			e = s + size - 1
		}
		out = append(out, heightRange{start: s, end: e})
		if e == end {
			break
		}
		s = e + 1
	}
	return out
}
