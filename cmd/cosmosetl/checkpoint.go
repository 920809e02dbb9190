package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/cosmosetl/cosmos-indexer/pkg/data/mongodb/checkpoint"
	"github.com/cosmosetl/cosmos-indexer/pkg/mongodb"
	"github.com/cosmosetl/cosmos-indexer/pkg/utils"
)

// withCheckpoints connects to the store and hands the checkpoint repository
// to fn.
func withCheckpoints(c *cli.Context, fn func(ctx context.Context, repo checkpoint.Repository, id string, sugar *zap.SugaredLogger) error) error {
	ctx := c.Context
	sugar, err := utils.NewSugaredLogger(c.Bool("verbose"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	id := c.String("collector-id")
	if id == "" {
		return errors.New("collector ID is required")
	}

	store, err := mongodb.New(buildMongoConfig(c, mongodb.Load()), sugar)
	if err != nil {
		return fmt.Errorf("failed to create MongoDB client: %w", err)
	}
	defer store.Close() //nolint:errcheck // best-effort disconnect

	return fn(ctx, checkpoint.NewRepository(store.Database()), id, sugar)
}

func showCheckpoint(c *cli.Context) error {
	return withCheckpoints(c, func(ctx context.Context, repo checkpoint.Repository, id string, sugar *zap.SugaredLogger) error {
		collector, err := repo.GetOrCreate(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read checkpoint: %w", err)
		}
		height, ok := collector.Height()
		if !ok {
			sugar.Infof("collector %s has no checkpoint yet", id)
			return nil
		}
		sugar.Infow("checkpoint", "collector_id", id, "height", height, "updated_at", collector.UpdatedAt)
		return nil
	})
}

func rewindCheckpoint(c *cli.Context) error {
	height := c.Uint64("height")
	return withCheckpoints(c, func(ctx context.Context, repo checkpoint.Repository, id string, sugar *zap.SugaredLogger) error {
		if err := repo.Rewind(ctx, id, height); err != nil {
			return fmt.Errorf("failed to rewind checkpoint: %w", err)
		}
		sugar.Infof("checkpoint of collector %s set to height %d", id, height)
		return nil
	})
}

func removeCheckpoint(c *cli.Context) error {
	return withCheckpoints(c, func(ctx context.Context, repo checkpoint.Repository, id string, sugar *zap.SugaredLogger) error {
		if err := repo.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete checkpoint: %w", err)
		}
		sugar.Infof("checkpoint successfully removed for collector %s", id)
		return nil
	})
}
