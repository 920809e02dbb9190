package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cosmosetl/cosmos-indexer/pkg/chainclient/tendermint"
	"github.com/cosmosetl/cosmos-indexer/pkg/data/mongodb/itemrepo"
	"github.com/cosmosetl/cosmos-indexer/pkg/data/mongodb/walletrepo"
	"github.com/cosmosetl/cosmos-indexer/pkg/exporter"
	"github.com/cosmosetl/cosmos-indexer/pkg/metrics"
	"github.com/cosmosetl/cosmos-indexer/pkg/mongodb"
	"github.com/cosmosetl/cosmos-indexer/pkg/types"
)

// pipeline holds the collaborators shared by the export and stream commands.
type pipeline struct {
	store    mongodb.Client
	node     *tendermint.Client
	exporter *exporter.Exporter
}

// newPipeline connects to the node and the store, ensures the store's
// indexes and wires the exporter. m may be nil.
func newPipeline(ctx context.Context, cfg *Config, sugar *zap.SugaredLogger, m *metrics.Metrics) (*pipeline, error) {
	node, err := tendermint.New(ctx, cfg.RPC, sugar.Named("rpc"), tendermint.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("failed to create rpc client: %w", err)
	}

	store, err := mongodb.New(cfg.Mongo, sugar)
	if err != nil {
		node.Close()
		return nil, fmt.Errorf("failed to create MongoDB client: %w", err)
	}
	sugar.Infow("MongoDB client created successfully", "database", cfg.Mongo.DatabaseName())
	p := &pipeline{store: store, node: node}

	db := store.Database()
	items, err := itemrepo.NewItems(db, types.DefaultRegistry(), sugar.Named("items"), m)
	if err != nil {
		p.Close() //nolint:errcheck // already failing
		return nil, err
	}
	wallets := walletrepo.NewWallets(db, sugar.Named("wallets"), m)
	if err := wallets.Initialize(ctx); err != nil {
		p.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("failed to initialize wallet indexes: %w", err)
	}

	p.exporter = exporter.New(cfg.Exporter, node, node, items, wallets, sugar.Named("exporter"), exporter.WithMetrics(m))
	return p, nil
}

func (p *pipeline) Close() error {
	p.node.Close()
	return p.store.Close()
}
