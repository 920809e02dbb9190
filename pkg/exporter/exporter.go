// Package exporter persists every enabled entity of a block height range.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cosmosetl/cosmos-indexer/internal/contractfilter"
	"github.com/cosmosetl/cosmos-indexer/pkg/chainclient"
	"github.com/cosmosetl/cosmos-indexer/pkg/classifier"
	"github.com/cosmosetl/cosmos-indexer/pkg/data/mongodb/itemrepo"
	"github.com/cosmosetl/cosmos-indexer/pkg/data/mongodb/walletrepo"
	"github.com/cosmosetl/cosmos-indexer/pkg/mapper"
	"github.com/cosmosetl/cosmos-indexer/pkg/metrics"
	"github.com/cosmosetl/cosmos-indexer/pkg/types"
)

// ErrInvalidRange is returned when start is above end.
var ErrInvalidRange = errors.New("invalid range")

// Contract instantiation event and attribute names.
const (
	instantiateEvent = "instantiate"
	codeIDAttribute  = "code_id"
)

// Config selects what is exported.
type Config struct {
	// Enabled lists the entity types to export. Blocks are always exported.
	Enabled types.EntitySet
	// SkipMalformed logs and drops blocks that cannot be mapped instead of
	// failing the range.
	SkipMalformed bool
}

// Exporter runs range exports. It is safe for sequential use; concurrent
// exports need their own contract filter each.
type Exporter struct {
	cfg     Config
	blocks  chainclient.BlockFetcher
	txs     chainclient.TransactionFetcher
	items   itemrepo.Items
	wallets walletrepo.Wallets
	log     *zap.SugaredLogger
	metrics *metrics.Metrics // nil if metrics disabled
}

// Option configures the Exporter.
type Option func(*Exporter)

// WithMetrics enables metrics collection for the exporter.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Exporter) {
		e.metrics = m
	}
}

// New creates an exporter.
func New(
	cfg Config,
	blocks chainclient.BlockFetcher,
	txs chainclient.TransactionFetcher,
	items itemrepo.Items,
	wallets walletrepo.Wallets,
	log *zap.SugaredLogger,
	opts ...Option,
) *Exporter {
	if cfg.Enabled == nil {
		cfg.Enabled = types.NewEntitySet(types.EntityBlock)
	}
	e := &Exporter{
		cfg:     cfg,
		blocks:  blocks,
		txs:     txs,
		items:   items,
		wallets: wallets,
		log:     log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExportRange extracts, classifies and persists the heights [start, end].
// Any extraction or write failure aborts the range; retrying the same range
// is safe since every write is idempotent.
func (e *Exporter) ExportRange(ctx context.Context, start, end uint64, filter contractfilter.Filter) (err error) {
	if start > end {
		return fmt.Errorf("%w: start %d is above end %d", ErrInvalidRange, start, end)
	}
	if filter == nil {
		filter = contractfilter.NewMemory()
	}
	filter.Reset()

	began := time.Now()
	defer func() {
		e.metrics.RecordExport(err, time.Since(began).Seconds())
	}()

	batch, err := e.extractBlocks(ctx, start, end)
	if err != nil {
		return err
	}

	if e.needsTransactions() {
		txs, events, err := e.txs.FetchTransactionsAndEvents(ctx, start, end)
		if err != nil {
			return fmt.Errorf("fetch transactions [%d, %d]: %w", start, end, err)
		}
		if e.cfg.Enabled.Has(types.EntityTransaction) {
			batch = append(batch, txs...)
		}
		if e.cfg.Enabled.Has(types.EntityLog) {
			batch = append(batch, events...)
		}
		if e.cfg.Enabled.Has(types.EntityContract) {
			batch = append(batch, instantiatedContracts(events, filter)...)
		}
	}

	res, err := classifier.Classify(batch, classifier.Options{
		Wallets:    e.cfg.Enabled.Has(types.EntityTransaction),
		Timestamps: true,
	})
	if err != nil {
		e.metrics.IncError(metrics.ErrTypeMapping)
		return fmt.Errorf("classify [%d, %d]: %w", start, end, err)
	}

	if err := e.write(ctx, res); err != nil {
		return fmt.Errorf("export [%d, %d]: %w", start, end, err)
	}

	e.log.Infow("exported range",
		"start", start,
		"end", end,
		"blocks", res.Count(types.EntityBlock),
		"transactions", res.Count(types.EntityTransaction),
		"logs", res.Count(types.EntityLog),
		"contracts", res.Count(types.EntityContract),
		"elapsed", time.Since(began),
	)
	return nil
}

func (e *Exporter) needsTransactions() bool {
	return e.cfg.Enabled.Has(types.EntityTransaction) ||
		e.cfg.Enabled.Has(types.EntityLog) ||
		e.cfg.Enabled.Has(types.EntityContract)
}

func (e *Exporter) extractBlocks(ctx context.Context, start, end uint64) ([]types.Item, error) {
	raw, err := e.blocks.FetchBlocks(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch blocks [%d, %d]: %w", start, end, err)
	}

	items := make([]types.Item, 0, len(raw))
	for i, rb := range raw {
		item, err := blockItem(rb)
		if err != nil {
			e.metrics.IncError(metrics.ErrTypeMapping)
			if !e.cfg.SkipMalformed {
				return nil, fmt.Errorf("block %d of [%d, %d]: %w", i, start, end, err)
			}
			e.log.Warnw("skipping malformed block", "start", start, "end", end, "position", i, "error", err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func blockItem(rb *mapper.RawBlock) (types.Item, error) {
	b, err := mapper.MapBlock(rb)
	if err != nil {
		return nil, err
	}
	return mapper.ToItem(b)
}

// write persists transactions before blocks before logs, then contracts and
// finally the wallet summaries.
func (e *Exporter) write(ctx context.Context, res *classifier.Result) error {
	for _, t := range []types.EntityType{
		types.EntityTransaction,
		types.EntityBlock,
		types.EntityLog,
		types.EntityReceipt,
	} {
		group := res.Groups[t]
		if len(group) == 0 {
			continue
		}
		if err := e.items.UpsertMany(ctx, t, group); err != nil {
			return fmt.Errorf("upsert %ss: %w", t, err)
		}
		e.metrics.AddItemsExported(string(t), len(group))
	}

	if contracts := res.Groups[types.EntityContract]; len(contracts) > 0 {
		if err := e.items.InsertHeterogeneous(ctx, contracts); err != nil {
			return fmt.Errorf("insert contracts: %w", err)
		}
		e.metrics.AddItemsExported(string(types.EntityContract), len(contracts))
	}

	if res.Wallets != nil && res.Wallets.Len() > 0 {
		if err := e.wallets.MergeDeltas(ctx, res.Wallets.Deltas()); err != nil {
			return fmt.Errorf("merge wallets: %w", err)
		}
	}
	return nil
}

// instantiatedContracts returns one contract item per address first seen in
// an instantiate event of this range.
func instantiatedContracts(events []types.Item, filter contractfilter.Filter) []types.Item {
	var contracts []types.Item
	for _, ev := range events {
		if ev[types.FieldEventType] != instantiateEvent {
			continue
		}
		addr, ok := ev.String(types.FieldContractAddress)
		if !ok || addr == "" || !filter.Add(addr) {
			continue
		}
		c := types.Item{
			types.FieldType:           string(types.EntityContract),
			types.FieldAddress:        addr,
			types.FieldBlockNumber:    ev[types.FieldBlockNumber],
			types.FieldBlockTimestamp: ev[types.FieldBlockTimestamp],
			types.FieldTxHash:         ev[types.FieldTxHash],
		}
		if codeID, ok := attribute(ev, codeIDAttribute); ok {
			c[codeIDAttribute] = codeID
		}
		contracts = append(contracts, c)
	}
	return contracts
}

func attribute(ev types.Item, key string) (string, bool) {
	attrs, _ := ev[types.FieldAttributes].([]map[string]any)
	for _, a := range attrs {
		if a["key"] == key {
			v, ok := a["value"].(string)
			return v, ok
		}
	}
	return "", false
}
