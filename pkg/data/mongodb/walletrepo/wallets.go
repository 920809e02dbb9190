package walletrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/cosmosetl/cosmos-indexer/pkg/metrics"
	"github.com/cosmosetl/cosmos-indexer/pkg/mongodb"
	"github.com/cosmosetl/cosmos-indexer/pkg/types"
	"github.com/cosmosetl/cosmos-indexer/pkg/wallet"
)

var ErrNotFound = errors.New("wallet not found")

// Wallets merges batch-local wallet deltas into the durable summaries.
type Wallets interface {
	// Initialize creates the indexes the merge relies on. It is idempotent.
	Initialize(ctx context.Context) error
	// MergeDeltas folds deltas into the stored wallets. Merging the same
	// deltas again leaves every wallet unchanged.
	MergeDeltas(ctx context.Context, deltas []*wallet.Delta) error
	// Get returns the stored wallet for address.
	Get(ctx context.Context, address string) (*wallet.Wallet, error)
}

type wallets struct {
	wallets mongodb.Collection
	touches mongodb.Collection
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewWallets(db mongodb.Database, log *zap.SugaredLogger, m *metrics.Metrics) Wallets {
	return &wallets{
		wallets: db.Collection(types.CollectionWallets),
		touches: db.Collection(types.CollectionWalletTransactions),
		log:     log,
		metrics: m,
	}
}

func (r *wallets) Initialize(ctx context.Context) error {
	// countTouches matches the ledger by address.
	if _, err := r.touches.CreateIndexes(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "address", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create %s indexes: %w", types.CollectionWalletTransactions, mongodb.Classify(err))
	}
	if _, err := r.wallets.CreateIndexes(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "address", Value: 1}}, Options: options.Index().SetUnique(true)},
	}); err != nil {
		return fmt.Errorf("create %s indexes: %w", types.CollectionWallets, mongodb.Classify(err))
	}
	r.log.Debugw("ensured wallet indexes",
		"collections", []string{types.CollectionWallets, types.CollectionWalletTransactions},
	)
	return nil
}

// MergeDeltas records every (address, transaction) touch once, counts the
// recorded touches per address and writes the count with a max merge.
// Created fields merge with min and last-updated fields with max, so the
// result does not depend on merge order or on how often a range is replayed.
func (r *wallets) MergeDeltas(ctx context.Context, deltas []*wallet.Delta) error {
	if len(deltas) == 0 {
		return nil
	}
	start := time.Now()

	if err := r.recordTouches(ctx, deltas); err != nil {
		return err
	}
	counts, err := r.countTouches(ctx, deltas)
	if err != nil {
		return err
	}

	models := make([]mongo.WriteModel, 0, len(deltas))
	for _, d := range deltas {
		n, ok := counts[d.Address]
		if !ok {
			n = d.TransactionNumber
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{types.FieldID: d.Address}).
			SetUpdate(bson.M{
				"$set": bson.M{"address": d.Address},
				"$min": bson.M{
					"created_at":              d.CreatedAt,
					"created_at_block_number": d.CreatedAtBlockNumber,
				},
				"$max": bson.M{
					"last_updated_at":              d.LastUpdatedAt,
					"last_updated_at_block_number": d.LastUpdatedAtBlockNumber,
					"transaction_number":           n,
				},
			}).
			SetUpsert(true))
	}

	if err := r.writeWallets(ctx, models); err != nil {
		return err
	}
	r.metrics.AddWalletsMerged(len(deltas))
	r.log.Debugw("merged wallet deltas",
		"collection", types.CollectionWallets,
		"batch_size", len(deltas),
		"elapsed", time.Since(start),
	)
	return nil
}

func (r *wallets) recordTouches(ctx context.Context, deltas []*wallet.Delta) error {
	var models []mongo.WriteModel
	for _, d := range deltas {
		for _, hash := range d.TransactionHashes() {
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(bson.M{types.FieldID: d.Address + "_" + hash}).
				SetUpdate(bson.M{"$setOnInsert": bson.M{
					"address":          d.Address,
					"transaction_hash": hash,
				}}).
				SetUpsert(true))
		}
	}
	if len(models) == 0 {
		return nil
	}

	start := time.Now()
	_, err := r.touches.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	elapsed := time.Since(start)
	conflicts := mongodb.DuplicateCount(err)
	// A duplicate here means a concurrent merge recorded the same touch.
	if err != nil && mongodb.DuplicatesOnly(err) {
		err = nil
	}
	r.metrics.RecordWrite(types.CollectionWalletTransactions, err, elapsed.Seconds(), conflicts)
	if err != nil {
		err = mongodb.Classify(err)
		r.log.Errorw("recording wallet touches failed",
			"collection", types.CollectionWalletTransactions,
			"batch_size", len(models),
			"elapsed", elapsed,
			"error", err,
		)
		return fmt.Errorf("record wallet touches: %w", err)
	}
	return nil
}

type touchCount struct {
	Address string `bson:"_id"`
	Count   int64  `bson:"count"`
}

func (r *wallets) countTouches(ctx context.Context, deltas []*wallet.Delta) (map[string]int64, error) {
	addrs := make([]string, len(deltas))
	for i, d := range deltas {
		addrs[i] = d.Address
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"address": bson.M{"$in": addrs}}}},
		{{Key: "$group", Value: bson.M{"_id": "$address", "count": bson.M{"$sum": 1}}}},
	}
	cur, err := r.touches.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count wallet touches: %w", mongodb.Classify(err))
	}
	var rows []touchCount
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode wallet touch counts: %w", mongodb.Classify(err))
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Address] = row.Count
	}
	return counts, nil
}

// writeWallets applies the wallet updates. Two concurrent upserts of a new
// wallet can race on its _id; the loser is retried once, when it will
// match the winner's document.
func (r *wallets) writeWallets(ctx context.Context, models []mongo.WriteModel) error {
	start := time.Now()
	_, err := r.wallets.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil && mongodb.DuplicatesOnly(err) {
		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) {
			retry := make([]mongo.WriteModel, 0, len(bwe.WriteErrors))
			for _, we := range bwe.WriteErrors {
				retry = append(retry, models[we.Index])
			}
			r.log.Warnw("retrying raced wallet upserts",
				"collection", types.CollectionWallets,
				"conflicts", len(retry),
			)
			_, err = r.wallets.BulkWrite(ctx, retry, options.BulkWrite().SetOrdered(false))
		}
	}
	elapsed := time.Since(start)
	r.metrics.RecordWrite(types.CollectionWallets, err, elapsed.Seconds(), 0)
	if err != nil {
		err = mongodb.Classify(err)
		r.log.Errorw("merging wallets failed",
			"collection", types.CollectionWallets,
			"batch_size", len(models),
			"elapsed", elapsed,
			"error", err,
		)
		return fmt.Errorf("merge wallets: %w", err)
	}
	return nil
}

func (r *wallets) Get(ctx context.Context, address string) (*wallet.Wallet, error) {
	var w wallet.Wallet
	err := r.wallets.FindOne(ctx, bson.M{types.FieldID: address}).Decode(&w)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", address, mongodb.Classify(err))
	}
	return &w, nil
}
