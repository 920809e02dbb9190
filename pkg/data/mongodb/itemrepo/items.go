package itemrepo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cosmosetl/cosmos-indexer/pkg/identity"
	"github.com/cosmosetl/cosmos-indexer/pkg/metrics"
	"github.com/cosmosetl/cosmos-indexer/pkg/mongodb"
	"github.com/cosmosetl/cosmos-indexer/pkg/types"
)

// Items writes chain entities to their collections.
type Items interface {
	UpsertBlocks(ctx context.Context, items []types.Item) error
	UpsertTransactions(ctx context.Context, items []types.Item) error
	UpsertLogs(ctx context.Context, items []types.Item) error
	UpsertReceipts(ctx context.Context, items []types.Item) error
	// UpsertMany idempotently writes items of one entity type.
	UpsertMany(ctx context.Context, t types.EntityType, items []types.Item) error
	// InsertHeterogeneous inserts a mixed batch, one concurrent task per type.
	InsertHeterogeneous(ctx context.Context, items []types.Item) error
}

type items struct {
	db       mongodb.Database
	registry types.Registry
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
}

// NewItems creates the item repository. The registry is validated up front
// so a misconfigured destination fails at startup rather than mid-export.
func NewItems(db mongodb.Database, registry types.Registry, log *zap.SugaredLogger, m *metrics.Metrics) (Items, error) {
	if err := registry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid collection registry: %w", err)
	}
	return &items{db: db, registry: registry, log: log, metrics: m}, nil
}

func (r *items) UpsertBlocks(ctx context.Context, items []types.Item) error {
	return r.UpsertMany(ctx, types.EntityBlock, items)
}

func (r *items) UpsertTransactions(ctx context.Context, items []types.Item) error {
	return r.UpsertMany(ctx, types.EntityTransaction, items)
}

func (r *items) UpsertLogs(ctx context.Context, items []types.Item) error {
	return r.UpsertMany(ctx, types.EntityLog, items)
}

func (r *items) UpsertReceipts(ctx context.Context, items []types.Item) error {
	return r.UpsertMany(ctx, types.EntityReceipt, items)
}

// UpsertMany sets every field of each item, inserting it when absent. The
// upsert key is the id plus the item's partition field, so an item whose id
// already exists under another height is rejected instead of overwriting.
// Writes are unordered and duplicate identity rejections are logged, not
// returned.
func (r *items) UpsertMany(ctx context.Context, t types.EntityType, items []types.Item) error {
	if len(items) == 0 {
		return nil
	}
	name, err := r.registry.Collection(t)
	if err != nil {
		return err
	}

	partition, partitioned := identity.PartitionField(t)
	models := make([]mongo.WriteModel, 0, len(items))
	var invalid int
	for _, item := range items {
		id, err := identity.EnsureID(item)
		if err != nil {
			invalid++
			r.log.Errorw("skipping item without identity", "collection", name, "error", err)
			continue
		}
		filter := bson.M{types.FieldID: id}
		if partitioned {
			v, ok := item[partition]
			if !ok {
				invalid++
				r.log.Errorw("skipping item without partition field",
					"collection", name,
					"id", id,
					"field", partition,
				)
				continue
			}
			filter[partition] = v
		}
		fields := item.Clone()
		delete(fields, types.FieldID)
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(bson.M{"$set": fields}).
			SetUpsert(true))
	}

	if len(models) > 0 {
		if err := r.bulkUpsert(ctx, name, models); err != nil {
			return err
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d %s items could not be keyed", ErrRejected, invalid, len(items), t)
	}
	return nil
}

func (r *items) bulkUpsert(ctx context.Context, name string, models []mongo.WriteModel) error {
	start := time.Now()
	res, err := r.db.Collection(name).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	elapsed := time.Since(start)

	conflicts := mongodb.DuplicateCount(err)
	if err != nil && mongodb.DuplicatesOnly(err) {
		r.log.Warnw("ignoring duplicate identities",
			"collection", name,
			"batch_size", len(models),
			"conflicts", conflicts,
		)
		err = nil
	}
	r.metrics.RecordWrite(name, err, elapsed.Seconds(), conflicts)

	if err != nil {
		err = mongodb.Classify(err)
		r.log.Errorw("bulk upsert failed",
			"collection", name,
			"batch_size", len(models),
			"elapsed", elapsed,
			"error", err,
		)
		if n := mongodb.WriteErrorCount(err); n > conflicts {
			return fmt.Errorf("upsert into %q: %w: %d of %d: %w", name, ErrRejected, n-conflicts, len(models), err)
		}
		return fmt.Errorf("upsert into %q: %w", name, err)
	}

	fields := []interface{}{"collection", name, "batch_size", len(models), "elapsed", elapsed}
	if res != nil {
		fields = append(fields, "upserted", res.UpsertedCount, "matched", res.MatchedCount)
	}
	r.log.Debugw("bulk upsert complete", fields...)
	return nil
}

// InsertHeterogeneous partitions items by type and inserts each group into
// its collection concurrently. It returns once every group has finished. A
// failing group does not stop the others; failures other than duplicate
// identities are reported together as a *BatchError.
func (r *items) InsertHeterogeneous(ctx context.Context, items []types.Item) error {
	groups := make(map[types.EntityType][]types.Item)
	var order []types.EntityType
	for _, item := range items {
		t := item.Type()
		if _, ok := groups[t]; !ok {
			order = append(order, t)
		}
		groups[t] = append(groups[t], item)
	}

	results := make([]*TypeWriteError, len(order))
	var g errgroup.Group
	g.SetLimit(len(types.AllEntityTypes))
	for i, t := range order {
		g.Go(func() error {
			results[i] = r.insertGroup(ctx, t, groups[t])
			return nil
		})
	}
	_ = g.Wait()

	var failures []*TypeWriteError
	for _, res := range results {
		if res != nil {
			failures = append(failures, res)
		}
	}
	if len(failures) > 0 {
		return &BatchError{Failures: failures}
	}
	return nil
}

func (r *items) insertGroup(ctx context.Context, t types.EntityType, group []types.Item) *TypeWriteError {
	name, err := r.registry.Collection(t)
	if err != nil {
		r.log.Errorw("no collection for item type", "type", t, "count", len(group))
		return &TypeWriteError{Type: t, Count: len(group), Err: err}
	}
	fail := func(err error) *TypeWriteError {
		return &TypeWriteError{Type: t, Collection: name, Count: len(group), Err: err}
	}

	docs := make([]interface{}, 0, len(group))
	for _, item := range group {
		if _, err := identity.EnsureID(item); err != nil {
			r.log.Errorw("item without identity", "collection", name, "error", err)
			return fail(err)
		}
		docs = append(docs, item)
	}

	start := time.Now()
	_, err = r.db.Collection(name).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	elapsed := time.Since(start)

	conflicts := mongodb.DuplicateCount(err)
	if err != nil && mongodb.DuplicatesOnly(err) {
		r.log.Warnw("ignoring duplicate identities",
			"collection", name,
			"batch_size", len(docs),
			"conflicts", conflicts,
		)
		err = nil
	}
	r.metrics.RecordWrite(name, err, elapsed.Seconds(), conflicts)

	if err != nil {
		err = mongodb.Classify(err)
		r.log.Errorw("insert failed",
			"collection", name,
			"batch_size", len(docs),
			"elapsed", elapsed,
			"error", err,
		)
		return fail(err)
	}
	r.log.Debugw("insert complete", "collection", name, "batch_size", len(docs), "elapsed", elapsed)
	return nil
}
