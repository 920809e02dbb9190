package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cosmosetl/cosmos-indexer/pkg/mongodb"
	"github.com/cosmosetl/cosmos-indexer/pkg/types"
)

const fieldHeight = "last_updated_at_block_number"

var ErrHeightOverflow = errors.New("checkpoint height out of range")

// Repository reads and writes collector checkpoints.
type Repository interface {
	// GetOrCreate returns the collector, persisting a fresh one if absent.
	GetOrCreate(ctx context.Context, id string) (*Collector, error)
	// Advance raises the watermark to height. A lower height is ignored.
	Advance(ctx context.Context, id string, height uint64) error
	// Rewind sets the watermark to height unconditionally.
	Rewind(ctx context.Context, id string, height uint64) error
	Delete(ctx context.Context, id string) error
}

var _ Repository = (*repository)(nil)

type repository struct {
	coll mongodb.Collection
	now  func() time.Time
}

func NewRepository(db mongodb.Database) Repository {
	return &repository{coll: db.Collection(types.CollectionCollectors), now: time.Now}
}

func (r *repository) GetOrCreate(ctx context.Context, id string) (*Collector, error) {
	c, err := r.find(ctx, id)
	if err == nil || !errors.Is(err, mongo.ErrNoDocuments) {
		return c, err
	}

	_, err = r.coll.UpdateOne(ctx,
		bson.M{types.FieldID: id},
		bson.M{"$setOnInsert": bson.M{"id": id}},
		options.Update().SetUpsert(true))
	if err != nil && !mongodb.DuplicatesOnly(err) {
		return nil, fmt.Errorf("failed to create collector %s: %w", id, mongodb.Classify(err))
	}
	c, err = r.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *repository) find(ctx context.Context, id string) (*Collector, error) {
	var c Collector
	err := r.coll.FindOne(ctx, bson.M{types.FieldID: id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collector %s: %w", id, mongodb.Classify(err))
	}
	return &c, nil
}

func (r *repository) Advance(ctx context.Context, id string, height uint64) error {
	return r.write(ctx, id, height, false)
}

func (r *repository) Rewind(ctx context.Context, id string, height uint64) error {
	return r.write(ctx, id, height, true)
}

func (r *repository) write(ctx context.Context, id string, height uint64, force bool) error {
	if height > math.MaxInt64 {
		return fmt.Errorf("%w: %d", ErrHeightOverflow, height)
	}
	set := bson.M{"updated_at": r.now().Unix()}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"id": id},
	}
	if force {
		set[fieldHeight] = int64(height)
	} else {
		update["$max"] = bson.M{fieldHeight: int64(height)}
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{types.FieldID: id}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", id, mongodb.Classify(err))
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id string) error {
	if _, err := r.coll.DeleteOne(ctx, bson.M{types.FieldID: id}); err != nil {
		return fmt.Errorf("failed to delete collector %s: %w", id, mongodb.Classify(err))
	}
	return nil
}
