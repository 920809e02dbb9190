package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection is the subset of *mongo.Collection used by the repositories.
type Collection interface {
	Name() string
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	// CreateIndexes creates the indexes that do not exist yet and returns
	// the names of all of them.
	CreateIndexes(ctx context.Context, models []mongo.IndexModel) ([]string, error)
}

// collection adds index management to a driver collection.
type collection struct {
	*mongo.Collection
}

var _ Collection = collection{}

func (c collection) CreateIndexes(ctx context.Context, models []mongo.IndexModel) ([]string, error) {
	return c.Indexes().CreateMany(ctx, models)
}

// Database hands out collections of one namespace.
type Database interface {
	Name() string
	Collection(name string) Collection
}

type database struct {
	db *mongo.Database
}

// WrapDatabase adapts a driver database to Database.
func WrapDatabase(db *mongo.Database) Database {
	return &database{db: db}
}

func (d *database) Name() string {
	return d.db.Name()
}

func (d *database) Collection(name string) Collection {
	return collection{Collection: d.db.Collection(name)}
}
