package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Client wraps the MongoDB connection
type Client interface {
	// Database returns the configured namespace
	Database() Database
	// Ping checks the connection to MongoDB
	Ping(ctx context.Context) error
	// Close disconnects the client
	Close() error
}

const (
	defaultPingTimeout       = 10 * time.Second
	defaultDisconnectTimeout = 10 * time.Second
)

type client struct {
	mc     *mongo.Client
	db     Database
	logger *zap.SugaredLogger
}

// New creates a new MongoDB client and verifies the server is reachable.
// The store is required for the service to function, so a failed ping is fatal.
func New(cfg Config, sugar *zap.SugaredLogger) (Client, error) {
	opts := options.Client().
		ApplyURI(cfg.URL).
		SetAppName(cfg.AppName).
		SetConnectTimeout(time.Duration(cfg.ConnectTimeout) * time.Second).
		SetServerSelectionTimeout(time.Duration(cfg.ServerSelectionTimeout) * time.Second).
		SetMaxPoolSize(cfg.MaxPoolSize)

	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()

	mc, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", Classify(err))
	}
	if err := mc.Ping(ctx, readpref.Primary()); err != nil {
		if sugar != nil {
			sugar.Errorw("failed to ping mongodb", "error", err)
		}
		_ = mc.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", Classify(err))
	}

	name := cfg.DatabaseName()
	if sugar != nil {
		sugar.Infow("connected to mongodb", "database", name)
	}
	return &client{
		mc:     mc,
		db:     WrapDatabase(mc.Database(name)),
		logger: sugar,
	}, nil
}

func (c *client) Database() Database {
	return c.db
}

func (c *client) Ping(ctx context.Context) error {
	if err := c.mc.Ping(ctx, readpref.Primary()); err != nil {
		return Classify(err)
	}
	return nil
}

func (c *client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultDisconnectTimeout)
	defer cancel()
	return c.mc.Disconnect(ctx)
}
