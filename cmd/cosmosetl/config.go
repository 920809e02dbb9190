package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/cosmosetl/cosmos-indexer/pkg/chainclient/tendermint"
	"github.com/cosmosetl/cosmos-indexer/pkg/checkpointer"
	"github.com/cosmosetl/cosmos-indexer/pkg/exporter"
	"github.com/cosmosetl/cosmos-indexer/pkg/mongodb"
	"github.com/cosmosetl/cosmos-indexer/pkg/streamer"
	"github.com/cosmosetl/cosmos-indexer/pkg/types"
)

// Config holds all configuration for the cosmosetl application
type Config struct {
	// Application settings
	Verbose bool

	// Chain settings
	ChainID string
	RPC     tendermint.Config

	// Export settings
	Exporter   exporter.Config
	BatchSize  uint64
	StartBlock uint64
	EndBlock   uint64

	// Stream settings
	Stream streamer.Config

	// MongoDB settings
	Mongo mongodb.Config

	// Metrics settings
	MetricsHost   string
	MetricsPort   int
	Environment   string
	Region        string
	CloudProvider string
}

// MetricsAddr returns the formatted metrics address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// buildConfig builds a Config from CLI context flags. Flags that a command
// does not define read as their zero value.
func buildConfig(c *cli.Context, mongoBase mongodb.Config) (*Config, error) {
	entities, err := parseEntityTypes(c.StringSlice("entity-types"))
	if err != nil {
		return nil, fmt.Errorf("invalid entity types: %w", err)
	}

	cfg := &Config{
		Verbose: c.Bool("verbose"),
		ChainID: c.String("chain-id"),
		RPC: tendermint.Config{
			URL:            c.String("rpc-url"),
			Timeout:        c.Duration("rpc-timeout"),
			MaxConcurrency: c.Int64("rpc-concurrency"),
			MaxRetries:     c.Uint64("rpc-max-retries"),
			PerPage:        c.Int("rpc-page-size"),
			BatchSize:      c.Int("rpc-batch-size"),
		},
		Exporter: exporter.Config{
			Enabled:       entities,
			SkipMalformed: c.Bool("skip-malformed"),
		},
		BatchSize:  c.Uint64("batch-size"),
		StartBlock: c.Uint64("start-block"),
		EndBlock:   c.Uint64("end-block"),
		Stream: streamer.Config{
			CollectorID: c.String("collector-id"),
			StartBlock:  c.Uint64("start-block"),
			EndBlock:    c.Uint64("end-block"),
			Lag:         c.Uint64("lag"),
			BatchSize:   c.Uint64("batch-size"),
			Period:      c.Duration("period"),
			RetryErrors: c.Bool("retry-errors"),
			Checkpoint: checkpointer.Config{
				WriteTimeout: c.Duration("checkpoint-write-timeout"),
				MaxRetries:   c.Int("checkpoint-max-retries"),
				RetryBackoff: c.Duration("checkpoint-retry-backoff"),
			},
		},
		Mongo:         buildMongoConfig(c, mongoBase),
		MetricsHost:   c.String("metrics-host"),
		MetricsPort:   c.Int("metrics-port"),
		Environment:   c.String("environment"),
		Region:        c.String("region"),
		CloudProvider: c.String("cloud-provider"),
	}
	return cfg, nil
}

// buildMongoConfig applies the mongo flags that were set on top of base.
func buildMongoConfig(c *cli.Context, base mongodb.Config) mongodb.Config {
	cfg := base
	if c.IsSet("mongo-url") {
		cfg.URL = c.String("mongo-url")
	}
	if c.IsSet("mongo-db-prefix") {
		cfg.DBPrefix = c.String("mongo-db-prefix")
	}
	if c.IsSet("mongo-database") {
		cfg.Database = c.String("mongo-database")
	}
	return cfg
}

// parseEntityTypes accepts repeated flags as well as comma-separated values.
// Blocks are always enabled.
func parseEntityTypes(values []string) (types.EntitySet, error) {
	names := make([]string, 0, len(values))
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	set, err := types.ParseEntitySet(names)
	if err != nil {
		return nil, err
	}
	set[types.EntityBlock] = struct{}{}
	return set, nil
}

// validateExport checks the settings used by the export command.
func (c *Config) validateExport() error {
	if c.StartBlock > c.EndBlock {
		return fmt.Errorf("start block %d is above end block %d", c.StartBlock, c.EndBlock)
	}
	if c.BatchSize == 0 {
		return errors.New("batch size must be greater than 0")
	}
	for t := range c.Exporter.Enabled {
		switch t {
		case types.EntityBlock, types.EntityTransaction, types.EntityLog, types.EntityContract:
		default:
			return fmt.Errorf("entity type %q cannot be exported from a CometBFT node", t)
		}
	}
	return nil
}
