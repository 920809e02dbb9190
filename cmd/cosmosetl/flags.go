package main

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/cosmosetl/cosmos-indexer/pkg/streamer"
)

func verboseFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "Enable verbose logging",
		EnvVars: []string{"VERBOSE"},
		Value:   false,
	}
}

// mongoFlags override the MONGO_* environment configuration when set.
func mongoFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "mongo-url",
			Aliases: []string{"o"},
			Usage:   "The MongoDB connection string",
			EnvVars: []string{"MONGO_URL"},
		},
		&cli.StringFlag{
			Name:    "mongo-db-prefix",
			Usage:   "Optional prefix of the destination database name (prefix_blockchain_etl)",
			EnvVars: []string{"MONGO_DB_PREFIX"},
		},
		&cli.StringFlag{
			Name:    "mongo-database",
			Usage:   "Base name of the destination database",
			EnvVars: []string{"MONGO_DATABASE"},
		},
	}
}

func rpcFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "rpc-url",
			Aliases:  []string{"r"},
			Usage:    "The CometBFT JSON-RPC URL to fetch blocks from",
			EnvVars:  []string{"RPC_URL"},
			Required: true,
		},
		&cli.DurationFlag{
			Name:    "rpc-timeout",
			Usage:   "Timeout of a single RPC request",
			EnvVars: []string{"RPC_TIMEOUT"},
			Value:   30 * time.Second,
		},
		&cli.Int64Flag{
			Name:    "rpc-concurrency",
			Aliases: []string{"c"},
			Usage:   "Maximum number of concurrent RPC requests",
			EnvVars: []string{"RPC_CONCURRENCY"},
			Value:   8,
		},
		&cli.Uint64Flag{
			Name:    "rpc-max-retries",
			Usage:   "Maximum number of retries of a failed RPC request",
			EnvVars: []string{"RPC_MAX_RETRIES"},
			Value:   5,
		},
		&cli.IntFlag{
			Name:    "rpc-page-size",
			Usage:   "Number of transactions per tx_search page (max 100)",
			EnvVars: []string{"RPC_PAGE_SIZE"},
			Value:   100,
		},
		&cli.IntFlag{
			Name:    "rpc-batch-size",
			Usage:   "Number of block requests sent in one JSON-RPC batch",
			EnvVars: []string{"RPC_BATCH_SIZE"},
			Value:   20,
		},
	}
}

func exporterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "entity-types",
			Aliases: []string{"t"},
			Usage:   "Entity types to export (block, transaction, log, contract). Blocks are always exported",
			EnvVars: []string{"ENTITY_TYPES"},
			Value:   cli.NewStringSlice("block", "transaction", "log"),
		},
		&cli.BoolFlag{
			Name:    "skip-malformed",
			Usage:   "Log and skip blocks that cannot be mapped instead of failing the range",
			EnvVars: []string{"SKIP_MALFORMED"},
		},
		&cli.Uint64Flag{
			Name:    "batch-size",
			Aliases: []string{"b"},
			Usage:   "Number of heights exported per range",
			EnvVars: []string{"BATCH_SIZE"},
			Value:   10,
		},
	}
}

func metricsFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "chain-id",
			Aliases: []string{"C"},
			Usage:   "The Cosmos chain ID, used as a metrics label (e.g., 'cosmoshub-4')",
			EnvVars: []string{"CHAIN_ID"},
		},
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "Host for Prometheus metrics server (empty for all interfaces)",
			EnvVars: []string{"METRICS_HOST"},
			Value:   "",
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Aliases: []string{"m"},
			Usage:   "Port for Prometheus metrics server",
			EnvVars: []string{"METRICS_PORT"},
			Value:   9090,
		},
		&cli.StringFlag{
			Name:    "environment",
			Aliases: []string{"E"},
			Usage:   "Deployment environment for metrics labels (e.g., 'production', 'staging')",
			EnvVars: []string{"ENVIRONMENT"},
		},
		&cli.StringFlag{
			Name:    "region",
			Aliases: []string{"R"},
			Usage:   "Cloud region for metrics labels (e.g., 'us-east-1')",
			EnvVars: []string{"REGION"},
		},
		&cli.StringFlag{
			Name:    "cloud-provider",
			Usage:   "Cloud provider for metrics labels (e.g., 'aws', 'gcp')",
			EnvVars: []string{"CLOUD_PROVIDER"},
		},
	}
}

func collectorFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "collector-id",
		Aliases: []string{"i"},
		Usage:   "Identity of the checkpoint record",
		EnvVars: []string{"COLLECTOR_ID"},
		Value:   streamer.DefaultCollectorID,
	}
}

// streamFlags returns all CLI flags for the stream command
func streamFlags() []cli.Flag {
	flags := []cli.Flag{
		verboseFlag(),
		collectorFlag(),
		&cli.Uint64Flag{
			Name:    "start-block",
			Aliases: []string{"s"},
			Usage:   "The height to start from when the collector has no checkpoint",
			EnvVars: []string{"START_BLOCK"},
			Value:   1,
		},
		&cli.Uint64Flag{
			Name:    "end-block",
			Aliases: []string{"e"},
			Usage:   "The last height to export. If not specified, follows the chain head",
			EnvVars: []string{"END_BLOCK"},
		},
		&cli.Uint64Flag{
			Name:    "lag",
			Aliases: []string{"l"},
			Usage:   "Number of heights to stay behind the chain head",
			EnvVars: []string{"LAG"},
		},
		&cli.DurationFlag{
			Name:    "period",
			Aliases: []string{"p"},
			Usage:   "How long to sleep once caught up with the chain head",
			EnvVars: []string{"PERIOD"},
			Value:   10 * time.Second,
		},
		&cli.BoolFlag{
			Name:    "retry-errors",
			Usage:   "Keep streaming after a failed range, retrying it after the period",
			EnvVars: []string{"RETRY_ERRORS"},
		},
		&cli.DurationFlag{
			Name:    "checkpoint-write-timeout",
			Usage:   "Timeout of a single checkpoint write",
			EnvVars: []string{"CHECKPOINT_WRITE_TIMEOUT"},
			Value:   5 * time.Second,
		},
		&cli.IntFlag{
			Name:    "checkpoint-max-retries",
			Usage:   "Retries of a failed checkpoint write",
			EnvVars: []string{"CHECKPOINT_MAX_RETRIES"},
			Value:   3,
		},
		&cli.DurationFlag{
			Name:    "checkpoint-retry-backoff",
			Usage:   "Wait between checkpoint write retries",
			EnvVars: []string{"CHECKPOINT_RETRY_BACKOFF"},
			Value:   300 * time.Millisecond,
		},
	}
	flags = append(flags, rpcFlags()...)
	flags = append(flags, mongoFlags()...)
	flags = append(flags, exporterFlags()...)
	return append(flags, metricsFlags()...)
}

// exportFlags returns all CLI flags for the export command
func exportFlags() []cli.Flag {
	flags := []cli.Flag{
		verboseFlag(),
		&cli.Uint64Flag{
			Name:     "start-block",
			Aliases:  []string{"s"},
			Usage:    "The first height to export",
			EnvVars:  []string{"START_BLOCK"},
			Required: true,
		},
		&cli.Uint64Flag{
			Name:     "end-block",
			Aliases:  []string{"e"},
			Usage:    "The last height to export",
			EnvVars:  []string{"END_BLOCK"},
			Required: true,
		},
	}
	flags = append(flags, rpcFlags()...)
	flags = append(flags, mongoFlags()...)
	return append(flags, exporterFlags()...)
}

// checkpointFlags returns the flags shared by the checkpoint subcommands
func checkpointFlags() []cli.Flag {
	return append([]cli.Flag{verboseFlag(), collectorFlag()}, mongoFlags()...)
}

func heightFlag() cli.Flag {
	return &cli.Uint64Flag{
		Name:     "height",
		Usage:    "The height to set the checkpoint to",
		Required: true,
	}
}
