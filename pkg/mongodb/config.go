package mongodb

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
)

// DefaultDatabase is the base name of the namespace holding every collection.
const DefaultDatabase = "blockchain_etl"

// Config holds the configuration for a MongoDB client.
type Config struct {
	URL                    string `env:"MONGO_URL" envDefault:"mongodb://localhost:27017"`
	DBPrefix               string `env:"MONGO_DB_PREFIX" envDefault:""`
	Database               string `env:"MONGO_DATABASE" envDefault:"blockchain_etl"`
	AppName                string `env:"MONGO_APP_NAME" envDefault:"cosmosetl"`
	ConnectTimeout         int    `env:"MONGO_CONNECT_TIMEOUT" envDefault:"10"`          // seconds
	ServerSelectionTimeout int    `env:"MONGO_SERVER_SELECTION_TIMEOUT" envDefault:"30"` // seconds
	MaxPoolSize            uint64 `env:"MONGO_MAX_POOL_SIZE" envDefault:"100"`
}

// Load loads MongoDB configuration from environment variables
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		logger, logErr := zap.NewProduction()
		if logErr == nil {
			logger.Sugar().Errorw("failed to parse mongodb config", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "failed to parse mongodb config: %v\n", err)
		}
		os.Exit(1)
	}
	return cfg
}

// DatabaseName composes the namespace name from the optional prefix.
func (c Config) DatabaseName() string {
	return DatabaseName(c.DBPrefix, c.Database)
}

// DatabaseName returns prefix_base, or base when prefix is empty.
func DatabaseName(prefix, base string) string {
	if base == "" {
		base = DefaultDatabase
	}
	if prefix == "" {
		return base
	}
	return prefix + "_" + base
}
