package chainclient

import (
	"context"

	"github.com/cosmosetl/cosmos-indexer/pkg/mapper"
	"github.com/cosmosetl/cosmos-indexer/pkg/types"
)

// BlockFetcher produces the raw blocks of an inclusive height range, in any order.
type BlockFetcher interface {
	FetchBlocks(ctx context.Context, start, end uint64) ([]*mapper.RawBlock, error)
}

// TransactionFetcher produces the transaction and event items of an
// inclusive height range, in any order.
type TransactionFetcher interface {
	FetchTransactionsAndEvents(ctx context.Context, start, end uint64) (txs []types.Item, events []types.Item, err error)
}

// HeightProbe reports the latest block height of the chain.
type HeightProbe interface {
	CurrentHeight(ctx context.Context) (uint64, error)
}

// ChainClient is everything the exporter and streamer need from a chain.
type ChainClient interface {
	BlockFetcher
	TransactionFetcher
	HeightProbe
}
