// Package testutils provides an in-memory chain for exporter and streamer
// tests.
package testutils

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cosmosetl/cosmos-indexer/pkg/chainclient"
	"github.com/cosmosetl/cosmos-indexer/pkg/mapper"
	"github.com/cosmosetl/cosmos-indexer/pkg/types"
)

// FakeChain serves blocks, transactions and events from memory. Returned
// items are copies, so callers may mutate them freely.
type FakeChain struct {
	mu     sync.Mutex
	head   uint64
	blocks map[uint64]*mapper.RawBlock
	txs    []types.Item
	events []types.Item

	BlockErr  error
	TxErr     error
	HeadErr   error
	BlockRuns int
	TxRuns    int
}

var _ chainclient.ChainClient = (*FakeChain)(nil)

func NewFakeChain() *FakeChain {
	return &FakeChain{blocks: make(map[uint64]*mapper.RawBlock)}
}

// RawBlock builds a raw block payload at height with the given hash and
// epoch-seconds time.
func RawBlock(height uint64, hash string, ts int64) *mapper.RawBlock {
	return &mapper.RawBlock{
		BlockID: &mapper.RawBlockID{Hash: hash},
		Block: &mapper.RawBlockBody{
			Header: &mapper.RawHeader{
				Height:          strconv.FormatUint(height, 10),
				Time:            time.Unix(ts, 0).UTC().Format("2006-01-02T15:04:05.000000Z"),
				LastBlockID:     &mapper.RawBlockID{Hash: "0xPARENT"},
				DataHash:        "0xDATA",
				ProposerAddress: "0xPROPOSER",
			},
			Data: &mapper.RawData{},
		},
	}
}

// Transaction builds a transaction item.
func Transaction(hash, from, to string, height, ts int64) types.Item {
	return types.Item{
		types.FieldType:           string(types.EntityTransaction),
		types.FieldHash:           hash,
		types.FieldFromAddress:    from,
		types.FieldToAddress:      to,
		types.FieldBlockNumber:    height,
		types.FieldBlockTimestamp: ts,
	}
}

// Event builds an event item. A non-empty contract sets contract_address.
func Event(eventType, txHash, contract string, height, ts, txIndex, logIndex int64) types.Item {
	ev := types.Item{
		types.FieldType:           string(types.EntityLog),
		types.FieldEventType:      eventType,
		types.FieldTxHash:         txHash,
		types.FieldBlockNumber:    height,
		types.FieldBlockTimestamp: ts,
		types.FieldTxIndex:        txIndex,
		types.FieldLogIndex:       logIndex,
		types.FieldAttributes:     []map[string]any{},
	}
	if contract != "" {
		ev[types.FieldContractAddress] = contract
		ev[types.FieldAttributes] = []map[string]any{
			{"key": "_contract_address", "value": contract},
			{"key": "code_id", "value": "1"},
		}
	}
	return ev
}

// AddBlock stores b and raises the head to its height if needed.
func (c *FakeChain) AddBlock(b *mapper.RawBlock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, err := strconv.ParseUint(b.Block.Header.Height, 10, 64)
	if err != nil {
		panic(err)
	}
	c.blocks[h] = b
	c.head = max(c.head, h)
}

func (c *FakeChain) AddTransactions(items ...types.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs = append(c.txs, items...)
}

func (c *FakeChain) AddEvents(items ...types.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, items...)
}

// SetHead overrides the reported chain height.
func (c *FakeChain) SetHead(h uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = h
}

func (c *FakeChain) CurrentHeight(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.HeadErr != nil {
		return 0, c.HeadErr
	}
	return c.head, nil
}

// FetchBlocks returns the stored blocks in range. Missing heights are skipped.
func (c *FakeChain) FetchBlocks(_ context.Context, start, end uint64) ([]*mapper.RawBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BlockRuns++
	if c.BlockErr != nil {
		return nil, c.BlockErr
	}
	if start > end {
		return nil, fmt.Errorf("invalid range [%d, %d]", start, end)
	}
	var out []*mapper.RawBlock
	for h := start; h <= end; h++ {
		if b, ok := c.blocks[h]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (c *FakeChain) FetchTransactionsAndEvents(_ context.Context, start, end uint64) ([]types.Item, []types.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TxRuns++
	if c.TxErr != nil {
		return nil, nil, c.TxErr
	}
	return inRange(c.txs, start, end), inRange(c.events, start, end), nil
}

func inRange(items []types.Item, start, end uint64) []types.Item {
	var out []types.Item
	for _, it := range items {
		h, ok := it.Int64(types.FieldBlockNumber)
		if !ok || h < 0 || uint64(h) < start || uint64(h) > end {
			continue
		}
		out = append(out, it.Clone())
	}
	return out
}
