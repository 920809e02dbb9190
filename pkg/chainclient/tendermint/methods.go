package tendermint

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ava-labs/coreth/rpc"
	"golang.org/x/sync/errgroup"

	"github.com/cosmosetl/cosmos-indexer/pkg/mapper"
	"github.com/cosmosetl/cosmos-indexer/pkg/types"
	"github.com/cosmosetl/cosmos-indexer/pkg/utils"
)

// CurrentHeight returns the latest block height known to the node.
func (c *Client) CurrentHeight(ctx context.Context) (uint64, error) {
	var res statusResult
	if err := c.call(ctx, "status", &res); err != nil {
		return 0, err
	}
	h, err := strconv.ParseUint(res.SyncInfo.LatestBlockHeight, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("status: latest_block_height %q: %w", res.SyncInfo.LatestBlockHeight, err)
	}
	return h, nil
}

// FetchBlocks returns the raw blocks in [start, end] ordered by height.
func (c *Client) FetchBlocks(ctx context.Context, start, end uint64) ([]*mapper.RawBlock, error) {
	if start > end {
		return nil, fmt.Errorf("invalid range [%d, %d]", start, end)
	}
	heights := make([]uint64, 0, end-start+1)
	for h := start; ; h++ {
		heights = append(heights, h)
		if h == end {
			break
		}
	}
	return c.blocksAt(ctx, heights)
}

// blocksAt fetches the blocks at heights, Config.BatchSize per JSON-RPC
// batch, and remembers their block times.
func (c *Client) blocksAt(ctx context.Context, heights []uint64) ([]*mapper.RawBlock, error) {
	raw := make([]blockResult, len(heights))
	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < len(heights); lo += c.cfg.BatchSize {
		hi := min(lo+c.cfg.BatchSize, len(heights))
		g.Go(func() error {
			elems := make([]rpc.BatchElem, hi-lo)
			for i := range elems {
				elems[i] = rpc.BatchElem{
					Method: "block",
					Args:   []interface{}{strconv.FormatUint(heights[lo+i], 10)},
					Result: &raw[lo+i],
				}
			}
			if err := c.batch(gctx, "block", elems); err != nil {
				return fmt.Errorf("blocks %d-%d: %w", heights[lo], heights[hi-1], err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	blocks := make([]*mapper.RawBlock, len(heights))
	for i := range raw {
		blocks[i] = &raw[i]
		c.rememberTime(heights[i], blocks[i])
	}
	return blocks, nil
}

// rememberTime caches the block time of b. Malformed blocks are left to the
// mapper to report.
func (c *Client) rememberTime(height uint64, b *mapper.RawBlock) {
	if b.Block == nil || b.Block.Header == nil {
		return
	}
	ts, err := mapper.ParseTimestamp(b.Block.Header.Time)
	if err != nil {
		return
	}
	c.times.Add(height, ts)
}

// FetchTransactionsAndEvents returns transaction items and their event items
// for every transaction included in [start, end].
func (c *Client) FetchTransactionsAndEvents(ctx context.Context, start, end uint64) ([]types.Item, []types.Item, error) {
	if start > end {
		return nil, nil, fmt.Errorf("invalid range [%d, %d]", start, end)
	}
	results, err := c.searchTxs(ctx, start, end)
	if err != nil {
		return nil, nil, err
	}
	if len(results) == 0 {
		return nil, nil, nil
	}

	times, err := c.blockTimes(ctx, results)
	if err != nil {
		return nil, nil, err
	}

	txs := make([]types.Item, 0, len(results))
	var events []types.Item
	for _, r := range results {
		height, err := strconv.ParseInt(r.Height, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("tx %s: height %q: %w", r.Hash, r.Height, err)
		}
		ts := times[height]
		hash := utils.LowerHex(r.Hash)
		tx := types.Item{
			types.FieldType:             string(types.EntityTransaction),
			types.FieldHash:             hash,
			types.FieldBlockNumber:      height,
			types.FieldBlockTimestamp:   ts,
			types.FieldTransactionIndex: r.Index,
			"code":                      r.TxResult.Code,
			"codespace":                 r.TxResult.Codespace,
			"gas_wanted":                parseInt(r.TxResult.GasWanted),
			"gas_used":                  parseInt(r.TxResult.GasUsed),
		}
		if from := firstAttribute(r.TxResult.Events, "message", "sender"); from != "" {
			tx[types.FieldFromAddress] = utils.LowerHex(from)
		}
		if to := firstAttribute(r.TxResult.Events, "transfer", "recipient"); to != "" {
			tx[types.FieldToAddress] = utils.LowerHex(to)
		}
		txs = append(txs, tx)

		for i, ev := range r.TxResult.Events {
			events = append(events, eventItem(ev, hash, height, ts, r.Index, int64(i)))
		}
	}
	return txs, events, nil
}

// searchTxs pages through tx_search for the range.
func (c *Client) searchTxs(ctx context.Context, start, end uint64) ([]txResult, error) {
	query := fmt.Sprintf("tx.height>=%d AND tx.height<=%d", start, end)
	var all []txResult
	for page := 1; ; page++ {
		var res txSearchResult
		// query, prove, page, per_page, order_by
		err := c.call(ctx, "tx_search", &res, query, false, strconv.Itoa(page), strconv.Itoa(c.cfg.PerPage), "asc")
		if err != nil {
			return nil, fmt.Errorf("tx_search [%d, %d] page %d: %w", start, end, page, err)
		}
		all = append(all, res.Txs...)

		total, err := strconv.Atoi(res.TotalCount)
		if err != nil {
			return nil, fmt.Errorf("tx_search: total_count %q: %w", res.TotalCount, err)
		}
		if len(res.Txs) == 0 || len(all) >= total {
			break
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		hi, _ := strconv.ParseInt(all[i].Height, 10, 64)
		hj, _ := strconv.ParseInt(all[j].Height, 10, 64)
		if hi != hj {
			return hi < hj
		}
		return all[i].Index < all[j].Index
	})
	return all, nil
}

// blockTimes resolves the block time of every height the transactions were
// included at. Heights already seen by FetchBlocks are not fetched again.
func (c *Client) blockTimes(ctx context.Context, txs []txResult) (map[int64]int64, error) {
	times := make(map[int64]int64)
	var missing []uint64
	for _, r := range txs {
		h, err := strconv.ParseInt(r.Height, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("tx %s: height %q: %w", r.Hash, r.Height, err)
		}
		if _, ok := times[h]; ok {
			continue
		}
		if v, ok := c.times.Get(uint64(h)); ok {
			times[h] = v.(int64)
			continue
		}
		times[h] = 0
		missing = append(missing, uint64(h))
	}
	if len(missing) == 0 {
		return times, nil
	}

	blocks, err := c.blocksAt(ctx, missing)
	if err != nil {
		return nil, err
	}
	for i, b := range blocks {
		h := missing[i]
		if b.Block == nil || b.Block.Header == nil {
			return nil, fmt.Errorf("block %d: %w: missing block.header", h, mapper.ErrMapping)
		}
		ts, err := mapper.ParseTimestamp(b.Block.Header.Time)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", h, err)
		}
		times[int64(h)] = ts
	}
	return times, nil
}

func eventItem(ev event, txHash string, height, ts, txIndex, logIndex int64) types.Item {
	attrs := make([]map[string]any, 0, len(ev.Attributes))
	item := types.Item{
		types.FieldType:           string(types.EntityLog),
		types.FieldBlockNumber:    height,
		types.FieldBlockTimestamp: ts,
		types.FieldTxIndex:        txIndex,
		types.FieldLogIndex:       logIndex,
		types.FieldTxHash:         txHash,
		types.FieldEventType:      ev.Type,
	}
	for _, a := range ev.Attributes {
		attrs = append(attrs, map[string]any{"key": a.Key, "value": a.Value})
		if a.Key == "_contract_address" || (a.Key == types.FieldContractAddress && item[types.FieldContractAddress] == nil) {
			item[types.FieldContractAddress] = utils.LowerHex(a.Value)
		}
	}
	item[types.FieldAttributes] = attrs
	return item
}

func firstAttribute(events []event, eventType, key string) string {
	for _, ev := range events {
		if ev.Type != eventType {
			continue
		}
		for _, a := range ev.Attributes {
			if a.Key == key && strings.TrimSpace(a.Value) != "" {
				return a.Value
			}
		}
	}
	return ""
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
