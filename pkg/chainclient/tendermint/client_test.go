package tendermint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ava-labs/coreth/rpc"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cosmosetl/cosmos-indexer/pkg/metrics"
	"github.com/cosmosetl/cosmos-indexer/pkg/types"
)

// fakeNode serves a minimal CometBFT JSON-RPC surface, including batches.
type fakeNode struct {
	head     uint64
	txs      []map[string]any
	failures atomic.Int32 // 503 responses to return before succeeding
	calls    atomic.Int32 // HTTP requests
	blocks   atomic.Int32 // block lookups across all requests
	rpcError bool
}

type nodeRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.calls.Add(1)
	if n.failures.Load() > 0 {
		n.failures.Add(-1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if n.rpcError {
		var req nodeRequest
		_ = json.Unmarshal(body, &req)
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]any{"code": -32603, "message": "Internal error", "data": "height must be less than or equal to the current blockchain height"},
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		var reqs []nodeRequest
		if err := json.Unmarshal(body, &reqs); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resps := make([]map[string]any, 0, len(reqs))
		for _, req := range reqs {
			resps = append(resps, n.handle(req))
		}
		_ = json.NewEncoder(w).Encode(resps)
		return
	}

	var req nodeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(n.handle(req))
}

func (n *fakeNode) handle(req nodeRequest) map[string]any {
	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	param := func(i int) string {
		var s string
		if i < len(req.Params) {
			_ = json.Unmarshal(req.Params[i], &s)
		}
		return s
	}

	switch req.Method {
	case "status":
		resp["result"] = map[string]any{
			"sync_info": map[string]any{"latest_block_height": strconv.FormatUint(n.head, 10)},
		}
	case "block":
		n.blocks.Add(1)
		h := param(0)
		height, _ := strconv.ParseInt(h, 10, 64)
		if uint64(height) > n.head {
			resp["error"] = map[string]any{"code": -32603, "message": "Internal error", "data": "height must be less than or equal to the current blockchain height"}
			return resp
		}
		resp["result"] = map[string]any{
			"block_id": map[string]any{"hash": fmt.Sprintf("0xAA%d", height)},
			"block": map[string]any{
				"header": map[string]any{
					"height":           h,
					"time":             time.Unix(height*10, 0).UTC().Format("2006-01-02T15:04:05.000000Z"),
					"last_block_id":    map[string]any{"hash": "0xPREV"},
					"data_hash":        "0xDATA",
					"proposer_address": "0xPROPOSER",
				},
				"data": map[string]any{"txs": []string{}},
			},
		}
	case "tx_search":
		// query, prove, page, per_page, order_by
		page, _ := strconv.Atoi(param(2))
		perPage, _ := strconv.Atoi(param(3))
		from := min((page-1)*perPage, len(n.txs))
		to := min(from+perPage, len(n.txs))
		resp["result"] = map[string]any{
			"txs":         n.txs[from:to],
			"total_count": strconv.Itoa(len(n.txs)),
		}
	default:
		resp["error"] = map[string]any{"code": -32601, "message": "Method not found"}
	}
	return resp
}

func tx(hash string, height, index int) map[string]any {
	return map[string]any{
		"hash":   hash,
		"height": strconv.Itoa(height),
		"index":  index,
		"tx_result": map[string]any{
			"code":       0,
			"gas_wanted": "200000",
			"gas_used":   "81234",
			"events": []map[string]any{
				{"type": "message", "attributes": []map[string]any{{"key": "sender", "value": "Cosmos1From"}}},
				{"type": "transfer", "attributes": []map[string]any{{"key": "recipient", "value": "cosmos1to"}, {"key": "amount", "value": "10uatom"}}},
				{"type": "instantiate", "attributes": []map[string]any{{"key": "_contract_address", "value": "Cosmos1Contract"}}},
			},
		},
	}
}

func newTestClient(t *testing.T, node *fakeNode, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(srv.URL)
	cfg.MaxRetries = 3
	cfg.PerPage = 2
	cfg.BatchSize = 2
	opts = append([]Option{WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} })}, opts...)
	c, err := New(t.Context(), cfg, zap.NewNop().Sugar(), opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "empty url", mutate: func(c *Config) { c.URL = "" }, wantErr: "invalid url"},
		{name: "zero concurrency", mutate: func(c *Config) { c.MaxConcurrency = 0 }, wantErr: "invalid max concurrency"},
		{name: "page too large", mutate: func(c *Config) { c.PerPage = 101 }, wantErr: "invalid page size"},
		{name: "zero batch size", mutate: func(c *Config) { c.BatchSize = 0 }, wantErr: "invalid batch size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig("http://localhost:26657")
			tt.mutate(&cfg)
			_, err := New(t.Context(), cfg, zap.NewNop().Sugar())
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestClient_CurrentHeight(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &fakeNode{head: 12345})
	h, err := c.CurrentHeight(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), h)
}

func TestClient_FetchBlocks(t *testing.T) {
	t.Parallel()

	node := &fakeNode{head: 200}
	c := newTestClient(t, node)
	blocks, err := c.FetchBlocks(t.Context(), 100, 104)
	require.NoError(t, err)
	require.Len(t, blocks, 5)
	for i, b := range blocks {
		require.NotNil(t, b.Block)
		assert.Equal(t, strconv.Itoa(100+i), b.Block.Header.Height)
	}
	// five heights in batches of two
	assert.Equal(t, int32(3), node.calls.Load())
	assert.Equal(t, int32(5), node.blocks.Load())

	_, err = c.FetchBlocks(t.Context(), 5, 4)
	require.ErrorContains(t, err, "invalid range")
}

func TestClient_FetchTransactionsAndEvents(t *testing.T) {
	t.Parallel()

	node := &fakeNode{
		head: 200,
		txs: []map[string]any{
			tx("0xBB", 100, 0),
			tx("0xCC", 100, 1),
			tx("0xDD", 101, 0),
		},
	}
	c := newTestClient(t, node)

	txs, events, err := c.FetchTransactionsAndEvents(t.Context(), 100, 101)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	require.Len(t, events, 9)

	first := txs[0]
	assert.Equal(t, string(types.EntityTransaction), first[types.FieldType])
	assert.Equal(t, "0xbb", first[types.FieldHash])
	assert.Equal(t, int64(100), first[types.FieldBlockNumber])
	assert.Equal(t, int64(1000), first[types.FieldBlockTimestamp])
	assert.Equal(t, "cosmos1from", first[types.FieldFromAddress])
	assert.Equal(t, "cosmos1to", first[types.FieldToAddress])
	assert.Equal(t, int64(81234), first["gas_used"])
	assert.Equal(t, int64(1010), txs[2][types.FieldBlockTimestamp])

	ev := events[2]
	assert.Equal(t, string(types.EntityLog), ev[types.FieldType])
	assert.Equal(t, "instantiate", ev[types.FieldEventType])
	assert.Equal(t, "cosmos1contract", ev[types.FieldContractAddress])
	assert.Equal(t, "0xbb", ev[types.FieldTxHash])
	assert.Equal(t, int64(2), ev[types.FieldLogIndex])
	assert.NotContains(t, events[0], types.FieldContractAddress)
}

func TestClient_FetchBlocks_BeyondHead(t *testing.T) {
	t.Parallel()

	node := &fakeNode{head: 101}
	c := newTestClient(t, node)

	_, err := c.FetchBlocks(t.Context(), 101, 102)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32603, rpcErr.Code)
	assert.Contains(t, rpcErr.Data, "current blockchain height")
	assert.Equal(t, int32(1), node.calls.Load())
}

func TestClient_FetchTransactionsAndEvents_ReusesBlockTimes(t *testing.T) {
	t.Parallel()

	node := &fakeNode{
		head: 200,
		txs: []map[string]any{
			tx("0xBB", 100, 0),
			tx("0xCC", 101, 0),
		},
	}
	c := newTestClient(t, node)

	_, err := c.FetchBlocks(t.Context(), 100, 101)
	require.NoError(t, err)
	require.Equal(t, int32(2), node.blocks.Load())

	txs, _, err := c.FetchTransactionsAndEvents(t.Context(), 100, 101)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(1000), txs[0][types.FieldBlockTimestamp])
	assert.Equal(t, int64(1010), txs[1][types.FieldBlockTimestamp])
	assert.Equal(t, int32(2), node.blocks.Load())
}

func TestClient_FetchTransactionsAndEvents_Empty(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &fakeNode{head: 200})
	txs, events, err := c.FetchTransactionsAndEvents(t.Context(), 100, 110)
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.Empty(t, events)
}

func TestClient_RetriesUnavailable(t *testing.T) {
	t.Parallel()

	node := &fakeNode{head: 7}
	node.failures.Store(2)
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	c := newTestClient(t, node, WithMetrics(m))

	h, err := c.CurrentHeight(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), h)
	assert.Equal(t, int32(3), node.calls.Load())

	count, err := testutil.GatherAndCount(reg, "cosmosetl_rpc_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestClient_RetriesExhausted(t *testing.T) {
	t.Parallel()

	node := &fakeNode{head: 7}
	node.failures.Store(100)
	c := newTestClient(t, node)

	_, err := c.CurrentHeight(t.Context())
	var httpErr rpc.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.Equal(t, int32(4), node.calls.Load())
}

func TestClient_BatchRetriesUnavailable(t *testing.T) {
	t.Parallel()

	node := &fakeNode{head: 200}
	node.failures.Store(1)
	c := newTestClient(t, node)

	blocks, err := c.FetchBlocks(t.Context(), 10, 11)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, int32(2), node.calls.Load())
	assert.Equal(t, int32(2), node.blocks.Load())
}

func TestClient_RPCErrorNotRetried(t *testing.T) {
	t.Parallel()

	node := &fakeNode{rpcError: true}
	c := newTestClient(t, node)

	_, err := c.CurrentHeight(t.Context())
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32603, rpcErr.Code)
	assert.Equal(t, int32(1), node.calls.Load())
}
