package tendermint

import (
	"fmt"

	"github.com/cosmosetl/cosmos-indexer/pkg/mapper"
)

// RPCError is an error returned by the node in a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("rpc error %d: %s: %s", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type statusResult struct {
	SyncInfo struct {
		LatestBlockHeight string `json:"latest_block_height"`
		LatestBlockTime   string `json:"latest_block_time"`
		CatchingUp        bool   `json:"catching_up"`
	} `json:"sync_info"`
}

type blockResult = mapper.RawBlock

type txSearchResult struct {
	Txs        []txResult `json:"txs"`
	TotalCount string     `json:"total_count"`
}

type txResult struct {
	Hash     string `json:"hash"`
	Height   string `json:"height"`
	Index    int64  `json:"index"`
	TxResult struct {
		Code      int64   `json:"code"`
		Codespace string  `json:"codespace"`
		Log       string  `json:"log"`
		GasWanted string  `json:"gas_wanted"`
		GasUsed   string  `json:"gas_used"`
		Events    []event `json:"events"`
	} `json:"tx_result"`
}

type event struct {
	Type       string      `json:"type"`
	Attributes []attribute `json:"attributes"`
}

type attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Index bool   `json:"index"`
}
