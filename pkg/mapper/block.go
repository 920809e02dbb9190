package mapper

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cosmosetl/cosmos-indexer/pkg/types"
	"github.com/cosmosetl/cosmos-indexer/pkg/utils"
)

// Sentinel errors for block mapping.
var (
	// ErrMapping reports a raw payload missing required structure.
	ErrMapping = errors.New("malformed raw payload")
	// ErrParse reports a field present in an unexpected format.
	ErrParse = errors.New("unexpected field format")
)

// RawBlock is the subset of a Tendermint /block result consumed by MapBlock.
type RawBlock struct {
	BlockID *RawBlockID   `json:"block_id"`
	Block   *RawBlockBody `json:"block"`
}

type RawBlockID struct {
	Hash string `json:"hash"`
}

type RawBlockBody struct {
	Header *RawHeader `json:"header"`
	Data   *RawData   `json:"data"`
}

type RawHeader struct {
	Height          string      `json:"height"`
	Time            string      `json:"time"`
	LastBlockID     *RawBlockID `json:"last_block_id"`
	DataHash        string      `json:"data_hash"`
	ProposerAddress string      `json:"proposer_address"`
}

type RawData struct {
	Txs []string `json:"txs"`
}

// Block is the canonical in-memory block entity.
type Block struct {
	Height        int64
	Hash          string
	LastBlockHash string
	DataHash      string
	Proposer      string
	NumTxs        int
	Time          string
}

// DecodeBlock unmarshals a raw /block result and maps it.
func DecodeBlock(data []byte) (*Block, error) {
	var raw RawBlock
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMapping, err)
	}
	return MapBlock(&raw)
}

// MapBlock extracts the canonical block fields from a raw payload.
func MapBlock(raw *RawBlock) (*Block, error) {
	if raw == nil || raw.Block == nil {
		return nil, fmt.Errorf("%w: missing block", ErrMapping)
	}
	if raw.Block.Header == nil {
		return nil, fmt.Errorf("%w: missing block.header", ErrMapping)
	}
	if raw.BlockID == nil {
		return nil, fmt.Errorf("%w: missing block_id", ErrMapping)
	}
	h := raw.Block.Header
	if h.Height == "" {
		return nil, fmt.Errorf("%w: missing block.header.height", ErrMapping)
	}
	height, err := strconv.ParseInt(h.Height, 10, 64)
	if err != nil || height < 0 {
		return nil, fmt.Errorf("%w: block height %q", ErrParse, h.Height)
	}
	if strings.TrimSpace(h.Time) == "" {
		return nil, fmt.Errorf("%w: missing block.header.time", ErrMapping)
	}

	b := &Block{
		Height:   height,
		Hash:     raw.BlockID.Hash,
		DataHash: h.DataHash,
		Proposer: h.ProposerAddress,
		Time:     h.Time,
	}
	if h.LastBlockID != nil {
		b.LastBlockHash = h.LastBlockID.Hash
	}
	if raw.Block.Data != nil {
		b.NumTxs = len(raw.Block.Data.Txs)
	}
	return b, nil
}

// ToItem flattens b into a persistable block item. Hashes and addresses are
// lower-cased and the textual time is parsed into epoch seconds.
func ToItem(b *Block) (types.Item, error) {
	ts, err := ParseTimestamp(b.Time)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", b.Height, err)
	}
	return types.Item{
		types.FieldType:      string(types.EntityBlock),
		types.FieldNumber:    b.Height,
		types.FieldHash:      utils.LowerHex(b.Hash),
		"last_block_hash":    utils.LowerHex(b.LastBlockHash),
		"data_hash":          utils.LowerHex(b.DataHash),
		"proposer":           utils.LowerHex(b.Proposer),
		"num_txs":            b.NumTxs,
		"datetime":           b.Time,
		types.FieldTimestamp: ts,
	}, nil
}
