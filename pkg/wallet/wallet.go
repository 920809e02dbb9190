// Package wallet reduces transaction flow into per-address activity deltas.
package wallet

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cosmosetl/cosmos-indexer/pkg/types"
	"github.com/cosmosetl/cosmos-indexer/pkg/utils"
)

var ErrInvalidTransaction = errors.New("transaction cannot contribute to wallet activity")

// Wallet is the durable per-address activity summary.
// CreatedAt <= LastUpdatedAt and TransactionNumber never decreases.
type Wallet struct {
	Address                  string `bson:"address" json:"address"`
	TransactionNumber        int64  `bson:"transaction_number" json:"transaction_number"`
	CreatedAt                int64  `bson:"created_at" json:"created_at"`
	CreatedAtBlockNumber     int64  `bson:"created_at_block_number" json:"created_at_block_number"`
	LastUpdatedAt            int64  `bson:"last_updated_at" json:"last_updated_at"`
	LastUpdatedAtBlockNumber int64  `bson:"last_updated_at_block_number" json:"last_updated_at_block_number"`
}

// Delta is the batch-local aggregate of one address's activity.
type Delta struct {
	Address                  string
	CreatedAt                int64
	CreatedAtBlockNumber     int64
	LastUpdatedAt            int64
	LastUpdatedAtBlockNumber int64
	// TransactionNumber counts distinct transactions touching Address in the batch.
	TransactionNumber int64
	// Transactions holds the lower-cased hashes counted in TransactionNumber.
	Transactions map[string]struct{}
}

// TransactionHashes returns the counted hashes in sorted order.
func (d *Delta) TransactionHashes() []string {
	hashes := make([]string, 0, len(d.Transactions))
	for h := range d.Transactions {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes
}

func (d *Delta) observe(hash string, ts, height int64) {
	if _, seen := d.Transactions[hash]; seen {
		return
	}
	d.Transactions[hash] = struct{}{}
	d.TransactionNumber++
	d.CreatedAt = min(d.CreatedAt, ts)
	d.CreatedAtBlockNumber = min(d.CreatedAtBlockNumber, height)
	d.LastUpdatedAt = max(d.LastUpdatedAt, ts)
	d.LastUpdatedAtBlockNumber = max(d.LastUpdatedAtBlockNumber, height)
}

// Accumulator folds transaction items into per-address deltas.
// It is not safe for concurrent use.
type Accumulator struct {
	deltas map[string]*Delta
	order  []string
}

func NewAccumulator() *Accumulator {
	return &Accumulator{deltas: make(map[string]*Delta)}
}

// AddTransaction contributes one transaction to the from and to addresses.
// A transaction is counted at most once per address, so a self-transfer
// counts once and a replayed transaction within the batch is ignored.
// Empty addresses (e.g. no recipient) are skipped.
func (a *Accumulator) AddTransaction(item types.Item) error {
	hash, ok := item.String(types.FieldHash)
	if !ok || hash == "" {
		return fmt.Errorf("%w: missing %s", ErrInvalidTransaction, types.FieldHash)
	}
	ts, ok := item.Int64(types.FieldBlockTimestamp)
	if !ok {
		return fmt.Errorf("%w: %s has no %s", ErrInvalidTransaction, hash, types.FieldBlockTimestamp)
	}
	height, ok := item.Int64(types.FieldBlockNumber)
	if !ok {
		return fmt.Errorf("%w: %s has no %s", ErrInvalidTransaction, hash, types.FieldBlockNumber)
	}
	hash = utils.LowerHex(hash)

	for _, field := range []string{types.FieldFromAddress, types.FieldToAddress} {
		addr, _ := item.String(field)
		if addr == "" {
			continue
		}
		a.delta(addr, ts, height).observe(hash, ts, height)
	}
	return nil
}

func (a *Accumulator) delta(addr string, ts, height int64) *Delta {
	d, ok := a.deltas[addr]
	if !ok {
		d = &Delta{
			Address:                  addr,
			CreatedAt:                ts,
			CreatedAtBlockNumber:     height,
			LastUpdatedAt:            ts,
			LastUpdatedAtBlockNumber: height,
			Transactions:             make(map[string]struct{}),
		}
		a.deltas[addr] = d
		a.order = append(a.order, addr)
	}
	return d
}

// Len returns the number of addresses seen.
func (a *Accumulator) Len() int {
	return len(a.order)
}

// Get returns the delta for addr, if any.
func (a *Accumulator) Get(addr string) (*Delta, bool) {
	d, ok := a.deltas[addr]
	return d, ok
}

// Deltas returns the accumulated deltas in first-seen order.
func (a *Accumulator) Deltas() []*Delta {
	out := make([]*Delta, 0, len(a.order))
	for _, addr := range a.order {
		out = append(out, a.deltas[addr])
	}
	return out
}
