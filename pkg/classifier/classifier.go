// Package classifier groups a heterogeneous item batch by type, assigning
// identities and optionally deriving wallet deltas in the same pass.
package classifier

import (
	"fmt"

	"github.com/cosmosetl/cosmos-indexer/pkg/identity"
	"github.com/cosmosetl/cosmos-indexer/pkg/types"
	"github.com/cosmosetl/cosmos-indexer/pkg/wallet"
)

// Options controls the optional work done while classifying.
type Options struct {
	// Wallets folds transaction items into wallet deltas.
	Wallets bool
	// Timestamps tags items with item_timestamp when their block time is known.
	Timestamps bool
}

// Result holds the grouped items and, if requested, the wallet deltas.
type Result struct {
	Groups map[types.EntityType][]types.Item
	// Types lists the groups in first-seen order.
	Types   []types.EntityType
	Wallets *wallet.Accumulator
}

// Count returns the number of items of type t.
func (r *Result) Count(t types.EntityType) int {
	return len(r.Groups[t])
}

// Classify assigns each item its id and groups items by declared type,
// preserving input order within a group. Items are updated in place. The
// input may be in any order. An item whose identity cannot be derived fails
// the whole call, since persisting it would break replay safety.
func Classify(items []types.Item, opts Options) (*Result, error) {
	res := &Result{Groups: make(map[types.EntityType][]types.Item)}
	if opts.Wallets {
		res.Wallets = wallet.NewAccumulator()
	}

	for i, item := range items {
		if _, err := identity.EnsureID(item); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if opts.Timestamps {
			if ts, ok := identity.ItemTimestamp(item); ok {
				item[types.FieldItemTimestamp] = ts
			}
		}

		t := item.Type()
		if _, ok := res.Groups[t]; !ok {
			res.Types = append(res.Types, t)
		}
		res.Groups[t] = append(res.Groups[t], item)

		if opts.Wallets && t == types.EntityTransaction {
			if err := res.Wallets.AddTransaction(item); err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
		}
	}
	return res, nil
}
