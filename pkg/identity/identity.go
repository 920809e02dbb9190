// Package identity derives the deterministic document identity of an item
// from its natural key. The same item always yields the same id, which is
// what makes replaying a height range an idempotent upsert.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/cosmosetl/cosmos-indexer/pkg/types"
	"github.com/cosmosetl/cosmos-indexer/pkg/utils"
)

var (
	ErrMissingNaturalKey = errors.New("item is missing its natural key")
	ErrUnknownType       = errors.New("item has no known type")
)

// ItemTimestampLayout is the textual form of item_timestamp.
const ItemTimestampLayout = "2006-01-02T15:04:05Z"

// AssignID derives the id of item from its natural key:
//
//	block        block_<lower(hash)>, or block_<number> when the hash is absent
//	transaction  transaction_<lower(hash)>
//	log          <block_number>_<tx_index>_<log_index>
//	receipt      receipt_<lower(transaction_hash)>
//	contract     contract_<lower(address)>
//	token        token_<lower(address)>
//
// The item is not modified.
func AssignID(item types.Item) (string, error) {
	t := item.Type()
	switch t {
	case types.EntityBlock:
		if h, ok := nonEmpty(item, types.FieldHash); ok {
			return "block_" + utils.LowerHex(h), nil
		}
		n, ok := item.String(types.FieldNumber)
		if !ok || n == "" {
			return "", missing(t, types.FieldHash, types.FieldNumber)
		}
		return "block_" + n, nil
	case types.EntityTransaction:
		return prefixed(item, t, "transaction_", types.FieldHash)
	case types.EntityLog:
		parts := make([]string, 0, 3)
		for _, f := range []string{types.FieldBlockNumber, types.FieldTxIndex, types.FieldLogIndex} {
			v, ok := item.String(f)
			if !ok || v == "" {
				return "", missing(t, f)
			}
			parts = append(parts, v)
		}
		return parts[0] + "_" + parts[1] + "_" + parts[2], nil
	case types.EntityReceipt:
		if h, ok := nonEmpty(item, types.FieldTxHash); ok {
			return "receipt_" + utils.LowerHex(h), nil
		}
		return prefixed(item, t, "receipt_", types.FieldHash)
	case types.EntityContract:
		return prefixed(item, t, "contract_", types.FieldAddress)
	case types.EntityToken:
		return prefixed(item, t, "token_", types.FieldAddress)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

// EnsureID sets the item's id if it does not carry one yet and returns it.
func EnsureID(item types.Item) (string, error) {
	if id, ok := item.ID(); ok {
		return id, nil
	}
	id, err := AssignID(item)
	if err != nil {
		return "", err
	}
	item[types.FieldID] = id
	return id, nil
}

// PartitionField is the field that, together with the id, keys an upsert.
// Receipts are keyed by id alone and return false.
func PartitionField(t types.EntityType) (string, bool) {
	switch t {
	case types.EntityBlock:
		return types.FieldNumber, true
	case types.EntityTransaction, types.EntityLog:
		return types.FieldBlockNumber, true
	default:
		return "", false
	}
}

// ItemTimestamp formats the block time an item belongs to.
func ItemTimestamp(item types.Item) (string, bool) {
	field := types.FieldBlockTimestamp
	if item.Type() == types.EntityBlock {
		field = types.FieldTimestamp
	}
	secs, ok := item.Int64(field)
	if !ok {
		return "", false
	}
	return time.Unix(secs, 0).UTC().Format(ItemTimestampLayout), true
}

func nonEmpty(item types.Item, field string) (string, bool) {
	s, ok := item.String(field)
	return s, ok && s != ""
}

func prefixed(item types.Item, t types.EntityType, prefix, field string) (string, error) {
	s, ok := nonEmpty(item, field)
	if !ok {
		return "", missing(t, field)
	}
	return prefix + utils.LowerHex(s), nil
}

func missing(t types.EntityType, fields ...string) error {
	return fmt.Errorf("%w: %s requires %v", ErrMissingNaturalKey, t, fields)
}
