package types

import "github.com/cosmosetl/cosmos-indexer/pkg/utils"

// Well-known item fields.
const (
	FieldType           = "type"
	FieldID             = "_id"
	FieldItemTimestamp  = "item_timestamp"
	FieldNumber         = "number"
	FieldHash           = "hash"
	FieldTimestamp      = "timestamp"
	FieldBlockNumber    = "block_number"
	FieldBlockTimestamp = "block_timestamp"
	FieldTxIndex        = "tx_index"
	FieldLogIndex       = "log_index"
	FieldTxHash         = "transaction_hash"
	FieldFromAddress    = "from_address"
	FieldToAddress      = "to_address"
	FieldAddress        = "address"

	FieldTransactionIndex = "transaction_index"
	FieldEventType        = "event_type"
	FieldAttributes       = "attributes"
	FieldContractAddress  = "contract_address"
)

// Item is an untyped record produced by an extractor. Once an id has been
// assigned under FieldID it is ready to be persisted.
type Item map[string]any

// Type returns the declared entity type of the item.
func (it Item) Type() EntityType {
	s, _ := it[FieldType].(string)
	return EntityType(s)
}

// ID returns the assigned identity, if any.
func (it Item) ID() (string, bool) {
	s, ok := it[FieldID].(string)
	return s, ok && s != ""
}

// String returns the value at key as a string. Numbers are formatted in base 10.
func (it Item) String(key string) (string, bool) {
	return utils.ToString(it[key])
}

// Int64 returns the value at key as an int64.
func (it Item) Int64(key string) (int64, bool) {
	return utils.ToInt64(it[key])
}

// Clone returns a shallow copy of the item.
func (it Item) Clone() Item {
	c := make(Item, len(it))
	for k, v := range it {
		c[k] = v
	}
	return c
}
