package types

import (
	"errors"
	"fmt"
)

// Collection names outside the entity registry.
const (
	CollectionCollectors         = "collectors"
	CollectionWallets            = "wallets"
	CollectionWalletTransactions = "wallet_transactions"
)

var ErrUnregisteredType = errors.New("entity type has no destination collection")

// Registry maps each entity category to its destination collection.
type Registry struct {
	collections map[EntityType]string
}

// DefaultRegistry returns the registry used by the exporter.
func DefaultRegistry() Registry {
	return NewRegistry(map[EntityType]string{
		EntityBlock:       "blocks",
		EntityTransaction: "transactions",
		EntityLog:         "logs",
		EntityReceipt:     "receipts",
		EntityContract:    "contracts",
		EntityToken:       "tokens",
	})
}

// NewRegistry copies m into a new Registry. Call Validate before use.
func NewRegistry(m map[EntityType]string) Registry {
	c := make(map[EntityType]string, len(m))
	for t, name := range m {
		c[t] = name
	}
	return Registry{collections: c}
}

// Validate checks that every known entity type has a unique, non-empty
// collection and that no unknown type is registered.
func (r Registry) Validate() error {
	reserved := map[string]bool{
		CollectionCollectors:         true,
		CollectionWallets:            true,
		CollectionWalletTransactions: true,
	}
	seen := make(map[string]EntityType, len(r.collections))
	for t, name := range r.collections {
		if _, err := ParseEntityType(string(t)); err != nil {
			return fmt.Errorf("invalid registry: %w", err)
		}
		if name == "" {
			return fmt.Errorf("invalid registry: empty collection for %q", t)
		}
		if reserved[name] {
			return fmt.Errorf("invalid registry: collection %q is reserved", name)
		}
		if other, ok := seen[name]; ok {
			return fmt.Errorf("invalid registry: collection %q used by both %q and %q", name, other, t)
		}
		seen[name] = t
	}
	for _, t := range AllEntityTypes {
		if _, ok := r.collections[t]; !ok {
			return fmt.Errorf("invalid registry: %w: %q", ErrUnregisteredType, t)
		}
	}
	return nil
}

// Collection returns the destination collection for t.
func (r Registry) Collection(t EntityType) (string, error) {
	name, ok := r.collections[t]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnregisteredType, t)
	}
	return name, nil
}
