package types

import "fmt"

// EntityType is the declared "type" tag carried by every raw item.
type EntityType string

const (
	EntityBlock       EntityType = "block"
	EntityTransaction EntityType = "transaction"
	EntityLog         EntityType = "log"
	EntityReceipt     EntityType = "receipt"
	EntityContract    EntityType = "contract"
	EntityToken       EntityType = "token"
)

// AllEntityTypes lists every entity category in write-priority order.
var AllEntityTypes = []EntityType{
	EntityBlock,
	EntityTransaction,
	EntityLog,
	EntityReceipt,
	EntityContract,
	EntityToken,
}

// ParseEntityType validates s against the known entity categories.
func ParseEntityType(s string) (EntityType, error) {
	for _, t := range AllEntityTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// EntitySet is the set of entity types enabled for an export.
type EntitySet map[EntityType]struct{}

// NewEntitySet builds a set from the given types.
func NewEntitySet(ts ...EntityType) EntitySet {
	s := make(EntitySet, len(ts))
	for _, t := range ts {
		s[t] = struct{}{}
	}
	return s
}

// ParseEntitySet parses a list of type names, rejecting unknown ones.
func ParseEntitySet(names []string) (EntitySet, error) {
	s := make(EntitySet, len(names))
	for _, n := range names {
		t, err := ParseEntityType(n)
		if err != nil {
			return nil, err
		}
		s[t] = struct{}{}
	}
	return s, nil
}

func (s EntitySet) Has(t EntityType) bool {
	_, ok := s[t]
	return ok
}
