package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	require.NoError(t, r.Validate())

	name, err := r.Collection(EntityLog)
	require.NoError(t, err)
	assert.Equal(t, "logs", name)

	_, err = r.Collection("trace")
	require.ErrorIs(t, err, ErrUnregisteredType)
}

func TestRegistry_Validate(t *testing.T) {
	full := func() map[EntityType]string {
		return map[EntityType]string{
			EntityBlock: "b", EntityTransaction: "t", EntityLog: "l",
			EntityReceipt: "r", EntityContract: "c", EntityToken: "k",
		}
	}

	tests := []struct {
		name   string
		mutate func(m map[EntityType]string)
	}{
		{name: "missing type", mutate: func(m map[EntityType]string) { delete(m, EntityReceipt) }},
		{name: "empty collection", mutate: func(m map[EntityType]string) { m[EntityToken] = "" }},
		{name: "duplicate collection", mutate: func(m map[EntityType]string) { m[EntityToken] = "c" }},
		{name: "unknown type", mutate: func(m map[EntityType]string) { m["trace"] = "traces" }},
		{name: "reserved collection", mutate: func(m map[EntityType]string) { m[EntityToken] = CollectionWallets }},
	}

	require.NoError(t, NewRegistry(full()).Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := full()
			tt.mutate(m)
			require.Error(t, NewRegistry(m).Validate())
		})
	}
}

func TestParseEntitySet(t *testing.T) {
	s, err := ParseEntitySet([]string{"block", "log"})
	require.NoError(t, err)
	assert.True(t, s.Has(EntityBlock))
	assert.True(t, s.Has(EntityLog))
	assert.False(t, s.Has(EntityTransaction))

	_, err = ParseEntitySet([]string{"block", "trace"})
	require.Error(t, err)
}

func TestItemAccessors(t *testing.T) {
	it := Item{"type": "log", "_id": "1_2_3", "block_number": float64(1)}
	assert.Equal(t, EntityLog, it.Type())
	id, ok := it.ID()
	assert.True(t, ok)
	assert.Equal(t, "1_2_3", id)
	n, ok := it.Int64("block_number")
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)

	c := it.Clone()
	c["x"] = 1
	_, has := it["x"]
	assert.False(t, has)
}
