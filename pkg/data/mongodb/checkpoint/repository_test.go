package checkpoint

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/cosmosetl/cosmos-indexer/pkg/mongodb"
	"github.com/cosmosetl/cosmos-indexer/pkg/mongodb/mocks"
	"github.com/cosmosetl/cosmos-indexer/pkg/mongodb/testutils"
	"github.com/cosmosetl/cosmos-indexer/pkg/types"
)

func TestRepository_GetOrCreate(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	db := testutils.NewMemoryDatabase("test")
	repo := NewRepository(db)

	c, err := repo.GetOrCreate(ctx, "streaming_collector")
	require.NoError(t, err)
	assert.Equal(t, "streaming_collector", c.ID)
	_, ok := c.Height()
	assert.False(t, ok)

	doc, ok := db.Doc(types.CollectionCollectors, "streaming_collector")
	require.True(t, ok)
	assert.Equal(t, "streaming_collector", doc["id"])

	// Second access reads the same record.
	again, err := repo.GetOrCreate(ctx, "streaming_collector")
	require.NoError(t, err)
	assert.Equal(t, c, again)
	assert.Equal(t, 1, db.Count(types.CollectionCollectors))
}

func TestRepository_AdvanceIsMonotonic(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	db := testutils.NewMemoryDatabase("test")
	repo := NewRepository(db)

	require.NoError(t, repo.Advance(ctx, "job", 100))
	require.NoError(t, repo.Advance(ctx, "job", 90))

	c, err := repo.GetOrCreate(ctx, "job")
	require.NoError(t, err)
	h, ok := c.Height()
	require.True(t, ok)
	assert.Equal(t, uint64(100), h)

	require.NoError(t, repo.Advance(ctx, "job", 120))
	c, err = repo.GetOrCreate(ctx, "job")
	require.NoError(t, err)
	h, _ = c.Height()
	assert.Equal(t, uint64(120), h)
}

func TestRepository_Rewind(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	db := testutils.NewMemoryDatabase("test")
	repo := NewRepository(db)

	require.NoError(t, repo.Advance(ctx, "job", 500))
	require.NoError(t, repo.Rewind(ctx, "job", 10))

	c, err := repo.GetOrCreate(ctx, "job")
	require.NoError(t, err)
	h, ok := c.Height()
	require.True(t, ok)
	assert.Equal(t, uint64(10), h)
	assert.NotZero(t, c.UpdatedAt)
}

func TestRepository_Delete(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	db := testutils.NewMemoryDatabase("test")
	repo := NewRepository(db)

	require.NoError(t, repo.Advance(ctx, "job", 5))
	require.NoError(t, repo.Delete(ctx, "job"))
	assert.Zero(t, db.Count(types.CollectionCollectors))

	// Deleting an absent collector is not an error.
	require.NoError(t, repo.Delete(ctx, "job"))
}

func TestRepository_HeightOverflow(t *testing.T) {
	t.Parallel()
	repo := NewRepository(testutils.NewMemoryDatabase("test"))
	require.ErrorIs(t, repo.Advance(t.Context(), "job", math.MaxUint64), ErrHeightOverflow)
}

func TestRepository_AdvanceUpdate(t *testing.T) {
	t.Parallel()
	coll := &mocks.MockCollection{}
	db := &mocks.MockDatabase{}
	db.On("Collection", types.CollectionCollectors).Return(coll)

	now := time.Unix(1700000000, 0)
	coll.On("UpdateOne", mock.Anything, bson.M{"_id": "job"}, bson.M{
		"$set":         bson.M{"updated_at": now.Unix()},
		"$setOnInsert": bson.M{"id": "job"},
		"$max":         bson.M{"last_updated_at_block_number": int64(77)},
	}, mock.Anything).Return(&mongo.UpdateResult{MatchedCount: 1}, nil).Once()

	repo := NewRepository(db).(*repository)
	repo.now = func() time.Time { return now }
	require.NoError(t, repo.Advance(t.Context(), "job", 77))
	coll.AssertExpectations(t)
}

func TestRepository_ErrorsClassified(t *testing.T) {
	t.Parallel()
	db := testutils.NewMemoryDatabase("test")
	db.FailWith(types.CollectionCollectors, mongo.CommandError{Code: 6, Labels: []string{"NetworkError"}})
	repo := NewRepository(db)

	_, err := repo.GetOrCreate(t.Context(), "job")
	require.ErrorIs(t, err, mongodb.ErrConnectivity)
	require.ErrorIs(t, repo.Advance(t.Context(), "job", 1), mongodb.ErrConnectivity)
	require.ErrorIs(t, repo.Delete(t.Context(), "job"), mongodb.ErrConnectivity)
}

func TestCheckpointer(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	cp := NewCheckpointer(NewRepository(testutils.NewMemoryDatabase("test")))

	_, exists, err := cp.Read(ctx, "job")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, cp.Write(ctx, "job", 40))
	require.NoError(t, cp.Write(ctx, "job", 30))

	h, exists, err := cp.Read(ctx, "job")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, uint64(40), h)
}

func TestCheckpointer_ReadError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	db := testutils.NewMemoryDatabase("test")
	db.FailWith(types.CollectionCollectors, boom)

	_, _, err := NewCheckpointer(NewRepository(db)).Read(t.Context(), "job")
	require.ErrorIs(t, err, boom)
}

func TestCollector_Height(t *testing.T) {
	t.Parallel()
	var nilCollector *Collector
	_, ok := nilCollector.Height()
	assert.False(t, ok)

	h := int64(9)
	got, ok := (&Collector{ID: "x", LastUpdatedAtBlockNumber: &h}).Height()
	assert.True(t, ok)
	assert.Equal(t, uint64(9), got)
}
