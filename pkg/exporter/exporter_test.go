package exporter

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/cosmosetl/cosmos-indexer/internal/contractfilter"
	chaintest "github.com/cosmosetl/cosmos-indexer/pkg/chainclient/testutils"
	"github.com/cosmosetl/cosmos-indexer/pkg/data/mongodb/itemrepo"
	"github.com/cosmosetl/cosmos-indexer/pkg/data/mongodb/walletrepo"
	"github.com/cosmosetl/cosmos-indexer/pkg/mapper"
	"github.com/cosmosetl/cosmos-indexer/pkg/metrics"
	"github.com/cosmosetl/cosmos-indexer/pkg/mongodb"
	"github.com/cosmosetl/cosmos-indexer/pkg/mongodb/testutils"
	"github.com/cosmosetl/cosmos-indexer/pkg/types"
	"github.com/cosmosetl/cosmos-indexer/pkg/utils"
)

var allTypes = types.NewEntitySet(
	types.EntityBlock,
	types.EntityTransaction,
	types.EntityLog,
	types.EntityContract,
)

type fixture struct {
	chain   *chaintest.FakeChain
	db      *testutils.MemoryDatabase
	wallets walletrepo.Wallets
	exp     *Exporter
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	chain := chaintest.NewFakeChain()
	db := testutils.NewMemoryDatabase("test")
	log := zap.NewNop().Sugar()
	items, err := itemrepo.NewItems(db, types.DefaultRegistry(), log, nil)
	require.NoError(t, err)
	wallets := walletrepo.NewWallets(db, log, nil)
	return &fixture{
		chain:   chain,
		db:      db,
		wallets: wallets,
		exp:     New(cfg, chain, chain, items, wallets, log, opts...),
	}
}

// spyFilter counts resets.
type spyFilter struct {
	*contractfilter.Memory
	resets int
}

func (f *spyFilter) Reset() {
	f.resets++
	f.Memory.Reset()
}

func TestExportRange_ReplayIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: allTypes})
	f.chain.AddBlock(chaintest.RawBlock(100, "0xAA", 1000))
	f.chain.AddTransactions(chaintest.Transaction("0xBB", "0x1", "0x2", 100, 1000))

	filter := contractfilter.NewMemory()
	require.NoError(t, f.exp.ExportRange(t.Context(), 100, 100, filter))
	require.NoError(t, f.exp.ExportRange(t.Context(), 100, 100, filter))

	assert.Equal(t, 1, f.db.Count("blocks"))
	blk, ok := f.db.Doc("blocks", "block_0xaa")
	require.True(t, ok)
	number, _ := utils.ToInt64(blk[types.FieldNumber])
	assert.Equal(t, int64(100), number)
	assert.Equal(t, "1970-01-01T00:16:40Z", blk[types.FieldItemTimestamp])

	assert.Equal(t, 1, f.db.Count("transactions"))
	_, ok = f.db.Doc("transactions", "transaction_0xbb")
	require.True(t, ok)

	for _, addr := range []string{"0x1", "0x2"} {
		w, err := f.wallets.Get(t.Context(), addr)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), w.CreatedAt, addr)
		assert.Equal(t, int64(1000), w.LastUpdatedAt, addr)
		assert.Equal(t, int64(100), w.CreatedAtBlockNumber, addr)
		assert.Equal(t, int64(100), w.LastUpdatedAtBlockNumber, addr)
		assert.Equal(t, int64(1), w.TransactionNumber, addr)
	}
}

func TestExportRange_ResetsFilterEachRange(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: allTypes})
	f.chain.AddBlock(chaintest.RawBlock(1, "0x01", 10))
	f.chain.AddBlock(chaintest.RawBlock(2, "0x02", 20))
	f.chain.AddEvents(
		chaintest.Event("instantiate", "0xt1", "cosmos1c", 1, 10, 0, 0),
		chaintest.Event("instantiate", "0xt2", "cosmos1c", 2, 20, 0, 0),
	)

	filter := &spyFilter{Memory: contractfilter.NewMemory()}
	require.NoError(t, f.exp.ExportRange(t.Context(), 1, 1, filter))
	assert.Equal(t, 1, filter.Len())
	require.NoError(t, f.exp.ExportRange(t.Context(), 2, 2, filter))

	assert.Equal(t, 2, filter.resets)
	assert.Equal(t, 1, filter.Len())
	assert.Equal(t, 1, f.db.Count("contracts"))
}

func TestExportRange_Contracts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: allTypes})
	f.chain.AddBlock(chaintest.RawBlock(5, "0x05", 50))
	f.chain.AddEvents(
		chaintest.Event("message", "0xt1", "", 5, 50, 0, 0),
		chaintest.Event("instantiate", "0xt1", "cosmos1A", 5, 50, 0, 1),
		chaintest.Event("instantiate", "0xt2", "COSMOS1a", 5, 50, 1, 0),
		chaintest.Event("instantiate", "0xt2", "cosmos1b", 5, 50, 1, 1),
	)

	require.NoError(t, f.exp.ExportRange(t.Context(), 5, 5, nil))

	assert.Equal(t, 4, f.db.Count("logs"))
	assert.Equal(t, 2, f.db.Count("contracts"))
	c, ok := f.db.Doc("contracts", "contract_cosmos1a")
	require.True(t, ok)
	assert.Equal(t, "0xt1", c[types.FieldTxHash])
	assert.Equal(t, "1", c["code_id"])
	assert.Equal(t, "1970-01-01T00:00:50Z", c[types.FieldItemTimestamp])
}

func TestExportRange_BlocksOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.chain.AddBlock(chaintest.RawBlock(1, "0x01", 10))
	f.chain.AddTransactions(chaintest.Transaction("0xBB", "0x1", "0x2", 1, 10))

	require.NoError(t, f.exp.ExportRange(t.Context(), 1, 1, nil))

	assert.Equal(t, 0, f.chain.TxRuns)
	assert.Equal(t, 1, f.db.Count("blocks"))
	assert.Equal(t, 0, f.db.Count("transactions"))
	assert.Equal(t, 0, f.db.Count(types.CollectionWallets))
}

func TestExportRange_LogsWithoutTransactions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: types.NewEntitySet(types.EntityBlock, types.EntityLog)})
	f.chain.AddBlock(chaintest.RawBlock(1, "0x01", 10))
	f.chain.AddTransactions(chaintest.Transaction("0xBB", "0x1", "0x2", 1, 10))
	f.chain.AddEvents(chaintest.Event("transfer", "0xbb", "", 1, 10, 0, 0))

	require.NoError(t, f.exp.ExportRange(t.Context(), 1, 1, nil))

	assert.Equal(t, 1, f.db.Count("logs"))
	assert.Equal(t, 0, f.db.Count("transactions"))
	assert.Equal(t, 0, f.db.Count(types.CollectionWallets))
	_, ok := f.db.Doc("logs", "1_0_0")
	assert.True(t, ok)
}

func TestExportRange_InvalidRange(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: allTypes})

	err := f.exp.ExportRange(t.Context(), 10, 9, nil)
	require.ErrorIs(t, err, ErrInvalidRange)
	assert.Equal(t, 0, f.chain.BlockRuns)
}

func TestExportRange_ExtractionFailureWritesNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: allTypes})
	f.chain.AddBlock(chaintest.RawBlock(1, "0x01", 10))
	f.chain.TxErr = errors.New("node unavailable")

	err := f.exp.ExportRange(t.Context(), 1, 1, nil)
	require.ErrorContains(t, err, "node unavailable")
	assert.Equal(t, 0, f.db.Count("blocks"))
}

func TestExportRange_MalformedBlock(t *testing.T) {
	t.Parallel()

	malformed := chaintest.RawBlock(2, "0x02", 20)
	malformed.BlockID = nil

	t.Run("aborts by default", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, Config{})
		f.chain.AddBlock(chaintest.RawBlock(1, "0x01", 10))
		f.chain.AddBlock(malformed)

		err := f.exp.ExportRange(t.Context(), 1, 2, nil)
		require.ErrorIs(t, err, mapper.ErrMapping)
		assert.Equal(t, 0, f.db.Count("blocks"))
	})

	t.Run("skipped when configured", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, Config{SkipMalformed: true})
		f.chain.AddBlock(chaintest.RawBlock(1, "0x01", 10))
		f.chain.AddBlock(malformed)
		f.chain.AddBlock(chaintest.RawBlock(3, "0x03", 30))

		require.NoError(t, f.exp.ExportRange(t.Context(), 1, 3, nil))
		assert.Equal(t, 2, f.db.Count("blocks"))
	})
}

func TestExportRange_WriteFailurePropagates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: allTypes})
	f.chain.AddBlock(chaintest.RawBlock(1, "0x01", 10))
	f.chain.AddTransactions(chaintest.Transaction("0xBB", "0x1", "0x2", 1, 10))
	f.db.FailWith("blocks", mongo.CommandError{Code: 6, Message: "connection reset by peer", Labels: []string{"NetworkError"}})

	err := f.exp.ExportRange(t.Context(), 1, 1, nil)
	require.ErrorIs(t, err, mongodb.ErrConnectivity)
	// transactions are written before blocks
	assert.Equal(t, 1, f.db.Count("transactions"))
	assert.Equal(t, 0, f.db.Count(types.CollectionWallets))
}

func TestExportRange_Metrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	f := newFixture(t, Config{Enabled: allTypes}, WithMetrics(m))
	f.chain.AddBlock(chaintest.RawBlock(1, "0x01", 10))
	f.chain.AddTransactions(chaintest.Transaction("0xBB", "0x1", "0x2", 1, 10))

	require.NoError(t, f.exp.ExportRange(t.Context(), 1, 1, nil))
	f.chain.BlockErr = errors.New("boom")
	require.Error(t, f.exp.ExportRange(t.Context(), 1, 1, nil))

	count, err := testutil.GatherAndCount(reg, "cosmosetl_export_ranges_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	count, err = testutil.GatherAndCount(reg, "cosmosetl_export_items_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
