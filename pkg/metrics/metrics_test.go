package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestLabels_toPrometheusLabels(t *testing.T) {
	tests := []struct {
		name     string
		labels   Labels
		expected prometheus.Labels
	}{
		{
			name:     "empty labels",
			labels:   Labels{},
			expected: prometheus.Labels{},
		},
		{
			name: "all labels set",
			labels: Labels{
				ChainID:       "cosmoshub-4",
				Environment:   "production",
				Region:        "us-east-1",
				CloudProvider: "aws",
			},
			expected: prometheus.Labels{
				"chain_id":       "cosmoshub-4",
				"environment":    "production",
				"region":         "us-east-1",
				"cloud_provider": "aws",
			},
		},
		{
			name: "empty chain ID excluded",
			labels: Labels{
				Environment: "test",
			},
			expected: prometheus.Labels{
				"environment": "test",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.labels.toPrometheusLabels()
			require.Equal(t, tt.expected, result)
		})
	}
}

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := New(reg)
	require.NoError(t, err)
	require.NotNil(t, m)

	m.SetChainHead(1)
	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, metricFamilies)
}

func TestNewWithLabels(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := NewWithLabels(reg, Labels{ChainID: "osmosis-1", Environment: "test"})
	require.NoError(t, err)

	m.SetCheckpointHeight(100)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range metricFamilies {
		if mf.GetName() != "cosmosetl_checkpoint_height" {
			continue
		}
		found = true
		require.NotEmpty(t, mf.GetMetric())
		labelMap := make(map[string]string)
		for _, label := range mf.GetMetric()[0].GetLabel() {
			labelMap[label.GetName()] = label.GetValue()
		}
		require.Equal(t, "osmosis-1", labelMap["chain_id"])
		require.Equal(t, "test", labelMap["environment"])
	}
	require.True(t, found)
}

func TestNew_RegistrationError(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := New(reg)
	require.NoError(t, err)

	m, err := New(reg)
	require.Nil(t, m, "expected nil metrics on duplicate registration")

	var alreadyRegistered prometheus.AlreadyRegisteredError
	require.ErrorAs(t, err, &alreadyRegistered)
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics

	require.NotPanics(t, func() {
		m.IncError("test")
		m.RecordExport(nil, 1)
		m.AddItemsExported("block", 3)
		m.RecordWrite("blocks", errors.New("x"), 0.1, 2)
		m.AddWalletsMerged(2)
		m.SetCheckpointHeight(10)
		m.SetChainHead(11)
		m.IncRPCInFlight()
		m.DecRPCInFlight()
		m.RecordRPCCall("block", nil, 0.5)
	})
}

func TestMetrics_RecordExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordExport(nil, 0.5)
	m.RecordExport(nil, 0.2)
	m.RecordExport(errors.New("rpc down"), 0.1)

	require.Equal(t, float64(2), testutil.ToFloat64(m.rangesExported.WithLabelValues(StatusSuccess)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.rangesExported.WithLabelValues(StatusError)))
	require.Equal(t, 1, testutil.CollectAndCount(m.exportDuration))
}

func TestMetrics_Items(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.AddItemsExported("transaction", 3)
	m.AddItemsExported("transaction", 2)
	m.AddItemsExported("block", 0)

	require.Equal(t, float64(5), testutil.ToFloat64(m.itemsExported.WithLabelValues("transaction")))
	require.Equal(t, 1, testutil.CollectAndCount(m.itemsExported))
}

func TestMetrics_RecordWrite(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordWrite("blocks", nil, 0.01, 0)
	m.RecordWrite("blocks", nil, 0.01, 3)
	m.RecordWrite("logs", errors.New("write failed"), 0.02, 0)

	require.Equal(t, float64(3), testutil.ToFloat64(m.writeConflicts.WithLabelValues("blocks")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.writeFailures.WithLabelValues("logs")))
	require.Equal(t, 2, testutil.CollectAndCount(m.writeDuration))
}

func TestMetrics_ProgressGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.SetCheckpointHeight(42)
	m.SetChainHead(50)
	m.AddWalletsMerged(7)

	require.Equal(t, float64(42), testutil.ToFloat64(m.checkpointHeight))
	require.Equal(t, float64(50), testutil.ToFloat64(m.chainHead))
	require.Equal(t, float64(7), testutil.ToFloat64(m.walletsMerged))
}

func TestMetrics_RPC(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.IncRPCInFlight()
	m.IncRPCInFlight()
	m.DecRPCInFlight()
	require.Equal(t, float64(1), testutil.ToFloat64(m.rpcInFlight))

	m.RecordRPCCall("block", nil, 0.1)
	m.RecordRPCCall("block", errors.New("timeout"), 0.2)
	require.Equal(t, float64(1), testutil.ToFloat64(m.rpcCalls.WithLabelValues("block", StatusSuccess)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.rpcCalls.WithLabelValues("block", StatusError)))
}

func TestMetrics_IncError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.IncError(ErrTypeMapping)
	m.IncError(ErrTypeMapping)
	m.IncError(ErrTypeCheckpoint)

	require.Equal(t, float64(2), testutil.ToFloat64(m.errors.WithLabelValues(ErrTypeMapping)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.errors.WithLabelValues(ErrTypeCheckpoint)))
}
