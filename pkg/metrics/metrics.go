package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "cosmosetl"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"

	Export = "export"
	Store  = "store"
	RPC    = "rpc"
)

// Labels holds constant labels applied to all metrics.
// These are useful for distinguishing metrics from multiple indexer instances.
type Labels struct {
	ChainID       string // Cosmos chain ID (e.g., "cosmoshub-4")
	Environment   string // Deployment environment (e.g., "production", "staging", "development")
	Region        string // Cloud region (e.g., "us-east-1", "eu-west-1")
	CloudProvider string // Cloud provider (e.g., "aws", "oci", "gcp")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.ChainID != "" {
		labels["chain_id"] = l.ChainID
	}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	if l.Region != "" {
		labels["region"] = l.Region
	}
	if l.CloudProvider != "" {
		labels["cloud_provider"] = l.CloudProvider
	}
	return labels
}

var latencyBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

type Metrics struct {
	// Range exports
	rangesExported *prometheus.CounterVec
	exportDuration prometheus.Histogram
	itemsExported  *prometheus.CounterVec
	errors         *prometheus.CounterVec

	// Store writes
	writeDuration  *prometheus.HistogramVec
	writeConflicts *prometheus.CounterVec
	writeFailures  *prometheus.CounterVec
	walletsMerged  prometheus.Counter

	// Progress
	checkpointHeight prometheus.Gauge
	chainHead        prometheus.Gauge

	// RPC metrics
	rpcCalls    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec
	rpcInFlight prometheus.Gauge
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// For metrics with constant labels (e.g., chain_id), use NewWithLabels instead.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		rangesExported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Export,
			Name:      "ranges_total",
			Help:      "Total range exports by status",
		}, []string{"status"}),
		exportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Export,
			Name:      "duration_seconds",
			Help:      "Time to export one height range end-to-end",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		itemsExported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Export,
			Name:      "items_total",
			Help:      "Total items persisted by entity type",
		}, []string{"type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total errors by type",
		}, []string{"type"}),
		writeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Store,
			Name:      "write_duration_seconds",
			Help:      "Bulk write duration in seconds by collection",
			Buckets:   latencyBuckets,
		}, []string{"collection"}),
		writeConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Store,
			Name:      "write_conflicts_total",
			Help:      "Duplicate identity rejections treated as benign, by collection",
		}, []string{"collection"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Store,
			Name:      "write_failures_total",
			Help:      "Failed bulk writes by collection",
		}, []string{"collection"}),
		walletsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Store,
			Name:      "wallets_merged_total",
			Help:      "Total wallet deltas merged",
		}),
		checkpointHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "checkpoint_height",
			Help:      "Last processed block height recorded in the checkpoint",
		}),
		chainHead: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "chain_head",
			Help:      "Latest block height reported by the chain",
		}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: RPC,
			Name:      "calls_total",
			Help:      "Total RPC calls by method and status",
		}, []string{"method", "status"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: RPC,
			Name:      "duration_seconds",
			Help:      "RPC call duration in seconds",
			Buckets:   latencyBuckets,
		}, []string{"method"}),
		rpcInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: RPC,
			Name:      "in_flight",
			Help:      "Number of RPC calls currently in progress",
		}),
	}

	err := errors.Join(
		reg.Register(m.rangesExported),
		reg.Register(m.exportDuration),
		reg.Register(m.itemsExported),
		reg.Register(m.errors),
		reg.Register(m.writeDuration),
		reg.Register(m.writeConflicts),
		reg.Register(m.writeFailures),
		reg.Register(m.walletsMerged),
		reg.Register(m.checkpointHeight),
		reg.Register(m.chainHead),
		reg.Register(m.rpcCalls),
		reg.Register(m.rpcDuration),
		reg.Register(m.rpcInFlight),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Error type constants for errors not tracked by a dedicated counter.
const (
	ErrTypeMapping    = "mapping"
	ErrTypeCheckpoint = "checkpoint"
	ErrTypeHeadProbe  = "head_probe"
)

// IncError increments the error counter for the given error type.
func (m *Metrics) IncError(errType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errType).Inc()
}

// RecordExport records the outcome of one range export.
func (m *Metrics) RecordExport(err error, durationSeconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.rangesExported.WithLabelValues(status).Inc()
	m.exportDuration.Observe(durationSeconds)
}

// AddItemsExported counts persisted items of one entity type.
func (m *Metrics) AddItemsExported(entityType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.itemsExported.WithLabelValues(entityType).Add(float64(count))
}

// RecordWrite records a bulk write against collection. Pass the number of
// benign duplicate rejections in conflicts and a non-nil err for failures.
func (m *Metrics) RecordWrite(collection string, err error, durationSeconds float64, conflicts int) {
	if m == nil {
		return
	}
	m.writeDuration.WithLabelValues(collection).Observe(durationSeconds)
	if conflicts > 0 {
		m.writeConflicts.WithLabelValues(collection).Add(float64(conflicts))
	}
	if err != nil {
		m.writeFailures.WithLabelValues(collection).Inc()
	}
}

// AddWalletsMerged counts merged wallet deltas.
func (m *Metrics) AddWalletsMerged(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.walletsMerged.Add(float64(count))
}

// SetCheckpointHeight updates the checkpoint gauge.
func (m *Metrics) SetCheckpointHeight(height uint64) {
	if m == nil {
		return
	}
	m.checkpointHeight.Set(float64(height))
}

// SetChainHead updates the chain head gauge.
func (m *Metrics) SetChainHead(height uint64) {
	if m == nil {
		return
	}
	m.chainHead.Set(float64(height))
}

// IncRPCInFlight increments the in-flight RPC gauge.
func (m *Metrics) IncRPCInFlight() {
	if m == nil {
		return
	}
	m.rpcInFlight.Inc()
}

// DecRPCInFlight decrements the in-flight RPC gauge.
func (m *Metrics) DecRPCInFlight() {
	if m == nil {
		return
	}
	m.rpcInFlight.Dec()
}

// RecordRPCCall records an RPC call outcome.
func (m *Metrics) RecordRPCCall(method string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.rpcCalls.WithLabelValues(method, status).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(durationSeconds)
}
