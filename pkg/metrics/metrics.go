package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "relayer"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"

	// Chain label values
	ChainNear     = "near"
	ChainEthereum = "ethereum"

	RPC         = "rpc"
	Transfer    = "transfer"
	Stage       = "stage"
	Lightclient = "lightclient"
	Events      = "events"
)

// Labels holds constant labels applied to all metrics.
// These are useful for distinguishing metrics from multiple relayer instances.
type Labels struct {
	EthChainID    uint64 // Ethereum chain ID (e.g., 1 for mainnet, 11155111 for sepolia)
	NearNetwork   string // NEAR network id (e.g., "mainnet", "testnet")
	Environment   string // Deployment environment (e.g., "production", "staging", "development")
	Region        string // Cloud region (e.g., "us-east-1", "eu-west-1")
	CloudProvider string // Cloud provider (e.g., "aws", "oci", "gcp")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.EthChainID != 0 {
		labels["eth_chain_id"] = strconv.FormatUint(l.EthChainID, 10)
	}
	if l.NearNetwork != "" {
		labels["near_network"] = l.NearNetwork
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

type Metrics struct {
	// RPC metrics
	rpcCalls    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec
	rpcInFlight *prometheus.GaugeVec
	rpcRetries  *prometheus.CounterVec

	// Stage progress
	stagesCompleted *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	stageFailures   *prometheus.CounterVec
	currentStage    prometheus.Gauge

	// Light client catch-up
	lightClientHeight prometheus.Gauge
	finalizedTarget   prometheus.Gauge
	lightClientWaits  prometheus.Counter

	// Transfer outcomes
	transfers *prometheus.CounterVec
	resumes   prometheus.Counter

	// Side channels
	eventsPublished *prometheus.CounterVec
	historyWrites   *prometheus.CounterVec
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
// For metrics with constant labels (e.g., eth_chain_id), use NewWithLabels instead.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	// Wrap the registerer with constant labels if any are provided
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	return newMetrics(reg)
}

// newMetrics is the internal constructor that creates and registers all metrics.
func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: RPC,
			Name:      "calls_total",
			Help:      "Total RPC calls by chain, method and status",
		}, []string{"chain", "method", "status"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: RPC,
			Name:      "duration_seconds",
			Help:      "RPC call duration in seconds",
			// broadcast_tx_commit and WaitMined can take tens of seconds
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"chain", "method"}),
		rpcInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: RPC,
			Name:      "in_flight",
			Help:      "Number of RPC calls currently in progress",
		}, []string{"chain"}),
		rpcRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: RPC,
			Name:      "retries_total",
			Help:      "Total retried chain reads by operation",
		}, []string{"operation"}),
		stagesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Stage,
			Name:      "completed_total",
			Help:      "Total stages whose checkpoint was recorded",
		}, []string{"stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Stage,
			Name:      "duration_seconds",
			Help:      "Time spent executing a stage, including waits",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300, 600, 1800, 3600, 14400},
		}, []string{"stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Stage,
			Name:      "failures_total",
			Help:      "Total stage failures by stage and error class",
		}, []string{"stage", "class"}),
		currentStage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Stage,
			Name:      "current",
			Help:      "Index of the last recorded stage (0 = none, 5 = completed)",
		}),
		lightClientHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Lightclient,
			Name:      "height",
			Help:      "Latest NEAR height accepted by the Ethereum light client",
		}),
		finalizedTarget: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Lightclient,
			Name:      "target_height",
			Help:      "Finalized NEAR height the light client must exceed",
		}),
		lightClientWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Lightclient,
			Name:      "polls_total",
			Help:      "Total light client polls that found the head below target",
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Transfer,
			Name:      "outcomes_total",
			Help:      "Total transfer runs by outcome status and error class",
		}, []string{"status", "class"}),
		resumes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Transfer,
			Name:      "resumes_total",
			Help:      "Total runs that resumed from a recorded checkpoint",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Events,
			Name:      "published_total",
			Help:      "Total stage events published by status",
		}, []string{"status"}),
		historyWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Events,
			Name:      "history_writes_total",
			Help:      "Total transfer history rows written by status",
		}, []string{"status"}),
	}

	err := errors.Join(
		reg.Register(m.rpcCalls),
		reg.Register(m.rpcDuration),
		reg.Register(m.rpcInFlight),
		reg.Register(m.rpcRetries),
		reg.Register(m.stagesCompleted),
		reg.Register(m.stageDuration),
		reg.Register(m.stageFailures),
		reg.Register(m.currentStage),
		reg.Register(m.lightClientHeight),
		reg.Register(m.finalizedTarget),
		reg.Register(m.lightClientWaits),
		reg.Register(m.transfers),
		reg.Register(m.resumes),
		reg.Register(m.eventsPublished),
		reg.Register(m.historyWrites),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// IncRPCInFlight increments the in-flight RPC gauge for chain.
func (m *Metrics) IncRPCInFlight(chain string) {
	if m == nil {
		return
	}
	m.rpcInFlight.WithLabelValues(chain).Inc()
}

// DecRPCInFlight decrements the in-flight RPC gauge for chain.
func (m *Metrics) DecRPCInFlight(chain string) {
	if m == nil {
		return
	}
	m.rpcInFlight.WithLabelValues(chain).Dec()
}

// RecordRPCCall records an RPC call outcome.
func (m *Metrics) RecordRPCCall(chain, method string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	m.rpcCalls.WithLabelValues(chain, method, statusOf(err)).Inc()
	m.rpcDuration.WithLabelValues(chain, method).Observe(durationSeconds)
}

// IncRetry counts one retried attempt of operation.
func (m *Metrics) IncRetry(operation string) {
	if m == nil {
		return
	}
	m.rpcRetries.WithLabelValues(operation).Inc()
}

// RecordStageCompleted records a stage whose checkpoint was written.
func (m *Metrics) RecordStageCompleted(stage string, index int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.stagesCompleted.WithLabelValues(stage).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(durationSeconds)
	m.currentStage.Set(float64(index))
}

// RecordStageFailure records a failed stage attempt.
func (m *Metrics) RecordStageFailure(stage, class string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage, class).Inc()
}

// SetCurrentStage sets the stage gauge, for example after loading a checkpoint.
func (m *Metrics) SetCurrentStage(index int) {
	if m == nil {
		return
	}
	m.currentStage.Set(float64(index))
}

// UpdateLightClient records the light client head and the height it must exceed.
func (m *Metrics) UpdateLightClient(height, target uint64) {
	if m == nil {
		return
	}
	m.lightClientHeight.Set(float64(height))
	m.finalizedTarget.Set(float64(target))
}

// IncLightClientWait counts a poll where the light client was still behind.
func (m *Metrics) IncLightClientWait() {
	if m == nil {
		return
	}
	m.lightClientWaits.Inc()
}

// RecordTransfer records the outcome of one run.
func (m *Metrics) RecordTransfer(status, class string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(status, class).Inc()
}

// IncResume counts a run that resumed from a checkpoint.
func (m *Metrics) IncResume() {
	if m == nil {
		return
	}
	m.resumes.Inc()
}

// RecordEventPublished records a stage event publish attempt.
func (m *Metrics) RecordEventPublished(err error) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(statusOf(err)).Inc()
}

// RecordHistoryWrite records a transfer history insert attempt.
func (m *Metrics) RecordHistoryWrite(err error) {
	if m == nil {
		return
	}
	m.historyWrites.WithLabelValues(statusOf(err)).Inc()
}
