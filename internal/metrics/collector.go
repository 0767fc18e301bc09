// Package metrics exposes application metrics collectors.
package metrics

import (
	"time"

	"github.com/gaze-network/coinbase-tracker/common"
	"github.com/gaze-network/coinbase-tracker/core/collector"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	collectorStageTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coinbase_tracker",
		Subsystem: "collector",
		Name:      "stage_total",
		Help:      "Count of executed collector stages.",
	}, []string{"network", "stage", "status"})

	collectorStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "coinbase_tracker",
		Subsystem: "collector",
		Name:      "stage_duration_seconds",
		Help:      "Duration of collector stages.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"network", "stage", "status"})

	collectorCheckpointHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "coinbase_tracker",
		Subsystem: "collector",
		Name:      "checkpoint_height",
		Help:      "Last committed block height.",
	}, []string{"network"})

	collectorChainTipHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "coinbase_tracker",
		Subsystem: "collector",
		Name:      "chain_tip_height",
		Help:      "Chain tip height sampled at run start.",
	}, []string{"network"})
)

// Make sure to implement the collector Metrics interface
var _ collector.Metrics = (*Collector)(nil)

// Collector tracks batch cycle metrics for one collection run.
type Collector struct {
	network common.Network
}

func NewCollector(network common.Network) *Collector {
	return &Collector{network: network}
}

func (m Collector) ObserveStage(stage collector.State, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	collectorStageTotal.WithLabelValues(m.network.String(), string(stage), status).Inc()
	collectorStageDuration.WithLabelValues(m.network.String(), string(stage), status).
		Observe(time.Since(started).Seconds())
}

func (m Collector) SetCheckpointHeight(height int64) {
	collectorCheckpointHeight.WithLabelValues(m.network.String()).Set(float64(height))
}

func (m Collector) SetChainTipHeight(height int64) {
	collectorChainTipHeight.WithLabelValues(m.network.String()).Set(float64(height))
}
