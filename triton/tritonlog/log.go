// Package tritonlog holds ambient, cross-cutting concerns shared by
// every other triton package: log configuration and the Prometheus
// metrics the consumer, producer, and checkpointer update as they run.
package tritonlog

import (
	log "github.com/sirupsen/logrus"
	"github.com/prometheus/client_golang/prometheus"
)

// Configure sets the process-wide logrus formatter and level. Callers
// (cmd/tritond, and any embedding process) call this once at startup;
// every other package just uses log.WithFields against the default
// logger.
func Configure(level log.Level) {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(level)
}

// Metrics bundles the gauges and counters the consumer, forwarder, and
// checkpointer update. A zero Metrics is unusable; build one with
// NewMetrics and register it with a prometheus.Registerer.
type Metrics struct {
	// IteratorBehindLatestSecs reports how far behind a shard's tip a
	// shard iterator's most recent fill observed it to be.
	IteratorBehindLatestSecs *prometheus.GaugeVec
	// ForwarderQueueDepth reports a forwarder client's current queue
	// occupancy, labeled by stream.
	ForwarderQueueDepth *prometheus.GaugeVec
	// CheckpointWritesTotal counts successful checkpoint writes, labeled
	// by stream and shard.
	CheckpointWritesTotal *prometheus.CounterVec
}

// NewMetrics builds a Metrics with every collector labeled consistently
// by stream (and shard, where applicable), but does not register them.
func NewMetrics() *Metrics {
	return &Metrics{
		IteratorBehindLatestSecs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "triton",
			Subsystem: "consumer",
			Name:      "behind_latest_seconds",
			Help:      "How far behind a shard's tip the most recent fill observed this iterator to be.",
		}, []string{"stream", "shard"}),
		ForwarderQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "triton",
			Subsystem: "forward",
			Name:      "queue_depth",
			Help:      "Current occupancy of a forwarder client's send queue.",
		}, []string{"stream"}),
		CheckpointWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triton",
			Subsystem: "checkpoint",
			Name:      "writes_total",
			Help:      "Successful checkpoint writes.",
		}, []string{"stream", "shard"}),
	}
}

// MustRegister registers every collector in m against reg, panicking on
// a duplicate registration — the same failure mode prometheus.MustRegister
// itself uses, surfaced here once for all of m's collectors together.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.IteratorBehindLatestSecs, m.ForwarderQueueDepth, m.CheckpointWritesTotal)
}
