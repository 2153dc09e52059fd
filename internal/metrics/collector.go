// Package bcpmetrics exposes a node's forwarding, energy, and fusion
// counters as Prometheus metrics, following the same Collector-struct
// pattern as the rest of this codebase's Prometheus wiring.
package bcpmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "gobcp"
	subsystem = "node"
)

const labelNode = "node"

// Collector holds every Prometheus metric a running node publishes.
//
//   - Queue/routing gauges reflect a node's current backlog and connectivity.
//   - Packet counters track forwarding volume and losses.
//   - Energy gauges track the local power manager's battery and budget.
//   - Fusion counters track in-network aggregation activity.
type Collector struct {
	QueueLength          *prometheus.GaugeVec
	ForwardableNeighbors *prometheus.GaugeVec

	PacketsSent     *prometheus.CounterVec
	PacketsReceived *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec
	AcksReceived    *prometheus.CounterVec

	BatteryGauge *prometheus.GaugeVec
	EnergyBudget *prometheus.GaugeVec

	FusionGroupsFormed *prometheus.CounterVec
}

// NewCollector creates a Collector with every metric registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.QueueLength,
		c.ForwardableNeighbors,
		c.PacketsSent,
		c.PacketsReceived,
		c.PacketsDropped,
		c.AcksReceived,
		c.BatteryGauge,
		c.EnergyBudget,
		c.FusionGroupsFormed,
	)

	return c
}

func newMetrics() *Collector {
	nodeLabels := []string{labelNode}

	return &Collector{
		QueueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_length",
			Help:      "Current number of items in the send queue.",
		}, nodeLabels),

		ForwardableNeighbors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "forwardable_neighbors",
			Help:      "Current number of neighbors eligible to receive forwarded traffic.",
		}, nodeLabels),

		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_sent_total",
			Help:      "Total data frames transmitted.",
		}, nodeLabels),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_received_total",
			Help:      "Total frames accepted off the broadcast or unicast channel.",
		}, nodeLabels),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total items dropped due to a full queue.",
		}, nodeLabels),

		AcksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "acks_received_total",
			Help:      "Total acknowledgements received for locally forwarded sends.",
		}, nodeLabels),

		BatteryGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "battery_level",
			Help:      "Current battery charge as tracked by the local power manager.",
		}, nodeLabels),

		EnergyBudget: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "energy_budget",
			Help:      "Energy budget available to spend in the current slot.",
		}, nodeLabels),

		FusionGroupsFormed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fusion_groups_formed_total",
			Help:      "Total synthetic fusion packets formed by folding same-correlation-ID items together.",
		}, nodeLabels),
	}
}

// NodeReporter binds a Collector's metrics to one node's label value,
// implementing routing.MetricsReporter so a Connection can report into it
// without importing the metrics package's Prometheus dependency directly.
type NodeReporter struct {
	c    *Collector
	node string
}

// NewNodeReporter returns a reporter that labels every metric it emits
// with the given node address.
func NewNodeReporter(c *Collector, node string) *NodeReporter {
	return &NodeReporter{c: c, node: node}
}

func (r *NodeReporter) IncPacketsSent()     { r.c.PacketsSent.WithLabelValues(r.node).Inc() }
func (r *NodeReporter) IncPacketsReceived() { r.c.PacketsReceived.WithLabelValues(r.node).Inc() }
func (r *NodeReporter) IncAcksReceived()    { r.c.AcksReceived.WithLabelValues(r.node).Inc() }
func (r *NodeReporter) IncPacketsDropped()  { r.c.PacketsDropped.WithLabelValues(r.node).Inc() }

func (r *NodeReporter) SetQueueLength(n int) {
	r.c.QueueLength.WithLabelValues(r.node).Set(float64(n))
}

func (r *NodeReporter) SetForwardableNeighbors(n int) {
	r.c.ForwardableNeighbors.WithLabelValues(r.node).Set(float64(n))
}

// SetBatteryLevel and SetEnergyBudget set the LPM gauges. Unlike the
// packet counters they are not part of routing.MetricsReporter, so a
// Connection never calls them; no code in this module calls them either.
func (r *NodeReporter) SetBatteryLevel(level float64) {
	r.c.BatteryGauge.WithLabelValues(r.node).Set(level)
}

func (r *NodeReporter) SetEnergyBudget(budget float64) {
	r.c.EnergyBudget.WithLabelValues(r.node).Set(budget)
}

// IncFusionGroupsFormed increments the fusion-group counter.
func (r *NodeReporter) IncFusionGroupsFormed() {
	r.c.FusionGroupsFormed.WithLabelValues(r.node).Inc()
}
