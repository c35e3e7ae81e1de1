package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not gadget-specific).
type Metrics struct {
	// Gadget metrics
	EffectsEmitted      *prometheus.CounterVec
	MergesApplied       *prometheus.CounterVec
	ContradictionsTotal *prometheus.CounterVec
	GadgetsLive         prometheus.Gauge

	// Plumber metrics
	RuleDispatches  *prometheus.CounterVec
	UnroutedEffects prometheus.Counter

	// Protocol session metrics
	SessionsActive  prometheus.Gauge
	CommandsServed  *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	// Transport metrics
	FramesSent     *prometheus.CounterVec
	FramesReceived *prometheus.CounterVec
	BridgeFailures *prometheus.CounterVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSRTT        prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all platform metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		EffectsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gadgetmesh",
				Subsystem: "gadget",
				Name:      "effects_emitted_total",
				Help:      "Total number of effects emitted by gadgets",
			},
			[]string{"gadget", "port"},
		),

		MergesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gadgetmesh",
				Subsystem: "gadget",
				Name:      "merges_applied_total",
				Help:      "Total number of merge transitions (outcome=changed|noop)",
			},
			[]string{"gadget", "outcome"},
		),

		ContradictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gadgetmesh",
				Subsystem: "gadget",
				Name:      "contradictions_total",
				Help:      "Total number of cells that entered a contradiction state",
			},
			[]string{"gadget"},
		),

		GadgetsLive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gadgetmesh",
				Subsystem: "gadget",
				Name:      "live",
				Help:      "Number of gadgets currently registered and not disposed",
			},
		),

		RuleDispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gadgetmesh",
				Subsystem: "plumber",
				Name:      "dispatches_total",
				Help:      "Total number of effects forwarded by routing rules",
			},
			[]string{"rule"},
		),

		UnroutedEffects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gadgetmesh",
				Subsystem: "plumber",
				Name:      "unrouted_total",
				Help:      "Total number of effects that matched no routing rule",
			},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gadgetmesh",
				Subsystem: "protocol",
				Name:      "sessions_active",
				Help:      "Number of currently connected protocol sessions",
			},
		),

		CommandsServed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gadgetmesh",
				Subsystem: "protocol",
				Name:      "commands_total",
				Help:      "Total number of protocol commands served",
			},
			[]string{"verb", "status"},
		),

		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gadgetmesh",
				Subsystem: "protocol",
				Name:      "command_duration_seconds",
				Help:      "Protocol command handling duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"verb"},
		),

		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gadgetmesh",
				Subsystem: "transport",
				Name:      "frames_sent_total",
				Help:      "Total number of frames written to transports",
			},
			[]string{"adapter"},
		),

		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gadgetmesh",
				Subsystem: "transport",
				Name:      "frames_received_total",
				Help:      "Total number of frames read from transports",
			},
			[]string{"adapter"},
		),

		BridgeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gadgetmesh",
				Subsystem: "transport",
				Name:      "bridge_failures_total",
				Help:      "Total number of transport bridge failures",
			},
			[]string{"adapter", "direction"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gadgetmesh",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gadgetmesh",
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gadgetmesh",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

// RecordEffect increments the emitted effect counter for a gadget port.
func (c *Metrics) RecordEffect(gadget, port string) {
	c.EffectsEmitted.WithLabelValues(gadget, port).Inc()
}

// RecordMerge increments the merge counter with its outcome.
func (c *Metrics) RecordMerge(gadget string, changed bool) {
	outcome := "noop"
	if changed {
		outcome = "changed"
	}
	c.MergesApplied.WithLabelValues(gadget, outcome).Inc()
}

// RecordContradiction increments the contradiction counter for a gadget.
func (c *Metrics) RecordContradiction(gadget string) {
	c.ContradictionsTotal.WithLabelValues(gadget).Inc()
}

// RecordDispatch increments the plumber dispatch counter for a rule.
func (c *Metrics) RecordDispatch(rule string) {
	c.RuleDispatches.WithLabelValues(rule).Inc()
}

// RecordCommand increments the protocol command counter and its duration.
func (c *Metrics) RecordCommand(verb, status string, duration time.Duration) {
	c.CommandsServed.WithLabelValues(verb, status).Inc()
	c.CommandDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

// RecordFrameSent increments the sent frame counter for a transport adapter.
func (c *Metrics) RecordFrameSent(adapter string) {
	c.FramesSent.WithLabelValues(adapter).Inc()
}

// RecordFrameReceived increments the received frame counter for an adapter.
func (c *Metrics) RecordFrameReceived(adapter string) {
	c.FramesReceived.WithLabelValues(adapter).Inc()
}

// RecordBridgeFailure increments the bridge failure counter. Direction is
// "read" or "write".
func (c *Metrics) RecordBridgeFailure(adapter, direction string) {
	c.BridgeFailures.WithLabelValues(adapter, direction).Inc()
}

// RecordNATSStatus updates NATS connection status.
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time.
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments the reconnection counter.
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}
