package swim

import "github.com/prometheus/client_golang/prometheus"

// ─── Metrics ─────────────────────────────────────────────────────────────────
// Grounded on observability.SchedulerQueueDepth et al. (NikeGunn-tutu), using
// the same prometheus.CounterOpts/GaugeOpts shape, under a "swim" namespace. The
// teacher registers its collectors as package-level promauto globals; here
// they are built per-Engine and registered against a caller-supplied
// *prometheus.Registry instead, since more than one Engine can exist in one
// process during tests and a global would collide across them.

const metricsNamespace = "swim"

// Metrics holds every collector the engine touches while running.
type Metrics struct {
	pingsSent         prometheus.Counter
	pingTimeouts      prometheus.Counter
	indirectPingsSent prometheus.Counter
	acksReceived      prometheus.Counter
	selfRefutations   prometheus.Counter
	membersGCed       prometheus.Counter
	statusTransitions *prometheus.CounterVec
	packetsReceived   prometheus.Counter
	packetsDropped    prometheus.Counter
	roundTicks        prometheus.Counter
	tableSize         prometheus.Gauge
	waitAckDepth      prometheus.Gauge
}

// NewMetrics builds a fresh Metrics set and registers every collector on
// reg. reg may be prometheus.NewRegistry() for an isolated test engine, or
// prometheus.DefaultRegisterer for a production daemon.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pingsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "detector",
			Name:      "pings_sent_total",
			Help:      "Total direct pings sent.",
		}),
		pingTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "detector",
			Name:      "ping_timeouts_total",
			Help:      "Total wait-ack entries that expired before an ack arrived.",
		}),
		indirectPingsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "detector",
			Name:      "indirect_pings_sent_total",
			Help:      "Total ping-req messages sent to proxies.",
		}),
		acksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "detector",
			Name:      "acks_received_total",
			Help:      "Total acks received for outstanding pings.",
		}),
		selfRefutations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "detector",
			Name:      "self_refutations_total",
			Help:      "Total times this member bumped its own incarnation to refute gossip.",
		}),
		membersGCed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "table",
			Name:      "members_gced_total",
			Help:      "Total Dead members removed from the table.",
		}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "table",
			Name:      "status_transitions_total",
			Help:      "Total member status transitions, by resulting status.",
		}, []string{"status"}),
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "transport",
			Name:      "packets_received_total",
			Help:      "Total packets successfully decoded.",
		}),
		packetsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "transport",
			Name:      "packets_dropped_total",
			Help:      "Total packets dropped for failing to decode.",
		}),
		roundTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "round",
			Name:      "ticks_total",
			Help:      "Total round-scheduler steps taken.",
		}),
		tableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "table",
			Name:      "members",
			Help:      "Current number of members in the table, including self.",
		}),
		waitAckDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "detector",
			Name:      "wait_ack_depth",
			Help:      "Current number of pings awaiting an ack.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.pingsSent, m.pingTimeouts, m.indirectPingsSent, m.acksReceived,
			m.selfRefutations, m.membersGCed, m.statusTransitions,
			m.packetsReceived, m.packetsDropped, m.roundTicks,
			m.tableSize, m.waitAckDepth,
		)
	}
	return m
}
