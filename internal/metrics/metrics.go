// Package metrics exposes the Prometheus collectors meshy's core wires
// into the receiver, sender and routing table. These are pure observability
// bumps: removing them changes no control flow.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector bundles every counter/gauge meshy's core updates.
type Collector struct {
	PacketsReceived   *prometheus.CounterVec
	PacketsDuplicate  prometheus.Counter
	PacketsDelivered  prometheus.Counter
	RouteUnicast      prometheus.Counter
	RouteBroadcast    prometheus.Counter
	RouteSwitches     prometheus.Counter
	ConnectionsActive prometheus.Gauge
	SendQueueDepth    prometheus.Gauge

	Registry *prometheus.Registry
}

// New builds a Collector registered against a fresh registry, so multiple
// Nodes in the same test process never collide on metric names.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshy_packets_received_total",
			Help: "Packets received by type.",
		}, []string{"type"}),
		PacketsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshy_packets_duplicate_total",
			Help: "Content packets dropped because the ID cache had already seen them.",
		}),
		PacketsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshy_packets_delivered_total",
			Help: "Content packets delivered locally because this node's role matched the destination.",
		}),
		RouteUnicast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshy_route_unicast_total",
			Help: "Sender decisions that unicast on a known route.",
		}),
		RouteBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshy_route_broadcast_total",
			Help: "Sender decisions that fell back to broadcast.",
		}),
		RouteSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshy_route_switches_total",
			Help: "Times MarkAlive installed a new route for a destination.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshy_connections_active",
			Help: "Connections currently tracked by the connection table.",
		}),
		SendQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshy_sendqueue_depth",
			Help: "Current number of resident send-queue entries.",
		}),
		Registry: reg,
	}

	reg.MustRegister(
		c.PacketsReceived,
		c.PacketsDuplicate,
		c.PacketsDelivered,
		c.RouteUnicast,
		c.RouteBroadcast,
		c.RouteSwitches,
		c.ConnectionsActive,
		c.SendQueueDepth,
	)

	return c
}
