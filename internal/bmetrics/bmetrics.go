// Package bmetrics wires broker-level counters and gauges into a
// Prometheus registry. The constructor/registration pattern follows
// dantte-lp/gobfd's main.go: a caller owns a *prometheus.Registry, passes
// it to NewCollector, and exposes it over HTTP with
// promhttp.HandlerFor(reg, ...) itself.
package bmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/etclabs/rdmnetgo/pkg/e133"
)

// Collector implements internal/broker.Metrics with Prometheus
// instruments. The zero value is not usable; construct with NewCollector.
type Collector struct {
	clientsConnected  *prometheus.GaugeVec
	messagesRouted    prometheus.Counter
	messagesDropped   *prometheus.CounterVec
	brokersDiscovered prometheus.Gauge
}

// NewCollector creates a Collector and registers its instruments with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		clientsConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rdmnet_broker",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients, by protocol.",
		}, []string{"protocol"}),
		messagesRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rdmnet_broker",
			Name:      "messages_routed_total",
			Help:      "Total number of RPT messages successfully routed to a destination.",
		}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rdmnet_broker",
			Name:      "messages_dropped_total",
			Help:      "Total number of messages dropped before routing, by reason.",
		}, []string{"reason"}),
		brokersDiscovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rdmnet_broker",
			Name:      "discovered_brokers",
			Help:      "Number of other brokers currently visible via discovery.",
		}),
	}
	reg.MustRegister(c.clientsConnected, c.messagesRouted, c.messagesDropped, c.brokersDiscovered)
	return c
}

// ClientConnected implements internal/broker.Metrics.
func (c *Collector) ClientConnected(protocol uint32) {
	c.clientsConnected.WithLabelValues(protocolLabel(protocol)).Inc()
}

// ClientDisconnected implements internal/broker.Metrics.
func (c *Collector) ClientDisconnected(protocol uint32) {
	c.clientsConnected.WithLabelValues(protocolLabel(protocol)).Dec()
}

// MessageRouted implements internal/broker.Metrics.
func (c *Collector) MessageRouted() {
	c.messagesRouted.Inc()
}

// MessageDropped implements internal/broker.Metrics.
func (c *Collector) MessageDropped(reason string) {
	c.messagesDropped.WithLabelValues(reason).Inc()
}

// SetDiscoveredBrokers reports how many peer brokers are currently visible
// through internal/mdns, for the gauge of the same name.
func (c *Collector) SetDiscoveredBrokers(n int) {
	c.brokersDiscovered.Set(float64(n))
}

func protocolLabel(protocol uint32) string {
	switch protocol {
	case e133.ClientProtocolRPT:
		return "rpt"
	case e133.ClientProtocolEPT:
		return "ept"
	default:
		return "unknown"
	}
}
