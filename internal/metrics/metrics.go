// Package metrics provides Prometheus metrics for the task list and peer aggregator.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a session.
type Metrics struct {
	TaskCommandsTotal     *prometheus.CounterVec
	LiveQueryBatchesTotal prometheus.Counter
	PeerEventsTotal       *prometheus.CounterVec
	PeerEmissionsTotal    prometheus.Counter
	PeersVisible          prometheus.Gauge
	ReplicationOnline     prometheus.Gauge
	CredentialRenewals    *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TaskCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "peertasks_task_commands_total",
				Help: "Task commands by operation and result.",
			},
			[]string{"op", "result"},
		),
		LiveQueryBatchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "peertasks_live_query_batches_total",
				Help: "Task list batches received from the live query.",
			},
		),
		PeerEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "peertasks_peer_events_total",
				Help: "Replication engine events consumed by the aggregator, by kind.",
			},
			[]string{"kind"},
		),
		PeerEmissionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "peertasks_peer_list_emissions_total",
				Help: "Debounced peer list emissions.",
			},
		),
		PeersVisible: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "peertasks_peers_visible",
				Help: "Peers in the last emitted peer list.",
			},
		),
		ReplicationOnline: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "peertasks_replication_online",
				Help: "1 when the local replication subsystem reports online.",
			},
		),
		CredentialRenewals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "peertasks_credential_renewals_total",
				Help: "Identity credential checks by outcome.",
			},
			[]string{"outcome"},
		),
		registry: reg,
	}

	reg.MustRegister(m.TaskCommandsTotal)
	reg.MustRegister(m.LiveQueryBatchesTotal)
	reg.MustRegister(m.PeerEventsTotal)
	reg.MustRegister(m.PeerEmissionsTotal)
	reg.MustRegister(m.PeersVisible)
	reg.MustRegister(m.ReplicationOnline)
	reg.MustRegister(m.CredentialRenewals)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCommand counts one task command outcome.
func (m *Metrics) RecordCommand(op, result string) {
	if m == nil {
		return
	}
	m.TaskCommandsTotal.WithLabelValues(op, result).Inc()
}

// RecordBatch counts one live query batch.
func (m *Metrics) RecordBatch() {
	if m == nil {
		return
	}
	m.LiveQueryBatchesTotal.Inc()
}

// RecordPeerEvent counts one aggregator input event.
func (m *Metrics) RecordPeerEvent(kind string) {
	if m == nil {
		return
	}
	m.PeerEventsTotal.WithLabelValues(kind).Inc()
}

// RecordPeerEmission counts one peer list emission of n peers.
func (m *Metrics) RecordPeerEmission(n int) {
	if m == nil {
		return
	}
	m.PeerEmissionsTotal.Inc()
	m.PeersVisible.Set(float64(n))
}

// SetOnline records the replication link state.
func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.ReplicationOnline.Set(1)
	} else {
		m.ReplicationOnline.Set(0)
	}
}

// RecordRenewal counts one credential check outcome ("kept", "renewed", "failed").
func (m *Metrics) RecordRenewal(outcome string) {
	if m == nil {
		return
	}
	m.CredentialRenewals.WithLabelValues(outcome).Inc()
}
