// Package metrics exposes the FNE's prometheus gauges and counters
// (spec.md's ambient stack: "peer count, active calls, PDU sessions,
// parrot queue depth").
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every gauge/counter the orchestrator updates. The
// shape (a struct of pre-registered collectors with thin setter
// methods, registered once in NewMetrics) follows the teacher's own
// internal/metrics.Metrics, with collectors registered against a
// private Registry rather than the global default so multiple
// instances (one per test, one per process) never collide.
type Metrics struct {
	Registry *prometheus.Registry

	PeersConnected   prometheus.Gauge
	ActiveCalls      prometheus.Gauge
	PDUSessions      prometheus.Gauge
	ParrotQueueDepth prometheus.Gauge

	FramesRouted       *prometheus.CounterVec
	CallsRejected      *prometheus.CounterVec
	CallTakeovers      prometheus.Counter
	PDUOutOfSequence   prometheus.Counter
	KeyRequestsUpstream prometheus.Counter
}

// NewMetrics constructs and registers every collector against a new
// private registry (m.Registry).
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fne_peers_connected",
			Help: "The current number of connected peers.",
		}),
		ActiveCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fne_active_calls",
			Help: "The current number of in-progress calls across all protocols.",
		}),
		PDUSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fne_pdu_sessions",
			Help: "The current number of active P25 PDU/SNDCP sessions.",
		}),
		ParrotQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fne_parrot_queue_depth",
			Help: "The current number of frames queued for parrot playback.",
		}),
		FramesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fne_frames_routed_total",
			Help: "The total number of frames routed, by protocol.",
		}, []string{"protocol"}),
		CallsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fne_calls_rejected_total",
			Help: "The total number of calls rejected, by reason.",
		}, []string{"reason"}),
		CallTakeovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fne_call_takeovers_total",
			Help: "The total number of priority call takeovers.",
		}),
		PDUOutOfSequence: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fne_pdu_out_of_sequence_total",
			Help: "The total number of PDU data blocks rejected for sequence mismatch.",
		}),
		KeyRequestsUpstream: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fne_key_requests_upstream_total",
			Help: "The total number of OTAR key requests forwarded upstream on a local miss.",
		}),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	m.Registry.MustRegister(
		m.PeersConnected,
		m.ActiveCalls,
		m.PDUSessions,
		m.ParrotQueueDepth,
		m.FramesRouted,
		m.CallsRejected,
		m.CallTakeovers,
		m.PDUOutOfSequence,
		m.KeyRequestsUpstream,
	)
}

// SetPeersConnected updates the connected-peer gauge.
func (m *Metrics) SetPeersConnected(n int) { m.PeersConnected.Set(float64(n)) }

// SetActiveCalls updates the active-call gauge.
func (m *Metrics) SetActiveCalls(n int) { m.ActiveCalls.Set(float64(n)) }

// SetPDUSessions updates the PDU-session gauge.
func (m *Metrics) SetPDUSessions(n int) { m.PDUSessions.Set(float64(n)) }

// SetParrotQueueDepth updates the parrot-queue gauge.
func (m *Metrics) SetParrotQueueDepth(n int) { m.ParrotQueueDepth.Set(float64(n)) }

// RecordFrameRouted increments the per-protocol routed-frame counter.
func (m *Metrics) RecordFrameRouted(protocol string) { m.FramesRouted.WithLabelValues(protocol).Inc() }

// RecordCallRejected increments the per-reason rejected-call counter.
func (m *Metrics) RecordCallRejected(reason string) { m.CallsRejected.WithLabelValues(reason).Inc() }

// RecordCallTakeover increments the takeover counter.
func (m *Metrics) RecordCallTakeover() { m.CallTakeovers.Inc() }

// RecordPDUOutOfSequence increments the PDU-sequence-reject counter.
func (m *Metrics) RecordPDUOutOfSequence() { m.PDUOutOfSequence.Inc() }

// RecordKeyRequestUpstream increments the upstream-key-request counter.
func (m *Metrics) RecordKeyRequestUpstream() { m.KeyRequestsUpstream.Inc() }
