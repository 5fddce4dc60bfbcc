// monitor/monitor.go
package monitor

import (
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	ChannelState        *prometheus.GaugeVec
	SnapshotsSent       prometheus.Counter
	SnapshotsDropped    prometheus.Counter
	ActionsReceived     prometheus.Counter
	ActionsOverwritten  prometheus.Counter
	ActionsConsumed     prometheus.Counter
	UnrecognizedActions prometheus.Counter
	MalformedPayloads   prometheus.Counter
	PingsSent           prometheus.Counter
	PongsReceived       prometheus.Counter
	PongLatency         prometheus.Histogram
	TickDuration        prometheus.Histogram
	RoundsStarted       prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	return &Metrics{
		ChannelState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_state",
			Help:      "Channel lifecycle state (0 closed, 1 connecting, 2 open, 3 closing)",
		}, []string{"channel"}),
		SnapshotsSent:       counter("snapshots_sent_total", "Frame snapshots written to the decision channel"),
		SnapshotsDropped:    counter("snapshots_dropped_total", "Frame snapshots dropped because the decision channel was not open"),
		ActionsReceived:     counter("actions_received_total", "ai_action messages decoded"),
		ActionsOverwritten:  counter("actions_overwritten_total", "Pending actions replaced before the tick loop consumed them"),
		ActionsConsumed:     counter("actions_consumed_total", "Pending actions taken by the tick loop"),
		UnrecognizedActions: counter("unrecognized_actions_total", "Actions with an unknown actionType"),
		MalformedPayloads:   counter("malformed_payloads_total", "Inbound frames that were not well-formed"),
		PingsSent:           counter("pings_sent_total", "Keepalive pings sent"),
		PongsReceived:       counter("pongs_received_total", "Keepalive pongs received"),
		PongLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pong_latency_seconds",
			Help:      "Time between a ping and the next pong",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent in the per-frame callback",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 12),
		}),
		RoundsStarted: counter("rounds_started_total", "Rounds the tick loop entered"),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ChannelState,
		m.SnapshotsSent,
		m.SnapshotsDropped,
		m.ActionsReceived,
		m.ActionsOverwritten,
		m.ActionsConsumed,
		m.UnrecognizedActions,
		m.MalformedPayloads,
		m.PingsSent,
		m.PongsReceived,
		m.PongLatency,
		m.TickDuration,
		m.RoundsStarted,
	}
}

// Monitor owns a private registry so several instances can coexist in one
// process. Every method is safe on a nil *Monitor.
type Monitor struct {
	metrics  *Metrics
	registry *prometheus.Registry
	server   *http.Server
}

func NewMonitor(namespace string) *Monitor {
	m := &Monitor{
		metrics:  NewMetrics(namespace),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.metrics.collectors()...)
	return m
}

// Metrics exposes the raw collectors, mainly for tests.
func (m *Monitor) Metrics() *Metrics {
	return m.metrics
}

// Handler serves the registry in the Prometheus text format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer binds addr and serves /metrics in the background.
func (m *Monitor) StartServer(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.server = &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = m.server.Serve(listener)
	}()
	return nil
}

// Close stops the metrics listener.
func (m *Monitor) Close() error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Close()
}

func (m *Monitor) SetChannelState(channel string, state int) {
	if m == nil {
		return
	}
	m.metrics.ChannelState.WithLabelValues(channel).Set(float64(state))
}

func (m *Monitor) IncSnapshotsSent() {
	if m == nil {
		return
	}
	m.metrics.SnapshotsSent.Inc()
}

func (m *Monitor) IncSnapshotsDropped() {
	if m == nil {
		return
	}
	m.metrics.SnapshotsDropped.Inc()
}

func (m *Monitor) IncActionsReceived() {
	if m == nil {
		return
	}
	m.metrics.ActionsReceived.Inc()
}

func (m *Monitor) IncActionsOverwritten() {
	if m == nil {
		return
	}
	m.metrics.ActionsOverwritten.Inc()
}

func (m *Monitor) IncActionsConsumed() {
	if m == nil {
		return
	}
	m.metrics.ActionsConsumed.Inc()
}

func (m *Monitor) IncUnrecognizedActions() {
	if m == nil {
		return
	}
	m.metrics.UnrecognizedActions.Inc()
}

func (m *Monitor) IncMalformedPayloads() {
	if m == nil {
		return
	}
	m.metrics.MalformedPayloads.Inc()
}

func (m *Monitor) IncPingsSent() {
	if m == nil {
		return
	}
	m.metrics.PingsSent.Inc()
}

func (m *Monitor) IncPongsReceived() {
	if m == nil {
		return
	}
	m.metrics.PongsReceived.Inc()
}

func (m *Monitor) ObservePongLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.metrics.PongLatency.Observe(d.Seconds())
}

func (m *Monitor) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.metrics.TickDuration.Observe(d.Seconds())
}

func (m *Monitor) IncRoundsStarted() {
	if m == nil {
		return
	}
	m.metrics.RoundsStarted.Inc()
}
