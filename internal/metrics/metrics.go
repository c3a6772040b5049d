// Package metrics holds the Prometheus collectors for the ingestion
// pipeline and its consumers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "silensess"

type Metrics struct {
	FramesReceived  prometheus.Counter
	DecodeErrors    prometheus.Counter
	FramesEvicted   prometheus.Counter
	Batches         prometheus.Counter
	BatchSize       prometheus.Histogram
	QueueDepth      prometheus.Gauge
	Rounds          prometheus.Gauge
	ConnectionState prometheus.Gauge
	ConnectAttempts *prometheus.CounterVec // result=ok|error|no_channel
	HubClients      prometheus.Gauge
	Submissions     *prometheus.CounterVec // kind=run|custom, result=ok|error

	gatherer prometheus.Gatherer
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in
// tests so collectors never collide.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Binary telemetry frames decoded and enqueued.",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decode_errors_total",
			Help:      "Binary messages rejected by the frame decoder.",
		}),
		FramesEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_evicted_total",
			Help:      "Frames discarded because the ingestion queue was full.",
		}),
		Batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_processed_total",
			Help:      "Render steps that applied at least one frame.",
		}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size_frames",
			Help:      "Frames applied per render step.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth_frames",
			Help:      "Frames waiting in the ingestion queue after the last render step.",
		}),
		Rounds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_rounds",
			Help:      "Distinct rounds held in the aggregate history.",
		}),
		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Telemetry connection state: 0 disconnected, 1 connecting, 2 connected.",
		}),
		ConnectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Telemetry connection attempts by result.",
		}, []string{"result"}),
		HubClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dashboard_clients",
			Help:      "Connected dashboard WebSocket clients.",
		}),
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Simulation configuration submissions by kind and result.",
		}, []string{"kind", "result"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
