package conversation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "groupchat"

// Metrics groups the synchronizer's Prometheus collectors.
type Metrics struct {
	pages       *prometheus.CounterVec
	pageLatency *prometheus.HistogramVec
	events      *prometheus.CounterVec
	mutations   *prometheus.CounterVec
	attachments *prometheus.CounterVec
	storeSize   prometheus.Gauge
}

// NewMetrics registers the collectors with reg. A nil reg builds unregistered
// collectors, which is what tests and embedders without /metrics want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		pages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "page_loads_total",
			Help:      "Message page fetches by kind (first, more) and result.",
		}, []string{"kind", "result"}),
		pageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "page_load_duration_seconds",
			Help:      "Latency of message page fetches.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stream_events_total",
			Help:      "Live change events by outcome.",
		}, []string{"outcome"}),
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "mutations_total",
			Help:      "Send, edit and delete operations by result.",
		}, []string{"op", "result"}),
		attachments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "attachment_lookups_total",
			Help:      "Attachment resolutions by outcome.",
		}, []string{"outcome"}),
		storeSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "store_messages",
			Help:      "Messages currently held for the open conversation.",
		}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) pageLoaded(kind string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(kind, result(err)).Inc()
	m.pageLatency.WithLabelValues(kind).Observe(seconds)
}

func (m *Metrics) event(outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(outcome).Inc()
}

func (m *Metrics) mutation(op string, err error) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) attachment(outcome string) {
	if m == nil {
		return
	}
	m.attachments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) storeLen(n int) {
	if m == nil {
		return
	}
	m.storeSize.Set(float64(n))
}
