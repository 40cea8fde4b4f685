// Package metrics exposes Prometheus instruments for the messaging service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	messagesSent      *prometheus.CounterVec
	messagesRead      *prometheus.CounterVec
	aggregateDuration prometheus.Histogram
	wsConnections     prometheus.Gauge
	rateLimited       prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ams_messages_sent_total",
			Help: "Message records persisted, by delivery mode.",
		}, []string{"mode"}),
		messagesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ams_messages_marked_read_total",
			Help: "Messages flipped to read, by scope.",
		}, []string{"scope"}),
		aggregateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ams_conversation_list_seconds",
			Help:    "Time spent building a conversation list.",
			Buckets: prometheus.DefBuckets,
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ams_websocket_connections",
			Help: "Number of active WebSocket connections.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ams_send_rate_limited_total",
			Help: "Send requests rejected by the rate limiter.",
		}),
	}
	reg.MustRegister(
		m.messagesSent,
		m.messagesRead,
		m.aggregateDuration,
		m.wsConnections,
		m.rateLimited,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) MessagesSent(mode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.messagesSent.WithLabelValues(mode).Add(float64(n))
}

func (m *Metrics) MessagesRead(scope string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.messagesRead.WithLabelValues(scope).Add(float64(n))
}

func (m *Metrics) ObserveConversationList(d time.Duration) {
	if m == nil {
		return
	}
	m.aggregateDuration.Observe(d.Seconds())
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.wsConnections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.wsConnections.Dec()
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}
