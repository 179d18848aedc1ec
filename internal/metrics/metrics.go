package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// Metrics holds the gateway's collectors.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	feedFrames *prometheus.CounterVec
	feedSeeded *prometheus.CounterVec

	sessions       *prometheus.GaugeVec
	sessionsClosed *prometheus.CounterVec
	records        *prometheus.CounterVec

	priceFetches *prometheus.CounterVec
}

// New registers the gateway collectors on reg. A nil reg gets a fresh
// registry carrying the Go and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests"},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Request duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		feedFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "feed_frames_total", Help: "Subscription frames by outcome"},
			[]string{"feed", "outcome"},
		),
		feedSeeded: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "feed_seeded_records_total", Help: "Records merged by bulk reads"},
			[]string{"feed"},
		),
		sessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "ws_sessions", Help: "Open websocket sessions"},
			[]string{"feed"},
		),
		sessionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "ws_sessions_closed_total", Help: "Closed websocket sessions by reason"},
			[]string{"feed", "reason"},
		),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "ws_records_total", Help: "Live records per session by result"},
			[]string{"feed", "result"},
		),
		priceFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "price_fetches_total", Help: "USD price fetches by outcome"},
			[]string{"token", "outcome"},
		),
	}

	reg.MustRegister(
		m.httpRequests, m.httpDuration,
		m.feedFrames, m.feedSeeded,
		m.sessions, m.sessionsClosed, m.records,
		m.priceFetches,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WatchFeed exports a feed's record count and attachment count as gauges
// read at scrape time.
func (m *Metrics) WatchFeed(feed string, records, attached func() int) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"feed": feed}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: namespace, Name: "feed_records", Help: "Records held by a feed", ConstLabels: labels},
			func() float64 { return float64(records()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: namespace, Name: "feed_attachments", Help: "Live fan-out attachments", ConstLabels: labels},
			func() float64 { return float64(attached()) },
		),
	)
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusLabel(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveFrame counts a subscription frame outcome.
func (m *Metrics) ObserveFrame(feed, outcome string) {
	if m == nil {
		return
	}
	m.feedFrames.WithLabelValues(feed, outcome).Inc()
}

// ObserveSeed counts records merged by a bulk read.
func (m *Metrics) ObserveSeed(feed string, records int) {
	if m == nil {
		return
	}
	m.feedSeeded.WithLabelValues(feed).Add(float64(records))
}

// SessionOpened counts a new websocket session.
func (m *Metrics) SessionOpened(feed string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(feed).Inc()
}

// SessionClosed counts a closed websocket session.
func (m *Metrics) SessionClosed(feed, reason string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(feed).Dec()
	m.sessionsClosed.WithLabelValues(feed, reason).Inc()
}

// RecordSent counts a record delivered to a session.
func (m *Metrics) RecordSent(feed string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(feed, "sent").Inc()
}

// RecordSkipped counts a record a session already held.
func (m *Metrics) RecordSkipped(feed string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(feed, "skipped").Inc()
}

// ObservePriceFetch counts a price fetch outcome ("ok", "rate_limited", "error").
func (m *Metrics) ObservePriceFetch(token, outcome string) {
	if m == nil {
		return
	}
	m.priceFetches.WithLabelValues(token, outcome).Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return strconv.Itoa(code)
	}
}
