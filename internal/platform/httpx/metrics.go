package httpx

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so two services in one test binary never
// collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	DomainEvents        *prometheus.CounterVec
}

func NewMetrics(service string) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": service}

	m := &Metrics{
		registry: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "urclec",
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests",
			ConstLabels: labels,
		}, []string{"method", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "urclec",
			Name:        "http_request_duration_seconds",
			Help:        "Duration of HTTP requests in seconds",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"method"}),
		DomainEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "urclec",
			Name:        "domain_events_total",
			Help:        "Domain events recorded, by event type and result",
			ConstLabels: labels,
		}, []string{"event", "result"}),
	}
	reg.MustRegister(m.HTTPRequestsTotal, m.HTTPRequestDuration, m.DomainEvents)
	return m
}

// Event counts one domain outcome, e.g. Event("request.decided", "ok").
// A nil receiver is a no-op so handlers built without metrics still work.
func (m *Metrics) Event(event, result string) {
	if m == nil {
		return
	}
	m.DomainEvents.WithLabelValues(event, result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
