package platform

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics are the request collectors used by chiLogger.
type HTTPMetrics struct {
	RequestsTotal *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
}

// NewHTTPMetrics registers the HTTP collectors on reg.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scripthub",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests processed, labeled by method and route.",
		}, []string{"method", "route", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scripthub",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of request durations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.RequestsTotal, m.Duration)
	return m
}
