package gateway

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// WithMetrics records request counts and latencies on reg.
// Status code "0" counts requests that never received a response.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(g *Gateway) {
		m := &metrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "authforge",
				Subsystem: "client",
				Name:      "requests_total",
				Help:      "Requests sent to the AuthForge API by method and status code.",
			}, []string{"method", "code"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "authforge",
				Subsystem: "client",
				Name:      "request_duration_seconds",
				Help:      "Latency of requests sent to the AuthForge API.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		reg.MustRegister(m.requests, m.duration)
		g.metrics = m
	}
}

func (g *Gateway) observe(method string, status int, start time.Time) {
	if g.metrics == nil {
		return
	}
	g.metrics.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	g.metrics.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
