package web

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "minichat_http_requests_total",
		Help: "HTTP API requests by path and status.",
	}, []string{"path", "status"})

	requestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "minichat_http_request_duration_seconds",
		Help:    "HTTP API latency by path.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})
)
