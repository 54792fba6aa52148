package bluesky

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var xrpcRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skyengage_bluesky_xrpc_requests_total",
	Help: "XRPC requests to the Bluesky PDS, by method and status",
}, []string{"method", "status"})

var xrpcDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "skyengage_bluesky_xrpc_duration_seconds",
	Help:    "XRPC request latency",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
}, []string{"method"})

var sessionRefreshes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "skyengage_bluesky_session_refreshes_total",
	Help: "Access token refreshes",
})

var postsFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skyengage_bluesky_posts_filtered_total",
	Help: "Search results dropped before evaluation, by reason",
}, []string{"reason"})
