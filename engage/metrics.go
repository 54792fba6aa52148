package engage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skyengage_monitor_cycles_total",
	Help: "Polling cycles, by result",
}, []string{"result"})

var postsFound = promauto.NewCounter(prometheus.CounterOpts{
	Name: "skyengage_monitor_posts_found_total",
	Help: "Candidate posts returned by platform searches",
})

var postsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skyengage_monitor_posts_processed_total",
	Help: "Posts processed by the monitor, by outcome",
}, []string{"outcome"})
