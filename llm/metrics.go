package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skyengage_llm_completions_total",
	Help: "Model completions by result",
}, []string{"result"})

var completionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "skyengage_llm_completion_duration_seconds",
	Help:    "Time spent in model completions, including retries",
	Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
})
