package decision

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skyengage_decisions_total",
	Help: "Decision stage outcomes",
}, []string{"stage", "result"})

var responsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skyengage_responses_generated_total",
	Help: "Reply texts produced, generated or fallback",
}, []string{"source"})
