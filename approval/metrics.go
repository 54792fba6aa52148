package approval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var gateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skyengage_gate_dispositions_total",
	Help: "What the approval gate did with decided posts",
}, []string{"mode", "disposition"})

var executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skyengage_executions_total",
	Help: "Platform actions attempted, by action and result",
}, []string{"action", "result"})

var resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skyengage_approval_resolutions_total",
	Help: "Interactive approval resolutions, by verb and final status",
}, []string{"verb", "status"})
