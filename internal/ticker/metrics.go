package ticker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var taskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skyengage_periodic_task_runs_total",
	Help: "Runs of periodic background tasks, by task and result",
}, []string{"task", "result"})
