package callback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skyengage_callback_requests_total",
	Help: "Interactive approval callbacks, by result",
}, []string{"result"})
