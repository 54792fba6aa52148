package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skyengage_notifications_total",
	Help: "Operator notifications sent, by kind and result",
}, []string{"kind", "result"})
