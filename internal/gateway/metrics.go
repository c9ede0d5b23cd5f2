package gateway

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type gatewayMetrics struct {
	connectionsTotal prometheus.Counter
	authFailures     prometheus.Counter
	sessionsTotal    prometheus.Counter
	activeSessions   prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metrics     gatewayMetrics
)

func initMetrics() *gatewayMetrics {
	metricsOnce.Do(func() {
		metrics.connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scitex",
			Subsystem: "sshgate",
			Name:      "connections_total",
			Help:      "Count of accepted TCP connections",
		})
		metrics.authFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scitex",
			Subsystem: "sshgate",
			Name:      "auth_failures_total",
			Help:      "Count of rejected authentication attempts",
		})
		metrics.sessionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scitex",
			Subsystem: "sshgate",
			Name:      "sessions_total",
			Help:      "Count of shell sessions attached to workspaces",
		})
		metrics.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scitex",
			Subsystem: "sshgate",
			Name:      "active_sessions",
			Help:      "Currently attached shell sessions",
		})

		collectors := []prometheus.Collector{
			metrics.connectionsTotal, metrics.authFailures,
			metrics.sessionsTotal, metrics.activeSessions,
		}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	})
	return &metrics
}
