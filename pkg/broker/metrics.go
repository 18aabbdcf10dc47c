package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "broker_executions_total",
		Help:      "Execution requests by terminal state.",
	}, []string{"outcome"})
	metricInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "broker_in_flight",
		Help:      "Executions currently running.",
	})
)

func recordExecution(terminal State) {
	metricExecutions.WithLabelValues(string(terminal)).Inc()
}
