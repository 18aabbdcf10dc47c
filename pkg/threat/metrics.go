package threat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAssessments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "threat_assessments_total",
		Help:      "Content assessments by resulting threat level.",
	}, []string{"level"})
	metricContentBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "threat_content_blocked_total",
		Help:      "Content blocked outright by the autoBlockCritical gate.",
	})
)

func recordAssessment(level string, blocked bool) {
	metricAssessments.WithLabelValues(level).Inc()
	if blocked {
		metricContentBlocked.Inc()
	}
}
