package hostscan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricScans = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "hostscan_scans_total",
		Help:      "Completed host security scans.",
	})
	metricChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "hostscan_checks_total",
		Help:      "Protection check results across all scans.",
	}, []string{"result"})
)

func recordScan(report *HostSecurityReport) {
	metricScans.Inc()
	passed, failed := report.passCount()
	metricChecks.WithLabelValues("pass").Add(float64(passed))
	metricChecks.WithLabelValues("fail").Add(float64(failed))
}
