package monitoring

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector manages Prometheus metrics for the coordinator
type MetricsCollector struct {
	serviceName string

	balanceScore     prometheus.Gauge
	activeRealms     prometheus.Gauge
	activeFlows      prometheus.Gauge
	recordsManaged   prometheus.Gauge
	diagnosticPasses *prometheus.CounterVec
	balancePasses    *prometheus.CounterVec
	serviceInfo      *prometheus.GaugeVec
}

// NewMetricsCollector creates a new metrics collector for a service
func NewMetricsCollector(serviceName, version, commit string) *MetricsCollector {
	// Sanitize service name for Prometheus (replace hyphens with underscores)
	sanitizedServiceName := strings.ReplaceAll(serviceName, "-", "_")

	mc := &MetricsCollector{
		serviceName: sanitizedServiceName,
	}

	mc.balanceScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: mc.serviceName + "_balance_score",
			Help: "Composite health score from the last diagnostic pass (0-100)",
		},
	)

	mc.activeRealms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: mc.serviceName + "_active_realms",
			Help: "Number of storage realms currently managed",
		},
	)

	mc.activeFlows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: mc.serviceName + "_active_flows",
			Help: "Number of communication flows currently running",
		},
	)

	mc.recordsManaged = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: mc.serviceName + "_records_managed",
			Help: "Total records held across all realms",
		},
	)

	mc.diagnosticPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: mc.serviceName + "_diagnostic_passes_total",
			Help: "Total diagnostic passes by outcome",
		},
		[]string{"outcome"},
	)

	mc.balancePasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: mc.serviceName + "_balance_passes_total",
			Help: "Total balance passes by trigger",
		},
		[]string{"trigger"},
	)

	mc.serviceInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: mc.serviceName + "_service_info",
			Help: "Service information",
		},
		[]string{"version", "commit"},
	)

	prometheus.MustRegister(mc.balanceScore)
	prometheus.MustRegister(mc.activeRealms)
	prometheus.MustRegister(mc.activeFlows)
	prometheus.MustRegister(mc.recordsManaged)
	prometheus.MustRegister(mc.diagnosticPasses)
	prometheus.MustRegister(mc.balancePasses)
	prometheus.MustRegister(mc.serviceInfo)

	mc.serviceInfo.WithLabelValues(version, commit).Set(1)

	return mc
}

// ObserveDiagnostic records the result of one diagnostic pass
func (mc *MetricsCollector) ObserveDiagnostic(score float64, realms, flows, records int, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	mc.diagnosticPasses.WithLabelValues(outcome).Inc()
	if !failed {
		mc.balanceScore.Set(score)
		mc.activeRealms.Set(float64(realms))
		mc.activeFlows.Set(float64(flows))
		mc.recordsManaged.Set(float64(records))
	}
}

// ObserveBalance records one balance pass. Trigger is "auto", "cycle"
// or "manual".
func (mc *MetricsCollector) ObserveBalance(trigger string) {
	mc.balancePasses.WithLabelValues(trigger).Inc()
}

// Handler returns the Prometheus metrics endpoint handler
func (mc *MetricsCollector) Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
