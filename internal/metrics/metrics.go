package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	applyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_config_applies_total",
		Help: "Total number of configuration apply attempts, by backend mode and outcome",
	}, []string{"mode", "outcome"})
	configVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_config_version",
		Help: "Monotonic version of the last successfully applied configuration",
	})
	processStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_backend_process_status",
		Help: "Backend process status (0=not_installed, 1=stopped, 2=running, 3=failed)",
	}, []string{"mode"})
	portalLoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_portal_logins_total",
		Help: "Total number of portal login attempts, by outcome",
	}, []string{"outcome"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(applyTotal, configVersion, processStatus, portalLoginsTotal)
}

// IncApply records an apply attempt for a mode with outcome "ok" or "error".
func IncApply(mode, outcome string) { applyTotal.WithLabelValues(mode, outcome).Inc() }

// SetConfigVersion publishes the currently applied config version.
func SetConfigVersion(v uint64) { configVersion.Set(float64(v)) }

// SetProcessStatus publishes the backend process status for a mode.
func SetProcessStatus(mode string, status int) {
	processStatus.WithLabelValues(mode).Set(float64(status))
}

// IncPortalLogin records a portal login attempt with outcome "ok" or "denied".
func IncPortalLogin(outcome string) { portalLoginsTotal.WithLabelValues(outcome).Inc() }
