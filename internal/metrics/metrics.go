// Package metrics exposes prometheus counters for authorization decisions and audit appends.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dds_authz_decisions_total",
			Help: "Authorization point checks by kind, action and decision.",
		},
		[]string{"kind", "action", "decision"},
	)

	auditEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dds_audit_entries_total",
			Help: "Audit entries appended by auditable kind and action.",
		},
		[]string{"kind", "action"},
	)
)

// Register adds the collectors to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{decisionsTotal, auditEntriesTotal} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the given gatherer in the prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveDecision counts one point check.
func ObserveDecision(kind, action string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	decisionsTotal.WithLabelValues(kind, action, decision).Inc()
}

// ObserveAudit counts one appended audit entry.
func ObserveAudit(kind, action string) {
	auditEntriesTotal.WithLabelValues(kind, action).Inc()
}
