package metrics

import "github.com/prometheus/client_golang/prometheus"

// LedgerAuditMetrics tracks what the reconciliation sweep finds.
type LedgerAuditMetrics struct {
	unbalanced prometheus.Counter
	scanned    prometheus.Counter
}

// NewLedgerAuditMetrics registers the audit counters on the provided registerer.
func NewLedgerAuditMetrics(reg prometheus.Registerer) *LedgerAuditMetrics {
	if reg == nil {
		return &LedgerAuditMetrics{}
	}
	unbalanced := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_audit_unbalanced_total",
		Help: "Transactions found with mismatched per-currency debit/credit sums.",
	})
	scanned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_audit_scanned_total",
		Help: "Transactions examined by the reconciliation sweep.",
	})
	reg.MustRegister(unbalanced, scanned)
	return &LedgerAuditMetrics{unbalanced: unbalanced, scanned: scanned}
}

// AddScanned counts transactions examined in one sweep.
func (m *LedgerAuditMetrics) AddScanned(n int) {
	if m == nil || m.scanned == nil {
		return
	}
	m.scanned.Add(float64(n))
}

// AddUnbalanced counts double-entry violations detected in one sweep.
func (m *LedgerAuditMetrics) AddUnbalanced(n int) {
	if m == nil || m.unbalanced == nil {
		return
	}
	m.unbalanced.Add(float64(n))
}
