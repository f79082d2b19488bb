package metrics

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics counts ledger outcomes. A nil receiver is a no-op so services
// can run without a registry in tests.
type LedgerMetrics struct {
	spends     *prometheus.CounterVec
	refunds    *prometheus.CounterVec
	reconciles *prometheus.CounterVec
	reloads    *prometheus.CounterVec
}

func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	m := &LedgerMetrics{
		spends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditledger_spend_total",
			Help: "Spend attempts by funding source and result.",
		}, []string{"source", "result"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditledger_refund_total",
			Help: "Outcome reports by funding source and result.",
		}, []string{"source", "result"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditledger_reconcile_total",
			Help: "Payment events reconciled by credit kind and result.",
		}, []string{"kind", "result"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditledger_auto_reload_total",
			Help: "Auto-reload trigger evaluations by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.spends, m.refunds, m.reconciles, m.reloads)
	return m
}

func (m *LedgerMetrics) Spend(source, result string) {
	if m == nil || m.spends == nil {
		return
	}
	m.spends.WithLabelValues(normalizeLabel(source), result).Inc()
}

func (m *LedgerMetrics) Refund(source, result string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(source), result).Inc()
}

func (m *LedgerMetrics) Reconcile(kind, result string) {
	if m == nil || m.reconciles == nil {
		return
	}
	m.reconciles.WithLabelValues(normalizeLabel(kind), result).Inc()
}

func (m *LedgerMetrics) AutoReload(result string) {
	if m == nil || m.reloads == nil {
		return
	}
	m.reloads.WithLabelValues(result).Inc()
}

// normalizeLabel keeps empty label values from collapsing into a blank series.
func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
