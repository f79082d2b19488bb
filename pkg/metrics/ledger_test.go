package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedgerMetrics(reg)

	m.Spend("trial", "ok")
	m.Spend("trial", "ok")
	m.Spend("", "insufficient_funds")
	m.Reconcile("token_credit_purchase", "already_applied")
	m.AutoReload("throttled")
	m.Refund("token", "refunded")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterValue(mfs, "creditledger_spend_total", "source", "trial")
	require.NoError(t, err)
	assert.Equal(t, float64(2), got)

	got, err = fetchCounterValue(mfs, "creditledger_spend_total", "source", "unknown")
	require.NoError(t, err)
	assert.Equal(t, float64(1), got)

	got, err = fetchCounterValue(mfs, "creditledger_reconcile_total", "result", "already_applied")
	require.NoError(t, err)
	assert.Equal(t, float64(1), got)
}

func TestLedgerMetricsLabelEmptyValuesUnknown(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedgerMetrics(reg)

	m.Spend("", "lock_contention")
	m.Refund("", "refunded")
	m.Reconcile("", "rejected")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, name := range []string{"creditledger_spend_total", "creditledger_refund_total"} {
		got, err := fetchCounterValue(mfs, name, "source", "unknown")
		require.NoError(t, err, name)
		assert.Equal(t, float64(1), got, name)
	}
	got, err := fetchCounterValue(mfs, "creditledger_reconcile_total", "kind", "unknown")
	require.NoError(t, err)
	assert.Equal(t, float64(1), got)
}

func TestNilLedgerMetricsAreNoops(t *testing.T) {
	var m *LedgerMetrics
	assert.NotPanics(t, func() {
		m.Spend("trial", "ok")
		m.Refund("trial", "ok")
		m.Reconcile("x", "y")
		m.AutoReload("z")
	})
	assert.NotPanics(t, func() { NewLedgerMetrics(nil).Spend("trial", "ok") })
}
