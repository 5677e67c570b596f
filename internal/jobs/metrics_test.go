package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("ledger:gl_integrity").End(nil))
	require.Positive(t, testutil.ToFloat64(m.LastSuccess("ledger:gl_integrity")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("ledger:gl_integrity", "success")))

	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("ledger:gl_integrity").End(boom), boom)
	require.Equal(t, float64(1), testutil.ToFloat64(m.failures.WithLabelValues("ledger:gl_integrity")))

	m.AddFindings("rollup", 2)
	m.AddFindings("rollup", 0)
	require.Equal(t, float64(2), testutil.ToFloat64(m.FindingCounter("rollup")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("job").End(boom), boom)
	m.AddFindings("rollup", 1)
}
