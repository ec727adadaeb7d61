package worker

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestWorkerMetrics_RecordScheduledRun(t *testing.T) {
	m := globalTestMetrics
	before := testutil.ToFloat64(m.ScheduledRunsTotal.WithLabelValues("done-errors"))

	m.RecordScheduledRun("done-errors", 12.5)

	assert.Equal(t, before+1, testutil.ToFloat64(m.ScheduledRunsTotal.WithLabelValues("done-errors")))
}

func TestWorkerMetrics_RecordReload(t *testing.T) {
	m := globalTestMetrics
	ok := testutil.ToFloat64(m.SourceReloadsTotal.WithLabelValues("success"))
	ko := testutil.ToFloat64(m.SourceReloadsTotal.WithLabelValues("failure"))

	m.RecordReload(true)
	m.RecordReload(false)
	m.RecordReload(false)

	assert.Equal(t, ok+1, testutil.ToFloat64(m.SourceReloadsTotal.WithLabelValues("success")))
	assert.Equal(t, ko+2, testutil.ToFloat64(m.SourceReloadsTotal.WithLabelValues("failure")))
}

func TestWorkerMetrics_Retention(t *testing.T) {
	m := globalTestMetrics
	before := testutil.ToFloat64(m.RetentionPurgedTotal.WithLabelValues("jobs"))

	m.RecordPurged("jobs", 42)
	m.RecordRetentionSuccess()

	assert.Equal(t, before+42, testutil.ToFloat64(m.RetentionPurgedTotal.WithLabelValues("jobs")))
	assert.Greater(t, testutil.ToFloat64(m.RetentionLastSuccess), float64(0))
}
