package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSchedulerMetricsRecordsRuns(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSchedulerMetrics(registry, Config{ServiceName: "homecare", Environment: "test"})

	m.RecordJobRun("archival_sweep", 150*time.Millisecond)
	m.RecordJobRun("archival_sweep", 50*time.Millisecond)
	m.RecordJobError("archival_sweep", "")
	m.RecordBatchProcessed("archival_sweep", 3)
	m.RecordBatchProcessed("archival_sweep", 0)

	if got := testutil.ToFloat64(m.jobRuns.WithLabelValues("archival_sweep")); got != 2 {
		t.Fatalf("expected 2 job runs, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobErrors.WithLabelValues("archival_sweep", SchedulerJobReasonUnknown)); got != 1 {
		t.Fatalf("expected 1 unknown error, got %v", got)
	}
	if got := testutil.ToFloat64(m.batchProcessed.WithLabelValues("archival_sweep")); got != 3 {
		t.Fatalf("expected 3 processed, got %v", got)
	}
}

func TestNilSchedulerMetricsIsSafe(t *testing.T) {
	var m *SchedulerMetrics
	m.RecordJobRun("job", time.Second)
	m.RecordJobTimeout("job")
	m.RecordJobError("job", "reason")
	m.RecordBatchProcessed("job", 1)
}
