package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCheckpointsTotal_IncrementsByTrigger(t *testing.T) {
	CheckpointsTotal.Reset()
	CheckpointsTotal.WithLabelValues("manual").Inc()
	CheckpointsTotal.WithLabelValues("manual").Inc()
	CheckpointsTotal.WithLabelValues("fs_batch").Inc()

	if got := testutil.ToFloat64(CheckpointsTotal.WithLabelValues("manual")); got != 2 {
		t.Errorf("manual count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(CheckpointsTotal.WithLabelValues("fs_batch")); got != 1 {
		t.Errorf("fs_batch count = %v, want 1", got)
	}
}

func TestGCLiveObjectsGauge_Set(t *testing.T) {
	GCLiveObjectsGauge.Set(42)
	if got := testutil.ToFloat64(GCLiveObjectsGauge); got != 42 {
		t.Errorf("GCLiveObjectsGauge = %v, want 42", got)
	}
}

func TestGCJournalPrunedTotal_Increments(t *testing.T) {
	before := testutil.ToFloat64(GCJournalPrunedTotal)
	GCJournalPrunedTotal.Add(3)
	if got := testutil.ToFloat64(GCJournalPrunedTotal); got != before+3 {
		t.Errorf("GCJournalPrunedTotal = %v, want %v", got, before+3)
	}
}

func TestHandler_ServesMetrics(t *testing.T) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected a non-empty metrics response body")
	}
}
