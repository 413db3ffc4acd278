package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cie-bench/harness/internal/aggregate"
	"github.com/cie-bench/harness/internal/batch"
	"github.com/cie-bench/harness/pkg/retry"
)

func TestObserverCountsByStatus(t *testing.T) {
	before := testutil.ToFloat64(ItemsTotal.WithLabelValues("judge", "failed"))

	var obs Observer
	obs.Observe(batch.Event{Kind: "judge", ItemID: 1, Status: batch.StatusFailed, Duration: time.Second})
	obs.Observe(batch.Event{Kind: "judge", ItemID: 2, Status: batch.StatusSkipped})

	if got := testutil.ToFloat64(ItemsTotal.WithLabelValues("judge", "failed")) - before; got != 1 {
		t.Fatalf("expected one failed item, got %v", got)
	}
}

func TestRetryHookLabelsClass(t *testing.T) {
	hook := RetryHook("edit")
	hook(1, retry.RateLimited, 30*time.Second, errors.New("429"))
	if got := testutil.ToFloat64(RetriesTotal.WithLabelValues("edit", retry.RateLimited.String())); got < 1 {
		t.Fatalf("retry not counted: %v", got)
	}
}

func TestRecordReportSkipsEmptyClasses(t *testing.T) {
	report := &aggregate.Report{Classes: []aggregate.ClassStats{
		{ClassID: 1, Count: 2, Average: 0.75},
		{ClassID: 2},
	}}
	RecordReport("IF", "m1", report)

	if got := testutil.ToFloat64(ClassScore.WithLabelValues("IF", "m1", "1")); got != 0.75 {
		t.Fatalf("class 1 score = %v", got)
	}
	if n := testutil.CollectAndCount(ClassScore, "cie_class_score"); n != 1 {
		t.Fatalf("expected one series, got %d", n)
	}
}
