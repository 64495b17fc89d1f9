// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

// histogramSamples reads the observation count and sum of a histogram.
func histogramSamples(t *testing.T, h prometheus.Metric) (uint64, float64) {
	t.Helper()
	var m io_prometheus_client.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum()
}

func TestRecordStoreOp(t *testing.T) {
	before := testutil.ToFloat64(StoreErrors.WithLabelValues("mock", "hset"))

	RecordStoreOp("mock", "hset", time.Millisecond, nil)
	RecordStoreOp("mock", "hset", 2*time.Millisecond, errors.New("connection refused"))

	if got := testutil.ToFloat64(StoreErrors.WithLabelValues("mock", "hset")) - before; got != 1 {
		t.Errorf("store errors delta = %v, want 1", got)
	}
}

func TestRecordCreditTracked(t *testing.T) {
	created := testutil.ToFloat64(CreditEventsTracked.WithLabelValues("created"))
	dup := testutil.ToFloat64(CreditEventsTracked.WithLabelValues("duplicate"))
	sum := testutil.ToFloat64(CreditsTracked)

	RecordCreditTracked("created", 7)
	RecordCreditTracked("duplicate", 7)
	RecordCreditTracked("created", 0)

	if got := testutil.ToFloat64(CreditEventsTracked.WithLabelValues("created")) - created; got != 2 {
		t.Errorf("created delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(CreditEventsTracked.WithLabelValues("duplicate")) - dup; got != 1 {
		t.Errorf("duplicate delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(CreditsTracked) - sum; got != 7 {
		t.Errorf("credits delta = %v, want 7 (duplicates do not count)", got)
	}
}

func TestRecordCreditSyncRun(t *testing.T) {
	CreditSyncLastSuccess.Set(0)

	RecordCreditSyncRun(time.Second, 3, errors.New("ledger down"))
	if got := testutil.ToFloat64(CreditSyncLastSuccess); got != 0 {
		t.Errorf("last success set on failed run: %v", got)
	}

	RecordCreditSyncRun(time.Second, 3, nil)
	if got := testutil.ToFloat64(CreditSyncLastSuccess); got < float64(time.Now().Add(-time.Minute).Unix()) {
		t.Errorf("last success = %v, want recent timestamp", got)
	}
}

func TestRecordCreditSyncRun_ObservesDuration(t *testing.T) {
	count, sum := histogramSamples(t, CreditSyncDuration)

	RecordCreditSyncRun(1500*time.Millisecond, 0, nil)
	RecordCreditSyncRun(500*time.Millisecond, 0, errors.New("ledger down"))

	gotCount, gotSum := histogramSamples(t, CreditSyncDuration)
	if gotCount-count != 2 {
		t.Errorf("sample count delta = %d, want 2", gotCount-count)
	}
	if d := gotSum - sum; d < 1.999 || d > 2.001 {
		t.Errorf("sample sum delta = %v, want 2s", d)
	}
}

func TestRecordLedgerQuery_ObservesPerOperation(t *testing.T) {
	obs, err := LedgerQueryDuration.GetMetricWithLabelValues("duckdb", "insert_credits")
	if err != nil {
		t.Fatalf("failed to get histogram: %v", err)
	}
	hist, ok := obs.(prometheus.Metric)
	if !ok {
		t.Fatal("observer is not a metric")
	}
	count, _ := histogramSamples(t, hist)
	errs := testutil.ToFloat64(LedgerErrors.WithLabelValues("duckdb", "insert_credits"))

	RecordLedgerQuery("duckdb", "insert_credits", 3*time.Millisecond, nil)
	RecordLedgerQuery("duckdb", "insert_credits", 3*time.Millisecond, errors.New("constraint"))

	if got, _ := histogramSamples(t, hist); got-count != 2 {
		t.Errorf("sample count delta = %d, want 2", got-count)
	}
	if got := testutil.ToFloat64(LedgerErrors.WithLabelValues("duckdb", "insert_credits")) - errs; got != 1 {
		t.Errorf("ledger errors delta = %v, want 1", got)
	}
}

func TestSetCreditSyncRunning(t *testing.T) {
	SetCreditSyncRunning(true)
	if got := testutil.ToFloat64(CreditSyncRunning); got != 1 {
		t.Errorf("running = %v, want 1", got)
	}
	SetCreditSyncRunning(false)
	if got := testutil.ToFloat64(CreditSyncRunning); got != 0 {
		t.Errorf("running = %v, want 0", got)
	}
}

func TestRecordCapacityFlush(t *testing.T) {
	archived := testutil.ToFloat64(MessagesArchived)
	evicted := testutil.ToFloat64(MessagesEvicted)
	flushes := testutil.ToFloat64(CapacityFlushes.WithLabelValues("threshold", "ok"))

	RecordCapacityFlush("threshold", 10, 4, nil)

	if got := testutil.ToFloat64(MessagesArchived) - archived; got != 10 {
		t.Errorf("archived delta = %v, want 10", got)
	}
	if got := testutil.ToFloat64(MessagesEvicted) - evicted; got != 4 {
		t.Errorf("evicted delta = %v, want 4", got)
	}
	if got := testutil.ToFloat64(CapacityFlushes.WithLabelValues("threshold", "ok")) - flushes; got != 1 {
		t.Errorf("flushes delta = %v, want 1", got)
	}
}

func TestTrackActiveRequestConcurrent(t *testing.T) {
	start := testutil.ToFloat64(APIActiveRequests)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			TrackActiveRequest(true)
			TrackActiveRequest(false)
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(APIActiveRequests); got != start {
		t.Errorf("active requests = %v, want %v", got, start)
	}
}

func TestResultLabel(t *testing.T) {
	if resultLabel(nil) != "ok" || resultLabel(errors.New("x")) != "error" {
		t.Error("resultLabel mismatch")
	}
}
