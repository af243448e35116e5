package analytics

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lodestone-search/lodestone/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterSearchMetrics()
	os.Exit(m.Run())
}

func newTestRecorder(t *testing.T, ringSize, queueSize int) *Recorder {
	t.Helper()
	r := New(ringSize, queueSize, zap.NewNop())
	t.Cleanup(r.Close)
	return r
}

func TestRecord_EventRetained(t *testing.T) {
	r := newTestRecorder(t, 10, 10)

	r.Record(Event{QueryLen: 5, ResultCount: 3, LatencyMs: 12.5})
	r.Sync()

	events := r.EventsSince(time.Time{})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].ID == "" {
		t.Error("expected generated event id")
	}
	if events[0].At.IsZero() {
		t.Error("expected timestamp to be filled")
	}
	if events[0].ResultCount != 3 {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestRing_OldestEvicted(t *testing.T) {
	r := newTestRecorder(t, 3, 10)

	for i := 0; i < 5; i++ {
		r.Record(Event{QueryLen: i})
	}
	r.Sync()

	events := r.EventsSince(time.Time{})
	if len(events) != 3 {
		t.Fatalf("expected ring capped at 3, got %d", len(events))
	}
	if events[0].QueryLen != 2 || events[2].QueryLen != 4 {
		t.Errorf("expected oldest events evicted, got %+v", events)
	}
}

func TestEventsSince_FiltersByTime(t *testing.T) {
	r := newTestRecorder(t, 10, 10)
	cutoff := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	r.Record(Event{ID: "old", At: cutoff.Add(-time.Hour)})
	r.Record(Event{ID: "new", At: cutoff.Add(time.Hour)})
	r.Sync()

	events := r.EventsSince(cutoff)
	if len(events) != 1 || events[0].ID != "new" {
		t.Errorf("expected only the new event, got %+v", events)
	}
}

func TestSnapshot_Aggregates(t *testing.T) {
	r := newTestRecorder(t, 10, 10)
	r.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	at := r.now().Add(-time.Minute)

	r.Record(Event{At: at, ResultCount: 10, LatencyMs: 10, FilterKeys: []string{"source"}})
	r.Record(Event{At: at, ResultCount: 0, LatencyMs: 30, Degraded: true, FilterKeys: []string{"source", "type"}})
	r.Sync()

	stats := r.Snapshot(time.Hour)
	if stats.TotalSearches != 2 {
		t.Fatalf("expected 2 searches, got %d", stats.TotalSearches)
	}
	if stats.AvgQueryTimeMs != 20 {
		t.Errorf("expected avg latency 20, got %f", stats.AvgQueryTimeMs)
	}
	if stats.AvgResultCount != 5 {
		t.Errorf("expected avg results 5, got %f", stats.AvgResultCount)
	}
	if stats.ZeroResultRate != 0.5 {
		t.Errorf("expected zero-result rate 0.5, got %f", stats.ZeroResultRate)
	}
	if stats.DegradedRate != 0.5 {
		t.Errorf("expected degraded rate 0.5, got %f", stats.DegradedRate)
	}
	if len(stats.PopularFilterKey) == 0 || stats.PopularFilterKey[0].Key != "source" {
		t.Errorf("expected source as top filter key, got %+v", stats.PopularFilterKey)
	}
}

func TestSnapshot_Empty(t *testing.T) {
	r := newTestRecorder(t, 10, 10)

	stats := r.Snapshot(time.Hour)
	if stats.TotalSearches != 0 || stats.AvgQueryTimeMs != 0 {
		t.Errorf("expected zero stats, got %+v", stats)
	}
}

func TestRecord_NeverBlocks(t *testing.T) {
	// Tiny queue, no consumer keeping up: Record must return promptly.
	r := newTestRecorder(t, 4, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			r.Record(Event{QueryLen: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked under backpressure")
	}
}

func TestClose_Idempotent(t *testing.T) {
	r := New(4, 4, zap.NewNop())
	r.Close()
	r.Close()
	r.Sync() // must not hang after close
}
