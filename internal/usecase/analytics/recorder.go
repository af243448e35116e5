// Package analytics collects per-query search telemetry in a bounded ring
// buffer. Recording never blocks the search path: events flow through a
// bounded queue and the oldest queued event is dropped under backpressure.
package analytics

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lodestone-search/lodestone/internal/metrics"
)

// Event is one recorded search execution.
type Event struct {
	ID          string
	At          time.Time
	QueryLen    int
	FilterCount int
	ResultCount int
	LatencyMs   float64
	Degraded    bool
	FilterKeys  []string
	ResultIDs   []string
}

// KeyCount is a filter key with its usage count.
type KeyCount struct {
	Key   string
	Count int
}

// Stats is an aggregate over a time window.
type Stats struct {
	TotalSearches    int
	AvgQueryTimeMs   float64
	AvgResultCount   float64
	ZeroResultRate   float64
	DegradedRate     float64
	PopularFilterKey []KeyCount
}

// Recorder is the non-blocking analytics collector.
type Recorder struct {
	logger *zap.Logger
	now    func() time.Time

	queue  chan Event
	syncCh chan chan struct{}
	done   chan struct{}

	mu   sync.RWMutex
	ring []Event
	head int // next write position
	size int
}

// New creates a recorder with a ring of ringSize events behind a queue of
// queueSize and starts the consumer goroutine.
func New(ringSize, queueSize int, logger *zap.Logger) *Recorder {
	if ringSize <= 0 {
		ringSize = 1000
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	r := &Recorder{
		logger: logger,
		now:    time.Now,
		queue:  make(chan Event, queueSize),
		syncCh: make(chan chan struct{}),
		done:   make(chan struct{}),
		ring:   make([]Event, ringSize),
	}
	go r.consume()
	return r
}

// Record enqueues an event without blocking. Under backpressure the oldest
// queued event is discarded to make room; if the queue refills before the
// retry, the new event itself is dropped.
func (r *Recorder) Record(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = r.now()
	}

	select {
	case r.queue <- e:
		return
	default:
	}

	select {
	case dropped := <-r.queue:
		metrics.AnalyticsEventsDropped.Inc()
		r.logger.Debug("Analytics queue full, dropped oldest event", zap.String("event_id", dropped.ID))
	default:
	}

	select {
	case r.queue <- e:
	default:
		metrics.AnalyticsEventsDropped.Inc()
		r.logger.Debug("Analytics queue full, dropped event", zap.String("event_id", e.ID))
	}
}

// Sync blocks until every event enqueued before the call is in the ring.
func (r *Recorder) Sync() {
	ack := make(chan struct{})
	select {
	case r.syncCh <- ack:
		<-ack
	case <-r.done:
	}
}

// Close stops the consumer. Queued events not yet consumed are discarded.
func (r *Recorder) Close() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

func (r *Recorder) consume() {
	for {
		select {
		case e := <-r.queue:
			r.append(e)
		case ack := <-r.syncCh:
			r.drain()
			close(ack)
		case <-r.done:
			return
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case e := <-r.queue:
			r.append(e)
		default:
			return
		}
	}
}

func (r *Recorder) append(e Event) {
	r.mu.Lock()
	r.ring[r.head] = e
	r.head = (r.head + 1) % len(r.ring)
	if r.size < len(r.ring) {
		r.size++
	}
	r.mu.Unlock()
}

// EventsSince returns retained events at or after t, oldest first.
func (r *Recorder) EventsSince(t time.Time) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Event, 0, r.size)
	start := (r.head - r.size + len(r.ring)) % len(r.ring)
	for i := 0; i < r.size; i++ {
		e := r.ring[(start+i)%len(r.ring)]
		if !e.At.Before(t) {
			out = append(out, e)
		}
	}
	return out
}

// Snapshot aggregates retained events inside the window ending now.
func (r *Recorder) Snapshot(window time.Duration) Stats {
	events := r.EventsSince(r.now().Add(-window))

	stats := Stats{TotalSearches: len(events)}
	if len(events) == 0 {
		return stats
	}

	var totalTime, totalResults float64
	var zeroResults, degraded int
	keyCounts := make(map[string]int)
	for _, e := range events {
		totalTime += e.LatencyMs
		totalResults += float64(e.ResultCount)
		if e.ResultCount == 0 {
			zeroResults++
		}
		if e.Degraded {
			degraded++
		}
		for _, k := range e.FilterKeys {
			keyCounts[k]++
		}
	}

	n := float64(len(events))
	stats.AvgQueryTimeMs = totalTime / n
	stats.AvgResultCount = totalResults / n
	stats.ZeroResultRate = float64(zeroResults) / n
	stats.DegradedRate = float64(degraded) / n
	stats.PopularFilterKey = topKeys(keyCounts, 5)
	return stats
}

func topKeys(counts map[string]int, n int) []KeyCount {
	out := make([]KeyCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, KeyCount{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
