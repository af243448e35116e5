package search

import (
	"context"
	"os"
	"sort"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lodestone-search/lodestone/internal/domain"
	"github.com/lodestone-search/lodestone/internal/index"
	"github.com/lodestone-search/lodestone/internal/metrics"
	"github.com/lodestone-search/lodestone/internal/usecase/analytics"
	"github.com/lodestone-search/lodestone/internal/usecase/rank"
)

func TestMain(m *testing.M) {
	metrics.RegisterSearchMetrics()
	os.Exit(m.Run())
}

// mockRecords implements RecordReader over a map.
type mockRecords struct {
	recs map[string]domain.Record
	keys map[string]struct{}
}

func newMockRecords(recs ...domain.Record) *mockRecords {
	m := &mockRecords{
		recs: make(map[string]domain.Record),
		keys: make(map[string]struct{}),
	}
	for _, r := range recs {
		m.recs[r.ID] = r
		for _, k := range r.FilterKeys() {
			m.keys[k] = struct{}{}
		}
	}
	return m
}

func (m *mockRecords) Get(_ context.Context, id string) (domain.Record, error) {
	rec, ok := m.recs[id]
	if !ok {
		return domain.Record{}, domain.ErrRecordNotFound
	}
	return rec, nil
}

func (m *mockRecords) All(_ context.Context) ([]domain.Record, error) {
	out := make([]domain.Record, 0, len(m.recs))
	for _, r := range m.recs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRecords) HasFilterKey(key string) bool {
	_, ok := m.keys[key]
	return ok
}

// stubEmbedder returns fixed vectors per text, with optional error injection.
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (s *stubEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	s.calls++
	if s.err != nil {
		return domain.EmbeddingResult{}, s.err
	}
	if vec, ok := s.vectors[text]; ok {
		return domain.EmbeddingResult{Embedding: vec}, nil
	}
	return domain.EmbeddingResult{Embedding: []float32{0, 0, 1}}, nil
}

// mockRecorder captures analytics events synchronously.
type mockRecorder struct {
	events []analytics.Event
}

func (m *mockRecorder) Record(e analytics.Event) {
	m.events = append(m.events, e)
}

func defaultTestConfig() Config {
	return Config{
		OverfetchFactor: 4,
		CandidateFloor:  50,
		QueryTimeout:    time.Second,
		RetryBackoff:    time.Millisecond,
	}
}

func newTestService(
	t *testing.T, idx *index.Index, records *mockRecords, embed domain.Embedder, cfg Config,
) (*Service, *mockRecorder) {
	t.Helper()
	ranker := rank.New(
		rank.Weights{Semantic: 0.6, Freshness: 0.15, Metadata: 0.15, Personalization: 0.1},
		7*24*time.Hour,
	)
	rec := &mockRecorder{}
	svc := New(idx, records, embed, ranker, rec, cfg, zap.NewNop())
	svc.sleep = func(time.Duration) {}
	return svc, rec
}

// buildCorpus indexes the given records into a fresh 3-dim index.
func buildCorpus(t *testing.T, recs ...domain.Record) (*index.Index, *mockRecords) {
	t.Helper()
	idx := index.New(3)
	for _, r := range recs {
		if !r.HasEmbedding() {
			continue
		}
		err := idx.Upsert(index.Entry{
			ID:       r.ID,
			Vector:   r.Embedding,
			Tags:     r.FilterTags(),
			Numerics: r.FilterNumerics(),
		})
		if err != nil {
			t.Fatalf("index %s: %v", r.ID, err)
		}
	}
	return idx, newMockRecords(recs...)
}
