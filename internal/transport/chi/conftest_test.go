package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gochi "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lodestone-search/lodestone/internal/domain"
	"github.com/lodestone-search/lodestone/internal/domain/search/request"
	"github.com/lodestone-search/lodestone/internal/domain/search/result"
	"github.com/lodestone-search/lodestone/internal/ingest"
	"github.com/lodestone-search/lodestone/internal/usecase/analytics"
	"github.com/lodestone-search/lodestone/internal/usecase/health"
)

// --- Mocks ---

type mockSearch struct {
	resp    result.Response
	err     error
	lastReq *request.Request
}

func (m *mockSearch) Search(_ context.Context, req *request.Request) (result.Response, error) {
	m.lastReq = req
	return m.resp, m.err
}

type mockIngest struct {
	report    ingest.Report
	ingestErr error
	deleteErr error
	deleted   []string
	body      []byte
}

func (m *mockIngest) IngestReader(_ context.Context, r io.Reader) (ingest.Report, error) {
	m.body, _ = io.ReadAll(r)
	return m.report, m.ingestErr
}

func (m *mockIngest) Delete(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return m.deleteErr
}

type mockRecords struct {
	recs map[string]domain.Record
}

func (m *mockRecords) Get(_ context.Context, id string) (domain.Record, error) {
	rec, ok := m.recs[id]
	if !ok {
		return domain.Record{}, domain.ErrRecordNotFound
	}
	return rec, nil
}

type mockDiscovery struct {
	report     domain.DiscoveryReport
	clusters   []domain.Cluster
	trending   []domain.TrendEntry
	recs       map[string][]domain.Recommendation
	err        error
	lastWindow time.Duration
	lastLimit  int
}

func (m *mockDiscovery) Run(_ context.Context) (domain.DiscoveryReport, error) {
	return m.report, m.err
}

func (m *mockDiscovery) Clusters() ([]domain.Cluster, error) {
	return m.clusters, m.err
}

func (m *mockDiscovery) Trending(window time.Duration, limit int) ([]domain.TrendEntry, error) {
	m.lastWindow, m.lastLimit = window, limit
	return m.trending, m.err
}

func (m *mockDiscovery) Recommendations(id string, limit int) ([]domain.Recommendation, error) {
	if m.err != nil {
		return nil, m.err
	}
	recs, ok := m.recs[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

type mockAnalytics struct {
	stats      analytics.Stats
	lastWindow time.Duration
}

func (m *mockAnalytics) Snapshot(window time.Duration) analytics.Stats {
	m.lastWindow = window
	return m.stats
}

type mockHealth struct {
	report health.Report
}

func (m *mockHealth) Check(_ context.Context) health.Report {
	return m.report
}

// --- Fixture ---

type fixture struct {
	search    *mockSearch
	ingest    *mockIngest
	records   *mockRecords
	discovery *mockDiscovery
	analytics *mockAnalytics
	health    *mockHealth
	router    gochi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		search:    &mockSearch{},
		ingest:    &mockIngest{},
		records:   &mockRecords{recs: make(map[string]domain.Record)},
		discovery: &mockDiscovery{recs: make(map[string][]domain.Recommendation)},
		analytics: &mockAnalytics{},
		health: &mockHealth{report: health.Report{
			Status: health.Healthy,
			Checks: map[string]health.CheckResult{"store": health.CheckOK},
		}},
	}
	srv := NewServer(
		f.search, f.ingest, f.records, f.discovery, f.analytics, f.health,
		time.Hour, zap.NewNop(),
	)
	f.router = gochi.NewRouter()
	srv.Register(f.router)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}
