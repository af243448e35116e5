package chi

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/lodestone-search/lodestone/internal/domain"
	"github.com/lodestone-search/lodestone/internal/domain/search/result"
	"github.com/lodestone-search/lodestone/internal/ingest"
	"github.com/lodestone-search/lodestone/internal/usecase/analytics"
	"github.com/lodestone-search/lodestone/internal/usecase/health"
)

func TestSearch_OK(t *testing.T) {
	f := newFixture(t)
	f.search.resp = result.Response{
		Results: []result.Result{
			result.New("doc-1", 0.91, "Cat care", []string{"**Cats** sleep."}, map[string]any{"tags": "pets"}, "document-system", "article"),
		},
		Analytics: result.Analytics{QueryTimeMs: 12, TotalCandidates: 3, ResultCount: 1},
	}

	rr := f.do(t, "POST", "/v1/search", map[string]any{
		"query":   "cats",
		"filters": map[string]any{"type": "article"},
		"limit":   5,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	resp := decodeBody[searchResponseDTO](t, rr)
	if len(resp.Results) != 1 || resp.Results[0].ID != "doc-1" {
		t.Errorf("unexpected results: %+v", resp.Results)
	}
	if resp.Results[0].Highlights[0] != "**Cats** sleep." {
		t.Errorf("highlights lost: %+v", resp.Results[0])
	}
	if resp.Analytics.ResultCount != 1 {
		t.Errorf("analytics lost: %+v", resp.Analytics)
	}

	req := f.search.lastReq
	if req.Text() != "cats" || req.Limit() != 5 {
		t.Errorf("request not passed through: text=%q limit=%d", req.Text(), req.Limit())
	}
	if req.Filters().Len() != 1 || req.Filters().Keys()[0] != "type" {
		t.Errorf("filter not parsed: %v", req.Filters().Keys())
	}
}

func TestSearch_FilterVariants(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, "POST", "/v1/search", map[string]any{
		"query": "cats",
		"filters": map[string]any{
			"tags":   []string{"pets", "animals"},
			"rating": map[string]any{"gte": 3, "lt": 5},
		},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	filters := f.search.lastReq.Filters()
	if filters.Len() != 2 {
		t.Fatalf("expected 2 clauses, got %d", filters.Len())
	}
	for _, c := range filters.Clauses() {
		switch c.Key() {
		case "tags":
			if len(c.Values()) != 2 {
				t.Errorf("tags values: %v", c.Values())
			}
		case "rating":
			if !c.IsRange() || c.Range().GTE() == nil || *c.Range().GTE() != 3 {
				t.Errorf("rating range: %+v", c.Range())
			}
		default:
			t.Errorf("unexpected clause key %q", c.Key())
		}
	}
}

func TestSearch_NumericFilterValue(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, "POST", "/v1/search", map[string]any{
		"query":   "tax",
		"filters": map[string]any{"year": 2020},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	filters := f.search.lastReq.Filters()
	if filters.Len() != 1 {
		t.Fatalf("expected 1 clause, got %d", filters.Len())
	}
	c := filters.Clauses()[0]
	if c.Key() != "year" || !c.IsRange() {
		t.Fatalf("expected range clause on year, got %+v", c)
	}
	r := c.Range()
	if r.GTE() == nil || *r.GTE() != 2020 || r.LTE() == nil || *r.LTE() != 2020 {
		t.Errorf("expected degenerate range [2020, 2020], got gte=%v lte=%v", r.GTE(), r.LTE())
	}
}

func TestSearch_BadBody(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, "POST", "/v1/search", "{not json")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestSearch_InvalidSort(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, "POST", "/v1/search", map[string]any{"query": "x", "sort_by": "popularity"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rr.Code)
	}
	resp := decodeBody[ErrorResponse](t, rr)
	if resp.Code != codeValidationFailed {
		t.Errorf("code = %s", resp.Code)
	}
}

func TestSearch_SentinelMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid filter key", domain.ErrInvalidFilterKey, http.StatusBadRequest, codeInvalidFilterKey},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited},
		{"embedding timeout", domain.ErrEmbeddingTimeout, http.StatusGatewayTimeout, codeEmbeddingTimeout},
		{"embedding unavailable", domain.ErrEmbeddingUnavailable, http.StatusBadGateway, codeEmbeddingUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, codeInternalError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.search.err = tc.err

			rr := f.do(t, "POST", "/v1/search", map[string]any{"query": "x"})
			if rr.Code != tc.status {
				t.Errorf("status = %d, want %d", rr.Code, tc.status)
			}
			resp := decodeBody[ErrorResponse](t, rr)
			if resp.Code != tc.code {
				t.Errorf("code = %s, want %s", resp.Code, tc.code)
			}
			if tc.status == http.StatusInternalServerError && resp.Message != "internal error" {
				t.Errorf("internal detail leaked: %q", resp.Message)
			}
		})
	}
}

func TestIngestRecords_OK(t *testing.T) {
	f := newFixture(t)
	f.ingest.report = ingest.Report{Stored: 2, Indexed: 2, Failed: 1}

	body := `{"id":"a","source":"document-system"}` + "\n" + `{"id":"b","source":"photo-system"}`
	rr := f.do(t, "POST", "/v1/records", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	resp := decodeBody[ingestReportDTO](t, rr)
	if resp.Stored != 2 || resp.Indexed != 2 || resp.Failed != 1 {
		t.Errorf("unexpected report: %+v", resp)
	}
	if string(f.ingest.body) != body {
		t.Error("body not streamed to ingest service")
	}
}

func TestGetRecord_OK(t *testing.T) {
	f := newFixture(t)
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f.records.recs["doc-1"] = domain.Record{
		ID: "doc-1", Source: "document-system", Type: "invoice",
		Title: "Power bill", Timestamp: ts, Embedding: []float32{1, 0},
	}

	rr := f.do(t, "GET", "/v1/records/doc-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	resp := decodeBody[recordDTO](t, rr)
	if resp.ID != "doc-1" || !resp.HasEmbedding {
		t.Errorf("unexpected record: %+v", resp)
	}
	if resp.Timestamp == nil || !resp.Timestamp.Equal(ts) {
		t.Errorf("timestamp: %v", resp.Timestamp)
	}
}

func TestGetRecord_NotFound(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, "GET", "/v1/records/ghost", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d", rr.Code)
	}
	resp := decodeBody[ErrorResponse](t, rr)
	if resp.Code != codeRecordNotFound {
		t.Errorf("code = %s", resp.Code)
	}
}

func TestDeleteRecord(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, "DELETE", "/v1/records/doc-1", nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d", rr.Code)
	}
	if len(f.ingest.deleted) != 1 || f.ingest.deleted[0] != "doc-1" {
		t.Errorf("delete not delegated: %v", f.ingest.deleted)
	}

	f.ingest.deleteErr = domain.ErrRecordNotFound
	rr = f.do(t, "DELETE", "/v1/records/ghost", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestClusters(t *testing.T) {
	f := newFixture(t)
	f.discovery.clusters = []domain.Cluster{
		{ID: "c1", Keywords: []string{"cats"}, MemberIDs: []string{"doc-1"}, Coherence: 0.95},
	}

	rr := f.do(t, "GET", "/v1/discovery/clusters", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	resp := decodeBody[map[string][]clusterDTO](t, rr)
	if len(resp["clusters"]) != 1 || resp["clusters"][0].ID != "c1" {
		t.Errorf("unexpected clusters: %+v", resp)
	}
}

func TestClusters_NotReady(t *testing.T) {
	f := newFixture(t)
	f.discovery.err = domain.ErrDiscoveryNotReady

	rr := f.do(t, "GET", "/v1/discovery/clusters", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d", rr.Code)
	}
	resp := decodeBody[ErrorResponse](t, rr)
	if resp.Code != codeDiscoveryNotReady {
		t.Errorf("code = %s", resp.Code)
	}
}

func TestTrending_QueryParams(t *testing.T) {
	f := newFixture(t)
	f.discovery.trending = []domain.TrendEntry{{RecordID: "doc-1", Score: 0.8}}

	rr := f.do(t, "GET", "/v1/discovery/trending?window=24h&limit=5", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if f.discovery.lastWindow != 24*time.Hour || f.discovery.lastLimit != 5 {
		t.Errorf("params not passed: window=%v limit=%d", f.discovery.lastWindow, f.discovery.lastLimit)
	}

	rr = f.do(t, "GET", "/v1/discovery/trending", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if f.discovery.lastLimit != defaultTrendingLimit {
		t.Errorf("default limit not applied: %d", f.discovery.lastLimit)
	}
}

func TestTrending_BadWindow(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, "GET", "/v1/discovery/trending?window=yesterday", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestRecommendations(t *testing.T) {
	f := newFixture(t)
	f.discovery.recs["doc-1"] = []domain.Recommendation{
		{SourceID: "doc-1", TargetID: "doc-2", Similarity: 0.9},
	}

	rr := f.do(t, "GET", "/v1/discovery/recommendations/doc-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	rr = f.do(t, "GET", "/v1/discovery/recommendations/ghost", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown record status = %d", rr.Code)
	}
}

func TestRunDiscovery(t *testing.T) {
	f := newFixture(t)
	f.discovery.report = domain.DiscoveryReport{
		StartedAt:  time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Clustering: domain.DerivationReport{Completed: true, Count: 3},
		Trending:   domain.DerivationReport{Completed: true, Count: 10},
		Recommendations: domain.DerivationReport{
			Err: errors.New("pool exhausted"),
		},
	}

	rr := f.do(t, "POST", "/v1/discovery/run", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	resp := decodeBody[discoveryReportDTO](t, rr)
	if !resp.Clustering.Completed || resp.Clustering.Count != 3 {
		t.Errorf("clustering report: %+v", resp.Clustering)
	}
	if resp.Recommendations.Error == "" {
		t.Errorf("derivation error missing: %+v", resp.Recommendations)
	}
}

func TestAnalytics(t *testing.T) {
	f := newFixture(t)
	f.analytics.stats = analytics.Stats{
		TotalSearches:    10,
		AvgResultCount:   4.2,
		PopularFilterKey: []analytics.KeyCount{{Key: "type", Count: 7}},
	}

	rr := f.do(t, "GET", "/v1/analytics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	resp := decodeBody[analyticsStatsDTO](t, rr)
	if resp.TotalSearches != 10 || resp.WindowMinutes != 60 {
		t.Errorf("unexpected stats: %+v", resp)
	}
	if len(resp.PopularFilterKey) != 1 || resp.PopularFilterKey[0].Key != "type" {
		t.Errorf("popular keys: %+v", resp.PopularFilterKey)
	}
	if f.analytics.lastWindow != time.Hour {
		t.Errorf("default window not applied: %v", f.analytics.lastWindow)
	}

	f.do(t, "GET", "/v1/analytics?window=30m", nil)
	if f.analytics.lastWindow != 30*time.Minute {
		t.Errorf("window override not applied: %v", f.analytics.lastWindow)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	f.health.report.IndexSize = 42
	f.health.report.IndexVersion = 7

	rr := f.do(t, "GET", "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	resp := decodeBody[healthResponseDTO](t, rr)
	if resp.Status != string(health.Healthy) || resp.IndexSize != 42 || resp.IndexVersion != 7 {
		t.Errorf("unexpected health: %+v", resp)
	}

	f.health.report.Status = health.Degraded
	rr = f.do(t, "GET", "/health", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded status = %d", rr.Code)
	}
}
