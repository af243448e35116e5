package chi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lodestone-search/lodestone/internal/domain"
	"github.com/lodestone-search/lodestone/internal/domain/search/filter"
	"github.com/lodestone-search/lodestone/internal/domain/search/request"
	"github.com/lodestone-search/lodestone/internal/domain/search/result"
	"github.com/lodestone-search/lodestone/internal/usecase/analytics"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes returned by the API.
const (
	codeBadRequest           = "bad_request"
	codeValidationFailed     = "validation_failed"
	codeInvalidFilterKey     = "invalid_filter_key"
	codeRecordNotFound       = "record_not_found"
	codeDiscoveryNotReady    = "discovery_not_ready"
	codeRateLimited          = "rate_limited"
	codeEmbeddingTimeout     = "embedding_timeout"
	codeEmbeddingUnavailable = "embedding_unavailable"
	codeInternalError        = "internal_error"
)

type searchRequestDTO struct {
	Query           string                     `json:"query"`
	Filters         map[string]json.RawMessage `json:"filters,omitempty"`
	SortBy          string                     `json:"sort_by,omitempty"`
	SortOrder       string                     `json:"sort_order,omitempty"`
	Limit           int                        `json:"limit,omitempty"`
	Offset          int                        `json:"offset,omitempty"`
	Personalization *personalizationDTO        `json:"personalization,omitempty"`
}

type personalizationDTO struct {
	PreferenceVector []float32 `json:"preference_vector,omitempty"`
	SeedRecordIDs    []string  `json:"seed_record_ids,omitempty"`
}

type rangeDTO struct {
	Gt  *float64 `json:"gt,omitempty"`
	Gte *float64 `json:"gte,omitempty"`
	Lt  *float64 `json:"lt,omitempty"`
	Lte *float64 `json:"lte,omitempty"`
}

// searchRequestFromDTO builds the validated domain request. Each filter value
// is a string, a string list, a bare number, or a numeric range object.
func searchRequestFromDTO(dto searchRequestDTO) (request.Request, error) {
	clauses := make([]filter.Clause, 0, len(dto.Filters))
	for key, raw := range dto.Filters {
		clause, err := filterClauseFromJSON(key, raw)
		if err != nil {
			return request.Request{}, err
		}
		clauses = append(clauses, clause)
	}
	filters, err := filter.New(clauses...)
	if err != nil {
		return request.Request{}, fmt.Errorf("build filters: %w", err)
	}

	var pers *request.Personalization
	if dto.Personalization != nil {
		pers = &request.Personalization{
			PreferenceVector: dto.Personalization.PreferenceVector,
			SeedRecordIDs:    dto.Personalization.SeedRecordIDs,
		}
	}

	req, err := request.New(
		dto.Query, filters,
		request.SortField(dto.SortBy), request.SortOrder(dto.SortOrder),
		dto.Limit, dto.Offset, pers,
	)
	if err != nil {
		return request.Request{}, fmt.Errorf("build search request: %w", err)
	}
	return req, nil
}

func filterClauseFromJSON(key string, raw json.RawMessage) (filter.Clause, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		clause, err := filter.NewMatch(key, s)
		if err != nil {
			return filter.Clause{}, fmt.Errorf("filter %q: %w", key, err)
		}
		return clause, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		clause, err := filter.NewMatch(key, list...)
		if err != nil {
			return filter.Clause{}, fmt.Errorf("filter %q: %w", key, err)
		}
		return clause, nil
	}

	// A bare number is equality on a numeric key: the range [n, n].
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		bounds, err := filter.NewRangeBounds(nil, &n, nil, &n)
		if err != nil {
			return filter.Clause{}, fmt.Errorf("filter %q: %w", key, err)
		}
		clause, err := filter.NewRange(key, bounds)
		if err != nil {
			return filter.Clause{}, fmt.Errorf("filter %q: %w", key, err)
		}
		return clause, nil
	}

	var r rangeDTO
	if err := json.Unmarshal(raw, &r); err == nil {
		bounds, err := filter.NewRangeBounds(r.Gt, r.Gte, r.Lt, r.Lte)
		if err != nil {
			return filter.Clause{}, fmt.Errorf("filter %q: %w", key, err)
		}
		clause, err := filter.NewRange(key, bounds)
		if err != nil {
			return filter.Clause{}, fmt.Errorf("filter %q: %w", key, err)
		}
		return clause, nil
	}

	return filter.Clause{}, fmt.Errorf("filter %q: value must be a string, string list, number, or range", key)
}

type searchResultItemDTO struct {
	ID         string         `json:"id"`
	Score      float64        `json:"score"`
	Title      string         `json:"title,omitempty"`
	Highlights []string       `json:"highlights,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Source     string         `json:"source,omitempty"`
	Type       string         `json:"type,omitempty"`
}

type searchAnalyticsDTO struct {
	QueryTimeMs     float64 `json:"query_time_ms"`
	TotalCandidates int     `json:"total_candidates"`
	ResultCount     int     `json:"result_count"`
}

type searchResponseDTO struct {
	Results   []searchResultItemDTO `json:"results"`
	Analytics searchAnalyticsDTO    `json:"analytics"`
	Degraded  bool                  `json:"degraded"`
}

func searchResponseToDTO(resp *result.Response) searchResponseDTO {
	items := make([]searchResultItemDTO, len(resp.Results))
	for i := range resp.Results {
		r := &resp.Results[i]
		items[i] = searchResultItemDTO{
			ID:         r.ID(),
			Score:      r.Score(),
			Title:      r.TitleSnippet(),
			Highlights: r.Highlights(),
			Metadata:   r.Metadata(),
			Source:     r.Source(),
			Type:       r.ContentType(),
		}
	}
	return searchResponseDTO{
		Results: items,
		Analytics: searchAnalyticsDTO{
			QueryTimeMs:     resp.Analytics.QueryTimeMs,
			TotalCandidates: resp.Analytics.TotalCandidates,
			ResultCount:     resp.Analytics.ResultCount,
		},
		Degraded: resp.Degraded,
	}
}

type recordDTO struct {
	ID           string         `json:"id"`
	Source       string         `json:"source"`
	Type         string         `json:"type,omitempty"`
	Title        string         `json:"title,omitempty"`
	Content      string         `json:"content,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Timestamp    *time.Time     `json:"timestamp,omitempty"`
	HasEmbedding bool           `json:"has_embedding"`
}

func recordToDTO(rec *domain.Record) recordDTO {
	dto := recordDTO{
		ID:           rec.ID,
		Source:       rec.Source,
		Type:         rec.Type,
		Title:        rec.Title,
		Content:      rec.Content,
		Metadata:     rec.Metadata,
		HasEmbedding: rec.HasEmbedding(),
	}
	if !rec.Timestamp.IsZero() {
		ts := rec.Timestamp.UTC()
		dto.Timestamp = &ts
	}
	return dto
}

type ingestReportDTO struct {
	Stored  int `json:"stored"`
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
}

type clusterDTO struct {
	ID            string   `json:"id"`
	Keywords      []string `json:"keywords,omitempty"`
	MemberIDs     []string `json:"member_ids"`
	Coherence     float64  `json:"coherence"`
	LowConfidence bool     `json:"low_confidence,omitempty"`
}

func clustersToDTO(clusters []domain.Cluster) []clusterDTO {
	out := make([]clusterDTO, len(clusters))
	for i, c := range clusters {
		out[i] = clusterDTO{
			ID:            c.ID,
			Keywords:      c.Keywords,
			MemberIDs:     c.MemberIDs,
			Coherence:     c.Coherence,
			LowConfidence: c.LowConfidence,
		}
	}
	return out
}

type trendEntryDTO struct {
	RecordID  string    `json:"record_id"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

func trendingToDTO(entries []domain.TrendEntry) []trendEntryDTO {
	out := make([]trendEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = trendEntryDTO{RecordID: e.RecordID, Score: e.Score, Timestamp: e.Timestamp.UTC()}
	}
	return out
}

type recommendationDTO struct {
	RecordID   string  `json:"record_id"`
	Similarity float64 `json:"similarity"`
}

func recommendationsToDTO(recs []domain.Recommendation) []recommendationDTO {
	out := make([]recommendationDTO, len(recs))
	for i, r := range recs {
		out[i] = recommendationDTO{RecordID: r.TargetID, Similarity: r.Similarity}
	}
	return out
}

type derivationReportDTO struct {
	Completed  bool   `json:"completed"`
	Error      string `json:"error,omitempty"`
	Count      int    `json:"count"`
	DurationMs int64  `json:"duration_ms"`
}

type discoveryReportDTO struct {
	StartedAt       time.Time           `json:"started_at"`
	Clustering      derivationReportDTO `json:"clustering"`
	Trending        derivationReportDTO `json:"trending"`
	Recommendations derivationReportDTO `json:"recommendations"`
}

func discoveryReportToDTO(report domain.DiscoveryReport) discoveryReportDTO {
	conv := func(r domain.DerivationReport) derivationReportDTO {
		dto := derivationReportDTO{
			Completed:  r.Completed,
			Count:      r.Count,
			DurationMs: r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			dto.Error = r.Err.Error()
		}
		return dto
	}
	return discoveryReportDTO{
		StartedAt:       report.StartedAt.UTC(),
		Clustering:      conv(report.Clustering),
		Trending:        conv(report.Trending),
		Recommendations: conv(report.Recommendations),
	}
}

type keyCountDTO struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type analyticsStatsDTO struct {
	TotalSearches    int           `json:"total_searches"`
	AvgQueryTimeMs   float64       `json:"avg_query_time_ms"`
	AvgResultCount   float64       `json:"avg_result_count"`
	ZeroResultRate   float64       `json:"zero_result_rate"`
	DegradedRate     float64       `json:"degraded_rate"`
	PopularFilterKey []keyCountDTO `json:"popular_filter_keys,omitempty"`
	WindowMinutes    int           `json:"window_minutes"`
}

func analyticsStatsToDTO(stats analytics.Stats, window time.Duration) analyticsStatsDTO {
	keys := make([]keyCountDTO, len(stats.PopularFilterKey))
	for i, kc := range stats.PopularFilterKey {
		keys[i] = keyCountDTO{Key: kc.Key, Count: kc.Count}
	}
	return analyticsStatsDTO{
		TotalSearches:    stats.TotalSearches,
		AvgQueryTimeMs:   stats.AvgQueryTimeMs,
		AvgResultCount:   stats.AvgResultCount,
		ZeroResultRate:   stats.ZeroResultRate,
		DegradedRate:     stats.DegradedRate,
		PopularFilterKey: keys,
		WindowMinutes:    int(window.Minutes()),
	}
}

type healthResponseDTO struct {
	Status       string            `json:"status"`
	Checks       map[string]string `json:"checks"`
	IndexSize    int               `json:"index_size"`
	IndexVersion uint64            `json:"index_version"`
}
