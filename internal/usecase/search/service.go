// Package search implements the query engine: embed, scan, rank, present.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/lodestone-search/lodestone/internal/domain"
	"github.com/lodestone-search/lodestone/internal/domain/search/filter"
	"github.com/lodestone-search/lodestone/internal/domain/search/request"
	"github.com/lodestone-search/lodestone/internal/domain/search/result"
	"github.com/lodestone-search/lodestone/internal/metrics"
	"github.com/lodestone-search/lodestone/internal/usecase/analytics"
	"github.com/lodestone-search/lodestone/internal/usecase/rank"
)

// lexicalBoost is the additive weight of term overlap on top of cosine
// similarity in the semantic path.
const lexicalBoost = 0.1

// Config holds query engine tuning.
type Config struct {
	OverfetchFactor int
	CandidateFloor  int
	QueryTimeout    time.Duration
	RetryBackoff    time.Duration
	CacheTTL        time.Duration
}

// Service executes validated search requests.
type Service struct {
	idx       VectorIndex
	records   RecordReader
	embed     domain.Embedder
	ranker    *rank.Ranker
	analytics Recorder
	cache     *gocache.Cache
	cfg       Config
	logger    *zap.Logger
	sleep     func(time.Duration)
}

// New creates a search service. The result cache is disabled when
// cfg.CacheTTL is zero.
func New(
	idx VectorIndex,
	records RecordReader,
	embed domain.Embedder,
	ranker *rank.Ranker,
	rec Recorder,
	cfg Config,
	logger *zap.Logger,
) *Service {
	var cache *gocache.Cache
	if cfg.CacheTTL > 0 {
		cache = gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return &Service{
		idx:       idx,
		records:   records,
		embed:     embed,
		ranker:    ranker,
		analytics: rec,
		cache:     cache,
		cfg:       cfg,
		logger:    logger,
		sleep:     time.Sleep,
	}
}

// Search executes a query end to end. The returned Response carries a
// Degraded flag when the embedding provider was unavailable and results
// come from the lexical/metadata path instead.
func (s *Service) Search(ctx context.Context, req *request.Request) (result.Response, error) {
	start := time.Now()

	if err := s.validateFilterKeys(req.Filters()); err != nil {
		return result.Response{}, err
	}

	prefVector, err := s.resolvePreference(req.Personalization())
	if err != nil {
		return result.Response{}, err
	}

	cacheKey, cacheable := s.cacheKey(req, prefVector)
	if cacheable {
		if cached, ok := s.cache.Get(cacheKey); ok {
			metrics.SearchCacheTotal.WithLabelValues("hit").Inc()
			resp := cached.(result.Response)
			s.emitEvent(req, &resp, start)
			return resp, nil
		}
		metrics.SearchCacheTotal.WithLabelValues("miss").Inc()
	}

	var resp result.Response
	if req.Text() == "" {
		resp, err = s.searchMetadata(ctx, req)
	} else {
		resp, err = s.searchText(ctx, req, prefVector)
	}
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues(modeOf(req, resp), "error").Inc()
		return result.Response{}, err
	}

	resp.Analytics.QueryTimeMs = float64(time.Since(start).Microseconds()) / 1000
	resp.Analytics.ResultCount = len(resp.Results)

	mode := modeOf(req, resp)
	metrics.SearchRequestsTotal.WithLabelValues(mode, "success").Inc()
	metrics.SearchDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	metrics.SearchCandidates.Observe(float64(resp.Analytics.TotalCandidates))

	if cacheable && !resp.Degraded {
		s.cache.Set(cacheKey, resp, gocache.DefaultExpiration)
	}

	s.emitEvent(req, &resp, start)
	return resp, nil
}

func modeOf(req *request.Request, resp result.Response) string {
	switch {
	case req.Text() == "":
		return "metadata"
	case resp.Degraded:
		return "lexical"
	default:
		return "semantic"
	}
}

// searchText runs the semantic path, degrading to lexical scoring when the
// embedding cannot be computed.
func (s *Service) searchText(
	ctx context.Context, req *request.Request, prefVector []float32,
) (result.Response, error) {
	queryVec, err := s.embedQuery(ctx, req.Text())
	if err != nil {
		if ctx.Err() != nil {
			return result.Response{}, fmt.Errorf("search canceled: %w", ctx.Err())
		}
		s.logger.Warn("Embedding unavailable, degrading to lexical search", zap.Error(err))
		return s.searchLexical(ctx, req)
	}

	snap := s.idx.Snapshot()
	k := (req.Limit() + req.Offset()) * s.cfg.OverfetchFactor
	if k < s.cfg.CandidateFloor {
		k = s.cfg.CandidateFloor
	}
	hits := snap.Search(queryVec, k, req.Filters())

	queryTerms := tokenize(req.Text())
	candidates := make([]rank.Candidate, 0, len(hits))
	recs := make(map[string]domain.Record, len(hits))
	for _, hit := range hits {
		rec, err := s.records.Get(ctx, hit.ID)
		if err != nil {
			if errors.Is(err, domain.ErrRecordNotFound) {
				continue // indexed but deleted mid-flight
			}
			return result.Response{}, fmt.Errorf("load candidate %s: %w", hit.ID, err)
		}
		recs[hit.ID] = rec

		sim := hit.Score
		if lex := lexicalScore(queryTerms, rec.Title+" "+rec.Content); lex > 0 {
			sim += lexicalBoost * lex
		}
		candidates = append(candidates, rank.Candidate{
			ID:               hit.ID,
			Similarity:       sim,
			Timestamp:        rec.Timestamp,
			MatchedFilters:   req.Filters().Len(),
			RequestedFilters: req.Filters().Len(),
			Vector:           rec.Embedding,
		})
	}

	scored := s.ranker.Rank(candidates, prefVector)
	results := s.present(scored, recs, req, queryTerms)
	return result.Response{
		Results:   results,
		Analytics: result.Analytics{TotalCandidates: len(hits)},
	}, nil
}

// searchLexical scores filter-matching records by query term overlap.
// Serves as the degraded path when embeddings are unavailable.
func (s *Service) searchLexical(ctx context.Context, req *request.Request) (result.Response, error) {
	all, err := s.records.All(ctx)
	if err != nil {
		return result.Response{}, fmt.Errorf("scan records: %w", err)
	}

	queryTerms := tokenize(req.Text())
	var candidates []rank.Candidate
	recs := make(map[string]domain.Record)
	matched := 0
	for i := range all {
		rec := all[i]
		if !req.Filters().Matches(rec.FilterTags(), rec.FilterNumerics()) {
			continue
		}
		matched++
		lex := lexicalScore(queryTerms, rec.Title+" "+rec.Content)
		if lex == 0 && req.Filters().IsEmpty() {
			continue
		}
		recs[rec.ID] = rec
		candidates = append(candidates, rank.Candidate{
			ID:               rec.ID,
			Similarity:       lex,
			Timestamp:        rec.Timestamp,
			MatchedFilters:   req.Filters().Len(),
			RequestedFilters: req.Filters().Len(),
		})
	}

	scored := s.ranker.Rank(candidates, nil)
	results := s.present(scored, recs, req, queryTerms)
	return result.Response{
		Results:   results,
		Analytics: result.Analytics{TotalCandidates: matched},
		Degraded:  true,
	}, nil
}

// searchMetadata serves empty-text queries from the record store with
// stable id ordering under the relevance sort.
func (s *Service) searchMetadata(ctx context.Context, req *request.Request) (result.Response, error) {
	all, err := s.records.All(ctx)
	if err != nil {
		return result.Response{}, fmt.Errorf("scan records: %w", err)
	}

	var matched []domain.Record
	for i := range all {
		if req.Filters().Matches(all[i].FilterTags(), all[i].FilterNumerics()) {
			matched = append(matched, all[i])
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	scored := make([]rank.Scored, len(matched))
	recs := make(map[string]domain.Record, len(matched))
	for i := range matched {
		scored[i] = rank.Scored{ID: matched[i].ID}
		recs[matched[i].ID] = matched[i]
	}

	results := s.present(scored, recs, req, nil)
	return result.Response{
		Results:   results,
		Analytics: result.Analytics{TotalCandidates: len(matched)},
	}, nil
}

// embedQuery vectorizes the query under the configured deadline with one
// retry. Deadline expiry maps to domain.ErrEmbeddingTimeout.
func (s *Service) embedQuery(ctx context.Context, text string) ([]float32, error) {
	embed := func() ([]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
		res, err := s.embed.Embed(callCtx, text)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, fmt.Errorf("query embedding: %w", domain.ErrEmbeddingTimeout)
			}
			return nil, err
		}
		return res.Embedding, nil
	}

	vec, err := embed()
	if err == nil || ctx.Err() != nil {
		return vec, err
	}

	s.sleep(s.cfg.RetryBackoff)
	return embed()
}

// present applies sort overrides, offset, limit, and builds display results.
func (s *Service) present(
	scored []rank.Scored, recs map[string]domain.Record,
	req *request.Request, queryTerms []string,
) []result.Result {
	ordered := s.reorder(scored, recs, req)

	if req.Offset() >= len(ordered) {
		return []result.Result{}
	}
	ordered = ordered[req.Offset():]
	if len(ordered) > req.Limit() {
		ordered = ordered[:req.Limit()]
	}

	results := make([]result.Result, 0, len(ordered))
	for _, sc := range ordered {
		rec := recs[sc.ID]
		results = append(results, result.New(
			sc.ID,
			sc.Score,
			rec.Title,
			buildHighlights(queryTerms, rec.Content),
			rec.Metadata,
			rec.Source,
			rec.Type,
		))
	}
	return results
}

func (s *Service) reorder(
	scored []rank.Scored, recs map[string]domain.Record, req *request.Request,
) []rank.Scored {
	out := make([]rank.Scored, len(scored))
	copy(out, scored)

	desc := req.SortOrder() == request.OrderDesc
	switch req.SortBy() {
	case request.SortTimestamp:
		sort.SliceStable(out, func(i, j int) bool {
			ti, tj := recs[out[i].ID].Timestamp, recs[out[j].ID].Timestamp
			if !ti.Equal(tj) {
				if desc {
					return ti.After(tj)
				}
				return ti.Before(tj)
			}
			return out[i].ID < out[j].ID
		})
	case request.SortTitle:
		sort.SliceStable(out, func(i, j int) bool {
			a, b := recs[out[i].ID].Title, recs[out[j].ID].Title
			if a != b {
				if desc {
					return a > b
				}
				return a < b
			}
			return out[i].ID < out[j].ID
		})
	case request.SortRelevance:
		// Ranker output is relevance-descending already.
		if !desc {
			for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func (s *Service) validateFilterKeys(f filter.Filter) error {
	for _, key := range f.Keys() {
		if !s.records.HasFilterKey(key) {
			return fmt.Errorf("%w: %q", domain.ErrInvalidFilterKey, key)
		}
	}
	return nil
}

// resolvePreference materializes the personalization vector: explicit
// preference wins, otherwise seed record embeddings are averaged.
func (s *Service) resolvePreference(p *request.Personalization) ([]float32, error) {
	if p.IsZero() {
		return nil, nil
	}
	if len(p.PreferenceVector) > 0 {
		return p.PreferenceVector, nil
	}

	snap := s.idx.Snapshot()
	var vecs [][]float32
	for _, id := range p.SeedRecordIDs {
		if vec, ok := snap.Vector(id); ok {
			vecs = append(vecs, vec)
		}
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	return domain.MeanVector(vecs), nil
}

// cacheKey builds a deterministic key from the request and index version.
// Personalized queries bypass the cache entirely.
func (s *Service) cacheKey(req *request.Request, prefVector []float32) (string, bool) {
	if s.cache == nil || len(prefVector) > 0 {
		return "", false
	}

	var b strings.Builder
	b.WriteString(req.Text())
	b.WriteByte(0)
	for _, c := range req.Filters().Clauses() {
		b.WriteString(c.Key())
		b.WriteByte(1)
		for _, v := range c.Values() {
			b.WriteString(v)
			b.WriteByte(2)
		}
		if r := c.Range(); r != nil {
			fmt.Fprintf(&b, "%v|%v|%v|%v", ptrVal(r.GT()), ptrVal(r.GTE()), ptrVal(r.LT()), ptrVal(r.LTE()))
		}
		b.WriteByte(0)
	}
	fmt.Fprintf(&b, "%s|%s|%d|%d|%d",
		req.SortBy(), req.SortOrder(), req.Limit(), req.Offset(), s.idx.Snapshot().Version())

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), true
}

func ptrVal(p *float64) any {
	if p == nil {
		return "-"
	}
	return *p
}

func (s *Service) emitEvent(req *request.Request, resp *result.Response, start time.Time) {
	if s.analytics == nil {
		return
	}
	ids := make([]string, len(resp.Results))
	for i := range resp.Results {
		ids[i] = resp.Results[i].ID()
	}
	s.analytics.Record(analytics.Event{
		QueryLen:    len(req.Text()),
		FilterCount: req.Filters().Len(),
		ResultCount: len(resp.Results),
		LatencyMs:   float64(time.Since(start).Microseconds()) / 1000,
		Degraded:    resp.Degraded,
		FilterKeys:  req.Filters().Keys(),
		ResultIDs:   ids,
	})
}
