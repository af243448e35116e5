// Package discover derives clusters, trending, and recommendations from the
// corpus. Derivations run off the serving path and publish atomically; a
// failed derivation keeps the previously published artifact of its kind.
package discover

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lodestone-search/lodestone/internal/domain"
	"github.com/lodestone-search/lodestone/internal/index"
	"github.com/lodestone-search/lodestone/internal/metrics"
)

// Config holds discovery tuning.
type Config struct {
	Clusters           int // 0 = sqrt(N) heuristic
	MinClusters        int
	MaxClusters        int
	CoherenceThreshold float64
	RecommendK         int
	MinSimilarity      float64
	TrendWindow        time.Duration
	TrendHalfLife      time.Duration
	Workers            int
}

// Service owns discovery derivation and read access to published artifacts.
type Service struct {
	records RecordSource
	idx     VectorIndex
	events  EventSource
	algo    domain.ClusterAlgorithm
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time

	runMu     sync.Mutex
	artifacts atomic.Pointer[domain.DiscoveryArtifacts]
}

// New creates a discovery service. No artifacts exist until the first Run.
func New(
	records RecordSource,
	idx VectorIndex,
	events EventSource,
	algo domain.ClusterAlgorithm,
	cfg Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		records: records,
		idx:     idx,
		events:  events,
		algo:    algo,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Run executes all three derivations over one index snapshot. Derivation
// failures are isolated; on context cancellation nothing is published.
func (s *Service) Run(ctx context.Context) (domain.DiscoveryReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	report := domain.DiscoveryReport{StartedAt: s.now()}

	recs, err := s.records.All(ctx)
	if err != nil {
		return report, fmt.Errorf("load corpus: %w", err)
	}
	snap := s.idx.Snapshot()

	clusters := s.deriveClustering(&report.Clustering, snap, recs)
	trending := s.deriveTrending(&report.Trending, recs)
	recommendations := s.deriveRecommendations(ctx, &report.Recommendations, snap)

	if err := ctx.Err(); err != nil {
		s.logger.Warn("Discovery run canceled, discarding artifacts", zap.Error(err))
		return report, fmt.Errorf("discovery canceled: %w", err)
	}

	s.publish(clusters, trending, recommendations, snap)
	return report, nil
}

func (s *Service) deriveClustering(
	report *domain.DerivationReport, snap *index.Snapshot, recs []domain.Record,
) []domain.Cluster {
	start := s.now()
	clusters, err := s.deriveClusters(snap, recs)
	report.Duration = time.Since(start)
	if err != nil {
		report.Err = err
		metrics.DiscoveryRunsTotal.WithLabelValues("clustering", "error").Inc()
		s.logger.Error("Clustering derivation failed", zap.Error(err))
		return nil
	}
	report.Completed = true
	report.Count = len(clusters)
	metrics.DiscoveryRunsTotal.WithLabelValues("clustering", "success").Inc()
	metrics.DiscoveryDuration.WithLabelValues("clustering").Observe(report.Duration.Seconds())
	return clusters
}

func (s *Service) publish(
	clusters []domain.Cluster,
	trending []domain.TrendEntry,
	recommendations map[string][]domain.Recommendation,
	snap *index.Snapshot,
) {
	prev := s.artifacts.Load()
	next := &domain.DiscoveryArtifacts{
		Clusters:        clusters,
		Trending:        trending,
		Recommendations: recommendations,
		ComputedAt:      s.now(),
		IndexVersion:    snap.Version(),
	}
	// A failed derivation keeps its previous artifact.
	if prev != nil {
		if next.Clusters == nil {
			next.Clusters = prev.Clusters
		}
		if next.Trending == nil {
			next.Trending = prev.Trending
		}
		if next.Recommendations == nil {
			next.Recommendations = prev.Recommendations
		}
	}
	s.artifacts.Store(next)
}

// RunPeriodically triggers Run on a fixed interval until ctx is done.
// The first run fires immediately.
func (s *Service) RunPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Run(ctx); err != nil {
			s.logger.Error("Discovery run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Clusters returns the latest published clusters.
func (s *Service) Clusters() ([]domain.Cluster, error) {
	art := s.artifacts.Load()
	if art == nil {
		return nil, domain.ErrDiscoveryNotReady
	}
	return art.Clusters, nil
}

// Trending returns the latest published trending entries, optionally
// narrowed to records stamped within the window.
func (s *Service) Trending(window time.Duration, limit int) ([]domain.TrendEntry, error) {
	art := s.artifacts.Load()
	if art == nil {
		return nil, domain.ErrDiscoveryNotReady
	}
	entries := art.Trending
	if window > 0 {
		cutoff := s.now().Add(-window)
		filtered := make([]domain.TrendEntry, 0, len(entries))
		for _, e := range entries {
			if !e.Timestamp.Before(cutoff) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Recommendations returns related records for one source record.
func (s *Service) Recommendations(id string, limit int) ([]domain.Recommendation, error) {
	art := s.artifacts.Load()
	if art == nil {
		return nil, domain.ErrDiscoveryNotReady
	}
	recs, ok := art.Recommendations[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Artifacts returns the latest published artifact set.
func (s *Service) Artifacts() (*domain.DiscoveryArtifacts, error) {
	art := s.artifacts.Load()
	if art == nil {
		return nil, domain.ErrDiscoveryNotReady
	}
	return art, nil
}

// deriveClusters runs k-means over every embedded record in the snapshot.
func (s *Service) deriveClusters(snap *index.Snapshot, recs []domain.Record) ([]domain.Cluster, error) {
	ids := snap.IDs()
	if len(ids) == 0 {
		return []domain.Cluster{}, nil
	}

	vectors := make([][]float32, len(ids))
	for i, id := range ids {
		vec, _ := snap.Vector(id)
		vectors[i] = vec
	}

	k := s.clusterCount(len(ids))
	assignments, centroids, err := s.algo.Fit(vectors, k)
	if err != nil {
		return nil, fmt.Errorf("fit %d clusters: %w", k, err)
	}

	texts := make(map[string]string, len(recs))
	corpusDocs := make([]string, 0, len(ids))
	for i := range recs {
		texts[recs[i].ID] = recs[i].Title + " " + recs[i].Content
	}
	for _, id := range ids {
		corpusDocs = append(corpusDocs, texts[id])
	}
	extractor := newKeywordExtractor(corpusDocs)

	members := make([][]string, k)
	for i, c := range assignments {
		members[c] = append(members[c], ids[i])
	}

	clusters := make([]domain.Cluster, 0, k)
	for c := 0; c < k; c++ {
		if len(members[c]) == 0 {
			continue
		}
		coherence := clusterCoherence(snap, members[c], centroids[c])
		memberDocs := make([]string, len(members[c]))
		for i, id := range members[c] {
			memberDocs[i] = texts[id]
		}
		clusters = append(clusters, domain.Cluster{
			ID:            uuid.NewString(),
			Centroid:      centroids[c],
			MemberIDs:     members[c],
			Keywords:      extractor.topKeywords(memberDocs),
			Coherence:     coherence,
			LowConfidence: coherence < s.cfg.CoherenceThreshold,
		})
	}
	return clusters, nil
}

// clusterCount resolves K: explicit config wins, otherwise round(sqrt(N))
// clamped to the configured range and the corpus size.
func (s *Service) clusterCount(n int) int {
	k := s.cfg.Clusters
	if k <= 0 {
		k = int(math.Round(math.Sqrt(float64(n))))
	}
	if k < s.cfg.MinClusters {
		k = s.cfg.MinClusters
	}
	if k > s.cfg.MaxClusters {
		k = s.cfg.MaxClusters
	}
	if k > n {
		k = n
	}
	if k < 1 {
		k = 1
	}
	return k
}

// clusterCoherence is the mean cosine between members and their centroid.
func clusterCoherence(snap *index.Snapshot, memberIDs []string, centroid []float32) float64 {
	if len(memberIDs) == 0 {
		return 0
	}
	var sum float64
	for _, id := range memberIDs {
		vec, ok := snap.Vector(id)
		if !ok {
			continue
		}
		sum += domain.Cosine(vec, centroid)
	}
	return sum / float64(len(memberIDs))
}

func (s *Service) deriveTrending(report *domain.DerivationReport, recs []domain.Record) []domain.TrendEntry {
	start := s.now()
	events := s.events.EventsSince(start.Add(-s.cfg.TrendWindow))
	entries := computeTrending(events, recs, start, s.cfg.TrendHalfLife, trendingLimit)
	report.Completed = true
	report.Count = len(entries)
	report.Duration = time.Since(start)
	metrics.DiscoveryRunsTotal.WithLabelValues("trending", "success").Inc()
	metrics.DiscoveryDuration.WithLabelValues("trending").Observe(report.Duration.Seconds())
	return entries
}

func (s *Service) deriveRecommendations(
	ctx context.Context, report *domain.DerivationReport, snap *index.Snapshot,
) map[string][]domain.Recommendation {
	start := s.now()
	out, err := computeRecommendations(ctx, snap, s.cfg.RecommendK, s.cfg.MinSimilarity, s.cfg.Workers)
	report.Duration = time.Since(start)
	if err != nil {
		report.Err = err
		metrics.DiscoveryRunsTotal.WithLabelValues("recommendations", "error").Inc()
		s.logger.Error("Recommendation derivation failed", zap.Error(err))
		return nil
	}
	report.Completed = true
	report.Count = len(out)
	metrics.DiscoveryRunsTotal.WithLabelValues("recommendations", "success").Inc()
	metrics.DiscoveryDuration.WithLabelValues("recommendations").Observe(report.Duration.Seconds())
	return out
}

// trendingLimit caps how many entries one run publishes.
const trendingLimit = 100
