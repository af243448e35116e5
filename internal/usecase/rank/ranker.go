// Package rank computes composite relevance scores from semantic similarity,
// freshness, metadata match, and personalization signals.
package rank

import (
	"math"
	"sort"
	"time"

	"github.com/lodestone-search/lodestone/internal/domain"
)

// Weights holds the composite score component weights.
type Weights struct {
	Semantic        float64
	Freshness       float64
	Metadata        float64
	Personalization float64
}

// Candidate is one pre-ranking search hit with its scoring signals.
type Candidate struct {
	ID               string
	Similarity       float64
	Timestamp        time.Time
	MatchedFilters   int
	RequestedFilters int
	Vector           []float32
}

// Scored is a ranked candidate.
type Scored struct {
	ID    string
	Score float64
}

// Ranker combines scoring signals into a single composite score.
type Ranker struct {
	weights  Weights
	halfLife time.Duration
	now      func() time.Time
}

// New creates a ranker with exponential freshness decay at the given half-life.
func New(weights Weights, halfLife time.Duration) *Ranker {
	return &Ranker{weights: weights, halfLife: halfLife, now: time.Now}
}

// WithClock overrides the clock. Tests only.
func (r *Ranker) WithClock(now func() time.Time) *Ranker {
	r.now = now
	return r
}

// Rank scores candidates and returns them ordered by composite score
// descending, ties broken by id ascending. prefVector may be nil; the
// personalization component is then zero for every candidate, preserving
// relative order under a uniform weight shift.
func (r *Ranker) Rank(candidates []Candidate, prefVector []float32) []Scored {
	now := r.now()
	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		scored[i] = Scored{ID: c.ID, Score: r.score(c, prefVector, now)}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	return scored
}

func (r *Ranker) score(c Candidate, prefVector []float32, now time.Time) float64 {
	score := r.weights.Semantic * clamp01(c.Similarity)
	score += r.weights.Freshness * r.freshness(c.Timestamp, now)
	score += r.weights.Metadata * metadataFraction(c.MatchedFilters, c.RequestedFilters)
	if len(prefVector) > 0 && len(c.Vector) > 0 {
		score += r.weights.Personalization * clamp01(domain.Cosine(c.Vector, prefVector))
	}
	return score
}

// freshness decays exponentially with age: 1.0 now, 0.5 at one half-life.
// Records without a timestamp score 0; future timestamps clamp to 1.
func (r *Ranker) freshness(ts, now time.Time) float64 {
	if ts.IsZero() {
		return 0
	}
	age := now.Sub(ts)
	if age <= 0 {
		return 1
	}
	if r.halfLife <= 0 {
		return 0
	}
	return math.Exp(-math.Ln2 * age.Seconds() / r.halfLife.Seconds())
}

// metadataFraction is the share of requested filter clauses the record
// matched. With no requested filters the component contributes nothing,
// keeping unfiltered queries purely semantic.
func metadataFraction(matched, requested int) float64 {
	if requested <= 0 {
		return 0
	}
	if matched > requested {
		matched = requested
	}
	return float64(matched) / float64(requested)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
