package domain

import "time"

// Cluster is a derived grouping of records in embedding space. Clusters are
// recomputed wholesale each discovery run; prior clusters are discarded.
type Cluster struct {
	ID            string
	Centroid      []float32
	MemberIDs     []string
	Keywords      []string
	Coherence     float64
	LowConfidence bool
}

// TrendEntry is a derived popularity score for one record within the
// analysis window. Stale beyond that window.
type TrendEntry struct {
	RecordID  string
	Score     float64
	Timestamp time.Time
}

// Recommendation is a directed related-item edge derived from nearest-neighbor
// search excluding the source itself.
type Recommendation struct {
	SourceID   string
	TargetID   string
	Similarity float64
}

// DiscoveryArtifacts bundles the most recently published derivations.
// Always reconstructible from the record store; never authoritative.
type DiscoveryArtifacts struct {
	Clusters        []Cluster
	Trending        []TrendEntry
	Recommendations map[string][]Recommendation
	ComputedAt      time.Time
	IndexVersion    uint64
}

// DerivationReport describes the outcome of one discovery derivation.
type DerivationReport struct {
	Completed bool
	Err       error
	Count     int
	Duration  time.Duration
}

// DiscoveryReport aggregates per-derivation outcomes of one discovery run.
// Derivations fail independently; a clustering failure never rolls back a
// successful trending or recommendation pass.
type DiscoveryReport struct {
	StartedAt       time.Time
	Clustering      DerivationReport
	Trending        DerivationReport
	Recommendations DerivationReport
}

// ClusterAlgorithm partitions vectors into k groups. Implementations are
// swappable at configuration time.
type ClusterAlgorithm interface {
	Fit(vectors [][]float32, k int) (assignments []int, centroids [][]float32, err error)
}
