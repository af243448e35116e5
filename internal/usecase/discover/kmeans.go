package discover

import (
	"fmt"
	"math/rand"

	"github.com/lodestone-search/lodestone/internal/domain"
)

// KMeans is a seeded cosine k-means. Identical inputs and seed produce
// identical partitions.
type KMeans struct {
	seed    int64
	maxIter int
	epsilon float64
}

// NewKMeans creates the clustering algorithm.
func NewKMeans(seed int64, maxIter int, epsilon float64) *KMeans {
	return &KMeans{seed: seed, maxIter: maxIter, epsilon: epsilon}
}

var _ domain.ClusterAlgorithm = (*KMeans)(nil)

// Fit partitions vectors into k clusters. Vectors are normalized internally,
// so cosine similarity reduces to a dot product. Zero-norm vectors are
// assigned to cluster 0 and never influence centroids.
func (km *KMeans) Fit(vectors [][]float32, k int) ([]int, [][]float32, error) {
	n := len(vectors)
	if k <= 0 || k > n {
		return nil, nil, fmt.Errorf("invalid cluster count %d for %d vectors", k, n)
	}

	normalized := make([][]float32, n)
	for i, v := range vectors {
		normalized[i] = domain.Normalize(v)
	}

	rng := rand.New(rand.NewSource(km.seed))
	centroids := initialCentroids(normalized, k, rng)
	assignments := make([]int, n)

	for iter := 0; iter < km.maxIter; iter++ {
		for i, v := range normalized {
			assignments[i] = nearestCentroid(v, centroids)
		}

		next := recomputeCentroids(normalized, assignments, k)
		reseedEmpty(next, normalized, assignments, centroids)

		shift := maxCentroidShift(centroids, next)
		centroids = next
		if shift < km.epsilon {
			break
		}
	}

	for i, v := range normalized {
		assignments[i] = nearestCentroid(v, centroids)
	}
	return assignments, centroids, nil
}

// initialCentroids picks k distinct seed vectors via a seeded permutation,
// skipping zero-norm entries when possible.
func initialCentroids(vectors [][]float32, k int, rng *rand.Rand) [][]float32 {
	perm := rng.Perm(len(vectors))
	centroids := make([][]float32, 0, k)
	for _, i := range perm {
		if vectors[i] == nil {
			continue
		}
		centroids = append(centroids, vectors[i])
		if len(centroids) == k {
			return centroids
		}
	}
	// Degenerate corpus: pad with whatever exists.
	for _, i := range perm {
		if len(centroids) == k {
			break
		}
		centroids = append(centroids, vectors[i])
	}
	return centroids
}

func nearestCentroid(v []float32, centroids [][]float32) int {
	best, bestSim := 0, -2.0
	for c, centroid := range centroids {
		sim := dot(v, centroid)
		if sim > bestSim {
			best, bestSim = c, sim
		}
	}
	return best
}

func recomputeCentroids(vectors [][]float32, assignments []int, k int) [][]float32 {
	sums := make([][]float64, k)
	counts := make([]int, k)
	dim := 0
	for i, v := range vectors {
		if v == nil {
			continue
		}
		dim = len(v)
		c := assignments[i]
		if sums[c] == nil {
			sums[c] = make([]float64, len(v))
		}
		for j, x := range v {
			sums[c][j] += float64(x)
		}
		counts[c]++
	}

	centroids := make([][]float32, k)
	for c := range centroids {
		if counts[c] == 0 {
			continue // reseeded by the caller
		}
		mean := make([]float32, dim)
		for j := range mean {
			mean[j] = float32(sums[c][j] / float64(counts[c]))
		}
		centroids[c] = domain.Normalize(mean)
		if centroids[c] == nil {
			centroids[c] = mean
		}
	}
	return centroids
}

// reseedEmpty assigns each empty cluster the member farthest from its
// current centroid, keeping k stable across iterations.
func reseedEmpty(next, vectors [][]float32, assignments []int, prev [][]float32) {
	for c := range next {
		if next[c] != nil {
			continue
		}
		worst, worstSim := -1, 2.0
		for i, v := range vectors {
			if v == nil {
				continue
			}
			sim := dot(v, prev[assignments[i]])
			if sim < worstSim {
				worst, worstSim = i, sim
			}
		}
		if worst >= 0 {
			next[c] = vectors[worst]
			assignments[worst] = c
		} else {
			next[c] = prev[c]
		}
	}
}

func maxCentroidShift(prev, next [][]float32) float64 {
	shift := 0.0
	for c := range prev {
		if prev[c] == nil || next[c] == nil {
			return 1
		}
		// 1 - cosine on normalized centroids.
		if d := 1 - dot(prev[c], next[c]); d > shift {
			shift = d
		}
	}
	return shift
}

func dot(a, b []float32) float64 {
	if a == nil || b == nil || len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
