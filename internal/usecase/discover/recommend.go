package discover

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/lodestone-search/lodestone/internal/domain"
	"github.com/lodestone-search/lodestone/internal/domain/search/filter"
	"github.com/lodestone-search/lodestone/internal/index"
)

// computeRecommendations derives per-record nearest neighbors on a bounded
// worker pool. The source record is always excluded; neighbors below minSim
// are omitted, so sparse corpora can yield empty lists.
func computeRecommendations(
	ctx context.Context,
	snap *index.Snapshot,
	k int,
	minSim float64,
	workers int,
) (map[string][]domain.Recommendation, error) {
	ids := snap.IDs()
	out := make(map[string][]domain.Recommendation, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		id := id
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			recs := neighborsFor(snap, id, k, minSim)
			mu.Lock()
			out[id] = recs
			mu.Unlock()
		}); err != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("submit recommendation task: %w", err)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("recommendations canceled: %w", err)
	}
	return out, nil
}

func neighborsFor(snap *index.Snapshot, id string, k int, minSim float64) []domain.Recommendation {
	vec, ok := snap.Vector(id)
	if !ok {
		return nil
	}

	// Overfetch by one so the self-hit does not eat a slot.
	hits := snap.Search(vec, k+1, filter.Filter{})
	recs := make([]domain.Recommendation, 0, k)
	for _, hit := range hits {
		if hit.ID == id {
			continue
		}
		if hit.Score < minSim {
			break // hits are similarity-descending
		}
		recs = append(recs, domain.Recommendation{
			SourceID:   id,
			TargetID:   hit.ID,
			Similarity: hit.Score,
		})
		if len(recs) == k {
			break
		}
	}
	return recs
}
