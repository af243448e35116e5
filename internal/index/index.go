// Package index implements an in-process exact-scan vector index.
//
// Writes build a new immutable snapshot under a writer lock and publish it
// atomically; readers search whatever snapshot was current when they started,
// so a search never observes a half-applied write.
package index

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/lodestone-search/lodestone/internal/domain"
	"github.com/lodestone-search/lodestone/internal/domain/search/filter"
)

// Entry is one indexed record projection.
type Entry struct {
	ID       string
	Vector   []float32
	Tags     map[string][]string
	Numerics map[string]float64
}

// Hit is a single scored match.
type Hit struct {
	ID    string
	Score float64
}

type indexed struct {
	vector   []float32
	norm     float64
	tags     map[string][]string
	numerics map[string]float64
}

type snapshot struct {
	entries map[string]*indexed
	ids     []string // sorted asc
	version uint64
	dim     int
}

// Index is a copy-on-write brute-force cosine index. A single writer mutex
// serializes mutations; reads are lock-free via the published snapshot.
type Index struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
	dim  int
}

// New creates an empty index for vectors of the given dimensionality.
func New(dim int) *Index {
	idx := &Index{dim: dim}
	idx.snap.Store(&snapshot{entries: map[string]*indexed{}, dim: dim})
	return idx
}

// Upsert inserts or replaces one entry.
func (idx *Index) Upsert(e Entry) error {
	return idx.UpsertBatch([]Entry{e})
}

// UpsertBatch inserts or replaces entries in one snapshot publication.
// The whole batch is rejected if any vector has the wrong dimensionality.
func (idx *Index) UpsertBatch(batch []Entry) error {
	if len(batch) == 0 {
		return nil
	}
	for _, e := range batch {
		if len(e.Vector) != idx.dim {
			return fmt.Errorf("record %s: got %d dimensions, index expects %d: %w",
				e.ID, len(e.Vector), idx.dim, domain.ErrDimensionMismatch)
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.snap.Load()
	next := cur.clone()
	for _, e := range batch {
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		next.entries[e.ID] = &indexed{
			vector:   vec,
			norm:     domain.Norm(vec),
			tags:     e.Tags,
			numerics: e.Numerics,
		}
	}
	next.rebuildIDs()
	next.version = cur.version + 1
	idx.snap.Store(next)
	return nil
}

// Remove deletes an entry. Removing an absent id is a no-op and does not
// bump the version.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.snap.Load()
	if _, ok := cur.entries[id]; !ok {
		return
	}
	next := cur.clone()
	delete(next.entries, id)
	next.rebuildIDs()
	next.version = cur.version + 1
	idx.snap.Store(next)
}

// Snapshot returns the current immutable view.
func (idx *Index) Snapshot() *Snapshot {
	return &Snapshot{s: idx.snap.Load()}
}

// Dim returns the configured vector dimensionality.
func (idx *Index) Dim() int { return idx.dim }

func (s *snapshot) clone() *snapshot {
	entries := make(map[string]*indexed, len(s.entries)+1)
	for id, e := range s.entries {
		entries[id] = e
	}
	return &snapshot{entries: entries, dim: s.dim}
}

func (s *snapshot) rebuildIDs() {
	s.ids = make([]string, 0, len(s.entries))
	for id := range s.entries {
		s.ids = append(s.ids, id)
	}
	sort.Strings(s.ids)
}

// Snapshot is an immutable point-in-time view of the index.
type Snapshot struct {
	s *snapshot
}

// Len returns the number of indexed entries.
func (sn *Snapshot) Len() int { return len(sn.s.entries) }

// Version returns the snapshot's monotonic version.
func (sn *Snapshot) Version() uint64 { return sn.s.version }

// IDs returns all indexed ids in ascending order. Callers must not mutate
// the returned slice.
func (sn *Snapshot) IDs() []string { return sn.s.ids }

// Vector returns the stored vector for an id. Callers must not mutate the
// returned slice.
func (sn *Snapshot) Vector(id string) ([]float32, bool) {
	e, ok := sn.s.entries[id]
	if !ok {
		return nil, false
	}
	return e.vector, true
}

// Matches reports whether the entry for id satisfies the filter.
func (sn *Snapshot) Matches(id string, f filter.Filter) bool {
	e, ok := sn.s.entries[id]
	if !ok {
		return false
	}
	return f.Matches(e.tags, e.numerics)
}

// Search scans every entry, applies the filter, and returns up to k hits
// ordered by cosine similarity descending with ties broken by id ascending.
// Zero-norm query vectors match nothing.
func (sn *Snapshot) Search(vec []float32, k int, f filter.Filter) []Hit {
	if k <= 0 || len(vec) != sn.s.dim {
		return nil
	}
	qnorm := domain.Norm(vec)
	if qnorm == 0 {
		return nil
	}

	hits := make([]Hit, 0, len(sn.s.ids))
	for _, id := range sn.s.ids {
		e := sn.s.entries[id]
		if e.norm == 0 {
			continue
		}
		if !f.IsEmpty() && !f.Matches(e.tags, e.numerics) {
			continue
		}
		var dot float64
		for i, v := range vec {
			dot += float64(v) * float64(e.vector[i])
		}
		hits = append(hits, Hit{ID: id, Score: dot / (qnorm * e.norm)})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
