package search

import (
	"context"

	"github.com/lodestone-search/lodestone/internal/domain"
	"github.com/lodestone-search/lodestone/internal/index"
	"github.com/lodestone-search/lodestone/internal/usecase/analytics"
)

// VectorIndex provides point-in-time read access to the vector index.
type VectorIndex interface {
	Snapshot() *index.Snapshot
}

// RecordReader is the record store surface the query engine needs.
type RecordReader interface {
	Get(ctx context.Context, id string) (domain.Record, error)
	All(ctx context.Context) ([]domain.Record, error)
	HasFilterKey(key string) bool
}

// Recorder accepts analytics events, fire-and-forget.
type Recorder interface {
	Record(e analytics.Event)
}
