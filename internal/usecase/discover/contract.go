package discover

import (
	"context"
	"time"

	"github.com/lodestone-search/lodestone/internal/domain"
	"github.com/lodestone-search/lodestone/internal/index"
	"github.com/lodestone-search/lodestone/internal/usecase/analytics"
)

// RecordSource provides the full corpus for derivation passes.
type RecordSource interface {
	All(ctx context.Context) ([]domain.Record, error)
}

// VectorIndex provides point-in-time read access to the vector index.
type VectorIndex interface {
	Snapshot() *index.Snapshot
}

// EventSource feeds impression data into trending.
type EventSource interface {
	EventsSince(t time.Time) []analytics.Event
}
