package health

import (
	"context"

	"github.com/lodestone-search/lodestone/internal/index"
)

// StorePinger checks record store availability.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// VectorIndex exposes the serving index for size reporting.
type VectorIndex interface {
	Snapshot() *index.Snapshot
}
