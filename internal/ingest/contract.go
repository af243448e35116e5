package ingest

import (
	"context"

	"github.com/lodestone-search/lodestone/internal/domain"
	"github.com/lodestone-search/lodestone/internal/index"
)

// RecordWriter persists and removes normalized records.
type RecordWriter interface {
	SaveMulti(ctx context.Context, recs []*domain.Record) error
	Delete(ctx context.Context, id string) error
}

// VectorIndex receives embedded records and reports the resulting size.
type VectorIndex interface {
	UpsertBatch(batch []index.Entry) error
	Remove(id string)
	Snapshot() *index.Snapshot
}
