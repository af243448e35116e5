// Package ingest normalizes NDJSON input into records, computes embeddings
// in batches, and feeds the record store and the vector index.
package ingest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/lodestone-search/lodestone/internal/domain"
	"github.com/lodestone-search/lodestone/internal/index"
	"github.com/lodestone-search/lodestone/internal/metrics"
)

// Config holds ingestion tuning.
type Config struct {
	MaxBatch int // records per embedding API call
	Workers  int // concurrent embedding batches
}

// Report summarizes one ingestion pass. Stored counts every persisted
// record; Indexed counts the subset that also received an embedding.
type Report struct {
	Stored  int
	Indexed int
	Failed  int
}

// Service runs the ingestion pipeline.
type Service struct {
	records RecordWriter
	idx     VectorIndex
	embed   domain.BatchEmbedder
	cfg     Config
	logger  *zap.Logger
}

// New creates an ingestion service.
func New(records RecordWriter, idx VectorIndex, embed domain.BatchEmbedder, cfg Config, logger *zap.Logger) *Service {
	return &Service{records: records, idx: idx, embed: embed, cfg: cfg, logger: logger}
}

// IngestReader parses NDJSON from r and ingests every well-formed record.
// Parse failures count as Failed and never abort the pass.
func (s *Service) IngestReader(ctx context.Context, r io.Reader) (Report, error) {
	recs, parseErrs := ParseNDJSON(r)
	for _, pe := range parseErrs {
		s.logger.Warn("Skipping malformed record", zap.Int("line", pe.Line), zap.Error(pe.Err))
		metrics.IngestRecordsTotal.WithLabelValues("failed").Inc()
	}

	report, err := s.Ingest(ctx, recs)
	report.Failed += len(parseErrs)
	return report, err
}

// Ingest embeds and persists records. A failed embedding batch degrades its
// records to stored-but-unindexed; they remain reachable through metadata
// and lexical search.
func (s *Service) Ingest(ctx context.Context, recs []domain.Record) (Report, error) {
	var report Report
	valid := make([]*domain.Record, 0, len(recs))
	for i := range recs {
		if err := recs[i].Validate(); err != nil {
			s.logger.Warn("Rejecting invalid record", zap.String("id", recs[i].ID), zap.Error(err))
			metrics.IngestRecordsTotal.WithLabelValues("failed").Inc()
			report.Failed++
			continue
		}
		valid = append(valid, &recs[i])
	}
	if len(valid) == 0 {
		return report, nil
	}

	if err := s.embedBatches(ctx, valid); err != nil {
		return report, err
	}

	if err := s.records.SaveMulti(ctx, valid); err != nil {
		return report, fmt.Errorf("persist records: %w", err)
	}
	report.Stored = len(valid)

	entries := make([]index.Entry, 0, len(valid))
	for _, rec := range valid {
		if !rec.HasEmbedding() {
			metrics.IngestRecordsTotal.WithLabelValues("stored").Inc()
			continue
		}
		entries = append(entries, index.Entry{
			ID:       rec.ID,
			Vector:   rec.Embedding,
			Tags:     rec.FilterTags(),
			Numerics: rec.FilterNumerics(),
		})
	}
	if len(entries) > 0 {
		if err := s.idx.UpsertBatch(entries); err != nil {
			return report, fmt.Errorf("index records: %w", err)
		}
	}
	report.Indexed = len(entries)
	for range entries {
		metrics.IngestRecordsTotal.WithLabelValues("indexed").Inc()
	}
	metrics.IndexSize.Set(float64(s.idx.Snapshot().Len()))

	s.logger.Info("Ingestion pass complete",
		zap.Int("stored", report.Stored),
		zap.Int("indexed", report.Indexed),
		zap.Int("failed", report.Failed))
	return report, nil
}

// Delete removes a record from the store and the serving index.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.records.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	s.idx.Remove(id)
	metrics.IndexSize.Set(float64(s.idx.Snapshot().Len()))
	return nil
}

// embedBatches fills Embedding on each record, running fixed-size batches on
// a bounded worker pool. Per-batch failures leave embeddings empty.
func (s *Service) embedBatches(ctx context.Context, recs []*domain.Record) error {
	batches := chunk(recs, s.cfg.MaxBatch)

	pool, err := ants.NewPool(s.cfg.Workers)
	if err != nil {
		return fmt.Errorf("create embed pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, batch := range batches {
		if ctx.Err() != nil {
			break
		}
		batch := batch
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			s.embedOne(ctx, batch)
		}); err != nil {
			wg.Done()
			wg.Wait()
			return fmt.Errorf("submit embed batch: %w", err)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ingestion canceled: %w", err)
	}
	return nil
}

func (s *Service) embedOne(ctx context.Context, batch []*domain.Record) {
	texts := make([]string, len(batch))
	for i, rec := range batch {
		texts[i] = rec.EmbeddingText()
	}

	res, err := s.embed.BatchEmbed(ctx, texts)
	if err != nil {
		ids := make([]string, len(batch))
		for i, rec := range batch {
			ids[i] = rec.ID
		}
		s.logger.Warn("Embedding batch failed, storing records unembedded",
			zap.Strings("ids", ids), zap.Error(err))
		return
	}
	if len(res.Embeddings) != len(batch) {
		s.logger.Warn("Embedding count mismatch, storing batch unembedded",
			zap.Int("expected", len(batch)), zap.Int("got", len(res.Embeddings)))
		return
	}
	for i, rec := range batch {
		rec.Embedding = res.Embeddings[i]
	}
}

func chunk(recs []*domain.Record, size int) [][]*domain.Record {
	if size <= 0 {
		size = len(recs)
	}
	var out [][]*domain.Record
	for start := 0; start < len(recs); start += size {
		end := start + size
		if end > len(recs) {
			end = len(recs)
		}
		out = append(out, recs[start:end])
	}
	return out
}
