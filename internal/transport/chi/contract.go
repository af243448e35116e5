package chi

import (
	"context"
	"io"
	"time"

	"github.com/lodestone-search/lodestone/internal/domain"
	"github.com/lodestone-search/lodestone/internal/domain/search/request"
	"github.com/lodestone-search/lodestone/internal/domain/search/result"
	"github.com/lodestone-search/lodestone/internal/ingest"
	"github.com/lodestone-search/lodestone/internal/usecase/analytics"
	"github.com/lodestone-search/lodestone/internal/usecase/health"
)

// searchService runs ranked queries.
type searchService interface {
	Search(ctx context.Context, req *request.Request) (result.Response, error)
}

// ingestService writes and removes records.
type ingestService interface {
	IngestReader(ctx context.Context, r io.Reader) (ingest.Report, error)
	Delete(ctx context.Context, id string) error
}

// recordReader fetches single records for the read endpoint.
type recordReader interface {
	Get(ctx context.Context, id string) (domain.Record, error)
}

// discoveryService serves published derivations and manual runs.
type discoveryService interface {
	Run(ctx context.Context) (domain.DiscoveryReport, error)
	Clusters() ([]domain.Cluster, error)
	Trending(window time.Duration, limit int) ([]domain.TrendEntry, error)
	Recommendations(id string, limit int) ([]domain.Recommendation, error)
}

// analyticsSource aggregates recent search activity.
type analyticsSource interface {
	Snapshot(window time.Duration) analytics.Stats
}

// healthService aggregates component health.
type healthService interface {
	Check(ctx context.Context) health.Report
}
