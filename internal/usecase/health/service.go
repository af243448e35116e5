package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure. Search still serves, possibly
	// on the lexical fallback path.
	Degraded Status = "degraded"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status       Status
	Checks       map[string]CheckResult
	IndexSize    int
	IndexVersion uint64
}

// Service coordinates health checks.
type Service struct {
	store     StorePinger
	embedding EmbeddingChecker
	idx       VectorIndex
}

// New creates a Service. embedding and idx can be nil.
func New(store StorePinger, embedding EmbeddingChecker, idx VectorIndex) *Service {
	return &Service{store: store, embedding: embedding, idx: idx}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if err := s.store.Ping(ctx); err != nil {
		checks["store"] = CheckError
	} else {
		checks["store"] = CheckOK
	}

	if s.embedding != nil {
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks["embedding"] = CheckError
		} else {
			checks["embedding"] = CheckOK
		}
	}

	report := Report{Status: Healthy, Checks: checks}
	for _, v := range checks {
		if v == CheckError {
			report.Status = Degraded
			break
		}
	}

	if s.idx != nil {
		snap := s.idx.Snapshot()
		report.IndexSize = snap.Len()
		report.IndexVersion = snap.Version()
	}
	return report
}
