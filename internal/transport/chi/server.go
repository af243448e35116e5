// Package chi exposes the HTTP API: ingestion, search, discovery reads,
// analytics, and ops endpoints.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	gochi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lodestone-search/lodestone/internal/domain"
	healthuc "github.com/lodestone-search/lodestone/internal/usecase/health"
)

const defaultTrendingLimit = 20

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server wires the use cases into HTTP handlers.
type Server struct {
	search          searchService
	ingest          ingestService
	records         recordReader
	discovery       discoveryService
	analytics       analyticsSource
	health          healthService
	analyticsWindow time.Duration
	logger          *zap.Logger
	errorHandlers   []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	search searchService,
	ingest ingestService,
	records recordReader,
	discovery discoveryService,
	analytics analyticsSource,
	health healthService,
	analyticsWindow time.Duration,
	logger *zap.Logger,
) *Server {
	s := &Server{
		search:          search,
		ingest:          ingest,
		records:         records,
		discovery:       discovery,
		analytics:       analytics,
		health:          health,
		analyticsWindow: analyticsWindow,
		logger:          logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidRecord, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrInvalidFilterKey, http.StatusBadRequest, codeInvalidFilterKey),
		sentinelHandler(domain.ErrDimensionMismatch, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrRecordNotFound, http.StatusNotFound, codeRecordNotFound),
		sentinelHandler(domain.ErrDiscoveryNotReady, http.StatusNotFound, codeDiscoveryNotReady),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited),
		sentinelHandler(domain.ErrEmbeddingTimeout, http.StatusGatewayTimeout, codeEmbeddingTimeout),
		sentinelHandler(domain.ErrEmbeddingUnavailable, http.StatusBadGateway, codeEmbeddingUnavailable),
	}
	return s
}

// Register mounts all routes on the router.
func (s *Server) Register(r gochi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/v1", func(r gochi.Router) {
		r.Post("/records", s.IngestRecords)
		r.Get("/records/{id}", s.GetRecord)
		r.Delete("/records/{id}", s.DeleteRecord)

		r.Post("/search", s.Search)

		r.Route("/discovery", func(r gochi.Router) {
			r.Get("/clusters", s.Clusters)
			r.Get("/trending", s.Trending)
			r.Get("/recommendations/{id}", s.Recommendations)
			r.Post("/run", s.RunDiscovery)
		})

		r.Get("/analytics", s.Analytics)
	})
}

// IngestRecords handles POST /v1/records with an NDJSON body.
func (s *Server) IngestRecords(w http.ResponseWriter, r *http.Request) {
	report, err := s.ingest.IngestReader(r.Context(), r.Body)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestReportDTO{
		Stored:  report.Stored,
		Indexed: report.Indexed,
		Failed:  report.Failed,
	})
}

// GetRecord handles GET /v1/records/{id}.
func (s *Server) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := gochi.URLParam(r, "id")
	rec, err := s.records.Get(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordToDTO(&rec))
}

// DeleteRecord handles DELETE /v1/records/{id}.
func (s *Server) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := gochi.URLParam(r, "id")
	if err := s.ingest.Delete(r.Context(), id); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles POST /v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var dto searchRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	req, err := searchRequestFromDTO(dto)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
		return
	}

	resp, err := s.search.Search(r.Context(), &req)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponseToDTO(&resp))
}

// Clusters handles GET /v1/discovery/clusters.
func (s *Server) Clusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := s.discovery.Clusters()
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clusters": clustersToDTO(clusters)})
}

// Trending handles GET /v1/discovery/trending?window=&limit=.
func (s *Server) Trending(w http.ResponseWriter, r *http.Request) {
	window, ok := parseWindow(w, r, 0)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r, defaultTrendingLimit)
	if !ok {
		return
	}

	entries, err := s.discovery.Trending(window, limit)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trending": trendingToDTO(entries)})
}

// Recommendations handles GET /v1/discovery/recommendations/{id}?limit=.
func (s *Server) Recommendations(w http.ResponseWriter, r *http.Request) {
	id := gochi.URLParam(r, "id")
	limit, ok := parseLimit(w, r, 0)
	if !ok {
		return
	}

	recs, err := s.discovery.Recommendations(id, limit)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"record_id":       id,
		"recommendations": recommendationsToDTO(recs),
	})
}

// RunDiscovery handles POST /v1/discovery/run.
func (s *Server) RunDiscovery(w http.ResponseWriter, r *http.Request) {
	report, err := s.discovery.Run(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, discoveryReportToDTO(report))
}

// Analytics handles GET /v1/analytics?window=.
func (s *Server) Analytics(w http.ResponseWriter, r *http.Request) {
	window, ok := parseWindow(w, r, s.analyticsWindow)
	if !ok {
		return
	}
	stats := s.analytics.Snapshot(window)
	writeJSON(w, http.StatusOK, analyticsStatsToDTO(stats, window))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponseDTO{
		Status:       string(report.Status),
		Checks:       checks,
		IndexSize:    report.IndexSize,
		IndexVersion: report.IndexVersion,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// parseWindow reads a Go duration from ?window=. Zero means "no window".
func parseWindow(w http.ResponseWriter, r *http.Request, fallback time.Duration) (time.Duration, bool) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return fallback, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "window must be a non-negative duration like 24h")
		return 0, false
	}
	return d, true
}

func parseLimit(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidRecord,
		domain.ErrInvalidFilterKey,
		domain.ErrDimensionMismatch,
		domain.ErrRecordNotFound,
		domain.ErrDiscoveryNotReady,
		domain.ErrRateLimited,
		domain.ErrEmbeddingTimeout,
		domain.ErrEmbeddingUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
