package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lodestone-search/lodestone/internal/config"
	"github.com/lodestone-search/lodestone/internal/db"
	dbMemory "github.com/lodestone-search/lodestone/internal/db/memory"
	dbRedis "github.com/lodestone-search/lodestone/internal/db/redis"
	"github.com/lodestone-search/lodestone/internal/domain"
	"github.com/lodestone-search/lodestone/internal/index"
	"github.com/lodestone-search/lodestone/internal/ingest"
	logpkg "github.com/lodestone-search/lodestone/internal/logger"
	"github.com/lodestone-search/lodestone/internal/metrics"
	"github.com/lodestone-search/lodestone/internal/repository/embcache"
	recordrepo "github.com/lodestone-search/lodestone/internal/repository/record"
	chiTransport "github.com/lodestone-search/lodestone/internal/transport/chi"
	openaiEmb "github.com/lodestone-search/lodestone/internal/transport/openai"
	"github.com/lodestone-search/lodestone/internal/usecase/analytics"
	discoveruc "github.com/lodestone-search/lodestone/internal/usecase/discover"
	healthuc "github.com/lodestone-search/lodestone/internal/usecase/health"
	"github.com/lodestone-search/lodestone/internal/usecase/rank"
	searchuc "github.com/lodestone-search/lodestone/internal/usecase/search"
	"github.com/lodestone-search/lodestone/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting lodestone engine",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	// Create record store based on driver
	var store db.Store
	switch cfg.Database.Driver {
	case "memory":
		store = dbMemory.NewStore()
	case "redis":
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
	default:
		logger.Fatal("Unknown database driver", zap.String("driver", cfg.Database.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to create record store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Record store not ready", zap.Error(err))
	}
	logger.Info("Connected to record store")

	// Register domain metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterSearchMetrics()

	// Build embedder chain — composition root
	// Take the first vectorizer config
	var vecCfg config.VectorizerConfig
	var provName string
	for _, vc := range cfg.Embedding.Vectorizers {
		vecCfg = vc
		provName = vc.Provider
		break
	}
	if provName == "" {
		logger.Fatal("No embedding vectorizer configured")
	}
	provCfg := cfg.Embedding.Providers[provName]

	docEmbedder := buildEmbedder(
		provName, provCfg, vecCfg, vecCfg.DocumentInstruction,
		store, cfg.Storage.KeyPrefix, logger,
	)
	queryEmbedder := buildEmbedder(
		provName, provCfg, vecCfg, vecCfg.QueryInstruction,
		store, cfg.Storage.KeyPrefix, logger,
	)
	logger.Info("Embedders created",
		zap.String("provider", provName),
		zap.String("model", vecCfg.Model),
		zap.Int("dimensions", vecCfg.Dimensions),
	)

	recordRepo := recordrepo.New(store, cfg.Storage.KeyPrefix)
	idx := index.New(vecCfg.Dimensions)

	// Warm load: the index is derived state, rebuilt from the record store.
	if err := warmLoad(ctx, recordRepo, idx, logger); err != nil {
		logger.Fatal("Failed to rebuild index from record store", zap.Error(err))
	}

	recorder := analytics.New(cfg.Analytics.RingSize, cfg.Analytics.QueueSize, logger)
	defer recorder.Close()

	ranker := rank.New(rank.Weights{
		Semantic:        cfg.Ranking.SemanticWeight,
		Freshness:       cfg.Ranking.FreshnessWeight,
		Metadata:        cfg.Ranking.MetadataWeight,
		Personalization: cfg.Ranking.PersonalizationWeight,
	}, time.Duration(cfg.Ranking.FreshnessHalfLifeHrs)*time.Hour)

	searchSvc := searchuc.New(idx, recordRepo, queryEmbedder, ranker, recorder, searchuc.Config{
		OverfetchFactor: cfg.Search.OverfetchFactor,
		CandidateFloor:  cfg.Search.CandidateFloor,
		QueryTimeout:    time.Duration(cfg.Search.QueryTimeoutMs) * time.Millisecond,
		RetryBackoff:    time.Duration(cfg.Search.RetryBackoffMs) * time.Millisecond,
		CacheTTL:        time.Duration(cfg.Search.CacheTTLSec) * time.Second,
	}, logger)

	ingestSvc := ingest.New(recordRepo, idx, asBatchEmbedder(docEmbedder), ingest.Config{
		MaxBatch: cfg.Search.MaxIngestBatch,
		Workers:  cfg.Search.IngestWorkers,
	}, logger)

	discoverSvc := discoveruc.New(
		recordRepo, idx, recorder,
		discoveruc.NewKMeans(cfg.Discovery.Seed, cfg.Discovery.MaxIterations, cfg.Discovery.Epsilon),
		discoveruc.Config{
			Clusters:           cfg.Discovery.Clusters,
			MinClusters:        cfg.Discovery.MinClusters,
			MaxClusters:        cfg.Discovery.MaxClusters,
			CoherenceThreshold: cfg.Discovery.CoherenceThreshold,
			RecommendK:         cfg.Discovery.RecommendK,
			MinSimilarity:      cfg.Discovery.MinSimilarity,
			TrendWindow:        time.Duration(cfg.Discovery.TrendWindowHrs) * time.Hour,
			TrendHalfLife:      time.Duration(cfg.Discovery.TrendHalfLifeHrs) * time.Hour,
			Workers:            cfg.Discovery.Workers,
		},
		logger,
	)

	// One-shot ingestion mode: lodestone ingest <file>
	if len(os.Args) > 1 && os.Args[1] == "ingest" {
		runIngestFile(ctx, ingestSvc, logger)
		return
	}

	healthSvc := healthuc.New(store, newEmbeddingHealthChecker(queryEmbedder), idx)

	server := chiTransport.NewServer(
		searchSvc, ingestSvc, recordRepo, discoverSvc, recorder, healthSvc,
		time.Duration(cfg.Analytics.WindowMin)*time.Minute, logger,
	)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	// Background discovery scheduler
	schedCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	if cfg.Discovery.IntervalSec > 0 {
		interval := time.Duration(cfg.Discovery.IntervalSec) * time.Second
		logger.Info("Starting discovery scheduler", zap.Duration("interval", interval))
		go discoverSvc.RunPeriodically(schedCtx, interval)
	}

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")
	stopScheduler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// warmLoad rebuilds the vector index from persisted records. Records whose
// embedding does not match the configured dimensions are skipped; they stay
// searchable through the lexical and metadata paths.
func warmLoad(ctx context.Context, repo *recordrepo.Repo, idx *index.Index, logger *zap.Logger) error {
	recs, err := repo.All(ctx)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	entries := make([]index.Entry, 0, len(recs))
	skipped := 0
	for i := range recs {
		rec := &recs[i]
		if !rec.HasEmbedding() {
			continue
		}
		if len(rec.Embedding) != idx.Dim() {
			skipped++
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
		if err := idx.UpsertBatch(entries); err != nil {
			return fmt.Errorf("index records: %w", err)
		}
	}
	metrics.IndexSize.Set(float64(len(entries)))

	logger.Info("Index rebuilt from record store",
		zap.Int("records", len(recs)),
		zap.Int("indexed", len(entries)),
		zap.Int("dimension_skipped", skipped),
	)
	return nil
}

// runIngestFile ingests one NDJSON file and exits.
func runIngestFile(ctx context.Context, svc *ingest.Service, logger *zap.Logger) {
	if len(os.Args) < 3 {
		logger.Fatal("Usage: lodestone ingest <file.ndjson>")
	}
	path := os.Args[2]

	f, err := os.Open(path)
	if err != nil {
		logger.Fatal("Failed to open input file", zap.String("path", path), zap.Error(err))
	}
	defer f.Close()

	report, err := svc.IngestReader(ctx, f)
	if err != nil {
		logger.Fatal("Ingestion failed", zap.Error(err))
	}
	logger.Info("Ingestion finished",
		zap.String("path", path),
		zap.Int("stored", report.Stored),
		zap.Int("indexed", report.Indexed),
		zap.Int("failed", report.Failed),
	)
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// batchAdapter lifts a plain Embedder to the batch contract.
type batchAdapter struct {
	inner domain.Embedder
}

func (b batchAdapter) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	return domain.BatchFallback(ctx, b.inner, texts)
}

func asBatchEmbedder(e domain.Embedder) domain.BatchEmbedder {
	if be, ok := e.(domain.BatchEmbedder); ok {
		return be
	}
	return batchAdapter{inner: e}
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instruction
func buildEmbedder(
	provName string,
	provCfg config.ProviderConfig,
	vecCfg config.VectorizerConfig,
	instruction string,
	store db.Store,
	keyPrefix string,
	logger *zap.Logger,
) domain.Embedder {
	// Base provider (with transport metrics built-in)
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     provCfg.APIKey,
		BaseURL:    provCfg.BaseURL,
		Model:      vecCfg.Model,
		Dimensions: vecCfg.Dimensions,
		Provider:   provName,
		Logger:     logger,
	})

	// Cached
	var embedder domain.Embedder = embcache.New(base, store, keyPrefix, metrics.EmbeddingCacheTotal, logger)

	// Instruction prefix (outermost — cache key includes instruction)
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}

	return embedder
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
