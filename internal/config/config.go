package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the lodestone engine configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Auth      AuthConfig      `yaml:"auth"`
	Search    SearchConfig    `yaml:"search"`
	Ranking   RankingConfig   `yaml:"ranking"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds record store backend settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // memory, redis (default: memory)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// SearchConfig holds query engine settings.
type SearchConfig struct {
	OverfetchFactor int `yaml:"overfetch_factor"` // candidate headroom multiplier (min 3)
	CandidateFloor  int `yaml:"candidate_floor"`  // minimum candidates fetched regardless of limit
	DefaultLimit    int `yaml:"default_limit"`
	MaxLimit        int `yaml:"max_limit"`
	QueryTimeoutMs  int `yaml:"query_timeout_ms"`  // embedding call deadline
	RetryBackoffMs  int `yaml:"retry_backoff_ms"`  // pause before the single embed retry
	CacheTTLSec     int `yaml:"cache_ttl_sec"`     // 0 disables the result cache
	MaxIngestBatch  int `yaml:"max_ingest_batch"`  // records embedded per batch call
	IngestWorkers   int `yaml:"ingest_workers"`    // concurrent ingest batches
}

// RankingConfig holds composite score weights and freshness decay.
// Weights need not sum to 1; only relative ordering matters.
type RankingConfig struct {
	SemanticWeight        float64 `yaml:"semantic_weight"`
	FreshnessWeight       float64 `yaml:"freshness_weight"`
	MetadataWeight        float64 `yaml:"metadata_weight"`
	PersonalizationWeight float64 `yaml:"personalization_weight"`
	FreshnessHalfLifeHrs  int     `yaml:"freshness_half_life_hours"`
}

// DiscoveryConfig holds clustering, trending, and recommendation settings.
type DiscoveryConfig struct {
	Clusters           int     `yaml:"clusters"` // 0 = sqrt(N) heuristic
	MinClusters        int     `yaml:"min_clusters"`
	MaxClusters        int     `yaml:"max_clusters"`
	MaxIterations      int     `yaml:"max_iterations"`
	Epsilon            float64 `yaml:"epsilon"`
	CoherenceThreshold float64 `yaml:"coherence_threshold"`
	RecommendK         int     `yaml:"recommend_k"`
	MinSimilarity      float64 `yaml:"min_similarity"`
	TrendWindowHrs     int     `yaml:"trend_window_hours"`
	TrendHalfLifeHrs   int     `yaml:"trend_half_life_hours"`
	IntervalSec        int     `yaml:"interval_sec"` // 0 disables the scheduler
	Workers            int     `yaml:"workers"`
	Seed               int64   `yaml:"seed"`
}

// AnalyticsConfig holds search analytics settings.
type AnalyticsConfig struct {
	RingSize  int `yaml:"ring_size"`
	QueueSize int `yaml:"queue_size"`
	WindowMin int `yaml:"window_min"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
}

// EmbeddingConfig holds embedding settings.
type EmbeddingConfig struct {
	Providers   map[string]ProviderConfig   `yaml:"providers"`
	Vectorizers map[string]VectorizerConfig `yaml:"vectorizers"`
}

// ProviderConfig holds embedding provider settings.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// VectorizerConfig holds vectorizer settings.
type VectorizerConfig struct {
	Provider            string `yaml:"provider"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Search.OverfetchFactor < 3 {
		c.Search.OverfetchFactor = 4
	}
	if c.Search.CandidateFloor <= 0 {
		c.Search.CandidateFloor = 50
	}
	if c.Search.DefaultLimit <= 0 {
		c.Search.DefaultLimit = 20
	}
	if c.Search.MaxLimit <= 0 {
		c.Search.MaxLimit = 100
	}
	if c.Search.QueryTimeoutMs <= 0 {
		c.Search.QueryTimeoutMs = 5000
	}
	if c.Search.RetryBackoffMs <= 0 {
		c.Search.RetryBackoffMs = 200
	}
	if c.Search.MaxIngestBatch <= 0 {
		c.Search.MaxIngestBatch = 64
	}
	if c.Search.IngestWorkers <= 0 {
		c.Search.IngestWorkers = 4
	}
	if c.Ranking.SemanticWeight == 0 &&
		c.Ranking.FreshnessWeight == 0 &&
		c.Ranking.MetadataWeight == 0 &&
		c.Ranking.PersonalizationWeight == 0 {
		c.Ranking.SemanticWeight = 0.6
		c.Ranking.FreshnessWeight = 0.15
		c.Ranking.MetadataWeight = 0.15
		c.Ranking.PersonalizationWeight = 0.1
	}
	if c.Ranking.FreshnessHalfLifeHrs <= 0 {
		c.Ranking.FreshnessHalfLifeHrs = 7 * 24
	}
	if c.Discovery.MinClusters <= 0 {
		c.Discovery.MinClusters = 2
	}
	if c.Discovery.MaxClusters <= 0 {
		c.Discovery.MaxClusters = 50
	}
	if c.Discovery.MaxIterations <= 0 {
		c.Discovery.MaxIterations = 50
	}
	if c.Discovery.Epsilon <= 0 {
		c.Discovery.Epsilon = 1e-4
	}
	if c.Discovery.CoherenceThreshold <= 0 {
		c.Discovery.CoherenceThreshold = 0.3
	}
	if c.Discovery.RecommendK <= 0 {
		c.Discovery.RecommendK = 10
	}
	if c.Discovery.MinSimilarity <= 0 {
		c.Discovery.MinSimilarity = 0.1
	}
	if c.Discovery.TrendWindowHrs <= 0 {
		c.Discovery.TrendWindowHrs = 7 * 24
	}
	if c.Discovery.TrendHalfLifeHrs <= 0 {
		c.Discovery.TrendHalfLifeHrs = 24
	}
	if c.Discovery.Workers <= 0 {
		c.Discovery.Workers = 4
	}
	if c.Discovery.Seed == 0 {
		c.Discovery.Seed = 42
	}
	if c.Analytics.RingSize <= 0 {
		c.Analytics.RingSize = 1000
	}
	if c.Analytics.QueueSize <= 0 {
		c.Analytics.QueueSize = 256
	}
	if c.Analytics.WindowMin <= 0 {
		c.Analytics.WindowMin = 60
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "lodestone:"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "redis":
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for the redis driver")
		}
	default:
		return fmt.Errorf("database.driver must be \"memory\" or \"redis\", got %q", c.Database.Driver)
	}
	for name, vc := range c.Embedding.Vectorizers {
		if vc.Provider == "" {
			return fmt.Errorf("embedding.vectorizers.%s.provider is required", name)
		}
		if _, ok := c.Embedding.Providers[vc.Provider]; !ok {
			return fmt.Errorf("embedding.vectorizers.%s references unknown provider %q", name, vc.Provider)
		}
		if vc.Dimensions <= 0 {
			return fmt.Errorf("embedding.vectorizers.%s.dimensions must be positive", name)
		}
	}
	if c.Discovery.MinClusters > c.Discovery.MaxClusters {
		return fmt.Errorf("discovery.min_clusters must not exceed discovery.max_clusters")
	}
	if c.Discovery.MinSimilarity < 0 || c.Discovery.MinSimilarity > 1 {
		return fmt.Errorf("discovery.min_similarity must be between 0 and 1")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
