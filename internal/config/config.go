package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/mathroute/internal/db"
)

// Config holds the mathroute API configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generative GenerativeConfig `yaml:"generative"`
	WebSearch  WebSearchConfig  `yaml:"web_search"`
	Router     RouterConfig     `yaml:"router"`
	Cache      CacheConfig      `yaml:"cache"`
	Index      IndexConfig      `yaml:"index"`
	Health     HealthConfig     `yaml:"health"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
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

// DatabaseConfig holds the knowledge base store connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // valkey, redis (default: valkey)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// LedgerConfig holds the badger trace ledger settings.
type LedgerConfig struct {
	Path              string        `yaml:"path"`
	InMemory          bool          `yaml:"in_memory"`
	SyncWrites        bool          `yaml:"sync_writes"`
	Retention         time.Duration `yaml:"retention"`
	FeedbackRetention time.Duration `yaml:"feedback_retention"`
	GCInterval        time.Duration `yaml:"gc_interval"`
	GCDiscardRatio    float64       `yaml:"gc_discard_ratio"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider    string        `yaml:"provider"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Dimensions  int           `yaml:"dimensions"`
	Instruction string        `yaml:"instruction"`
	Timeout     time.Duration `yaml:"timeout"`
	ChunkSize   int           `yaml:"chunk_size"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// GenerativeConfig holds chat model settings for the generative tier.
type GenerativeConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Provider    string        `yaml:"provider"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	Budget      BudgetConfig  `yaml:"budget"`
}

// WebSearchConfig holds search API settings for the web tier.
type WebSearchConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Provider    string        `yaml:"provider"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	SearchDepth string        `yaml:"search_depth"` // basic | advanced
	MaxSources  int           `yaml:"max_sources"`
	Scrape      bool          `yaml:"scrape"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RouterConfig holds the routing policy.
type RouterConfig struct {
	Threshold          float64       `yaml:"threshold"`
	ValidatedThreshold float64       `yaml:"validated_threshold"`
	TopK               int           `yaml:"top_k"`
	NumericExactOnly   bool          `yaml:"numeric_exact_only"`
	KBTimeout          time.Duration `yaml:"kb_timeout"`
	WebTimeout         time.Duration `yaml:"web_timeout"`
	GenerativeTimeout  time.Duration `yaml:"generative_timeout"`
	RetryBackoff       time.Duration `yaml:"retry_backoff"`
	TimeoutRetries     *int          `yaml:"timeout_retries"` // nil = 1
	GenerativeFirst    []string      `yaml:"generative_first"`
	TraceOnCacheHit    string        `yaml:"trace_on_cache_hit"` // reuse | mint
	CanonicalKeys      bool          `yaml:"canonical_keys"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Capacity      int           `yaml:"capacity"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// IndexConfig holds the knowledge base vector index settings.
type IndexConfig struct {
	Algorithm       string `yaml:"algorithm"` // hnsw | flat
	HNSWM           int    `yaml:"hnsw_m"`
	HNSWEFConstruct int    `yaml:"hnsw_ef_construction"`
}

// VectorAlgorithm returns the parsed algorithm. Unknown values fall back to HNSW;
// Validate rejects them first.
func (c IndexConfig) VectorAlgorithm() db.VectorAlgorithm {
	algo, err := db.ParseVectorAlgorithm(c.Algorithm)
	if err != nil {
		return db.VectorHNSW
	}
	return algo
}

// HealthConfig holds readiness probe settings.
type HealthConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expands ${VAR} references, applies defaults and validates.
func Parse(data []byte) (Config, error) {
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
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "valkey"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}

	if c.Ledger.Path == "" {
		c.Ledger.Path = "data/ledger"
	}
	if c.Ledger.Retention <= 0 {
		c.Ledger.Retention = 24 * time.Hour
	}
	if c.Ledger.FeedbackRetention <= 0 {
		c.Ledger.FeedbackRetention = 30 * 24 * time.Hour
	}
	if c.Ledger.GCInterval <= 0 {
		c.Ledger.GCInterval = 10 * time.Minute
	}
	if c.Ledger.GCDiscardRatio <= 0 {
		c.Ledger.GCDiscardRatio = 0.5
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1536
	}
	if c.Embedding.Timeout <= 0 {
		c.Embedding.Timeout = 10 * time.Second
	}
	if c.Embedding.ChunkSize <= 0 {
		c.Embedding.ChunkSize = 64
	}
	if c.Embedding.CacheTTL <= 0 {
		c.Embedding.CacheTTL = 7 * 24 * time.Hour
	}

	if c.Generative.Provider == "" {
		c.Generative.Provider = "openai"
	}
	if c.Generative.Model == "" {
		c.Generative.Model = "gpt-4o-mini"
	}
	if c.Generative.MaxTokens <= 0 {
		c.Generative.MaxTokens = 1024
	}

	if c.WebSearch.Provider == "" {
		c.WebSearch.Provider = "tavily"
	}
	if c.WebSearch.SearchDepth == "" {
		c.WebSearch.SearchDepth = "basic"
	}
	if c.WebSearch.MaxSources <= 0 {
		c.WebSearch.MaxSources = 3
	}

	if c.Router.Threshold <= 0 {
		c.Router.Threshold = 0.8
	}
	if c.Router.ValidatedThreshold <= 0 {
		c.Router.ValidatedThreshold = c.Router.Threshold
	}
	if c.Router.TopK <= 0 {
		c.Router.TopK = 5
	}
	if c.Router.KBTimeout <= 0 {
		c.Router.KBTimeout = 2 * time.Second
	}
	if c.Router.WebTimeout <= 0 {
		c.Router.WebTimeout = 15 * time.Second
	}
	if c.Router.GenerativeTimeout <= 0 {
		c.Router.GenerativeTimeout = 30 * time.Second
	}
	if c.Router.RetryBackoff <= 0 {
		c.Router.RetryBackoff = 250 * time.Millisecond
	}
	if c.Router.TimeoutRetries == nil {
		one := 1
		c.Router.TimeoutRetries = &one
	}
	if c.Router.TraceOnCacheHit == "" {
		c.Router.TraceOnCacheHit = "reuse"
	}

	if c.Cache.Capacity <= 0 {
		c.Cache.Capacity = 1000
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = time.Hour
	}
	if c.Cache.SweepInterval <= 0 {
		c.Cache.SweepInterval = time.Minute
	}

	if c.Index.Algorithm == "" {
		c.Index.Algorithm = "hnsw"
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 16
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 200
	}

	if c.Health.Timeout <= 0 {
		c.Health.Timeout = 2 * time.Second
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "valkey", "redis":
	default:
		return fmt.Errorf("database.driver must be \"valkey\" or \"redis\", got %q", c.Database.Driver)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if !c.Ledger.InMemory && c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required unless ledger.in_memory is set")
	}
	if c.Router.Threshold > 1 {
		return fmt.Errorf("router.threshold must be in (0, 1], got %g", c.Router.Threshold)
	}
	if c.Router.ValidatedThreshold > 1 {
		return fmt.Errorf("router.validated_threshold must be in (0, 1], got %g", c.Router.ValidatedThreshold)
	}
	if *c.Router.TimeoutRetries < 0 {
		return fmt.Errorf("router.timeout_retries must not be negative, got %d", *c.Router.TimeoutRetries)
	}
	switch c.Router.TraceOnCacheHit {
	case "reuse", "mint":
	default:
		return fmt.Errorf(
			"router.trace_on_cache_hit must be \"reuse\" or \"mint\", got %q", c.Router.TraceOnCacheHit,
		)
	}
	if _, err := db.ParseVectorAlgorithm(c.Index.Algorithm); err != nil {
		return fmt.Errorf("index.algorithm must be \"hnsw\" or \"flat\": %w", err)
	}
	switch c.Generative.Budget.Action {
	case "", "warn", "reject":
		// ok
	default:
		return fmt.Errorf(
			"generative.budget.action must be \"warn\" or \"reject\", got %q", c.Generative.Budget.Action,
		)
	}
	switch c.WebSearch.SearchDepth {
	case "basic", "advanced":
	default:
		return fmt.Errorf(
			"web_search.search_depth must be \"basic\" or \"advanced\", got %q", c.WebSearch.SearchDepth,
		)
	}
	if c.Generative.Enabled && c.Generative.APIKey == "" {
		return fmt.Errorf("generative.api_key is required when generative.enabled is set")
	}
	if c.WebSearch.Enabled && c.WebSearch.APIKey == "" {
		return fmt.Errorf("web_search.api_key is required when web_search.enabled is set")
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
