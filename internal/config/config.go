// Package config loads pipeline configuration from defaults, an optional
// YAML file, a .env file, and environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	OpenAI    OpenAIConfig    `yaml:"openai" json:"openai"`
	Redis     RedisConfig     `yaml:"redis" json:"redis"`
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	Quotas    QuotaConfig     `yaml:"quotas" json:"quotas"`
	Penalty   PenaltyConfig   `yaml:"provenance_penalty" json:"provenance_penalty"`
	Temporal  TemporalConfig  `yaml:"temporal" json:"temporal"`
	Artifact  ArtifactConfig  `yaml:"artifact" json:"artifact"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`

	// PilotMode makes embedding sanity failures fatal at startup
	PilotMode bool `yaml:"pilot_mode" json:"pilot_mode"`
}

// ServerConfig represents the HTTP shell configuration
type ServerConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	ReadTimeout  int    `yaml:"read_timeout_seconds" json:"read_timeout_seconds"`
	WriteTimeout int    `yaml:"write_timeout_seconds" json:"write_timeout_seconds"`

	// MaxInFlight bounds concurrent pipeline executions before the
	// orchestrator fast-fails with an overloaded envelope
	MaxInFlight int `yaml:"max_in_flight" json:"max_in_flight"`
}

// StoreConfig selects and configures the vector store backend
type StoreConfig struct {
	// Provider is "qdrant" or "sqlite"
	Provider string `yaml:"provider" json:"provider"`

	QdrantHost       string `yaml:"qdrant_host" json:"qdrant_host"`
	QdrantPort       int    `yaml:"qdrant_port" json:"qdrant_port"`
	QdrantAPIKey     string `yaml:"-" json:"-"`
	QdrantUseTLS     bool   `yaml:"qdrant_use_tls" json:"qdrant_use_tls"`
	QdrantCollection string `yaml:"qdrant_collection" json:"qdrant_collection"`

	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`

	// SearchTimeoutSeconds bounds a single store search call
	SearchTimeoutSeconds int `yaml:"search_timeout_seconds" json:"search_timeout_seconds"`
}

// OpenAIConfig represents the embeddings and generation backend configuration
type OpenAIConfig struct {
	APIKey         string  `yaml:"-" json:"-"`
	EmbeddingModel string  `yaml:"embedding_model" json:"embedding_model"`
	ChatModel      string  `yaml:"chat_model" json:"chat_model"`
	MaxTokens      int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature    float64 `yaml:"temperature" json:"temperature"`
	RequestTimeout int     `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`

	CacheSize   int `yaml:"cache_size" json:"cache_size"`
	CacheTTLMin int `yaml:"cache_ttl_minutes" json:"cache_ttl_minutes"`
}

// RedisConfig represents the optional envelope snapshot cache
type RedisConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Addr       string `yaml:"addr" json:"addr"`
	Password   string `yaml:"-" json:"-"`
	DB         int    `yaml:"db" json:"db"`
	TTLMinutes int    `yaml:"ttl_minutes" json:"ttl_minutes"`
}

// RetrievalConfig tunes the candidate retrieval and card budgets
type RetrievalConfig struct {
	InitialRetrievalCount int     `yaml:"initial_retrieval_count" json:"initial_retrieval_count"`
	SimilarityThreshold   float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	FinalCoreCount        int     `yaml:"final_core_count" json:"final_core_count"`
	OrchestratorViewCount int     `yaml:"orchestrator_view_count" json:"orchestrator_view_count"`
	MaxContextLength      int     `yaml:"max_context_length" json:"max_context_length"`
	MaxMemoryLength       int     `yaml:"max_memory_length" json:"max_memory_length"`

	// ExpansionTopK enables semantic re-query expansion when > 0: the top K
	// candidates' key terms are re-queried and results unioned, capped
	ExpansionTopK int `yaml:"expansion_top_k" json:"expansion_top_k"`
	ExpansionCap  int `yaml:"expansion_cap" json:"expansion_cap"`

	// SoftCapSeconds logs a warning when a pipeline run exceeds it
	SoftCapSeconds int `yaml:"soft_cap_seconds" json:"soft_cap_seconds"`

	// UseDynamicGate enables the legacy percentile gate after scoring.
	// The low similarity threshold made it redundant for new deployments.
	UseDynamicGate bool `yaml:"use_dynamic_gate" json:"use_dynamic_gate"`
}

// QuotaConfig configures diversity enforcement
type QuotaConfig struct {
	MaxPerSource     int `yaml:"max_per_source" json:"max_per_source"`
	MinUniqueTypes   int `yaml:"min_unique_types" json:"min_unique_types"`
	MinUniqueSources int `yaml:"min_unique_sources" json:"min_unique_sources"`
}

// PenaltyConfig configures provenance penalties applied during scoring
type PenaltyConfig struct {
	Missing float64 `yaml:"missing" json:"missing"`
	Stale   float64 `yaml:"stale" json:"stale"`
}

// TemporalConfig tunes the temporal weighter
type TemporalConfig struct {
	HalfLifeTemporalDays float64 `yaml:"half_life_temporal_days" json:"half_life_temporal_days"`
	HalfLifeRecentDays   float64 `yaml:"half_life_recent_days" json:"half_life_recent_days"`
	HalfLifeDefaultDays  float64 `yaml:"half_life_default_days" json:"half_life_default_days"`
	FloorTemporal        float64 `yaml:"floor_temporal" json:"floor_temporal"`
	FloorDefault         float64 `yaml:"floor_default" json:"floor_default"`
	FreshBoost           float64 `yaml:"fresh_boost" json:"fresh_boost"`
}

// ArtifactConfig tunes the conversation artifact classifier
type ArtifactConfig struct {
	// MinCategoryHits is the number of matching pattern categories required
	// to leave the discussion bucket
	MinCategoryHits int `yaml:"min_category_hits" json:"min_category_hits"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
			MaxInFlight:  32,
		},
		Store: StoreConfig{
			Provider:             "qdrant",
			QdrantHost:           "localhost",
			QdrantPort:           6334,
			QdrantCollection:     "memory_chunks",
			SQLitePath:           "./data/memory.db",
			SearchTimeoutSeconds: 20,
		},
		OpenAI: OpenAIConfig{
			EmbeddingModel: "text-embedding-3-small",
			ChatModel:      "gpt-4o",
			MaxTokens:      2048,
			Temperature:    0.2,
			RequestTimeout: 60,
			CacheSize:      2000,
			CacheTTLMin:    24 * 60,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			TTLMinutes: 60,
		},
		Retrieval: RetrievalConfig{
			InitialRetrievalCount: 500,
			SimilarityThreshold:   0.01,
			FinalCoreCount:        12,
			OrchestratorViewCount: 50,
			MaxContextLength:      6000,
			MaxMemoryLength:       800,
			ExpansionTopK:         0,
			ExpansionCap:          100,
			SoftCapSeconds:        30,
		},
		Quotas: QuotaConfig{
			MaxPerSource:     2,
			MinUniqueTypes:   3,
			MinUniqueSources: 5,
		},
		Penalty: PenaltyConfig{
			Missing: 0.8,
			Stale:   0.9,
		},
		Temporal: TemporalConfig{
			HalfLifeTemporalDays: 14,
			HalfLifeRecentDays:   30,
			HalfLifeDefaultDays:  90,
			FloorTemporal:        0.65,
			FloorDefault:         0.80,
			FreshBoost:           1.10,
		},
		Artifact: ArtifactConfig{
			MinCategoryHits: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from defaults, the optional YAML file named
// by MEMFUSE_CONFIG_FILE, a .env file, and environment overrides.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := DefaultConfig()

	if path := os.Getenv("MEMFUSE_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-provided path
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFromEnv(cfg *Config) {
	setString(&cfg.Server.Host, "MEMFUSE_HOST")
	setInt(&cfg.Server.Port, "MEMFUSE_PORT")
	setInt(&cfg.Server.ReadTimeout, "MEMFUSE_READ_TIMEOUT_SECONDS")
	setInt(&cfg.Server.WriteTimeout, "MEMFUSE_WRITE_TIMEOUT_SECONDS")
	setInt(&cfg.Server.MaxInFlight, "MEMFUSE_MAX_IN_FLIGHT")

	setString(&cfg.Store.Provider, "MEMFUSE_STORE_PROVIDER")
	setString(&cfg.Store.QdrantHost, "QDRANT_HOST")
	setInt(&cfg.Store.QdrantPort, "QDRANT_PORT")
	setString(&cfg.Store.QdrantAPIKey, "QDRANT_API_KEY")
	setBool(&cfg.Store.QdrantUseTLS, "QDRANT_USE_TLS")
	setString(&cfg.Store.QdrantCollection, "QDRANT_COLLECTION")
	setString(&cfg.Store.SQLitePath, "MEMFUSE_SQLITE_PATH")
	setInt(&cfg.Store.SearchTimeoutSeconds, "MEMFUSE_SEARCH_TIMEOUT_SECONDS")

	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.EmbeddingModel, "OPENAI_EMBEDDING_MODEL")
	setString(&cfg.OpenAI.ChatModel, "OPENAI_CHAT_MODEL")
	setInt(&cfg.OpenAI.MaxTokens, "MEMFUSE_OPENAI_MAX_TOKENS")
	setFloat(&cfg.OpenAI.Temperature, "MEMFUSE_OPENAI_TEMPERATURE")
	setInt(&cfg.OpenAI.RequestTimeout, "MEMFUSE_OPENAI_REQUEST_TIMEOUT_SECONDS")
	setInt(&cfg.OpenAI.CacheSize, "MEMFUSE_EMBEDDING_CACHE_SIZE")
	setInt(&cfg.OpenAI.CacheTTLMin, "MEMFUSE_EMBEDDING_CACHE_TTL_MINUTES")

	setBool(&cfg.Redis.Enabled, "MEMFUSE_REDIS_ENABLED")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.TTLMinutes, "MEMFUSE_SNAPSHOT_TTL_MINUTES")

	setInt(&cfg.Retrieval.InitialRetrievalCount, "MEMFUSE_INITIAL_RETRIEVAL_COUNT")
	setFloat(&cfg.Retrieval.SimilarityThreshold, "MEMFUSE_SIMILARITY_THRESHOLD")
	setInt(&cfg.Retrieval.FinalCoreCount, "MEMFUSE_FINAL_CORE_COUNT")
	setInt(&cfg.Retrieval.OrchestratorViewCount, "MEMFUSE_ORCHESTRATOR_VIEW_COUNT")
	setInt(&cfg.Retrieval.MaxContextLength, "MEMFUSE_MAX_CONTEXT_LENGTH")
	setInt(&cfg.Retrieval.MaxMemoryLength, "MEMFUSE_MAX_MEMORY_LENGTH")
	setInt(&cfg.Retrieval.ExpansionTopK, "MEMFUSE_EXPANSION_TOP_K")
	setInt(&cfg.Retrieval.ExpansionCap, "MEMFUSE_EXPANSION_CAP")
	setInt(&cfg.Retrieval.SoftCapSeconds, "MEMFUSE_SOFT_CAP_SECONDS")
	setBool(&cfg.Retrieval.UseDynamicGate, "MEMFUSE_USE_DYNAMIC_GATE")

	setInt(&cfg.Quotas.MaxPerSource, "MEMFUSE_QUOTA_MAX_PER_SOURCE")
	setInt(&cfg.Quotas.MinUniqueTypes, "MEMFUSE_QUOTA_MIN_UNIQUE_TYPES")
	setInt(&cfg.Quotas.MinUniqueSources, "MEMFUSE_QUOTA_MIN_UNIQUE_SOURCES")

	setFloat(&cfg.Penalty.Missing, "MEMFUSE_PENALTY_MISSING")
	setFloat(&cfg.Penalty.Stale, "MEMFUSE_PENALTY_STALE")

	setFloat(&cfg.Temporal.HalfLifeTemporalDays, "MEMFUSE_HALF_LIFE_TEMPORAL_DAYS")
	setFloat(&cfg.Temporal.HalfLifeRecentDays, "MEMFUSE_HALF_LIFE_RECENT_DAYS")
	setFloat(&cfg.Temporal.HalfLifeDefaultDays, "MEMFUSE_HALF_LIFE_DEFAULT_DAYS")
	setFloat(&cfg.Temporal.FloorTemporal, "MEMFUSE_FLOOR_TEMPORAL")
	setFloat(&cfg.Temporal.FloorDefault, "MEMFUSE_FLOOR_DEFAULT")
	setFloat(&cfg.Temporal.FreshBoost, "MEMFUSE_FRESH_BOOST")

	setInt(&cfg.Artifact.MinCategoryHits, "MEMFUSE_ARTIFACT_MIN_CATEGORY_HITS")

	setString(&cfg.Logging.Level, "MEMFUSE_LOG_LEVEL")
	setString(&cfg.Logging.Format, "MEMFUSE_LOG_FORMAT")

	setBool(&cfg.PilotMode, "MEMFUSE_PILOT_MODE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// SearchTimeout returns the per-search budget as a duration
func (c *Config) SearchTimeout() time.Duration {
	return time.Duration(c.Store.SearchTimeoutSeconds) * time.Second
}

// SoftCap returns the total pipeline soft cap as a duration
func (c *Config) SoftCap() time.Duration {
	return time.Duration(c.Retrieval.SoftCapSeconds) * time.Second
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxInFlight <= 0 {
		return fmt.Errorf("max in flight must be positive")
	}

	switch c.Store.Provider {
	case "qdrant":
		if c.Store.QdrantHost == "" {
			return fmt.Errorf("qdrant host cannot be empty")
		}
		if c.Store.QdrantCollection == "" {
			return fmt.Errorf("qdrant collection cannot be empty")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path cannot be empty")
		}
	default:
		return fmt.Errorf("unknown store provider: %s", c.Store.Provider)
	}

	if c.Retrieval.InitialRetrievalCount <= 0 {
		return fmt.Errorf("initial retrieval count must be positive")
	}
	if c.Retrieval.SimilarityThreshold < -1 || c.Retrieval.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be within [-1, 1]")
	}
	if c.Retrieval.FinalCoreCount <= 0 {
		return fmt.Errorf("final core count must be positive")
	}
	if c.Retrieval.MaxMemoryLength <= 0 || c.Retrieval.MaxContextLength <= 0 {
		return fmt.Errorf("context budgets must be positive")
	}

	if c.Quotas.MaxPerSource <= 0 {
		return fmt.Errorf("max per source must be positive")
	}
	if c.Quotas.MinUniqueSources < 0 || c.Quotas.MinUniqueTypes < 0 {
		return fmt.Errorf("quota minimums cannot be negative")
	}

	if c.Penalty.Missing <= 0 || c.Penalty.Missing > 1 {
		return fmt.Errorf("missing-provenance penalty must be in (0, 1]")
	}
	if c.Penalty.Stale <= 0 || c.Penalty.Stale > 1 {
		return fmt.Errorf("stale-provenance penalty must be in (0, 1]")
	}

	if c.Temporal.HalfLifeTemporalDays <= 0 || c.Temporal.HalfLifeRecentDays <= 0 || c.Temporal.HalfLifeDefaultDays <= 0 {
		return fmt.Errorf("temporal half-lives must be positive")
	}
	if c.Temporal.FloorTemporal <= 0 || c.Temporal.FloorDefault <= 0 {
		return fmt.Errorf("temporal floors must be positive")
	}

	if c.Artifact.MinCategoryHits <= 0 {
		return fmt.Errorf("artifact min category hits must be positive")
	}

	return nil
}
