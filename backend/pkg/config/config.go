package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"osintgraph/backend/internal/constants"
	"osintgraph/backend/internal/correlation"
	"osintgraph/backend/internal/scoring"
	apperrors "osintgraph/backend/pkg/errors"
)

// Store drivers
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreNeo4j  = "neo4j"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Storage
	StoreDriver   string
	SQLitePath    string
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// Scoring
	Weights             scoring.Weights
	MinConfidence       float64
	RelatedThreshold    float64
	SamePersonThreshold float64
	MergeThreshold      float64
	SourceQuality       scoring.SourceQuality
	TuningFile          string // Optional YAML file with weights and per-platform source quality

	// Engine
	Workers        int
	TemporalWindow time.Duration
	// AliasPatternFloor is the minimum username strength for a known alias
	// pattern; negative disables the override
	AliasPatternFloor float64
	TagProviders      []string
	ClusterTimeout    time.Duration

	// HTTP
	IngestRateLimit float64 // Requests per second per client on write endpoints
	IngestRateBurst int
	FetchRateLimit  float64 // Profile fetches per second per host

	// Queue
	AMQPURL     string // Empty disables the queue consumer
	IngestQueue string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		SQLitePath:    getEnv("SQLITE_PATH", "osintgraph.db"),
		Neo4jURI:      getEnv("NEO4J_URI", ""),
		Neo4jUser:     getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", "password"),
		Neo4jDatabase: getEnv("NEO4J_DATABASE", ""),
		Weights: scoring.Weights{
			Attribute:     getEnvFloat("CORRELATION_WEIGHT_ATTRIBUTE", constants.DefaultAttributeWeight),
			SourceQuality: getEnvFloat("CORRELATION_WEIGHT_SOURCE_QUALITY", constants.DefaultSourceQualityWeight),
			Temporal:      getEnvFloat("CORRELATION_WEIGHT_TEMPORAL", constants.DefaultTemporalWeight),
			Uniqueness:    getEnvFloat("CORRELATION_WEIGHT_UNIQUENESS", constants.DefaultUniquenessWeight),
		},
		MinConfidence:       getEnvFloat("CORRELATION_MIN_CONFIDENCE", constants.DefaultMinConfidence),
		RelatedThreshold:    getEnvFloat("CORRELATION_RELATED_THRESHOLD", constants.DefaultRelatedThreshold),
		SamePersonThreshold: getEnvFloat("CORRELATION_SAME_PERSON_THRESHOLD", constants.DefaultSamePersonThreshold),
		MergeThreshold:      getEnvFloat("CORRELATION_MERGE_THRESHOLD", constants.DefaultMergeThreshold),
		SourceQuality:       scoring.DefaultSourceQuality(),
		TuningFile:          getEnv("CORRELATION_TUNING_FILE", ""),
		Workers:             getEnvInt("CORRELATION_WORKERS", constants.DefaultWorkers),
		TemporalWindow:      getEnvDuration("CORRELATION_TEMPORAL_WINDOW", constants.DefaultTemporalWindow),
		AliasPatternFloor:   getEnvFloat("CORRELATION_ALIAS_PATTERN_FLOOR", constants.DefaultAliasPatternFloor),
		TagProviders:        getEnvList("CORRELATION_TAG_PROVIDERS", constants.DefaultTagProviders),
		ClusterTimeout:      getEnvDuration("CLUSTER_TIMEOUT", constants.DefaultClusterTimeout),
		IngestRateLimit:     getEnvFloat("INGEST_RATE_LIMIT", 10),
		IngestRateBurst:     getEnvInt("INGEST_RATE_BURST", 20),
		FetchRateLimit:      getEnvFloat("FETCH_RATE_LIMIT", 1),
		AMQPURL:             getEnv("AMQP_URL", ""),
		IngestQueue:         getEnv("INGEST_QUEUE", "observations"),
	}

	// Without an explicit driver, a configured Neo4j URI wins.
	defaultDriver := StoreMemory
	if cfg.Neo4jURI != "" {
		defaultDriver = StoreNeo4j
	}
	cfg.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", defaultDriver))

	if cfg.TuningFile != "" {
		tuning, err := LoadTuning(cfg.TuningFile)
		if err != nil {
			return nil, apperrors.NewConfigValidationFailed("CORRELATION_TUNING_FILE", err.Error())
		}
		tuning.Apply(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set and sane
func (c *Config) Validate() error {
	if c.Port == "" {
		return apperrors.NewConfigValidationFailed("PORT", "is required")
	}

	switch c.StoreDriver {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return apperrors.NewConfigValidationFailed("SQLITE_PATH", "is required for the sqlite store")
		}
	case StoreNeo4j:
		if c.Neo4jURI == "" {
			return apperrors.NewConfigValidationFailed("NEO4J_URI", "is required for the neo4j store")
		}
		if c.Neo4jUser == "" {
			return apperrors.NewConfigValidationFailed("NEO4J_USER", "is required for the neo4j store")
		}
	default:
		return apperrors.NewConfigValidationFailed("STORE_DRIVER", fmt.Sprintf("unknown driver %q", c.StoreDriver))
	}

	weights := map[string]float64{
		"CORRELATION_WEIGHT_ATTRIBUTE":      c.Weights.Attribute,
		"CORRELATION_WEIGHT_SOURCE_QUALITY": c.Weights.SourceQuality,
		"CORRELATION_WEIGHT_TEMPORAL":       c.Weights.Temporal,
		"CORRELATION_WEIGHT_UNIQUENESS":     c.Weights.Uniqueness,
	}
	for name, w := range weights {
		if w < 0 {
			return apperrors.NewConfigValidationFailed(name, "cannot be negative")
		}
	}
	if c.Weights.Sum() <= 0 {
		return apperrors.NewConfigValidationFailed("CORRELATION_WEIGHT_*", "at least one weight must be positive")
	}

	thresholds := []struct {
		name  string
		value float64
	}{
		{"CORRELATION_MIN_CONFIDENCE", c.MinConfidence},
		{"CORRELATION_RELATED_THRESHOLD", c.RelatedThreshold},
		{"CORRELATION_SAME_PERSON_THRESHOLD", c.SamePersonThreshold},
		{"CORRELATION_MERGE_THRESHOLD", c.MergeThreshold},
	}
	for i, th := range thresholds {
		if th.value < 0 || th.value > 1 {
			return apperrors.NewConfigValidationFailed(th.name, "must be within [0,1]")
		}
		if i > 0 && th.value < thresholds[i-1].value {
			return apperrors.NewConfigValidationFailed(th.name, "must not be below "+thresholds[i-1].name)
		}
	}

	if c.Workers < 1 {
		return apperrors.NewConfigValidationFailed("CORRELATION_WORKERS", "must be at least 1")
	}
	if c.TemporalWindow <= 0 {
		return apperrors.NewConfigValidationFailed("CORRELATION_TEMPORAL_WINDOW", "must be positive")
	}
	if c.AliasPatternFloor > 1 {
		return apperrors.NewConfigValidationFailed("CORRELATION_ALIAS_PATTERN_FLOOR", "must not exceed 1")
	}
	if c.ClusterTimeout <= 0 {
		return apperrors.NewConfigValidationFailed("CLUSTER_TIMEOUT", "must be positive")
	}
	if c.IngestRateLimit <= 0 || c.IngestRateBurst < 1 {
		return apperrors.NewConfigValidationFailed("INGEST_RATE_LIMIT", "rate and burst must be positive")
	}
	if c.AMQPURL != "" && c.IngestQueue == "" {
		return apperrors.NewConfigValidationFailed("INGEST_QUEUE", "is required when AMQP_URL is set")
	}
	return nil
}

// EngineConfig builds the correlation engine configuration
func (c *Config) EngineConfig() correlation.Config {
	cfg := correlation.DefaultConfig()
	cfg.Weights = c.Weights
	cfg.MinConfidence = c.MinConfidence
	cfg.RelatedThreshold = c.RelatedThreshold
	cfg.SamePersonThreshold = c.SamePersonThreshold
	cfg.MergeThreshold = c.MergeThreshold
	cfg.Workers = c.Workers
	cfg.ClusterTimeout = c.ClusterTimeout
	cfg.Matchers.TemporalWindow = c.TemporalWindow
	cfg.Matchers.AliasPatternFloor = c.AliasPatternFloor
	cfg.Normalizer.TagProviders = append([]string(nil), c.TagProviders...)
	cfg.SourceQuality = c.SourceQuality
	return cfg
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
