// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, RPC, Postgres, Kafka, Redis, Retrieval, Remote, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	RPC       RPCConfig       `yaml:"rpc"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Remote    RemoteConfig    `yaml:"remote"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// RPCConfig holds the JSON-over-TCP RPC listener settings. Port 0 disables it.
type RPCConfig struct {
	Port int `yaml:"port"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	SnapshotRebuilt string `yaml:"snapshotRebuilt"`
	RetrievalEvents string `yaml:"retrievalEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// Weights is a vector/lexical weight pair. The pair is expected to sum to
// 1.0; the merger renormalizes it when it does not.
type Weights struct {
	Vector  float64 `yaml:"vector"`
	Lexical float64 `yaml:"lexical"`
}

// BM25Config holds the lexical scoring constants.
type BM25Config struct {
	K1 float64 `yaml:"k1"`
	B  float64 `yaml:"b"`
}

// MetadataFoldingConfig controls whether chunk metadata tokens are folded
// into the lexical term set, and with which multipliers.
type MetadataFoldingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	CategoryWeight float64 `yaml:"categoryWeight"`
	PathWeight     float64 `yaml:"pathWeight"`
}

// RerankConfig controls the optional second-pass reranker.
type RerankConfig struct {
	Enabled bool          `yaml:"enabled"`
	TopK    int           `yaml:"topK"`
	Timeout time.Duration `yaml:"timeout"`
	Weight  float64       `yaml:"weight"`
}

// RetrievalConfig controls the hybrid retrieval engine.
type RetrievalConfig struct {
	DefaultWeights          Weights               `yaml:"defaultWeights"`
	CategoryWeights         map[string]Weights    `yaml:"categoryWeights"`
	MinAcceptableCandidates int                   `yaml:"minAcceptableCandidates"`
	MaxResults              int                   `yaml:"maxResults"`
	MaxCandidates           int                   `yaml:"maxCandidates"`
	RequestTimeout          time.Duration         `yaml:"requestTimeout"`
	LexicalTimeout          time.Duration         `yaml:"lexicalTimeout"`
	VectorTimeout           time.Duration         `yaml:"vectorTimeout"`
	ExpansionTimeout        time.Duration         `yaml:"expansionTimeout"`
	BM25                    BM25Config            `yaml:"bm25"`
	MetadataFolding         MetadataFoldingConfig `yaml:"metadataFolding"`
	Rerank                  RerankConfig          `yaml:"rerank"`
	TermStatsCacheSize      int                   `yaml:"termStatsCacheSize"`
	SnapshotRefreshInterval time.Duration         `yaml:"snapshotRefreshInterval"`
}

// Validate rejects configurations the engine cannot run with.
func (r RetrievalConfig) Validate() error {
	if r.DefaultWeights.Vector < 0 || r.DefaultWeights.Lexical < 0 {
		return fmt.Errorf("default weights must be non-negative, got %+v", r.DefaultWeights)
	}
	for category, w := range r.CategoryWeights {
		if w.Vector < 0 || w.Lexical < 0 {
			return fmt.Errorf("weights for category %q must be non-negative, got %+v", category, w)
		}
	}
	if r.MinAcceptableCandidates < 0 {
		return fmt.Errorf("minAcceptableCandidates must be non-negative, got %d", r.MinAcceptableCandidates)
	}
	if r.MaxResults <= 0 {
		return fmt.Errorf("maxResults must be positive, got %d", r.MaxResults)
	}
	if r.RequestTimeout < 0 || r.LexicalTimeout < 0 || r.VectorTimeout < 0 || r.ExpansionTimeout < 0 {
		return fmt.Errorf("timeouts must be non-negative")
	}
	if r.BM25.K1 < 0 || r.BM25.B < 0 || r.BM25.B > 1 {
		return fmt.Errorf("bm25 constants out of range: k1=%v b=%v", r.BM25.K1, r.BM25.B)
	}
	if r.Rerank.Enabled {
		if r.Rerank.TopK <= 0 {
			return fmt.Errorf("rerank topK must be positive, got %d", r.Rerank.TopK)
		}
		if r.Rerank.Timeout <= 0 {
			return fmt.Errorf("rerank timeout must be positive, got %v", r.Rerank.Timeout)
		}
		if r.Rerank.Weight < 0 || r.Rerank.Weight > 1 {
			return fmt.Errorf("rerank weight must be in [0,1], got %v", r.Rerank.Weight)
		}
	}
	return nil
}

// RemoteConfig holds the endpoints of the external collaborators the engine
// consumes: the embedding service, the query-expansion service and the
// relevance judge used by the reranker.
type RemoteConfig struct {
	EmbeddingURL     string        `yaml:"embeddingUrl"`
	EmbeddingModel   string        `yaml:"embeddingModel"`
	EmbeddingTimeout time.Duration `yaml:"embeddingTimeout"`
	ExpansionURL     string        `yaml:"expansionUrl"`
	ExpansionTimeout time.Duration `yaml:"expansionTimeout"`
	MaxExpansions    int           `yaml:"maxExpansions"`
	JudgeURL         string        `yaml:"judgeUrl"`
	JudgeModel       string        `yaml:"judgeModel"`
	JudgeTimeout     time.Duration `yaml:"judgeTimeout"`
}

// RateLimitConfig controls per-client request throttling.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// AnalyticsConfig controls the retrieval-event pipeline.
type AnalyticsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	BufferSize      int           `yaml:"bufferSize"`
	BatchSize       int           `yaml:"batchSize"` // > 0 selects the batching collector
	FlushInterval   time.Duration `yaml:"flushInterval"`
	PersistInterval time.Duration `yaml:"persistInterval"`
	Port            int           `yaml:"port"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging for retrievals.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sampleRate"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Retrieval.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retrieval config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading any file or
// environment variable.
func Default() *Config {
	return defaultConfig()
}

// DefaultRetrieval returns the built-in retrieval settings.
func DefaultRetrieval() RetrievalConfig {
	return defaultConfig().Retrieval
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		RPC: RPCConfig{
			Port: 9000,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "retrieval",
			User:            "retrieval",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "retrieval-engine",
			Topics: KafkaTopics{
				SnapshotRebuilt: "corpus.snapshot-rebuilt",
				RetrievalEvents: "retrieval-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Retrieval: RetrievalConfig{
			DefaultWeights:          Weights{Vector: 0.6, Lexical: 0.4},
			CategoryWeights:         map[string]Weights{},
			MinAcceptableCandidates: 3,
			MaxResults:              20,
			MaxCandidates:           500,
			RequestTimeout:          5 * time.Second,
			LexicalTimeout:          1500 * time.Millisecond,
			VectorTimeout:           2 * time.Second,
			ExpansionTimeout:        1 * time.Second,
			BM25:                    BM25Config{K1: 1.2, B: 0.75},
			MetadataFolding: MetadataFoldingConfig{
				Enabled:        true,
				CategoryWeight: 2.0,
				PathWeight:     1.5,
			},
			Rerank: RerankConfig{
				Enabled: true,
				TopK:    10,
				Timeout: 1500 * time.Millisecond,
				Weight:  0.6,
			},
			TermStatsCacheSize:      10000,
			SnapshotRefreshInterval: 10 * time.Minute,
		},
		Remote: RemoteConfig{
			EmbeddingURL:     "http://localhost:8001",
			EmbeddingModel:   "nomic-embed-text",
			EmbeddingTimeout: 2 * time.Second,
			ExpansionURL:     "http://localhost:8002",
			ExpansionTimeout: 1 * time.Second,
			MaxExpansions:    5,
			JudgeURL:         "http://localhost:8003",
			JudgeModel:       "relevance-judge",
			JudgeTimeout:     2 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Analytics: AnalyticsConfig{
			Enabled:         true,
			BufferSize:      10000,
			FlushInterval:   5 * time.Second,
			PersistInterval: time.Minute,
			Port:            8083,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:    false,
			SampleRate: 0.1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads HRE_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HRE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HRE_RPC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.RPC.Port = port
		}
	}
	if v := os.Getenv("HRE_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("HRE_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("HRE_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("HRE_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("HRE_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("HRE_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("HRE_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("HRE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("HRE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("HRE_RETRIEVAL_MIN_ACCEPTABLE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.MinAcceptableCandidates = n
		}
	}
	if v := os.Getenv("HRE_RERANK_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Retrieval.Rerank.Enabled = enabled
		}
	}
	if v := os.Getenv("HRE_RERANK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retrieval.Rerank.Timeout = d
		}
	}
	if v := os.Getenv("HRE_EMBEDDING_URL"); v != "" {
		cfg.Remote.EmbeddingURL = v
	}
	if v := os.Getenv("HRE_EXPANSION_URL"); v != "" {
		cfg.Remote.ExpansionURL = v
	}
	if v := os.Getenv("HRE_JUDGE_URL"); v != "" {
		cfg.Remote.JudgeURL = v
	}
	if v := os.Getenv("HRE_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HRE_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
