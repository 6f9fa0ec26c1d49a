// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Indexes, Storage, DocMeta, Signals, Search, Redis, etc.).
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
	Indexes   IndexesConfig   `yaml:"indexes"`
	Storage   StorageConfig   `yaml:"storage"`
	DocMeta   DocMetaConfig   `yaml:"docMeta"`
	Signals   SignalsConfig   `yaml:"signals"`
	Search    SearchConfig    `yaml:"search"`
	Builder   BuilderConfig   `yaml:"builder"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Redis     RedisConfig     `yaml:"redis"`
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
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	AllowOrigins    []string      `yaml:"allowOrigins"`
	// ClientRate limits requests per second per client address; zero
	// disables the limit.
	ClientRate  float64 `yaml:"clientRate"`
	ClientBurst int     `yaml:"clientBurst"`
}

// IndexConfig locates one inverted index: its metadata file and shard set
// are both named after Name inside Dir (a local directory or an object-store
// prefix, depending on the storage backend).
type IndexConfig struct {
	Name string `yaml:"name"`
	Dir  string `yaml:"dir"`
}

// IndexesConfig lists the three indexes served by the process.
type IndexesConfig struct {
	Body   IndexConfig `yaml:"body"`
	Title  IndexConfig `yaml:"title"`
	Anchor IndexConfig `yaml:"anchor"`
}

// Storage backends.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendMinio = "minio"
)

// StorageConfig selects the shard backend and bounds per-read resources.
type StorageConfig struct {
	Backend            string        `yaml:"backend"`
	Bucket             string        `yaml:"bucket"`
	Region             string        `yaml:"region"`
	Endpoint           string        `yaml:"endpoint"`
	AccessKey          string        `yaml:"accessKey"`
	SecretKey          string        `yaml:"secretKey"`
	UseSSL             bool          `yaml:"useSSL"`
	ReadTimeout        time.Duration `yaml:"readTimeout"`
	MaxConcurrentReads int64         `yaml:"maxConcurrentReads"`
	ReadsPerSecond     float64       `yaml:"readsPerSecond"`
	Retry              RetryConfig   `yaml:"retry"`
	Breaker            BreakerConfig `yaml:"breaker"`
}

// RetryConfig feeds the retry half of resilience.ReadPolicy; the attempt
// deadline comes from StorageConfig.ReadTimeout.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

// BreakerConfig: consecutive failed reads and consecutive timed-out reads
// trip the circuit on separate thresholds.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	TimeoutThreshold int           `yaml:"timeoutThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// DocMetaConfig points at the positional document metadata directory.
type DocMetaConfig struct {
	Dir string `yaml:"dir"`
}

// Signal table sources.
const (
	SourceNone     = "none"
	SourceCSV      = "csv"
	SourcePostgres = "postgres"
)

// SignalSource describes where a doc_id -> value table is loaded from.
type SignalSource struct {
	Source string `yaml:"source"`
	Path   string `yaml:"path"`
	Query  string `yaml:"query"`
}

// SignalsConfig holds the page-view table and an optional PageRank table
// that extends the positional PageRank array.
type SignalsConfig struct {
	PageViews SignalSource `yaml:"pageViews"`
	PageRank  SignalSource `yaml:"pageRank"`
}

// Query policies.
const (
	PolicyFail    = "fail"
	PolicyPartial = "partial"
	PolicyDegrade = "degrade"
)

// FusionWeights are the weights applied by the combined search.
type FusionWeights struct {
	Body      float64 `yaml:"body"`
	Title     float64 `yaml:"title"`
	Anchor    float64 `yaml:"anchor"`
	PageRank  float64 `yaml:"pageRank"`
	PageViews float64 `yaml:"pageViews"`
}

// BM25Config holds the body BM25 parameters used by the combined search.
type BM25Config struct {
	K1    float64 `yaml:"k1"`
	B     float64 `yaml:"b"`
	Plus  bool    `yaml:"plus"`
	Delta float64 `yaml:"delta"`
}

// SearchConfig controls query execution limits, timeouts and policies.
type SearchConfig struct {
	MaxWorkers        int           `yaml:"maxWorkers"`
	QueryTimeout      time.Duration `yaml:"queryTimeout"`
	TimeoutPolicy     string        `yaml:"timeoutPolicy"`
	FailurePolicy     string        `yaml:"failurePolicy"`
	BodyLimit         int           `yaml:"bodyLimit"`
	DefaultLimit      int           `yaml:"defaultLimit"`
	MaxResults        int           `yaml:"maxResults"`
	BodyCandidates    int           `yaml:"bodyCandidates"`
	TitleCandidates   int           `yaml:"titleCandidates"`
	AnchorCandidates  int           `yaml:"anchorCandidates"`
	LengthNormalizeTF bool          `yaml:"lengthNormalizeTF"`
	LogScaleSignals   bool          `yaml:"logScaleSignals"`
	NormalizeSignals  bool          `yaml:"normalizeSignals"`
	BM25              BM25Config    `yaml:"bm25"`
	Weights           FusionWeights `yaml:"weights"`
}

// BuilderConfig controls the offline artifact builder. Artifacts are written
// to the directories named in Indexes and DocMeta.
type BuilderConfig struct {
	Workers        int    `yaml:"workers"`
	MaxShardBytes  int64  `yaml:"maxShardBytes"`
	DocIDBits      int    `yaml:"docIDBits"`
	TFBits         int    `yaml:"tfBits"`
	Compression    string `yaml:"compression"`
	FloatPrecision string `yaml:"floatPrecision"`
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

// KafkaConfig holds Kafka broker settings for query analytics. Analytics
// are disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	QueryEvents   string        `yaml:"queryEvents"`
	BufferSize    int           `yaml:"bufferSize"`
	BatchSize     int           `yaml:"batchSize"`
	FlushInterval time.Duration `yaml:"flushInterval"`
}

// AnalyticsConfig controls the in-process query statistics. Snapshots are
// written to Postgres every SnapshotInterval; zero disables them.
type AnalyticsConfig struct {
	TopN             int           `yaml:"topN"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// RedisConfig holds Redis connection and caching parameters. Caching is
// disabled when Addr is empty.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
	// OpTimeout bounds each cache round trip.
	OpTimeout time.Duration `yaml:"opTimeout"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig toggles span logging for queries.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides on top of the defaults. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults for local development. Scoring
// defaults follow the tuned values of the production search.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
			AllowOrigins:    []string{"*"},
		},
		Indexes: IndexesConfig{
			Body:   IndexConfig{Name: "body", Dir: "data/indexes/body"},
			Title:  IndexConfig{Name: "title", Dir: "data/indexes/title"},
			Anchor: IndexConfig{Name: "anchor", Dir: "data/indexes/anchor"},
		},
		Storage: StorageConfig{
			Backend:            BackendLocal,
			Region:             "us-east-1",
			ReadTimeout:        2 * time.Second,
			MaxConcurrentReads: 64,
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 50 * time.Millisecond,
				MaxDelay:     time.Second,
			},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				TimeoutThreshold: 10,
				ResetTimeout:     30 * time.Second,
			},
		},
		DocMeta: DocMetaConfig{Dir: "data/docmeta"},
		Signals: SignalsConfig{
			PageViews: SignalSource{Source: SourceNone},
			PageRank:  SignalSource{Source: SourceNone},
		},
		Search: SearchConfig{
			MaxWorkers:       16,
			QueryTimeout:     5 * time.Second,
			TimeoutPolicy:    PolicyPartial,
			FailurePolicy:    PolicyDegrade,
			BodyLimit:        100,
			DefaultLimit:     100,
			MaxResults:       1000,
			BodyCandidates:   400,
			TitleCandidates:  400,
			AnchorCandidates: 400,
			LogScaleSignals:  true,
			NormalizeSignals: true,
			BM25: BM25Config{
				K1:    1.8,
				B:     0.1,
				Delta: 1.0,
			},
			Weights: FusionWeights{
				Body:      1.5,
				Title:     0.6,
				Anchor:    0.25,
				PageRank:  0.1,
				PageViews: 0.5,
			},
		},
		Builder: BuilderConfig{
			Workers:        4,
			MaxShardBytes:  1999998,
			DocIDBits:      32,
			TFBits:         16,
			Compression:    "zstd",
			FloatPrecision: "float32",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "retrieval",
			User:            "retrieval",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			QueryEvents:   "query-events",
			BufferSize:    10000,
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
		},
		Analytics: AnalyticsConfig{
			TopN: 10,
		},
		Redis: RedisConfig{
			PoolSize:  10,
			CacheTTL:  60 * time.Second,
			OpTimeout: 250 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendLocal:
	case BackendS3, BackendMinio:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for backend %q", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	for _, idx := range []IndexConfig{c.Indexes.Body, c.Indexes.Title, c.Indexes.Anchor} {
		if idx.Name == "" {
			return fmt.Errorf("index name must not be empty")
		}
	}
	switch c.Search.TimeoutPolicy {
	case PolicyFail, PolicyPartial:
	default:
		return fmt.Errorf("search.timeoutPolicy must be %q or %q, got %q", PolicyFail, PolicyPartial, c.Search.TimeoutPolicy)
	}
	switch c.Search.FailurePolicy {
	case PolicyFail, PolicyDegrade:
	default:
		return fmt.Errorf("search.failurePolicy must be %q or %q, got %q", PolicyFail, PolicyDegrade, c.Search.FailurePolicy)
	}
	if c.Search.MaxWorkers <= 0 {
		return fmt.Errorf("search.maxWorkers must be positive")
	}
	for name, src := range map[string]SignalSource{"pageViews": c.Signals.PageViews, "pageRank": c.Signals.PageRank} {
		switch src.Source {
		case "", SourceNone:
		case SourceCSV:
			if src.Path == "" {
				return fmt.Errorf("signals.%s.path is required for csv source", name)
			}
		case SourcePostgres:
			if src.Query == "" {
				return fmt.Errorf("signals.%s.query is required for postgres source", name)
			}
		default:
			return fmt.Errorf("signals.%s: unknown source %q", name, src.Source)
		}
	}
	return nil
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("SP_STORAGE_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("SP_STORAGE_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("SP_STORAGE_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("SP_STORAGE_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("SP_DOCMETA_DIR"); v != "" {
		cfg.DocMeta.Dir = v
	}
	if v := os.Getenv("SP_SEARCH_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.MaxWorkers = n
		}
	}
	if v := os.Getenv("SP_SEARCH_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Search.QueryTimeout = d
		}
	}
	if v := os.Getenv("SP_SEARCH_TIMEOUT_POLICY"); v != "" {
		cfg.Search.TimeoutPolicy = v
	}
	if v := os.Getenv("SP_SEARCH_FAILURE_POLICY"); v != "" {
		cfg.Search.FailurePolicy = v
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
