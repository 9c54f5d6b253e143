package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"

	BackendMemory   = "memory"
	BackendWeaviate = "weaviate"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"yanck"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"yanck"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI     bool   `envconfig:"ENABLE_API" default:"true"`
	EnableWorker  bool   `envconfig:"ENABLE_WORKER" default:"true"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	UploadDir     string `envconfig:"UPLOAD_DIR" default:"./uploads"`

	// Embedding
	EmbeddingProvider       string  `envconfig:"EMBEDDING_PROVIDER" default:"gemini"`
	EmbeddingModel          string  `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`
	EmbeddingDimensions     int     `envconfig:"EMBEDDING_DIMENSIONS" default:"768"`
	EmbeddingBatchSize      int     `envconfig:"EMBEDDING_BATCH_SIZE" default:"32"`
	EmbeddingMaxAttempts    int     `envconfig:"EMBEDDING_MAX_ATTEMPTS" default:"3"`
	EmbeddingBackoffMS      int     `envconfig:"EMBEDDING_BACKOFF_MS" default:"500"`
	EmbeddingRateLimit      float64 `envconfig:"EMBEDDING_RATE_LIMIT" default:"10"`
	EmbeddingConcurrency    int     `envconfig:"EMBEDDING_CONCURRENCY" default:"8"`
	EmbeddingRequestTimeout int     `envconfig:"EMBEDDING_REQUEST_TIMEOUT_SECONDS" default:"60"`
	GeminiAPIKey            string  `envconfig:"GEMINI_API_KEY"`
	EmbeddingBaseURL        string  `envconfig:"EMBEDDING_BASE_URL"`
	EmbeddingAPIKey         string  `envconfig:"EMBEDDING_API_KEY"`

	// Chunking
	ChunkMaxChars      int `envconfig:"CHUNK_MAX_CHARS" default:"1000"`
	ChunkOverlapChars  int `envconfig:"CHUNK_OVERLAP_CHARS" default:"150"`
	ChunkLookbackChars int `envconfig:"CHUNK_LOOKBACK_CHARS" default:"200"`

	// Ingestion
	IngestionConcurrency        int `envconfig:"INGESTION_CONCURRENCY" default:"8"`
	IngestionMaxAttempts        int `envconfig:"INGESTION_MAX_ATTEMPTS" default:"3"`
	JobTimeoutSeconds           int `envconfig:"JOB_TIMEOUT_SECONDS" default:"300"`
	LeaseSeconds                int `envconfig:"LEASE_SECONDS" default:"600"`
	SweepIntervalSeconds        int `envconfig:"SWEEP_INTERVAL_SECONDS" default:"60"`
	PendingRepublishAfterSecond int `envconfig:"PENDING_REPUBLISH_AFTER_SECONDS" default:"300"`

	// Vector index
	VectorBackend           string `envconfig:"VECTOR_BACKEND" default:"memory"`
	WeaviateHost            string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme          string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	IndexSnapshotDir        string `envconfig:"INDEX_SNAPSHOT_DIR" default:"data/index"`
	IndexMaxResidentTenants int    `envconfig:"INDEX_MAX_RESIDENT_TENANTS" default:"256"`

	// Retrieval
	RetrievalDefaultK int `envconfig:"RETRIEVAL_DEFAULT_K" default:"4"`
	RetrievalMaxK     int `envconfig:"RETRIEVAL_MAX_K" default:"20"`

	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath    string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell win over .env files.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	switch c.EmbeddingProvider {
	case ProviderGemini, ProviderHash:
	case ProviderOpenAI:
		if c.EmbeddingBaseURL == "" {
			return fmt.Errorf("%w: EMBEDDING_BASE_URL", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: EMBEDDING_PROVIDER %q", ErrInvalid, c.EmbeddingProvider)
	}

	switch c.VectorBackend {
	case BackendMemory, BackendWeaviate:
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND %q", ErrInvalid, c.VectorBackend)
	}

	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("%w: EMBEDDING_DIMENSIONS must be positive", ErrInvalid)
	}
	if c.EmbeddingBatchSize <= 0 {
		return fmt.Errorf("%w: EMBEDDING_BATCH_SIZE must be positive", ErrInvalid)
	}
	if c.EmbeddingMaxAttempts <= 0 {
		return fmt.Errorf("%w: EMBEDDING_MAX_ATTEMPTS must be positive", ErrInvalid)
	}
	if c.IngestionMaxAttempts <= 0 {
		return fmt.Errorf("%w: INGESTION_MAX_ATTEMPTS must be positive", ErrInvalid)
	}
	if c.ChunkMaxChars <= 0 {
		return fmt.Errorf("%w: CHUNK_MAX_CHARS must be positive", ErrInvalid)
	}
	if c.ChunkOverlapChars < 0 || c.ChunkOverlapChars >= c.ChunkMaxChars {
		return fmt.Errorf("%w: CHUNK_OVERLAP_CHARS must be in [0, CHUNK_MAX_CHARS)", ErrInvalid)
	}
	if c.RetrievalMaxK <= 0 || c.RetrievalDefaultK <= 0 {
		return fmt.Errorf("%w: RETRIEVAL_DEFAULT_K and RETRIEVAL_MAX_K must be positive", ErrInvalid)
	}
	if c.LeaseSeconds < c.JobTimeoutSeconds {
		return fmt.Errorf("%w: LEASE_SECONDS must not be shorter than JOB_TIMEOUT_SECONDS", ErrInvalid)
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}

func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

func (c *Config) Lease() time.Duration {
	return time.Duration(c.LeaseSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *Config) PendingRepublishAfter() time.Duration {
	return time.Duration(c.PendingRepublishAfterSecond) * time.Second
}

func (c *Config) EmbeddingBackoff() time.Duration {
	return time.Duration(c.EmbeddingBackoffMS) * time.Millisecond
}

func (c *Config) EmbeddingTimeout() time.Duration {
	return time.Duration(c.EmbeddingRequestTimeout) * time.Second
}
