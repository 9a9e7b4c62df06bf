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
	ErrInvalidConfig   = errors.New("invalid configuration")
)

const (
	IndexBackendFlat     = "flat"
	IndexBackendWeaviate = "weaviate"

	QueueBackendPostgres = "postgres"
	QueueBackendBolt     = "bolt"

	ExtractorDescriptor = "descriptor"
	ExtractorCLIP       = "clip"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"coverscan"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"coverscan"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Matching
	IndexBackend     string        `envconfig:"INDEX_BACKEND" default:"flat"`
	Extractor        string        `envconfig:"EXTRACTOR" default:"descriptor"`
	CLIPURL          string        `envconfig:"CLIP_URL" default:"http://clip:8000"`
	CLIPDimension    int           `envconfig:"CLIP_DIMENSION" default:"512"`
	MatchTopK        int           `envconfig:"MATCH_TOP_K" default:"6"`
	MatchMaxDistance float64       `envconfig:"MATCH_MAX_DISTANCE" default:"0"` // 0 disables the gate
	BookCacheTTL     time.Duration `envconfig:"BOOK_CACHE_TTL" default:"5m"`

	// Intake
	QueueBackend      string        `envconfig:"QUEUE_BACKEND" default:"postgres"`
	BoltPath          string        `envconfig:"BOLT_PATH" default:"data/queue.db"`
	JobMaxAttempts    int           `envconfig:"JOB_MAX_ATTEMPTS" default:"3"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"5s"`
	HeartbeatTimeout  time.Duration `envconfig:"HEARTBEAT_TIMEOUT" default:"30s"`
	WorkerPollMin     time.Duration `envconfig:"WORKER_POLL_MIN" default:"500ms"`
	WorkerPollMax     time.Duration `envconfig:"WORKER_POLL_MAX" default:"10s"`
	MergeInterval     time.Duration `envconfig:"MERGE_INTERVAL" default:"1h"`
	WorkersAutostart  bool          `envconfig:"WORKERS_AUTOSTART" default:"true"`

	// Metadata sources
	GoogleBooksURL string        `envconfig:"GOOGLE_BOOKS_URL" default:"https://www.googleapis.com/books/v1/volumes"`
	OpenLibraryURL string        `envconfig:"OPENLIBRARY_URL" default:"https://openlibrary.org/api/books"`
	FetchTimeout   time.Duration `envconfig:"FETCH_TIMEOUT" default:"10s"`

	// Server
	LogLevel           string `envconfig:"LOG_LEVEL" default:"info"`
	ServerPort         int    `envconfig:"SERVER_PORT" default:"8081"`
	ScanLogPath        string `envconfig:"SCAN_LOG_PATH" default:"data/logs/scan.log"`
	MaxUploadSizeMB    int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"10"`
	MaxImageMegapixels int    `envconfig:"MAX_IMAGE_MEGAPIXELS" default:"40"`
	CoversDir          string `envconfig:"COVERS_DIR" default:"data/covers"`
	RateLimitPerMinute int    `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
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
	switch c.IndexBackend {
	case IndexBackendFlat, IndexBackendWeaviate:
	default:
		return fmt.Errorf("%w: INDEX_BACKEND=%q", ErrInvalidConfig, c.IndexBackend)
	}
	switch c.QueueBackend {
	case QueueBackendPostgres, QueueBackendBolt:
	default:
		return fmt.Errorf("%w: QUEUE_BACKEND=%q", ErrInvalidConfig, c.QueueBackend)
	}
	switch c.Extractor {
	case ExtractorDescriptor:
	case ExtractorCLIP:
		if c.CLIPURL == "" {
			return fmt.Errorf("%w: CLIP_URL", ErrMissingRequired)
		}
		if c.CLIPDimension <= 0 {
			return fmt.Errorf("%w: CLIP_DIMENSION must be positive", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: EXTRACTOR=%q", ErrInvalidConfig, c.Extractor)
	}
	if c.MaxImageMegapixels < 0 {
		return fmt.Errorf("%w: MAX_IMAGE_MEGAPIXELS must not be negative", ErrInvalidConfig)
	}
	if c.MatchTopK < 1 {
		return fmt.Errorf("%w: MATCH_TOP_K must be >= 1", ErrInvalidConfig)
	}
	if c.JobMaxAttempts < 1 {
		return fmt.Errorf("%w: JOB_MAX_ATTEMPTS must be >= 1", ErrInvalidConfig)
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("%w: HEARTBEAT_TIMEOUT must exceed HEARTBEAT_INTERVAL", ErrInvalidConfig)
	}
	return nil
}

// DSN builds the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
