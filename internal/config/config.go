package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Storage backend identifiers accepted in STORAGE_TYPE.
const (
	StorageLocal = "local"
	StorageGCS   = "gcs"
	StorageS3    = "s3"
)

// Config holds application configuration populated from environment variables.
type Config struct {
	// Core
	WorkerEnv         string // "development" or "production"
	WorkerConcurrency int

	// Discord
	DiscordBotToken string

	// Redis
	RedisURL          string
	RedisStreamMaxLen int64

	// Database
	DatabaseURL         string
	DBPoolMin           int
	DBPoolMax           int
	DBMaxQueries        int // accepted for deployment parity; pgx pools recycle by idle time
	DBMaxIdleTime       time.Duration
	DBRetryMaxAttempts  int
	DBRetryBaseDelay    time.Duration
	DBRetryMaxDelay     time.Duration
	DBHealthCheckPeriod time.Duration

	// Storage
	StorageType       string
	StoragePath       string
	GCSBucketName     string
	GCSProjectID      string
	S3BucketName      string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// Worker loops
	JobBatchSize             int
	StaleScanCleanupInterval time.Duration
	StaleScanTimeout         time.Duration
	ClaimMinIdle             time.Duration

	// Thumbnails
	ThumbnailSmallWidth  int
	ThumbnailSmallHeight int
	ThumbnailLargeWidth  int
	ThumbnailLargeHeight int
	ThumbnailTimestamp   float64
	ThumbnailQuality     int
	VideoDownloadTimeout time.Duration
	VideoConnectTimeout  time.Duration

	// Settings resolver
	SettingsCacheTTL    time.Duration
	DefaultSettingsPath string

	// Purge
	PurgeCooldown time.Duration
}

// Load reads configuration from environment variables with defaults. It returns an error if any variable is set but
// cannot be parsed, or if the combination of values is invalid.
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		WorkerEnv:         envStr("WORKER_ENV", "production"),
		WorkerConcurrency: p.int("WORKER_CONCURRENCY", 4),

		DiscordBotToken: envStr("DISCORD_BOT_TOKEN", ""),

		RedisURL:          envStr("REDIS_URL", "redis://localhost:6379/0"),
		RedisStreamMaxLen: p.int64("REDIS_STREAM_MAXLEN", 10000),

		DBPoolMin:           p.int("DB_POOL_MIN", 2),
		DBPoolMax:           p.int("DB_POOL_MAX", 10),
		DBMaxQueries:        p.int("DB_MAX_QUERIES", 50000),
		DBMaxIdleTime:       p.seconds("DB_MAX_IDLE_TIME", 300*time.Second),
		DBRetryMaxAttempts:  p.int("DB_RETRY_MAX_ATTEMPTS", 3),
		DBRetryBaseDelay:    p.seconds("DB_RETRY_BASE_DELAY", 100*time.Millisecond),
		DBRetryMaxDelay:     p.seconds("DB_RETRY_MAX_DELAY", 5*time.Second),
		DBHealthCheckPeriod: p.seconds("DB_HEALTH_CHECK_INTERVAL", 30*time.Second),

		StorageType:       envStr("STORAGE_TYPE", StorageLocal),
		StoragePath:       envStr("STORAGE_PATH", "./storage"),
		GCSBucketName:     envStr("GCS_BUCKET_NAME", ""),
		GCSProjectID:      envStr("GCS_PROJECT_ID", ""),
		S3BucketName:      envStr("S3_BUCKET_NAME", ""),
		S3Region:          envStr("S3_REGION", "us-east-1"),
		S3Endpoint:        envStr("S3_ENDPOINT", ""),
		S3AccessKeyID:     envStr("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: envStr("S3_SECRET_ACCESS_KEY", ""),

		JobBatchSize:             p.int("WORKER_JOB_BATCH_SIZE", 10),
		StaleScanCleanupInterval: p.seconds("STALE_SCAN_CLEANUP_INTERVAL", 300*time.Second),
		StaleScanTimeout:         p.minutes("STALE_SCAN_TIMEOUT_MINUTES", 30*time.Minute),
		ClaimMinIdle:             p.seconds("QUEUE_CLAIM_MIN_IDLE", 60*time.Second),

		ThumbnailSmallWidth:  p.int("THUMBNAIL_SMALL_WIDTH", 320),
		ThumbnailSmallHeight: p.int("THUMBNAIL_SMALL_HEIGHT", 180),
		ThumbnailLargeWidth:  p.int("THUMBNAIL_LARGE_WIDTH", 640),
		ThumbnailLargeHeight: p.int("THUMBNAIL_LARGE_HEIGHT", 360),
		ThumbnailTimestamp:   p.float("THUMBNAIL_TIMESTAMP", 1.0),
		ThumbnailQuality:     p.int("THUMBNAIL_QUALITY", 85),
		VideoDownloadTimeout: p.seconds("VIDEO_DOWNLOAD_TIMEOUT", 300*time.Second),
		VideoConnectTimeout:  p.seconds("VIDEO_DOWNLOAD_CONNECT_TIMEOUT", 10*time.Second),

		SettingsCacheTTL:    p.seconds("SETTINGS_CACHE_TTL_SECONDS", 300*time.Second),
		DefaultSettingsPath: envStr("DEFAULT_SETTINGS_PATH", ""),

		PurgeCooldown: p.minutes("PURGE_COOLDOWN_MINUTES", 60*time.Minute),
	}

	cfg.DatabaseURL = databaseURL()

	if parseErr := errors.Join(p.errs...); parseErr != nil {
		return nil, parseErr
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsDevelopment returns true when running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.WorkerEnv == "development"
}

func (c *Config) validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL or the DB_HOST/DB_USER/DB_NAME variables must be set"))
	}

	switch c.StorageType {
	case StorageLocal:
	case StorageGCS:
		if c.GCSBucketName == "" {
			errs = append(errs, errors.New("GCS_BUCKET_NAME is required when STORAGE_TYPE=gcs"))
		}
	case StorageS3:
		if c.S3BucketName == "" {
			errs = append(errs, errors.New("S3_BUCKET_NAME is required when STORAGE_TYPE=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_TYPE must be one of local, gcs, s3 (got %q)", c.StorageType))
	}

	if c.ThumbnailQuality < 1 || c.ThumbnailQuality > 100 {
		errs = append(errs, fmt.Errorf("THUMBNAIL_QUALITY must be between 1 and 100 (got %d)", c.ThumbnailQuality))
	}
	if c.ThumbnailSmallWidth <= 0 || c.ThumbnailSmallHeight <= 0 ||
		c.ThumbnailLargeWidth <= 0 || c.ThumbnailLargeHeight <= 0 {
		errs = append(errs, errors.New("thumbnail dimensions must be positive"))
	}
	if c.ThumbnailTimestamp < 0 {
		errs = append(errs, errors.New("THUMBNAIL_TIMESTAMP must not be negative"))
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be at least 1"))
	}
	if c.JobBatchSize < 1 {
		errs = append(errs, errors.New("WORKER_JOB_BATCH_SIZE must be at least 1"))
	}
	if c.DBPoolMin > c.DBPoolMax {
		errs = append(errs, fmt.Errorf("DB_POOL_MIN (%d) must not exceed DB_POOL_MAX (%d)", c.DBPoolMin, c.DBPoolMax))
	}

	return errors.Join(errs...)
}

// databaseURL prefers DATABASE_URL; otherwise it assembles a DSN from the individual DB_* variables.
func databaseURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	host := envStr("DB_HOST", "")
	user := envStr("DB_USER", "")
	name := envStr("DB_NAME", "")
	if host == "" || user == "" || name == "" {
		return ""
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   host + ":" + envStr("DB_PORT", "5432"),
		Path:   "/" + name,
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		u.User = url.UserPassword(user, password)
	} else {
		u.User = url.User(user)
	}
	q := u.Query()
	q.Set("sslmode", envStr("DB_SSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

// parser accumulates environment parse errors so Load can report them all at once.
type parser struct {
	errs []error
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) int64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

// seconds parses a float number of seconds into a duration.
func (p *parser) seconds(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return time.Duration(f * float64(time.Second))
}

// minutes parses a float number of minutes into a duration.
func (p *parser) minutes(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return time.Duration(f * float64(time.Minute))
}
