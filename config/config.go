package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/logging"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	AWS       AWSConfig
	Log       LogConfig
	Memory    MemoryConfig
	Analytics AnalyticsConfig
	Worker    WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	StoreBackend       string // "postgres" or "memory"
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds the signing settings for service tokens.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the archive bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ArchiveBucket        string
	PresignExpireMinutes int
}

// LogConfig controls the zap logger. File enables a rotating file sink next to stdout.
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Options converts c for logging.New.
func (c LogConfig) Options() logging.Options {
	return logging.Options{Level: c.Level, File: c.File, MaxSizeMB: c.MaxSizeMB, MaxBackups: c.MaxBackups, MaxAgeDays: c.MaxAgeDays}
}

// MemoryConfig holds the thresholds of the session and event memory.
type MemoryConfig struct {
	NotableThreshold      float64 // impact above which events fold into notable_events
	NotableRetention      int     // notable_events cap per game session
	HighlightThreshold    float64
	BaselineWindow        int // recent magnitudes kept per stream session
	BaselineMinSamples    int
	HighlightKeywords     []string
	DonationTrigger       float64
	RelationshipCap       int
	PointsPerLevel        float64
	RecallLimit           int
	StoreRetryAttempts    int
	StoreRetryInitial     time.Duration
	StoreRetryMaxInterval time.Duration
}

// AnalyticsConfig controls the periodic aggregation.
type AnalyticsConfig struct {
	Schedule    string // cron spec, e.g. "@every 15m"
	Period      time.Duration
	MetricTypes []string
	TopK        int
	Parallelism int
}

// WorkerConfig sizes the background job processor.
type WorkerConfig struct {
	PoolSize    int
	PollTimeout time.Duration
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			StoreBackend:       getEnv("MEMORY_STORE", "postgres"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "ruby_memory"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24*30),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:        getEnv("AWS_S3_ARCHIVE_BUCKET", "ruby-memory-archive"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 14),
		},
		Memory: MemoryConfig{
			NotableThreshold:      getEnvFloat("NOTABLE_THRESHOLD", 0.7),
			NotableRetention:      getEnvInt("NOTABLE_RETENTION", 50),
			HighlightThreshold:    getEnvFloat("HIGHLIGHT_THRESHOLD", 0.7),
			BaselineWindow:        getEnvInt("HIGHLIGHT_BASELINE_WINDOW", 50),
			BaselineMinSamples:    getEnvInt("HIGHLIGHT_BASELINE_MIN_SAMPLES", 5),
			HighlightKeywords:     splitTrim(getEnv("HIGHLIGHT_KEYWORDS", "clutch,insane,no way,first try,world record,gg"), ","),
			DonationTrigger:       getEnvFloat("DONATION_TRIGGER", 10),
			RelationshipCap:       getEnvInt("RELATIONSHIP_CAP", 100),
			PointsPerLevel:        getEnvFloat("RELATIONSHIP_POINTS_PER_LEVEL", 5),
			RecallLimit:           getEnvInt("RECALL_LIMIT", 20),
			StoreRetryAttempts:    getEnvInt("STORE_RETRY_ATTEMPTS", 3),
			StoreRetryInitial:     getEnvDuration("STORE_RETRY_INITIAL", 100*time.Millisecond),
			StoreRetryMaxInterval: getEnvDuration("STORE_RETRY_MAX_INTERVAL", 2*time.Second),
		},
		Analytics: AnalyticsConfig{
			Schedule:    getEnv("ANALYTICS_SCHEDULE", "@every 15m"),
			Period:      getEnvDuration("ANALYTICS_PERIOD", 15*time.Minute),
			MetricTypes: splitTrim(getEnv("ANALYTICS_METRICS", "game_events,viewer_interactions,engagement,retention"), ","),
			TopK:        getEnvInt("ANALYTICS_TOP_K", 5),
			Parallelism: getEnvInt("ANALYTICS_PARALLELISM", 4),
		},
		Worker: WorkerConfig{
			PoolSize:    getEnvInt("WORKER_POOL_SIZE", 4),
			PollTimeout: getEnvDuration("WORKER_POLL_TIMEOUT", 5*time.Second),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the memory engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	m := c.Memory
	if m.NotableThreshold < 0 || m.NotableThreshold > 1 {
		errs = append(errs, fmt.Errorf("NOTABLE_THRESHOLD must be within [0,1], got %v", m.NotableThreshold))
	}
	if m.HighlightThreshold < 0 || m.HighlightThreshold > 1 {
		errs = append(errs, fmt.Errorf("HIGHLIGHT_THRESHOLD must be within [0,1], got %v", m.HighlightThreshold))
	}
	if m.NotableRetention < 1 {
		errs = append(errs, errors.New("NOTABLE_RETENTION must be positive"))
	}
	if m.BaselineWindow < 1 {
		errs = append(errs, errors.New("HIGHLIGHT_BASELINE_WINDOW must be positive"))
	}
	if m.RelationshipCap < 1 || m.PointsPerLevel <= 0 {
		errs = append(errs, errors.New("relationship cap and points per level must be positive"))
	}
	if c.Analytics.Period <= 0 {
		errs = append(errs, errors.New("ANALYTICS_PERIOD must be positive"))
	}
	switch c.Server.StoreBackend {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("MEMORY_STORE must be postgres or memory, got %q", c.Server.StoreBackend))
	}
	return errors.Join(errs...)
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
