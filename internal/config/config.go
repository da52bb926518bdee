// Package config centralizes how MindFlow reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service. Struct fields in Go
// begin with capital letters when they must be exported (visible to other
// packages), while lower-case fields remain private.
type Config struct {
	Address      string
	MaxFileSize  int64
	AllowedTypes []string

	SigningSecret []byte
	SignedURLTTL  time.Duration

	ProcessingURL     string
	ProcessingTimeout time.Duration
	ProcessingPool    int
	DefinitionTTL     time.Duration
	JobTTL            time.Duration

	// DuplicatePolicy is "skip" (keep the existing document) or "replace".
	DuplicatePolicy string
	SeedSamples     bool

	BlobBackend     string // memory or s3
	BlobMemoryLimit int64
	BlobTimeout     time.Duration

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3Region    string
	S3Bucket    string

	// RedisAddr switches uploads from the in-process pool to asynq.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// DatabaseURL enables the Postgres catalog mirror.
	DatabaseURL string

	LogLevel   string
	LogFile    string
	Production bool
}

const (
	// const declares compile-time constants; shifts work on integers so
	// 25 << 20 equals 25 * 2^20 bytes.
	defaultAddress         = ":8080"
	defaultMaxFileSize     = 25 << 20 // 25 MiB
	defaultAllowedTypes    = "application/pdf"
	defaultSignedTTL       = 5 * time.Minute
	defaultWorkerCount     = 2
	defaultProcessingURL   = "http://localhost:8000"
	defaultProcessingTTL   = 2 * time.Minute
	defaultDefinitionTTL   = 30 * time.Minute
	defaultJobTTL          = time.Hour
	defaultBlobMemoryLimit = 512 << 20
	defaultBlobTimeout     = 10 * time.Second
	defaultBucket          = "mindflow-originals"
)

// Load reads configuration from the environment, after merging a .env file
// when one is present, falling back to defaults.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Address:           readEnv("MINDFLOW_ADDRESS", defaultAddress),
		MaxFileSize:       parseInt64("MINDFLOW_MAX_FILE_BYTES", defaultMaxFileSize),
		AllowedTypes:      parseList("MINDFLOW_ALLOWED_TYPES", defaultAllowedTypes),
		SigningSecret:     parseSecret("MINDFLOW_SIGNING_SECRET"),
		SignedURLTTL:      parseDuration("MINDFLOW_SIGNED_TTL", defaultSignedTTL),
		ProcessingURL:     strings.TrimRight(readEnv("MINDFLOW_PROCESSING_URL", defaultProcessingURL), "/"),
		ProcessingTimeout: parseDuration("MINDFLOW_PROCESSING_TIMEOUT", defaultProcessingTTL),
		ProcessingPool:    parseInt("MINDFLOW_WORKERS", defaultWorkerCount),
		DefinitionTTL:     parseDuration("MINDFLOW_DEFINITION_TTL", defaultDefinitionTTL),
		JobTTL:            parseDuration("MINDFLOW_JOB_TTL", defaultJobTTL),
		DuplicatePolicy:   strings.ToLower(readEnv("MINDFLOW_DUPLICATE_POLICY", "skip")),
		SeedSamples:       parseBool("MINDFLOW_SEED_SAMPLES", false),
		BlobBackend:       strings.ToLower(readEnv("MINDFLOW_BLOB_BACKEND", "memory")),
		BlobMemoryLimit:   parseInt64("MINDFLOW_BLOB_MEMORY_LIMIT", defaultBlobMemoryLimit),
		BlobTimeout:       parseDuration("MINDFLOW_BLOB_TIMEOUT", defaultBlobTimeout),
		S3Endpoint:        readEnv("MINDFLOW_S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:       readEnv("MINDFLOW_S3_ACCESS_KEY", ""),
		S3SecretKey:       readEnv("MINDFLOW_S3_SECRET_KEY", ""),
		S3UseSSL:          parseBool("MINDFLOW_S3_USE_SSL", false),
		S3Region:          readEnv("MINDFLOW_S3_REGION", "us-east-1"),
		S3Bucket:          readEnv("MINDFLOW_S3_BUCKET", defaultBucket),
		RedisAddr:         readEnv("MINDFLOW_REDIS_ADDR", ""),
		RedisPassword:     readEnv("MINDFLOW_REDIS_PASSWORD", ""),
		RedisDB:           parseInt("MINDFLOW_REDIS_DB", 0),
		DatabaseURL:       readEnv("MINDFLOW_DATABASE_URL", ""),
		LogLevel:          readEnv("MINDFLOW_LOG_LEVEL", "info"),
		LogFile:           readEnv("MINDFLOW_LOG_FILE", ""),
		Production:        readEnv("MINDFLOW_ENV", "development") == "production",
	}
	if cfg.SigningSecret == nil {
		// If no secret was supplied we generate one using crypto/rand.
		cfg.SigningSecret = randomSecret()
	}
	if cfg.ProcessingPool <= 0 {
		cfg.ProcessingPool = defaultWorkerCount
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = defaultSignedTTL
	}
	if cfg.BlobTimeout <= 0 {
		cfg.BlobTimeout = defaultBlobTimeout
	}
	if cfg.DuplicatePolicy != "replace" {
		cfg.DuplicatePolicy = "skip"
	}
	if cfg.BlobBackend != "s3" {
		cfg.BlobBackend = "memory"
	}
	return cfg, nil
}

func readEnv(key, def string) string {
	// LookupEnv returns (value, true) when the variable is present, mirroring
	// Go's pattern of providing extra information via multiple return values.
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseList(key, def string) []string {
	val := readEnv(key, def)
	out := strings.Split(val, ",")
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	return out
}

func parseInt64(key string, def int64) int64 {
	// Invalid input is ignored and the default returned.
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "5m" or "30s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte(hex.EncodeToString([]byte("fallbacksecret")))
	}
	return buf
}
