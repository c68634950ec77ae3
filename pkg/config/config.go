// Package config loads runtime configuration from the environment, with a
// YAML profile layer for tenant tier tables and escalation rule sets.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable of the decision core. Values are wired once
// at process start and threaded through explicitly.
type Config struct {
	Environment string
	LogLevel    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuditDBPath    string
	SnapshotDBPath string

	OTLPEndpoint string
	OTELEnabled  bool

	// Decision cache.
	CacheEnabled    bool
	CacheTTL        time.Duration
	CacheLocalSize  int
	CacheSweepEvery time.Duration

	// Audit sink.
	AuditFlushInterval time.Duration
	AuditBatchSize     int
	AuditBufferCeiling int
	AuditFlushAttempts int

	// Validation.
	MaxPayloadBytes int64

	// Enforcement.
	DefaultAction     string
	ConstraintTimeout time.Duration

	// Rate limiting.
	RateLimitFailOpen  bool
	RateLimitSweep     time.Duration
	RateLimitIdleEvict time.Duration

	// Audit checkpoint signing.
	CheckpointSecret string
}

// Load reads configuration from environment variables, applying defaults
// for anything unset.
func Load() *Config {
	return &Config{
		Environment: envStr("VORION_ENV", "development"),
		LogLevel:    envStr("LOG_LEVEL", "INFO"),

		RedisAddr:     envStr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		AuditDBPath:    envStr("AUDIT_DB_PATH", "vorion-audit.db"),
		SnapshotDBPath: envStr("SNAPSHOT_DB_PATH", "vorion-snapshots.db"),

		OTLPEndpoint: envStr("OTLP_ENDPOINT", "localhost:4317"),
		OTELEnabled:  envBool("OTEL_ENABLED", true),

		CacheEnabled:    envBool("CACHE_ENABLED", true),
		CacheTTL:        envDuration("CACHE_TTL", 60*time.Second),
		CacheLocalSize:  envInt("CACHE_LOCAL_SIZE", 10_000),
		CacheSweepEvery: envDuration("CACHE_SWEEP_INTERVAL", 30*time.Second),

		AuditFlushInterval: envDuration("AUDIT_FLUSH_INTERVAL", time.Second),
		AuditBatchSize:     envInt("AUDIT_BATCH_SIZE", 100),
		AuditBufferCeiling: envInt("AUDIT_BUFFER_CEILING", 10_000),
		AuditFlushAttempts: envInt("AUDIT_FLUSH_ATTEMPTS", 5),

		MaxPayloadBytes: int64(envInt("MAX_PAYLOAD_BYTES", 1<<20)),

		DefaultAction:     envStr("DEFAULT_ACTION", "deny"),
		ConstraintTimeout: envDuration("CONSTRAINT_TIMEOUT", 100*time.Millisecond),

		RateLimitFailOpen:  envBool("RATE_LIMIT_FAIL_OPEN", true),
		RateLimitSweep:     envDuration("RATE_LIMIT_SWEEP_INTERVAL", 5*time.Minute),
		RateLimitIdleEvict: envDuration("RATE_LIMIT_IDLE_EVICT", time.Hour),

		CheckpointSecret: os.Getenv("AUDIT_CHECKPOINT_SECRET"),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
