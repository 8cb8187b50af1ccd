package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process configuration read from the environment.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	// LedgerBackend is one of memory, file, sqlite, postgres.
	LedgerBackend string
	LedgerPath    string
	DatabaseURL   string

	PolicyFile string
	TokenTTL   time.Duration

	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int
	RedisURL       string

	OTLPEndpoint string
	OTLPInsecure bool

	// ArchiveSink is one of fs, s3, gcs.
	ArchiveSink   string
	ArchiveTarget string
	SigningSecret string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:           getenv("PORT", "8080"),
		LogLevel:       getenv("LOG_LEVEL", "INFO"),
		LogFormat:      getenv("LOG_FORMAT", "json"),
		LedgerBackend:  getenv("LEDGER_BACKEND", "file"),
		LedgerPath:     getenv("LEDGER_PATH", "data/ledger.jsonl"),
		DatabaseURL:    getenv("DATABASE_URL", "postgres://credledger@localhost:5432/credledger?sslmode=disable"),
		PolicyFile:     os.Getenv("FRAUD_POLICY_FILE"),
		TokenTTL:       getDuration("TOKEN_TTL", 0),
		JWTSecret:      os.Getenv("AUTH_JWT_SECRET"),
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 40),
		RedisURL:       os.Getenv("REDIS_URL"),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:   os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		ArchiveSink:    getenv("ARCHIVE_SINK", "fs"),
		ArchiveTarget:  getenv("ARCHIVE_TARGET", "data/archive"),
		SigningSecret:  os.Getenv("LEDGER_SIGNING_SECRET"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
