// Package config loads recast settings from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Provider identifies an LLM or embedding backend.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
)

// Record store backends.
const (
	RecordStoreSurrealDB = "surrealdb"
	RecordStorePgvector  = "pgvector"
)

// Config holds all configuration values.
type Config struct {
	// HTTP API
	ServerPort int
	ServerURL  string

	// Job store (Postgres). Empty keeps jobs in memory.
	DatabaseURL string

	// Record store selection
	RecordStore string

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// pgvector connection
	PgvectorURL string

	// Generative model
	LLMProvider  Provider
	LLMModel     string
	LLMRateLimit float64

	// Embeddings
	EmbedProvider  Provider
	EmbedModel     string
	EmbedDimension int

	// Provider credentials
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AWSRegion       string

	// Engine
	PageSize         int
	Workers          int
	QueueSize        int
	TickDelay        time.Duration
	TickBudget       time.Duration
	RecoveryInterval time.Duration
	Timezone         string
	InstancesFile    string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
// A .env file in the working directory is applied first when present;
// variables already set in the environment win.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "error", err)
	}

	return Config{
		ServerPort: getEnvInt("RECAST_SERVER_PORT", 8585),
		ServerURL:  getEnv("RECAST_SERVER_URL", "http://localhost:8585"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RecordStore: strings.ToLower(getEnv("RECORD_STORE", RecordStoreSurrealDB)),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "recast"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "records"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		PgvectorURL: getEnv("PGVECTOR_URL", ""),

		LLMProvider:  Provider(strings.ToLower(getEnv("LLM_PROVIDER", string(ProviderOllama)))),
		LLMModel:     getEnv("LLM_MODEL", "llama3.2"),
		LLMRateLimit: getEnvFloat("LLM_RATE_LIMIT", 0),

		EmbedProvider:  Provider(strings.ToLower(getEnv("EMBED_PROVIDER", string(ProviderOllama)))),
		EmbedModel:     getEnv("EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getEnvInt("EMBED_DIMENSION", 384),

		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		PageSize:         getEnvInt("RECAST_PAGE_SIZE", 50),
		Workers:          getEnvInt("RECAST_WORKERS", 4),
		QueueSize:        getEnvInt("RECAST_QUEUE_SIZE", 256),
		TickDelay:        getEnvDuration("RECAST_TICK_DELAY", 2*time.Second),
		TickBudget:       getEnvDuration("RECAST_TICK_BUDGET", 4*time.Minute),
		RecoveryInterval: getEnvDuration("RECAST_RECOVERY_INTERVAL", 60*time.Second),
		Timezone:         getEnv("RECAST_TIMEZONE", "UTC"),
		InstancesFile:    getEnv("RECAST_INSTANCES_FILE", ""),

		LogFile:  getEnv("RECAST_LOG_FILE", "/tmp/recast.log"),
		LogLevel: parseLogLevel(getEnv("RECAST_LOG_LEVEL", "INFO")),
	}
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		slog.Warn("unknown timezone, using UTC", "timezone", c.Timezone, "error", err)
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", val)
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		slog.Warn("invalid number in environment, using default", "key", key, "value", val)
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", val)
		return defaultVal
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
