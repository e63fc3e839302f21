package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// LLM
	AIProvider    string
	AIApiKey      string
	AIBaseURL     string
	ThinkingModel string
	TaskModel     string

	// Persistence
	DBProvider  string
	DatabaseURL string

	// Search
	SearchProvider    string
	TavilyApiKey      string
	MistralApiKey     string
	MaxSearchResults  int
	SearchConcurrency int
	SearchRPS         float64
	RedisEnabled      bool
	RedisURL          string
	SearchCacheTTL    time.Duration

	// Workflow
	FeedbackMode     string
	MaxFeedbackLoops int
	ReportPages      int
	RetryAttempts    int

	// Source indexing
	GoogleApiKey   string
	EmbeddingModel string
	CollectionName string
	ChunkSize      int
	ChunkOverlap   int

	Port     string
	LogLevel string
}

// Load reads the configuration from the environment, after loading a .env
// file if one is present.
func Load() *Config {
	_ = godotenv.Load()

	provider := strings.ToLower(getEnv("AI_PROVIDER", "google"))
	return &Config{
		AIProvider:    provider,
		AIApiKey:      getEnv("AI_API_KEY", providerKey(provider)),
		AIBaseURL:     getEnv("AI_BASE_URL", ""),
		ThinkingModel: getEnv("THINKING_MODEL", defaultThinkingModel(provider)),
		TaskModel:     getEnv("TASK_MODEL", defaultTaskModel(provider)),

		DBProvider:  strings.ToLower(getEnv("DB_PROVIDER", "sqlite")),
		DatabaseURL: getEnv("DB_URI", getEnv("DATABASE_URL", "checkpoints.db")),

		SearchProvider:    strings.ToLower(getEnv("SEARCH_PROVIDER", "tavily")),
		TavilyApiKey:      getEnv("TAVILY_API_KEY", ""),
		MistralApiKey:     getEnv("MISTRAL_API_KEY", ""),
		MaxSearchResults:  getEnvAsInt("MAX_SEARCH_RESULTS", 5),
		SearchConcurrency: getEnvAsInt("SEARCH_CONCURRENCY", 4),
		SearchRPS:         getEnvAsFloat("SEARCH_RPS", 0),
		RedisEnabled:      getEnvAsBool("REDIS_ENABLED", false),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SearchCacheTTL:    getEnvAsDuration("SEARCH_CACHE_TTL", 24*time.Hour),

		FeedbackMode:     strings.ToLower(getEnv("FEEDBACK_MODE", "human")),
		MaxFeedbackLoops: getEnvAsInt("MAX_FEEDBACK_LOOPS", 3),
		ReportPages:      getEnvAsInt("REPORT_PAGES", 5),
		RetryAttempts:    getEnvAsInt("RETRY_ATTEMPTS", 3),

		GoogleApiKey:   getEnv("GOOGLE_API_KEY", ""),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "gemini-embedding-001"),
		CollectionName: getEnv("COLLECTION_NAME", "research_sources"),
		ChunkSize:      getEnvAsInt("CHUNK_SIZE", 1000),
		ChunkOverlap:   getEnvAsInt("CHUNK_OVERLAP", 200),

		Port:     getEnv("PORT", "3000"),
		LogLevel: getEnv("LOG_LEVEL", "INFO"),
	}
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// IndexingEnabled reports whether resolved sources should be embedded into pgvector.
func (c *Config) IndexingEnabled() bool {
	return c.GoogleApiKey != "" && (c.DBProvider == "postgres" || c.DBProvider == "postgresql" || c.DBProvider == "pg")
}

func providerKey(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return os.Getenv("GOOGLE_API_KEY")
	}
}

func defaultThinkingModel(provider string) string {
	switch provider {
	case "openai":
		return "o4-mini"
	case "anthropic":
		return "claude-sonnet-4-20250514"
	default:
		return "gemini-3-pro-preview"
	}
}

func defaultTaskModel(provider string) string {
	switch provider {
	case "openai":
		return "gpt-4.1-mini"
	case "anthropic":
		return "claude-3-5-haiku-20241022"
	default:
		return "gemini-3-flash-preview"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
