package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"AI_PROVIDER", "DB_PROVIDER", "DB_URI", "DATABASE_URL", "FEEDBACK_MODE", "MAX_FEEDBACK_LOOPS", "REDIS_ENABLED", "SEARCH_CACHE_TTL", "GOOGLE_API_KEY"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.AIProvider != "google" {
		t.Errorf("AIProvider = %q, want google", cfg.AIProvider)
	}
	if cfg.DBProvider != "sqlite" || cfg.DatabaseURL != "checkpoints.db" {
		t.Errorf("db = %s %s, want sqlite checkpoints.db", cfg.DBProvider, cfg.DatabaseURL)
	}
	if cfg.FeedbackMode != "human" || cfg.MaxFeedbackLoops != 3 {
		t.Errorf("feedback = %s/%d, want human/3", cfg.FeedbackMode, cfg.MaxFeedbackLoops)
	}
	if cfg.RedisEnabled {
		t.Error("redis should be disabled by default")
	}
	if cfg.SearchCacheTTL != 24*time.Hour {
		t.Errorf("SearchCacheTTL = %v, want 24h", cfg.SearchCacheTTL)
	}
	if cfg.IndexingEnabled() {
		t.Error("indexing needs postgres and a google key")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AI_PROVIDER", "OpenAI")
	t.Setenv("THINKING_MODEL", "")
	t.Setenv("DB_PROVIDER", "postgres")
	t.Setenv("DB_URI", "postgres://localhost/research")
	t.Setenv("GOOGLE_API_KEY", "key")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("SEARCH_RPS", "2.5")
	t.Setenv("SEARCH_CACHE_TTL", "1h")
	t.Setenv("MAX_FEEDBACK_LOOPS", "not a number")

	cfg := Load()
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"provider", cfg.AIProvider, "openai"},
		{"thinking model", cfg.ThinkingModel, "o4-mini"},
		{"database url", cfg.DatabaseURL, "postgres://localhost/research"},
		{"redis", cfg.RedisEnabled, true},
		{"rps", cfg.SearchRPS, 2.5},
		{"ttl", cfg.SearchCacheTTL, time.Hour},
		{"bad int falls back", cfg.MaxFeedbackLoops, 3},
		{"indexing", cfg.IndexingEnabled(), true},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG":  slog.LevelDebug,
		"warn":   slog.LevelWarn,
		"ERROR":  slog.LevelError,
		"chatty": slog.LevelInfo,
		"":       slog.LevelInfo,
	}
	for in, want := range tests {
		if got := (&Config{LogLevel: in}).SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
