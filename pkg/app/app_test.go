package app

import (
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/research/tools"
)

func TestEngineConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		conc int
		page int
		try  uint
	}{
		{"defaults", config.Config{}, 5, 5, 3},
		{"overrides", config.Config{SearchConcurrency: 2, ReportPages: 8, RetryAttempts: 1, SearchRPS: 4}, 2, 8, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := EngineConfig(&tt.cfg)
			assert.Equal(t, tt.conc, ec.MaxConcurrency)
			assert.Equal(t, tt.page, ec.ReportPages)
			assert.Equal(t, tt.try, ec.Retry.MaxAttempts)
			assert.Equal(t, tt.cfg.SearchRPS, ec.SearchRPS)
		})
	}
}

func TestNewSearcher(t *testing.T) {
	logger := slog.Default()

	t.Run("tavily requires a key", func(t *testing.T) {
		_, err := NewSearcher(&config.Config{SearchProvider: "tavily"}, nil, logger)
		assert.Error(t, err)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewSearcher(&config.Config{SearchProvider: "bing"}, nil, logger)
		assert.Error(t, err)
	})

	t.Run("arxiv without ocr", func(t *testing.T) {
		s, err := NewSearcher(&config.Config{SearchProvider: "arxiv", MaxSearchResults: 3}, nil, logger)
		require.NoError(t, err)
		arxiv, ok := s.(*tools.ArxivSearcher)
		require.True(t, ok)
		assert.Nil(t, arxiv.OCR)
		assert.Equal(t, 3, arxiv.MaxResults)
	})

	t.Run("redis wraps provider", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer rdb.Close()

		cfg := &config.Config{SearchProvider: "tavily", TavilyApiKey: "tvly-test", SearchCacheTTL: time.Hour}
		s, err := NewSearcher(cfg, rdb, logger)
		require.NoError(t, err)
		cached, ok := s.(*tools.CachedSearcher)
		require.True(t, ok)
		assert.Equal(t, time.Hour, cached.TTL)
		assert.Equal(t, "tavily", cached.Provider)
		assert.IsType(t, &tools.TavilySearcher{}, cached.Next)
	})
}
