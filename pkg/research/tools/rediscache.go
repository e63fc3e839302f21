package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/research"
)

// DefaultCacheTTL is how long raw search responses are kept in Redis.
const DefaultCacheTTL = 24 * time.Hour

// CachedSearcher keeps raw search responses in Redis across runs. Redis
// failures fall through to the wrapped searcher.
type CachedSearcher struct {
	Client   redis.UniversalClient
	Next     research.Searcher
	Provider string
	TTL      time.Duration
	Logger   *slog.Logger
}

// NewCachedSearcher wraps next with a Redis cache keyed by provider and query.
func NewCachedSearcher(client redis.UniversalClient, provider string, next research.Searcher) *CachedSearcher {
	return &CachedSearcher{
		Client:   client,
		Next:     next,
		Provider: provider,
		TTL:      DefaultCacheTTL,
		Logger:   slog.Default(),
	}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (s *CachedSearcher) key(query string) string {
	return "search:" + s.Provider + ":" + query
}

// Search returns the cached response for query, or searches and caches it.
func (s *CachedSearcher) Search(ctx context.Context, query string) (research.SearchOutput, error) {
	key := s.key(query)

	data, err := s.Client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var out research.SearchOutput
		if err := json.Unmarshal(data, &out); err == nil {
			metrics.ProviderCache.WithLabelValues(s.Provider, "hit").Inc()
			s.Logger.Debug("Search cache hit", "provider", s.Provider, "query", query)
			return out, nil
		}
		s.Logger.Warn("Dropping unreadable search cache entry", "key", key)
	case errors.Is(err, redis.Nil):
	default:
		s.Logger.Warn("Search cache read failed", "key", key, "error", err)
	}
	metrics.ProviderCache.WithLabelValues(s.Provider, "miss").Inc()

	out, err := s.Next.Search(ctx, query)
	if err != nil {
		return research.SearchOutput{}, err
	}

	if data, err := json.Marshal(out); err == nil {
		if err := s.Client.Set(ctx, key, data, s.TTL).Err(); err != nil {
			s.Logger.Warn("Search cache write failed", "key", key, "error", err)
		}
	}
	return out, nil
}
