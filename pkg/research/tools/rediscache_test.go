package tools

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/research"
)

type countingSearcher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *countingSearcher) Search(_ context.Context, query string) (research.SearchOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return research.SearchOutput{}, s.err
	}
	return research.SearchOutput{Sources: []research.Source{{Title: query, URL: "https://example.com"}}}, nil
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestCachedSearcher_HitAndExpiry(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	next := &countingSearcher{}
	s := NewCachedSearcher(client, "tavily", next)

	first, err := s.Search(ctx, "golang")
	require.NoError(t, err)
	second, err := s.Search(ctx, "golang")
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, first, second)
	assert.True(t, mr.Exists("search:tavily:golang"))
	assert.Equal(t, DefaultCacheTTL, mr.TTL("search:tavily:golang"))

	mr.FastForward(DefaultCacheTTL + time.Second)
	_, err = s.Search(ctx, "golang")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestCachedSearcher_KeysByProvider(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	next := &countingSearcher{}

	_, err := NewCachedSearcher(client, "tavily", next).Search(ctx, "q")
	require.NoError(t, err)
	_, err = NewCachedSearcher(client, "arxiv", next).Search(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestCachedSearcher_FailuresAreNotCached(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	next := &countingSearcher{err: errors.New("quota exceeded")}
	s := NewCachedSearcher(client, "tavily", next)

	_, err := s.Search(ctx, "q")
	assert.Error(t, err)
	assert.False(t, mr.Exists("search:tavily:q"))
}

func TestCachedSearcher_RedisDown(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	next := &countingSearcher{}
	s := NewCachedSearcher(client, "tavily", next)
	mr.Close()

	out, err := s.Search(ctx, "q")
	require.NoError(t, err)
	assert.Len(t, out.Sources, 1)
	assert.Equal(t, 1, next.calls)
}

func TestCachedSearcher_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	require.NoError(t, mr.Set("search:tavily:q", "not json"))
	next := &countingSearcher{}

	_, err := NewCachedSearcher(client, "tavily", next).Search(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)
}
