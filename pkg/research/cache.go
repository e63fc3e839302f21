package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/store"
)

// cachedSearch is the raw_result payload stored for every resolved query.
type cachedSearch struct {
	Sources []Source `json:"sources"`
	Images  []Image  `json:"images"`
}

// TaskCache resolves search tasks, memoizing each (run, query) pair in the
// store so that a query is searched and summarized at most once per run.
type TaskCache struct {
	Store      store.Store
	Searcher   Searcher
	Summarizer Summarizer
	// Indexer is optional. Indexing failures are logged and otherwise ignored.
	Indexer SourceIndexer
	Retry   RetryPolicy
	Logger  *slog.Logger

	group singleflight.Group
	newID func() string
}

// NewTaskCache returns a cache backed by st.
func NewTaskCache(st store.Store, searcher Searcher, summarizer Summarizer) *TaskCache {
	return &TaskCache{
		Store:      st,
		Searcher:   searcher,
		Summarizer: summarizer,
		Retry:      DefaultRetryPolicy(),
		Logger:     slog.Default(),
		newID:      uuid.NewString,
	}
}

// Resolve returns the result for task, calling the searcher and summarizer
// only when no entry exists for (runID, task.Query). Concurrent callers for
// the same key share a single resolution. Errors wrapping ErrStore are fatal;
// any other error means the collaborators failed and nothing was cached.
func (c *TaskCache) Resolve(ctx context.Context, runID string, task SearchTask) (SearchResult, error) {
	hit, ok, err := c.lookup(ctx, runID, task.Query)
	if err != nil {
		return SearchResult{}, err
	}
	if ok {
		return hit.result(task), nil
	}

	key := runID + "\x00" + task.Query
	v, err, shared := c.group.Do(key, func() (any, error) {
		// A concurrent resolution may have finished between lookup and Do.
		if hit, ok, err := c.lookup(ctx, runID, task.Query); err != nil || ok {
			return hit, err
		}
		return c.resolve(ctx, runID, task)
	})
	if err != nil {
		return SearchResult{}, err
	}
	if shared {
		orDefault(c.Logger).Debug("Joined in-flight search", "run_id", runID, "query", task.Query)
	}
	return v.(resolved).result(task), nil
}

type resolved struct {
	search    cachedSearch
	learnings string
}

func (r resolved) result(task SearchTask) SearchResult {
	learnings := []string{}
	if r.learnings != "" {
		learnings = []string{r.learnings}
	}
	return SearchResult{
		Query:     task.Query,
		Goal:      task.Goal,
		Learnings: learnings,
		Sources:   r.search.Sources,
		Images:    r.search.Images,
	}
}

func (c *TaskCache) lookup(ctx context.Context, runID, query string) (resolved, bool, error) {
	entry, err := c.Store.GetCache(ctx, runID, query)
	if errors.Is(err, store.ErrNotFound) {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return resolved{}, false, nil
	}
	if err != nil {
		return resolved{}, false, storeErr("get cache", err)
	}

	var search cachedSearch
	if err := json.Unmarshal(entry.RawResult, &search); err != nil {
		metrics.CacheLookups.WithLabelValues("corrupt").Inc()
		orDefault(c.Logger).Warn("Discarding unreadable cache entry", "run_id", runID, "query", query, "error", err)
		return resolved{}, false, nil
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return resolved{search: search, learnings: entry.Learnings}, true, nil
}

func (c *TaskCache) resolve(ctx context.Context, runID string, task SearchTask) (resolved, error) {
	out, err := withRetry(ctx, c.Retry, c.Logger, "search", func() (SearchOutput, error) {
		return c.Searcher.Search(ctx, task.Query)
	})
	if err != nil {
		return resolved{}, fmt.Errorf("search %q: %w", task.Query, err)
	}

	sources := make([]Source, len(out.Sources))
	for i, src := range out.Sources {
		src.ID = c.id()
		sources[i] = src
	}

	learnings, err := withRetry(ctx, c.Retry, c.Logger, "summarize", func() (string, error) {
		return c.Summarizer.Summarize(ctx, task.Query, task.Goal, sources)
	})
	if err != nil {
		return resolved{}, fmt.Errorf("summarize %q: %w", task.Query, err)
	}

	search := cachedSearch{Sources: sources, Images: out.Images}
	raw, err := json.Marshal(search)
	if err != nil {
		return resolved{}, fmt.Errorf("encode search result: %w", err)
	}
	if err := c.Store.PutCache(ctx, store.CacheEntry{
		RunID:     runID,
		Query:     task.Query,
		RawResult: raw,
		Learnings: learnings,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return resolved{}, storeErr("put cache", err)
	}

	if c.Indexer != nil && len(sources) > 0 {
		if err := c.Indexer.IndexSources(ctx, runID, sources); err != nil {
			orDefault(c.Logger).Warn("Failed to index sources", "run_id", runID, "query", task.Query, "error", err)
		}
	}

	orDefault(c.Logger).Info("Resolved search task", "run_id", runID, "query", task.Query, "sources", len(sources))
	return resolved{search: search, learnings: learnings}, nil
}

func (c *TaskCache) id() string {
	if c.newID == nil {
		return uuid.NewString()
	}
	return c.newID()
}
