package research

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mikeboe/deep-research/pkg/metrics"
)

// Resolver turns one search task into a result.
type Resolver interface {
	Resolve(ctx context.Context, runID string, task SearchTask) (SearchResult, error)
}

// Scheduler resolves a batch of search tasks concurrently.
type Scheduler struct {
	Resolver Resolver
	// MaxConcurrency caps in-flight resolutions. Zero or less means one per task.
	MaxConcurrency int
	// Limiter, when set, paces the start of each resolution.
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

// RunBatch resolves every task and returns exactly one result per task, in
// completion order. A task whose collaborators fail yields a placeholder
// result carrying the error. Store failures and cancellation abort the batch.
func (s *Scheduler) RunBatch(ctx context.Context, runID string, tasks []SearchTask) ([]SearchResult, error) {
	if len(tasks) == 0 {
		return []SearchResult{}, nil
	}

	limit := s.MaxConcurrency
	if limit <= 0 || limit > len(tasks) {
		limit = len(tasks)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var mu sync.Mutex
	results := make([]SearchResult, 0, len(tasks))

	for _, task := range tasks {
		g.Go(func() error {
			if s.Limiter != nil {
				if err := s.Limiter.Wait(gctx); err != nil {
					return err
				}
			}

			res, err := s.Resolver.Resolve(gctx, runID, task)
			if err != nil {
				if errors.Is(err, ErrStore) || gctx.Err() != nil {
					return err
				}
				metrics.SearchTasks.WithLabelValues("failed").Inc()
				orDefault(s.Logger).Error("Search task failed", "run_id", runID, "query", task.Query, "error", err)
				res = placeholder(task, err)
			} else {
				metrics.SearchTasks.WithLabelValues("ok").Inc()
			}

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func placeholder(task SearchTask, err error) SearchResult {
	return SearchResult{
		Query:     task.Query,
		Goal:      task.Goal,
		Learnings: []string{},
		Sources:   []Source{},
		Images:    []Image{},
		Error:     err.Error(),
	}
}
