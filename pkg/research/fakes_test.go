package research

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/store"
)

var fastRetry = RetryPolicy{
	MaxAttempts:     2,
	InitialInterval: time.Millisecond,
	MaxInterval:     time.Millisecond,
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	return openTestStore(t, filepath.Join(t.TempDir(), "research.db"))
}

func openTestStore(t *testing.T, path string) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type fakePlanner struct {
	calls atomic.Int32
}

func (p *fakePlanner) Plan(_ context.Context, query string) (string, error) {
	p.calls.Add(1)
	return "Plan for " + query, nil
}

type fakeQueries struct {
	tasks    []SearchTask
	feedback []string
	mu       sync.Mutex
}

func (q *fakeQueries) GenerateQueries(_ context.Context, _ string) ([]SearchTask, error) {
	return q.tasks, nil
}

func (q *fakeQueries) GenerateFeedbackQueries(_ context.Context, _ string, _ []string, feedback string) ([]SearchTask, error) {
	q.mu.Lock()
	q.feedback = append(q.feedback, feedback)
	q.mu.Unlock()
	return []SearchTask{{Query: "follow up: " + feedback, Goal: "close the gap"}}, nil
}

// fakeSearcher returns one source per query and counts calls per query.
type fakeSearcher struct {
	mu       sync.Mutex
	calls    map[string]int
	fail     map[string]bool
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func newFakeSearcher() *fakeSearcher {
	return &fakeSearcher{calls: map[string]int{}, fail: map[string]bool{}}
}

func (s *fakeSearcher) Search(ctx context.Context, query string) (SearchOutput, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	s.mu.Lock()
	s.calls[query]++
	fail := s.fail[query]
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return SearchOutput{}, ctx.Err()
		}
	}
	if fail {
		return SearchOutput{}, errors.New("search provider unavailable")
	}
	slug := strings.ReplaceAll(query, " ", "-")
	return SearchOutput{
		Sources: []Source{{Title: "About " + query, URL: "https://example.com/" + slug, Content: "content for " + query}},
		Images:  []Image{{URL: "https://example.com/" + slug + ".png"}},
	}, nil
}

func (s *fakeSearcher) count(query string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[query]
}

func (s *fakeSearcher) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// fakeSummarizer cites every source it was given.
type fakeSummarizer struct {
	calls atomic.Int32
}

func (s *fakeSummarizer) Summarize(_ context.Context, query, _ string, sources []Source) (string, error) {
	s.calls.Add(1)
	var b strings.Builder
	fmt.Fprintf(&b, "Learned about %s", query)
	for _, src := range sources {
		fmt.Fprintf(&b, " [%s]", src.ID)
	}
	return b.String(), nil
}

// fakeAnalyst replays verdicts in order and is satisfied once they run out.
type fakeAnalyst struct {
	mu       sync.Mutex
	verdicts []Verdict
	calls    int
}

func (a *fakeAnalyst) Analyze(_ context.Context, _ string, _ []string) (Verdict, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if len(a.verdicts) == 0 {
		return Verdict{Satisfied: true}, nil
	}
	v := a.verdicts[0]
	a.verdicts = a.verdicts[1:]
	return v, nil
}

func (a *fakeAnalyst) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fakeWriter struct{}

func (fakeWriter) WriteReport(_ context.Context, plan string, learnings []string, _ int) (string, error) {
	return "# " + plan + "\n\n" + strings.Join(learnings, "\n") + "\n", nil
}

type fixture struct {
	store    *store.SQLiteStore
	planner  *fakePlanner
	queries  *fakeQueries
	searcher *fakeSearcher
	summary  *fakeSummarizer
	analyst  *fakeAnalyst
	ids      atomic.Int64
}

func newFixture(t *testing.T, verdicts ...Verdict) *fixture {
	t.Helper()
	return &fixture{
		store:   newTestStore(t),
		planner: &fakePlanner{},
		queries: &fakeQueries{tasks: []SearchTask{
			{Query: "alpha", Goal: "understand alpha"},
			{Query: "beta", Goal: "understand beta"},
			{Query: "gamma", Goal: "understand gamma"},
		}},
		searcher: newFakeSearcher(),
		summary:  &fakeSummarizer{},
		analyst:  &fakeAnalyst{verdicts: verdicts},
	}
}

func (f *fixture) collaborators() Collaborators {
	return Collaborators{
		Planner:    f.planner,
		Queries:    f.queries,
		Searcher:   f.searcher,
		Summarizer: f.summary,
		Analyst:    f.analyst,
		Writer:     fakeWriter{},
	}
}

// engine builds an engine over st with sequential search and deterministic ids.
func (f *fixture) engine(t *testing.T, st store.Store) *Engine {
	t.Helper()
	e, err := NewEngine(Config{MaxConcurrency: 1, ReportPages: 3, Retry: fastRetry}, st, f.collaborators())
	require.NoError(t, err)
	e.Cache.newID = func() string { return fmt.Sprintf("src-%d", f.ids.Add(1)) }
	return e
}
