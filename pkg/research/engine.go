package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/store"
)

// Config holds the engine's tunables.
type Config struct {
	// MaxConcurrency caps concurrent search tasks within a round.
	MaxConcurrency int
	// SearchRPS paces search task starts. Zero disables pacing.
	SearchRPS float64
	// ReportPages is the default report length for new runs.
	ReportPages int
	Retry       RetryPolicy
}

// DefaultConfig mirrors the values used by the CLI when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 5,
		ReportPages:    5,
		Retry:          DefaultRetryPolicy(),
	}
}

// Engine drives research runs through the workflow one node at a time,
// writing a checkpoint after every node so a run survives process restarts.
type Engine struct {
	Config     Config
	Store      store.Store
	Collab     Collaborators
	Cache      *TaskCache
	Scheduler  *Scheduler
	Controller *FeedbackController
	Logger     *slog.Logger

	locks sync.Map
	now   func() time.Time
}

// NewEngine wires the cache, scheduler and feedback controller around st.
func NewEngine(cfg Config, st store.Store, collab Collaborators) (*Engine, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if err := collab.validate(); err != nil {
		return nil, fmt.Errorf("invalid collaborators: %w", err)
	}
	if cfg.ReportPages <= 0 {
		cfg.ReportPages = DefaultConfig().ReportPages
	}

	cache := NewTaskCache(st, collab.Searcher, collab.Summarizer)
	cache.Retry = cfg.Retry

	sched := &Scheduler{
		Resolver:       cache,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	if cfg.SearchRPS > 0 {
		sched.Limiter = rate.NewLimiter(rate.Limit(cfg.SearchRPS), 1)
	}

	e := &Engine{
		Config:     cfg,
		Store:      st,
		Collab:     collab,
		Cache:      cache,
		Scheduler:  sched,
		Controller: &FeedbackController{Analyst: collab.Analyst, Retry: cfg.Retry},
		now:        func() time.Time { return time.Now().UTC() },
	}
	e.SetLogger(slog.Default())
	return e, nil
}

// SetLogger replaces the logger of the engine and its components.
func (e *Engine) SetLogger(l *slog.Logger) {
	e.Logger = l
	e.Cache.Logger = l
	e.Scheduler.Logger = l
	e.Controller.Logger = l
}

// StartOption customizes a new run.
type StartOption func(*RunState)

// WithReportPages sets the requested report length.
func WithReportPages(pages int) StartOption {
	return func(s *RunState) {
		if pages > 0 {
			s.ReportPages = pages
		}
	}
}

// Start creates a run and writes its initial checkpoint. An empty runID gets
// a generated one. Starting an existing run fails with ErrRunExists.
func (e *Engine) Start(ctx context.Context, runID, query string, mode Mode, maxLoops int, opts ...StartOption) (*RunHandle, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidInput)
	}
	if mode != ModeHuman && mode != ModeAuto {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, mode)
	}
	if maxLoops < 0 {
		return nil, fmt.Errorf("%w: max_loops must not be negative", ErrInvalidInput)
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	unlock := e.lock(runID)
	defer unlock()

	if _, err := e.Store.GetLatestCheckpoint(ctx, runID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunExists, runID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, storeErr("get checkpoint", err)
	}

	now := e.now()
	state := RunState{
		RunID:        runID,
		Query:        query,
		Mode:         mode,
		MaxLoops:     maxLoops,
		ReportPages:  e.Config.ReportPages,
		PendingTasks: []SearchTask{},
		Results:      []SearchResult{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, opt := range opts {
		opt(&state)
	}

	if err := e.save(ctx, 0, NodePlan, state); err != nil {
		return nil, err
	}
	e.Logger.Info("Started research run", "run_id", runID, "mode", mode, "max_loops", maxLoops)
	return &RunHandle{RunID: runID, Seq: 0, Next: NodePlan, State: state}, nil
}

// Resume loads the latest checkpoint of runID.
func (e *Engine) Resume(ctx context.Context, runID string) (*RunHandle, error) {
	cp, err := e.latest(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunHandle{RunID: runID, Seq: cp.Seq, Next: cp.Next, State: cp.State}, nil
}

// GetState returns the state recorded in the latest checkpoint of runID.
func (e *Engine) GetState(ctx context.Context, runID string) (RunState, error) {
	cp, err := e.latest(ctx, runID)
	if err != nil {
		return RunState{}, err
	}
	return cp.State, nil
}

// GetReport returns the final report of runID. The boolean is false while
// the run has not reached SYNTHESIZE.
func (e *Engine) GetReport(ctx context.Context, runID string) (string, bool, error) {
	report, err := e.Store.GetReport(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("get report", err)
	}
	return report, true, nil
}

// Checkpoints returns the checkpoint history of runID, oldest first.
func (e *Engine) Checkpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	rows, err := e.Store.ListCheckpoints(ctx, runID)
	if err != nil {
		return nil, storeErr("list checkpoints", err)
	}
	out := make([]Checkpoint, 0, len(rows))
	for _, row := range rows {
		cp, err := decodeCheckpoint(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, nil
}

// ListRuns returns the latest position of up to limit runs, most recently
// updated first.
func (e *Engine) ListRuns(ctx context.Context, limit int) ([]RunHandle, error) {
	rows, err := e.Store.ListRuns(ctx, limit)
	if err != nil {
		return nil, storeErr("list runs", err)
	}
	out := make([]RunHandle, 0, len(rows))
	for _, row := range rows {
		cp, err := decodeCheckpoint(row)
		if err != nil {
			e.Logger.Warn("Skipping unreadable checkpoint", "run_id", row.RunID, "seq", row.Seq, "error", err)
			continue
		}
		out = append(out, RunHandle{RunID: cp.RunID, Seq: cp.Seq, Next: cp.Next, State: cp.State})
	}
	return out, nil
}

// Advance executes the next node of runID. At REVIEW_HUMAN it returns a
// paused outcome without changing anything.
func (e *Engine) Advance(ctx context.Context, runID string) (*StepOutcome, error) {
	return e.advance(ctx, runID, nil)
}

// AdvanceWithFeedback executes REVIEW_HUMAN with the reviewer's feedback.
// Blank feedback means the reviewer is satisfied.
func (e *Engine) AdvanceWithFeedback(ctx context.Context, runID, feedback string) (*StepOutcome, error) {
	return e.advance(ctx, runID, &feedback)
}

// Run advances runID until it completes or pauses for human review.
func (e *Engine) Run(ctx context.Context, runID string) (*StepOutcome, error) {
	for {
		out, err := e.Advance(ctx, runID)
		if err != nil {
			return nil, err
		}
		if out.Done() || out.Paused() {
			return out, nil
		}
	}
}

func (e *Engine) advance(ctx context.Context, runID string, feedback *string) (*StepOutcome, error) {
	unlock := e.lock(runID)
	defer unlock()

	cp, err := e.latest(ctx, runID)
	if err != nil {
		return nil, err
	}

	node := cp.Next
	switch {
	case node == NodeDone:
		return nil, fmt.Errorf("%w: %s", ErrRunCompleted, runID)
	case feedback != nil && node != NodeReviewHuman:
		return nil, fmt.Errorf("%w: run %s is at %s", ErrUnexpectedFeedback, runID, node)
	case feedback == nil && node == NodeReviewHuman:
		return &StepOutcome{Status: StepPaused, Next: node, Seq: cp.Seq, State: cp.State}, nil
	}

	state := cp.State
	if feedback != nil {
		state.Feedback = *feedback
	}

	e.Logger.Info("Executing node", "run_id", runID, "node", node, "seq", cp.Seq)
	start := time.Now()
	err = e.execute(ctx, node, &state)
	metrics.ObserveNode(string(node), start, err)
	if err != nil {
		e.Logger.Error("Node failed", "run_id", runID, "node", node, "error", err)
		if errors.Is(err, ErrStore) || ctx.Err() != nil {
			return nil, err
		}
		return nil, &NodeError{Node: node, Err: err}
	}

	next := Route(node, state)
	state.UpdatedAt = e.now()
	seq := cp.Seq + 1
	if err := e.save(ctx, seq, next, state); err != nil {
		return nil, err
	}
	if next == NodeDone {
		metrics.RunsFinished.Inc()
		e.Logger.Info("Research run finished", "run_id", runID, "rounds", state.Round, "loop_count", state.LoopCount)
	}
	return &StepOutcome{Status: StepCompleted, Executed: node, Next: next, Seq: seq, State: state}, nil
}

// execute runs node against s. Nodes only touch the fields they own.
func (e *Engine) execute(ctx context.Context, node Node, s *RunState) error {
	retry := e.Config.Retry
	switch node {
	case NodePlan:
		plan, err := withRetry(ctx, retry, e.Logger, "plan", func() (string, error) {
			p, err := e.Collab.Planner.Plan(ctx, s.Query)
			if err == nil && strings.TrimSpace(p) == "" {
				err = errors.New("planner returned an empty plan")
			}
			return p, err
		})
		if err != nil {
			return err
		}
		s.Plan = plan

	case NodeGenerateQueries:
		tasks, err := withRetry(ctx, retry, e.Logger, "generate_queries", func() ([]SearchTask, error) {
			return e.Collab.Queries.GenerateQueries(ctx, s.Plan)
		})
		if err != nil {
			return err
		}
		s.PendingTasks = dedupeTasks(tasks)

	case NodeSearch:
		results, err := e.Scheduler.RunBatch(ctx, s.RunID, s.PendingTasks)
		if err != nil {
			return err
		}
		s.Results = append(s.Results, results...)
		s.PendingTasks = []SearchTask{}
		s.Round++

	case NodeReviewHuman, NodeAnalyzeGaps:
		if _, err := e.Controller.Evaluate(ctx, s); err != nil {
			return err
		}

	case NodeGenerateFeedbackQueries:
		tasks, err := withRetry(ctx, retry, e.Logger, "generate_feedback_queries", func() ([]SearchTask, error) {
			return e.Collab.Queries.GenerateFeedbackQueries(ctx, s.Plan, s.Learnings(), s.Feedback)
		})
		if err != nil {
			return err
		}
		s.PendingTasks = dedupeTasks(tasks)
		s.Feedback = ""

	case NodeSynthesize:
		draft, err := withRetry(ctx, retry, e.Logger, "write_report", func() (string, error) {
			r, err := e.Collab.Writer.WriteReport(ctx, s.Plan, s.Learnings(), s.ReportPages)
			if err == nil && strings.TrimSpace(r) == "" {
				err = errors.New("report writer returned an empty report")
			}
			return r, err
		})
		if err != nil {
			return err
		}
		report, _ := RenumberCitations(draft, s.Sources())
		if err := e.Store.PutReport(ctx, s.RunID, report); err != nil {
			return storeErr("put report", err)
		}
		s.FinalReport = report

	default:
		return fmt.Errorf("%w: unknown node %q", ErrCorruptCheckpoint, node)
	}
	return nil
}

func (e *Engine) latest(ctx context.Context, runID string) (*Checkpoint, error) {
	row, err := e.Store.GetLatestCheckpoint(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, runID)
	}
	if err != nil {
		return nil, storeErr("get checkpoint", err)
	}
	return decodeCheckpoint(*row)
}

func (e *Engine) save(ctx context.Context, seq int64, next Node, s RunState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode run state: %w", err)
	}
	err = e.Store.PutCheckpoint(ctx, store.Checkpoint{
		RunID:     s.RunID,
		Seq:       seq,
		State:     data,
		Next:      string(next),
		CreatedAt: e.now(),
	})
	if err != nil {
		return storeErr("put checkpoint", err)
	}
	return nil
}

func decodeCheckpoint(row store.Checkpoint) (*Checkpoint, error) {
	next := Node(row.Next)
	if !next.Valid() {
		return nil, fmt.Errorf("%w: run %s seq %d has unknown node %q", ErrCorruptCheckpoint, row.RunID, row.Seq, row.Next)
	}
	var state RunState
	if err := json.Unmarshal(row.State, &state); err != nil {
		return nil, fmt.Errorf("%w: run %s seq %d: %v", ErrCorruptCheckpoint, row.RunID, row.Seq, err)
	}
	return &Checkpoint{RunID: row.RunID, Seq: row.Seq, Next: next, State: state, CreatedAt: row.CreatedAt}, nil
}

// lock serializes checkpoint writes per run.
func (e *Engine) lock(runID string) func() {
	v, _ := e.locks.LoadOrStore(runID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// dedupeTasks drops blank and repeated queries, keeping the first goal seen.
func dedupeTasks(tasks []SearchTask) []SearchTask {
	seen := make(map[string]bool, len(tasks))
	out := make([]SearchTask, 0, len(tasks))
	for _, t := range tasks {
		t.Query = strings.TrimSpace(t.Query)
		if t.Query == "" || seen[t.Query] {
			continue
		}
		seen[t.Query] = true
		out = append(out, t)
	}
	return out
}
