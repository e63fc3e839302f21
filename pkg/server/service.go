package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/store"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

// ErrRunBusy is returned when a run already has a worker advancing it.
var ErrRunBusy = errors.New("run is already being advanced")

// ErrIndexingDisabled is returned by source search when no indexer is configured.
var ErrIndexingDisabled = errors.New("source indexing is not enabled")

// SourceSearcher finds indexed source chunks of a run.
type SourceSearcher interface {
	Search(ctx context.Context, runID, query string, topK int, filter map[string]interface{}) ([]vectorstore.SimilaritySearchResult, error)
}

// Defaults apply to start requests that leave a field empty.
type Defaults struct {
	Mode        research.Mode
	MaxLoops    int
	ReportPages int
}

// Service runs research workflows in background workers.
type Service struct {
	Engine   *research.Engine
	Store    store.Store
	Sources  SourceSearcher
	Defaults Defaults
	Logger   *slog.Logger

	ctx     context.Context
	wg      sync.WaitGroup
	mu      sync.Mutex
	running map[string]bool
}

// NewService returns a service whose workers stop when ctx is cancelled.
func NewService(ctx context.Context, engine *research.Engine, st store.Store, defaults Defaults) *Service {
	return &Service{
		Engine:   engine,
		Store:    st,
		Defaults: defaults,
		Logger:   engine.Logger,
		ctx:      ctx,
		running:  make(map[string]bool),
	}
}

type CreateRunRequest struct {
	Query       string `json:"query" binding:"required"`
	RunID       string `json:"run_id"`
	Mode        string `json:"mode"`
	MaxLoops    *int   `json:"max_loops"`
	ReportPages int    `json:"report_pages"`
}

// RunView is a run's latest checkpoint plus whether a worker is active.
type RunView struct {
	research.RunHandle
	Running bool `json:"running"`
}

// CreateRun starts a run and advances it in the background.
func (s *Service) CreateRun(ctx context.Context, req CreateRunRequest) (*RunView, error) {
	mode := s.Defaults.Mode
	if req.Mode != "" {
		m, err := research.ParseMode(req.Mode)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", research.ErrInvalidInput, err)
		}
		mode = m
	}
	maxLoops := s.Defaults.MaxLoops
	if req.MaxLoops != nil {
		maxLoops = *req.MaxLoops
	}
	pages := s.Defaults.ReportPages
	if req.ReportPages > 0 {
		pages = req.ReportPages
	}

	h, err := s.Engine.Start(ctx, req.RunID, req.Query, mode, maxLoops, research.WithReportPages(pages))
	if err != nil {
		return nil, err
	}
	s.launch(h.RunID)
	return &RunView{RunHandle: *h, Running: true}, nil
}

// GetRun returns the latest state of runID.
func (s *Service) GetRun(ctx context.Context, runID string) (*RunView, error) {
	h, err := s.Engine.Resume(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunView{RunHandle: *h, Running: s.isRunning(runID)}, nil
}

// ListRuns returns the most recently updated runs.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]RunView, error) {
	handles, err := s.Engine.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	views := make([]RunView, len(handles))
	for i, h := range handles {
		views[i] = RunView{RunHandle: h, Running: s.isRunning(h.RunID)}
	}
	return views, nil
}

// ResumeRun restarts the worker of an interrupted run. Completed runs and
// runs paused for review are returned unchanged.
func (s *Service) ResumeRun(ctx context.Context, runID string) (*RunView, error) {
	h, err := s.Engine.Resume(ctx, runID)
	if err != nil {
		return nil, err
	}
	if h.Done() || h.AwaitingFeedback() {
		return &RunView{RunHandle: *h, Running: s.isRunning(runID)}, nil
	}
	if !s.launch(runID) {
		return nil, ErrRunBusy
	}
	return &RunView{RunHandle: *h, Running: true}, nil
}

// SubmitFeedback completes human review of runID and continues the run.
func (s *Service) SubmitFeedback(ctx context.Context, runID, feedback string) (*research.StepOutcome, error) {
	if s.isRunning(runID) {
		return nil, ErrRunBusy
	}
	out, err := s.Engine.AdvanceWithFeedback(ctx, runID, feedback)
	if err != nil {
		return nil, err
	}
	if !out.Done() {
		s.launch(runID)
	}
	return out, nil
}

// Checkpoints returns the checkpoint history of runID.
func (s *Service) Checkpoints(ctx context.Context, runID string) ([]research.Checkpoint, error) {
	cps, err := s.Engine.Checkpoints(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, fmt.Errorf("%w: %s", research.ErrNoCheckpoint, runID)
	}
	return cps, nil
}

// GetReport returns the final report of runID, if written.
func (s *Service) GetReport(ctx context.Context, runID string) (string, bool, error) {
	return s.Engine.GetReport(ctx, runID)
}

// GetLogs returns the persisted log records of runID.
func (s *Service) GetLogs(ctx context.Context, runID string) ([]store.LogEntry, error) {
	return s.Store.ListLogs(ctx, runID)
}

// SearchSources runs a semantic search over the indexed sources of runID.
func (s *Service) SearchSources(ctx context.Context, runID, query string, topK int, filter map[string]interface{}) ([]vectorstore.SimilaritySearchResult, error) {
	if s.Sources == nil {
		return nil, ErrIndexingDisabled
	}
	return s.Sources.Search(ctx, runID, query, topK, filter)
}

// Wait blocks until every background worker has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) isRunning(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[runID]
}

// launch starts a worker for runID unless one is active.
func (s *Service) launch(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[runID] {
		return false
	}
	s.running[runID] = true
	s.wg.Add(1)
	go s.runWorker(runID)
	return true
}

func (s *Service) runWorker(runID string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.running, runID)
		s.mu.Unlock()
	}()

	out, err := s.Engine.Run(s.ctx, runID)
	switch {
	case err != nil:
		s.Logger.Error("Research failed", "run_id", runID, "error", err)
	case out.Paused():
		s.Logger.Info("Awaiting human feedback", "run_id", runID, "round", out.State.Round)
	case out.Done():
		s.Logger.Info("Research complete", "run_id", runID)
	}
}
