package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/store"
)

func TestAutoRunProducesReport(t *testing.T) {
	s := newTestServer(t)
	run := s.create(t, map[string]interface{}{"query": "solid state batteries"})
	require.NotEmpty(t, run.RunID)

	w := s.do(t, http.MethodGet, "/api/research/"+run.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[RunView](t, w)
	assert.Equal(t, research.NodeDone, view.Next)
	assert.False(t, view.Running)
	assert.Equal(t, 1, view.State.Round)

	w = s.do(t, http.MethodGet, "/api/research/"+run.RunID+"/report", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]string](t, w)
	assert.Contains(t, body["report"], "## Sources")
	assert.Contains(t, body["report"], "[1]")

	w = s.do(t, http.MethodGet, "/api/research/"+run.RunID+"/report?format=markdown", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "# Plan for solid state batteries"))

	w = s.do(t, http.MethodGet, "/api/research/"+run.RunID+"/checkpoints", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cps := decode[[]research.Checkpoint](t, w)
	require.NotEmpty(t, cps)
	for i, cp := range cps {
		assert.Equal(t, int64(i), cp.Seq)
	}
	assert.Equal(t, research.NodeDone, cps[len(cps)-1].Next)

	w = s.do(t, http.MethodGet, "/api/research", nil)
	require.Equal(t, http.StatusOK, w.Code)
	runs := decode[[]RunView](t, w)
	require.Len(t, runs, 1)
	assert.Equal(t, run.RunID, runs[0].RunID)
}

func TestHumanReviewFlow(t *testing.T) {
	s := newTestServer(t)
	run := s.create(t, map[string]interface{}{"query": "fusion", "mode": "human", "run_id": "run-h"})
	assert.Equal(t, "run-h", run.RunID)

	w := s.do(t, http.MethodGet, "/api/research/run-h", nil)
	view := decode[RunView](t, w)
	assert.True(t, view.AwaitingFeedback())

	w = s.do(t, http.MethodGet, "/api/research/run-h/report", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Resuming a paused run does not skip the review.
	w = s.do(t, http.MethodPost, "/api/research/run-h/resume", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	s.service.Wait()
	view = decode[RunView](t, s.do(t, http.MethodGet, "/api/research/run-h", nil))
	assert.True(t, view.AwaitingFeedback())

	w = s.do(t, http.MethodPost, "/api/research/run-h/feedback", map[string]string{"feedback": "tokamak funding"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	out := decode[research.StepOutcome](t, w)
	assert.Equal(t, research.NodeReviewHuman, out.Executed)
	assert.Equal(t, research.NodeGenerateFeedbackQueries, out.Next)
	s.service.Wait()

	view = decode[RunView](t, s.do(t, http.MethodGet, "/api/research/run-h", nil))
	assert.True(t, view.AwaitingFeedback())
	assert.Equal(t, 2, view.State.Round)
	assert.Equal(t, 0, view.State.LoopCount)

	w = s.do(t, http.MethodPost, "/api/research/run-h/feedback", map[string]string{"feedback": "  "})
	require.Equal(t, http.StatusAccepted, w.Code)
	s.service.Wait()

	w = s.do(t, http.MethodGet, "/api/research/run-h/report", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["report"], "tokamak funding")
}

func TestErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	run := s.create(t, map[string]interface{}{"query": "q", "run_id": "done-run"})

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"missing query", http.MethodPost, "/api/research", map[string]string{"mode": "auto"}, http.StatusBadRequest},
		{"bad mode", http.MethodPost, "/api/research", map[string]string{"query": "q", "mode": "robot"}, http.StatusBadRequest},
		{"negative loops", http.MethodPost, "/api/research", map[string]interface{}{"query": "q", "max_loops": -1}, http.StatusBadRequest},
		{"duplicate run", http.MethodPost, "/api/research", map[string]string{"query": "q", "run_id": run.RunID}, http.StatusConflict},
		{"unknown run", http.MethodGet, "/api/research/nope", nil, http.StatusNotFound},
		{"unknown checkpoints", http.MethodGet, "/api/research/nope/checkpoints", nil, http.StatusNotFound},
		{"unknown report", http.MethodGet, "/api/research/nope/report", nil, http.StatusNotFound},
		{"feedback on completed run", http.MethodPost, "/api/research/" + run.RunID + "/feedback", map[string]string{"feedback": "more"}, http.StatusConflict},
		{"sources without indexing", http.MethodGet, "/api/research/" + run.RunID + "/sources/search?q=x", nil, http.StatusNotImplemented},
		{"sources without query", http.MethodGet, "/api/research/" + run.RunID + "/sources/search", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestFeedbackOutsideReviewIsConflict(t *testing.T) {
	s := newTestServer(t)
	_, err := s.service.Engine.Start(t.Context(), "fresh", "q", research.ModeHuman, 1)
	require.NoError(t, err)

	w := s.do(t, http.MethodPost, "/api/research/fresh/feedback", map[string]string{"feedback": "x"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestResumeFinishesInterruptedRun(t *testing.T) {
	s := newTestServer(t)
	_, err := s.service.Engine.Start(t.Context(), "stalled", "q", research.ModeAuto, 0)
	require.NoError(t, err)
	_, err = s.service.Engine.Advance(t.Context(), "stalled")
	require.NoError(t, err)

	w := s.do(t, http.MethodPost, "/api/research/stalled/resume", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	s.service.Wait()

	report, ok, err := s.service.GetReport(t.Context(), "stalled")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, report)
}

func TestRunLogs(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.AppendLog(t.Context(), store.LogEntry{
		RunID:   "logged",
		Level:   "INFO",
		Message: "Started research run",
	}))

	w := s.do(t, http.MethodGet, "/api/research/logged/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	logs := decode[[]store.LogEntry](t, w)
	require.Len(t, logs, 1)
	assert.Equal(t, "Started research run", logs[0].Message)

	w = s.do(t, http.MethodGet, "/api/research/silent/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestSearchSources(t *testing.T) {
	s := newTestServer(t)
	src := &stubSources{}
	s.service.Sources = src

	w := s.do(t, http.MethodGet, "/api/research/r1/sources/search?q=anode&top_k=3", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "r1", src.runID)
	assert.Equal(t, "anode", src.query)
	assert.Contains(t, w.Body.String(), "chunk about anode")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/research", nil)

	w := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "deep_research_http_requests_total")
}
