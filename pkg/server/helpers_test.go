package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/store"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

type stubCollab struct{}

func (stubCollab) Plan(_ context.Context, query string) (string, error) {
	return "Plan for " + query, nil
}

func (stubCollab) GenerateQueries(_ context.Context, _ string) ([]research.SearchTask, error) {
	return []research.SearchTask{
		{Query: "history", Goal: "find the history"},
		{Query: "status", Goal: "find the current status"},
	}, nil
}

func (stubCollab) GenerateFeedbackQueries(_ context.Context, _ string, _ []string, feedback string) ([]research.SearchTask, error) {
	return []research.SearchTask{{Query: feedback, Goal: "follow up"}}, nil
}

func (stubCollab) Search(_ context.Context, query string) (research.SearchOutput, error) {
	return research.SearchOutput{Sources: []research.Source{{
		Title:   "About " + query,
		URL:     "https://example.com/" + strings.ReplaceAll(query, " ", "-"),
		Content: "content for " + query,
	}}}, nil
}

func (stubCollab) Summarize(_ context.Context, query, _ string, sources []research.Source) (string, error) {
	return fmt.Sprintf("Learned about %s [%s]", query, sources[0].ID), nil
}

func (stubCollab) Analyze(_ context.Context, _ string, _ []string) (research.Verdict, error) {
	return research.Verdict{Satisfied: true}, nil
}

func (stubCollab) WriteReport(_ context.Context, plan string, learnings []string, _ int) (string, error) {
	return "# " + plan + "\n\n" + strings.Join(learnings, "\n"), nil
}

type stubSources struct {
	runID string
	query string
}

func (s *stubSources) Search(_ context.Context, runID, query string, topK int, _ map[string]interface{}) ([]vectorstore.SimilaritySearchResult, error) {
	s.runID, s.query = runID, query
	return []vectorstore.SimilaritySearchResult{{
		Document: vectorstore.Document{
			RunID:    runID,
			Content:  "chunk about " + query,
			Metadata: map[string]interface{}{"title": "About " + query, "source": "https://example.com"},
		},
		Score: 0.9,
	}}, nil
}

type testServer struct {
	store   *store.SQLiteStore
	service *Service
	router  *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "research.db"))
	require.NoError(t, err)

	c := stubCollab{}
	cfg := research.DefaultConfig()
	cfg.MaxConcurrency = 2
	engine, err := research.NewEngine(cfg, st, research.Collaborators{
		Planner:    c,
		Queries:    c,
		Searcher:   c,
		Summarizer: c,
		Analyst:    c,
		Writer:     c,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	svc := NewService(ctx, engine, st, Defaults{Mode: research.ModeAuto, MaxLoops: 1, ReportPages: 2})
	t.Cleanup(func() {
		cancel()
		svc.Wait()
		st.Close()
	})

	r := gin.New()
	NewHandler(svc).RegisterRoutes(r)
	return &testServer{store: st, service: svc, router: r}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) create(t *testing.T, body map[string]interface{}) RunView {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/research", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	run := decode[RunView](t, w)
	s.service.Wait()
	return run
}
