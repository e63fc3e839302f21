package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/store"
)

type Handler struct {
	Service *Service
	MCP     *MCPServer
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s, MCP: NewMCPServer(s)}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Use(requestMetrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/mcp", h.MCP.Handle)

	api := r.Group("/api")
	{
		api.POST("/research", h.createRun)
		api.GET("/research", h.listRuns)
		api.GET("/research/:id", h.getRun)
		api.GET("/research/:id/checkpoints", h.getCheckpoints)
		api.POST("/research/:id/feedback", h.submitFeedback)
		api.POST("/research/:id/resume", h.resumeRun)
		api.GET("/research/:id/report", h.getReport)
		api.GET("/research/:id/logs", h.getRunLogs)
		api.GET("/research/:id/sources/search", h.searchSources)
	}
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// statusFor maps workflow errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, research.ErrNoCheckpoint), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, research.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, research.ErrInvariant), errors.Is(err, ErrRunBusy):
		return http.StatusConflict
	case errors.Is(err, ErrIndexingDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func (h *Handler) createRun(c *gin.Context) {
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.Service.CreateRun(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

func (h *Handler) listRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.Service.ListRuns(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (h *Handler) getRun(c *gin.Context) {
	run, err := h.Service.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) getCheckpoints(c *gin.Context) {
	cps, err := h.Service.Checkpoints(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cps)
}

func (h *Handler) submitFeedback(c *gin.Context) {
	var req struct {
		Feedback string `json:"feedback"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.Service.SubmitFeedback(c.Request.Context(), c.Param("id"), req.Feedback)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, out)
}

func (h *Handler) resumeRun(c *gin.Context) {
	run, err := h.Service.ResumeRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

func (h *Handler) getReport(c *gin.Context) {
	report, ok, err := h.Service.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not ready"})
		return
	}
	if c.Query("format") == "markdown" {
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(report))
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("id"), "report": report})
}

func (h *Handler) getRunLogs(c *gin.Context) {
	logs, err := h.Service.GetLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	// Return empty list instead of null
	if logs == nil {
		logs = []store.LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

func (h *Handler) searchSources(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	topK, _ := strconv.Atoi(c.DefaultQuery("top_k", "5"))

	start := time.Now()
	results, err := h.Service.SearchSources(c.Request.Context(), c.Param("id"), query, topK, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": query, "results": results, "took": time.Since(start).String()})
}
