package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MCPSession represents an MCP session
type MCPSession struct {
	ID      string
	Created int64
}

// MCPRequest represents an MCP JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an MCP JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents an MCP error
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

// MCPServer exposes read access to research runs as MCP tools over a
// single JSON-RPC endpoint.
type MCPServer struct {
	Service *Service

	mu       sync.RWMutex
	sessions map[string]*MCPSession
}

func NewMCPServer(s *Service) *MCPServer {
	return &MCPServer{Service: s, sessions: make(map[string]*MCPSession)}
}

type runArgs struct {
	RunID string `json:"run_id"`
}

type searchSourcesArgs struct {
	RunID  string                 `json:"run_id"`
	Query  string                 `json:"query"`
	TopK   int                    `json:"topK"`
	Filter map[string]interface{} `json:"filter"`
}

// Handle handles MCP protocol requests
func (m *MCPServer) Handle(c *gin.Context) {
	sessionID := c.GetHeader("Mcp-Session-Id")

	var req MCPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			Error:   &MCPError{Code: codeInvalidRequest, Message: "Invalid JSON-RPC request"},
		})
		return
	}

	if req.Method == "initialize" {
		if sessionID == "" {
			sessionID = uuid.New().String()
			m.mu.Lock()
			m.sessions[sessionID] = &MCPSession{ID: sessionID, Created: time.Now().Unix()}
			m.mu.Unlock()
		}
		c.Header("Mcp-Session-Id", sessionID)
		c.JSON(http.StatusOK, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
				"serverInfo": map[string]interface{}{
					"name":    "deep-research-mcp",
					"version": "1.0.0",
				},
			},
		})
		return
	}

	if !m.validSession(sessionID) {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &MCPError{Code: codeInvalidRequest, Message: "Bad Request: No valid session ID provided"},
		})
		return
	}

	switch req.Method {
	case "tools/list":
		m.sendJSON(c, req.ID, map[string]interface{}{"tools": toolDefinitions()})
	case "tools/call":
		m.handleToolsCall(c, req)
	case "ping":
		m.sendJSON(c, req.ID, map[string]interface{}{})
	default:
		m.sendError(c, req.ID, codeMethodNotFound, "Method not found")
	}
}

func (m *MCPServer) validSession(id string) bool {
	if id == "" {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

func toolDefinitions() []map[string]interface{} {
	runID := map[string]interface{}{
		"type":        "string",
		"description": "The research run ID.",
	}
	return []map[string]interface{}{
		{
			"name":        "get_state",
			"description": "Get the latest checkpoint of a research run: next node, plan, learnings and feedback round.",
			"inputSchema": map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"run_id": runID},
				"required":   []string{"run_id"},
			},
		},
		{
			"name":        "get_report",
			"description": "Get the final markdown report of a completed research run.",
			"inputSchema": map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"run_id": runID},
				"required":   []string{"run_id"},
			},
		},
		{
			"name":        "search_sources",
			"description": "Semantic search over the sources a research run has collected.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"run_id": runID,
					"query": map[string]interface{}{
						"type":        "string",
						"description": "The search query.",
					},
					"topK": map[string]interface{}{
						"type":        "number",
						"description": "The number of top results to return.",
						"default":     5,
					},
					"filter": map[string]interface{}{
						"type":        "object",
						"description": "JSON filter object with logical operators ($and, $or, $not)",
					},
				},
				"required": []string{"run_id", "query"},
			},
		},
	}
}

func (m *MCPServer) handleToolsCall(c *gin.Context, req MCPRequest) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		m.sendError(c, req.ID, codeInvalidParams, "Invalid params")
		return
	}

	ctx := c.Request.Context()
	switch params.Name {
	case "get_state":
		var args runArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil || args.RunID == "" {
			m.sendError(c, req.ID, codeInvalidParams, "Invalid arguments")
			return
		}
		run, err := m.Service.GetRun(ctx, args.RunID)
		if err != nil {
			m.sendError(c, req.ID, codeInternal, err.Error())
			return
		}
		body, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			m.sendError(c, req.ID, codeInternal, err.Error())
			return
		}
		m.sendText(c, req.ID, string(body))

	case "get_report":
		var args runArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil || args.RunID == "" {
			m.sendError(c, req.ID, codeInvalidParams, "Invalid arguments")
			return
		}
		report, ok, err := m.Service.GetReport(ctx, args.RunID)
		if err != nil {
			m.sendError(c, req.ID, codeInternal, err.Error())
			return
		}
		if !ok {
			m.sendText(c, req.ID, fmt.Sprintf("Run %s has no report yet.", args.RunID))
			return
		}
		m.sendText(c, req.ID, report)

	case "search_sources":
		var args searchSourcesArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil || args.RunID == "" || args.Query == "" {
			m.sendError(c, req.ID, codeInvalidParams, "Invalid arguments")
			return
		}
		results, err := m.Service.SearchSources(ctx, args.RunID, args.Query, args.TopK, args.Filter)
		if errors.Is(err, ErrIndexingDisabled) {
			m.sendText(c, req.ID, "Source indexing is not enabled on this server.")
			return
		}
		if err != nil {
			m.sendError(c, req.ID, codeInternal, err.Error())
			return
		}
		if len(results) == 0 {
			m.sendText(c, req.ID, "No matching sources found.")
			return
		}
		var sb strings.Builder
		for i, r := range results {
			title, _ := r.Document.Metadata["title"].(string)
			source, _ := r.Document.Metadata["source"].(string)
			fmt.Fprintf(&sb, "Result %d (score %.3f): %s\nSource: %s\n%s\n\n", i+1, r.Score, title, source, r.Document.Content)
		}
		m.sendText(c, req.ID, strings.TrimSpace(sb.String()))

	default:
		m.sendError(c, req.ID, codeMethodNotFound, fmt.Sprintf("Tool not found: %s", params.Name))
	}
}

func (m *MCPServer) sendError(c *gin.Context, id interface{}, code int, msg string) {
	c.JSON(http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &MCPError{Code: code, Message: msg},
	})
}

func (m *MCPServer) sendJSON(c *gin.Context, id interface{}, result interface{}) {
	c.JSON(http.StatusOK, MCPResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (m *MCPServer) sendText(c *gin.Context, id interface{}, text string) {
	m.sendJSON(c, id, map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": text},
		},
	})
}
