package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/agentos-labs/agentos/pkg/auth"
	"github.com/agentos-labs/agentos/pkg/models"
	"github.com/agentos-labs/agentos/pkg/trace"
	"github.com/agentos-labs/agentos/pkg/version"
)

// handleExec executes a full MCP envelope. Identity fields of the
// caller-supplied context are advisory only; the verified principal is
// authoritative. An envelope that fails the schema check is 422; a known
// agent asked for an unknown action is 400.
func (s *Server) handleExec(c *gin.Context) {
	var req models.MCPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, "", "", http.StatusUnprocessableEntity, "invalid MCP envelope: "+err.Error(), nil)
		return
	}

	s.execute(c, req.AgentName, req.Payload.Action, req.Payload.Data)
}

// handleExecute executes the flattened tool-call form used by MCP tool
// clients.
func (s *Server) handleExecute(c *gin.Context) {
	var call models.ToolCall
	if err := c.ShouldBindJSON(&call); err != nil {
		writeError(c, "", "", http.StatusUnprocessableEntity, "invalid tool call envelope: "+err.Error(), nil)
		return
	}

	agentName, actionName, err := s.deps.Registry.ResolveTool(call.ToolName)
	if err != nil {
		abortWithError(c, err)
		return
	}

	params := map[string]any{}
	if len(call.Parameters) > 0 {
		if err := json.Unmarshal(call.Parameters, &params); err != nil {
			writeError(c, agentName, actionName, http.StatusUnprocessableEntity, "parameters must be a JSON object", nil)
			return
		}
	}

	s.execute(c, agentName, actionName, params)
}

func (s *Server) execute(c *gin.Context, agentName, actionName string, data map[string]any) {
	ctx := c.Request.Context()

	result, err := s.deps.Registry.Execute(ctx, agentName, actionName, data)
	if err != nil {
		status, message, details := mapError(err)
		writeError(c, agentName, actionName, status, message, details)
		return
	}

	c.JSON(http.StatusOK, models.MCPResponse{
		Status:  "success",
		Agent:   agentName,
		Action:  actionName,
		Result:  result,
		TraceID: trace.ID(ctx),
	})
}

// writeError renders one error envelope. Agent and action are omitted when
// the failure happened before they were resolved.
func writeError(c *gin.Context, agentName, actionName string, status int, message string, details any) {
	c.JSON(status, models.MCPResponse{
		Status:       "error",
		Agent:        agentName,
		Action:       actionName,
		Error:        message,
		ErrorDetails: details,
		TraceID:      trace.ID(c.Request.Context()),
	})
}

// handleTools lists every registered action as a flattened tool.
func (s *Server) handleTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tools": s.deps.Registry.Tools(),
	})
}

// handleHealth is the liveness probe: the process is up.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": version.AppName,
		"version": version.Full(),
	})
}

// handleStatus is the readiness probe: every dependency is checked with a
// short timeout; any failure flips the overall status to degraded.
func (s *Server) handleStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	overall := http.StatusOK
	deps := gin.H{}
	for name, check := range s.deps.Health {
		if err := check(ctx); err != nil {
			deps[name] = gin.H{"status": "down", "error": err.Error()}
			overall = http.StatusServiceUnavailable
			continue
		}
		deps[name] = gin.H{"status": "up"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}

	c.JSON(overall, gin.H{
		"status":           status,
		"version":          version.Full(),
		"dependencies":     deps,
		"connections":      s.deps.Manager.ActiveConnections(),
		"registered_tools": len(s.deps.Registry.Tools()),
	})
}

// handleWS upgrades to websocket and hands the connection to the manager.
// Blocks for the lifetime of the connection.
func (s *Server) handleWS(c *gin.Context) {
	principal, _ := auth.PrincipalFromContext(c.Request.Context())

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection closed")

	s.deps.Manager.HandleConnection(c.Request.Context(), conn, principal.ID)
	conn.Close(websocket.StatusNormalClosure, "")
}
