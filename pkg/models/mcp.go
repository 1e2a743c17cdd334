package models

import "encoding/json"

// MCPRequest is the inbound envelope of POST /api/v1/mcp/exec. The
// caller-supplied context is advisory; identity fields are overwritten
// from the verified bearer token before any agent sees the request.
type MCPRequest struct {
	AgentName string      `json:"agent_name" binding:"required"`
	Payload   MCPPayload  `json:"payload"`
	Context   *MCPContext `json:"context"`
}

// MCPPayload names the action and carries its data.
type MCPPayload struct {
	Action string         `json:"action" binding:"required"`
	Data   map[string]any `json:"data"`
}

// MCPContext is caller metadata attached to an MCP request.
type MCPContext struct {
	TraceID   string   `json:"trace_id,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
	AgentID   string   `json:"agent_id,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

// MCPResponse is the outbound envelope of a gateway execution.
type MCPResponse struct {
	Status       string `json:"status"`
	Agent        string `json:"agent,omitempty"`
	Action       string `json:"action,omitempty"`
	Result       any    `json:"result,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorDetails any    `json:"error_details,omitempty"`
	TraceID      string `json:"trace_id,omitempty"`
}

// ToolCall is the simplified envelope of POST /api/v1/mcp/execute, where
// the tool name encodes agent and action as "<agent>_<action>".
type ToolCall struct {
	ToolName   string          `json:"tool_name" binding:"required"`
	Parameters json.RawMessage `json:"parameters"`
}

// ToolInfo describes one registered action for GET /api/v1/mcp/tools.
type ToolInfo struct {
	Name          string         `json:"name"`
	Agent         string         `json:"agent"`
	Action        string         `json:"action"`
	Description   string         `json:"description,omitempty"`
	InputSchema   map[string]any `json:"input_schema,omitempty"`
	RequiredRoles []string       `json:"required_roles,omitempty"`
}
