// Package agent defines the agent abstraction of the gateway: named agents
// exposing schema-validated actions, and the registry that routes MCP
// requests to them.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Handler executes one action. params has already passed schema validation
// and the caller's identity is available via auth.PrincipalFromContext.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Action is one operation an agent exposes.
type Action struct {
	Name          string
	Description   string
	// InputSchema is a JSON-schema document for params. Compiled once at
	// registration; nil means the action accepts any params.
	InputSchema   map[string]any
	RequiredRoles []string
	Handler       Handler
}

// Agent groups related actions under a name. Implementations return their
// static action table; the registry owns routing, validation and authz.
type Agent interface {
	Name() string
	Description() string
	Actions() []Action
}

// Error is a transport-mapped agent failure.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Details    any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewNotFoundError reports an unknown agent. Unknown actions on a known
// agent are reported with NewUnsupportedActionError instead.
func NewNotFoundError(message string) *Error {
	return &Error{StatusCode: http.StatusNotFound, Code: "not_found", Message: message}
}

// NewUnsupportedActionError reports an action outside the agent's table.
func NewUnsupportedActionError(message string) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Code: "unsupported_action", Message: message}
}

// NewForbiddenError reports a role check failure.
func NewForbiddenError(message string) *Error {
	return &Error{StatusCode: http.StatusForbidden, Code: "forbidden", Message: message}
}

// NewValidationError reports a payload validation failure with per-field
// details.
func NewValidationError(message string, details any) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Code: "validation_error", Message: message, Details: details}
}

// DecodeParams binds schema-validated params onto a typed request struct
// via a JSON round trip.
func DecodeParams(params map[string]any, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to serialize params: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to bind params: %w", err)
	}
	return nil
}
