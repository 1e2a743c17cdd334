package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos-labs/agentos/pkg/auth"
)

type stubAgent struct {
	name    string
	actions []Action
}

func (a *stubAgent) Name() string        { return a.name }
func (a *stubAgent) Description() string { return "stub" }
func (a *stubAgent) Actions() []Action   { return a.actions }

func echoAction(name string) Action {
	return Action{
		Name: name,
		Handler: func(_ context.Context, params map[string]any) (any, error) {
			return params, nil
		},
	}
}

func TestRegisterRejectsReservedNames(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register(&stubAgent{name: ""}))
	assert.Error(t, r.Register(&stubAgent{name: "base"}))
	assert.Error(t, r.Register(&stubAgent{name: "Base"}))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(&stubAgent{name: "sales"}))
	assert.Error(t, r.Register(&stubAgent{name: "sales"}))
}

func TestExecuteUnknownAgentAndAction(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubAgent{name: "sales", actions: []Action{echoAction("create_sale")}}))

	_, err := r.Execute(context.Background(), "ghost", "create_sale", nil)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 404, ae.StatusCode)

	// Unknown action on a known agent is a caller mistake, not a missing
	// resource.
	_, err = r.Execute(context.Background(), "sales", "ghost", nil)
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 400, ae.StatusCode)
	assert.Equal(t, "unsupported_action", ae.Code)
}

func TestExecuteEnforcesRoles(t *testing.T) {
	r := NewRegistry()
	action := echoAction("assign_courier")
	action.RequiredRoles = []string{"admin", "dispatcher"}
	require.NoError(t, r.Register(&stubAgent{name: "delivery", actions: []Action{action}}))

	// No principal in context.
	_, err := r.Execute(context.Background(), "delivery", "assign_courier", nil)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 403, ae.StatusCode)

	// Wrong role.
	ctx := auth.WithPrincipal(context.Background(), auth.Principal{ID: "u1", Roles: []string{"client"}})
	_, err = r.Execute(ctx, "delivery", "assign_courier", nil)
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 403, ae.StatusCode)

	// Matching role.
	ctx = auth.WithPrincipal(context.Background(), auth.Principal{ID: "u1", Roles: []string{"dispatcher"}})
	_, err = r.Execute(ctx, "delivery", "assign_courier", nil)
	assert.NoError(t, err)
}

func TestExecuteValidatesSchema(t *testing.T) {
	r := NewRegistry()
	action := echoAction("create_sale")
	action.InputSchema = map[string]any{
		"type":     "object",
		"required": []any{"client_id"},
		"properties": map[string]any{
			"client_id": map[string]any{"type": "string"},
			"quantity":  map[string]any{"type": "integer", "minimum": 1},
		},
	}
	require.NoError(t, r.Register(&stubAgent{name: "sales", actions: []Action{action}}))

	_, err := r.Execute(context.Background(), "sales", "create_sale", map[string]any{"quantity": 0})
	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 400, ae.StatusCode)
	details, ok := ae.Details.(map[string]string)
	require.True(t, ok)
	assert.NotEmpty(t, details)

	out, err := r.Execute(context.Background(), "sales", "create_sale", map[string]any{
		"client_id": "c-1",
		"quantity":  2,
	})
	require.NoError(t, err)
	assert.Equal(t, "c-1", out.(map[string]any)["client_id"])
}

func TestExecutePassesThroughHandlerError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	require.NoError(t, r.Register(&stubAgent{name: "sales", actions: []Action{{
		Name:    "create_sale",
		Handler: func(context.Context, map[string]any) (any, error) { return nil, boom },
	}}}))

	_, err := r.Execute(context.Background(), "sales", "create_sale", nil)
	assert.ErrorIs(t, err, boom)
}

func TestToolsAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubAgent{name: "sales", actions: []Action{echoAction("create_sale"), echoAction("get_sale_status")}}))

	tools := r.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "sales_create_sale", tools[0].Name)

	agentName, actionName, err := r.ResolveTool("sales_get_sale_status")
	require.NoError(t, err)
	assert.Equal(t, "sales", agentName)
	assert.Equal(t, "get_sale_status", actionName)

	_, _, err = r.ResolveTool("ghost_action")
	assert.Error(t, err)
}
