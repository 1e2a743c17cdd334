// Package llm exposes the semantic executor as gateway actions.
package llm

import (
	"context"

	"github.com/agentos-labs/agentos/pkg/agent"
	llmexec "github.com/agentos-labs/agentos/pkg/llm"
)

// Agent is the llm agent.
type Agent struct {
	executor *llmexec.Executor
}

// New creates the llm agent.
func New(executor *llmexec.Executor) *Agent {
	return &Agent{executor: executor}
}

func (a *Agent) Name() string        { return "agentos_llm" }
func (a *Agent) Description() string { return "Objective interpretation and bounded execution" }

func (a *Agent) Actions() []agent.Action {
	interpretSchema := map[string]any{
		"type":     "object",
		"required": []any{"objective"},
		"properties": map[string]any{
			"objective":   map[string]any{"type": "string", "minLength": 1},
			"context":     map[string]any{"type": "object"},
			"constraints": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}

	executeSchema := map[string]any{
		"type":     "object",
		"required": []any{"objective"},
		"properties": map[string]any{
			"objective":   map[string]any{"type": "string", "minLength": 1},
			"context":     map[string]any{"type": "object"},
			"constraints": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"dry_run":     map[string]any{"type": "boolean"},
		},
	}

	return []agent.Action{
		{
			Name:        "interpret",
			Description: "Map an objective onto one supported (service, action, params) triple",
			InputSchema: interpretSchema,
			Handler:     a.interpret,
		},
		{
			Name:          "interpret_and_execute",
			Description:   "Interpret an objective and execute the resulting action",
			RequiredRoles: []string{"admin"},
			InputSchema:   executeSchema,
			Handler:       a.interpretAndExecute,
		},
	}
}

type interpretParams struct {
	Objective   string         `json:"objective"`
	Context     map[string]any `json:"context"`
	Constraints []string       `json:"constraints"`
	DryRun      bool           `json:"dry_run"`
}

func (a *Agent) interpret(ctx context.Context, params map[string]any) (any, error) {
	var p interpretParams
	if err := agent.DecodeParams(params, &p); err != nil {
		return nil, agent.NewValidationError(err.Error(), nil)
	}
	return a.executor.Interpret(ctx, p.Objective, p.Context, p.Constraints)
}

func (a *Agent) interpretAndExecute(ctx context.Context, params map[string]any) (any, error) {
	var p interpretParams
	if err := agent.DecodeParams(params, &p); err != nil {
		return nil, agent.NewValidationError(err.Error(), nil)
	}

	if p.DryRun {
		interpretation, err := a.executor.Interpret(ctx, p.Objective, p.Context, p.Constraints)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"interpretation": interpretation,
			"executed":       false,
		}, nil
	}

	interpretation, result, err := a.executor.InterpretAndExecute(ctx, p.Objective, p.Context, p.Constraints)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"interpretation": interpretation,
		"result":         result,
		"executed":       true,
	}, nil
}
