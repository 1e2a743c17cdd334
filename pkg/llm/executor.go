package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agentos-labs/agentos/pkg/services"
)

// Interpretation is the structured outcome of interpreting an objective.
type Interpretation struct {
	Service string         `json:"service"`
	Action  string         `json:"action"`
	Params  map[string]any `json:"params"`
}

// InterpretationError reports an oracle reply that could not be turned
// into a valid interpretation.
type InterpretationError struct {
	Reason string
}

func (e *InterpretationError) Error() string {
	return "interpretation failed: " + e.Reason
}

func (e *InterpretationError) Unwrap() error { return services.ErrValidation }

// UnsupportedActionError reports a (service, action) pair outside the
// static dispatch table.
type UnsupportedActionError struct {
	Service string
	Action  string
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("unsupported action %s.%s", e.Service, e.Action)
}

func (e *UnsupportedActionError) Unwrap() error { return services.ErrValidation }

// ExecHandler executes one allow-listed action. AllowedParams is the
// closed set of accepted param names; Validate may impose further shape
// checks. The oracle is never trusted to widen this surface.
type ExecHandler struct {
	AllowedParams map[string]bool
	Validate      func(params map[string]any) error
	Run           func(ctx context.Context, params map[string]any) (any, error)
}

// Executor interprets objectives via the oracle and dispatches against a
// static (service, action) table populated at startup.
type Executor struct {
	oracle Oracle
	table  map[string]ExecHandler
}

// NewExecutor creates an executor over the given oracle.
func NewExecutor(oracle Oracle) *Executor {
	return &Executor{oracle: oracle, table: make(map[string]ExecHandler)}
}

// RegisterHandler adds one dispatch entry. Called at startup only.
func (e *Executor) RegisterHandler(service, action string, h ExecHandler) {
	e.table[service+"."+action] = h
}

// SupportedActions lists the registered (service, action) keys.
func (e *Executor) SupportedActions() []string {
	out := make([]string, 0, len(e.table))
	for key := range e.table {
		out = append(out, key)
	}
	return out
}

const systemPrompt = `You translate operations objectives into exactly one JSON object.
Reply with a single JSON object of the shape {"service": string, "action": string, "params": object} and nothing else.
Do not invent services or actions outside the provided list. If the objective cannot be satisfied, reply {"service": "", "action": "", "params": {}}.`

// Interpret asks the oracle to map an objective onto one structured
// action.
func (e *Executor) Interpret(ctx context.Context, objective string, context_ map[string]any, constraints []string) (*Interpretation, error) {
	if strings.TrimSpace(objective) == "" {
		return nil, &InterpretationError{Reason: "objective is empty"}
	}

	prompt := e.buildPrompt(objective, context_, constraints)
	reply, err := e.oracle.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("oracle unavailable: %w: %v", services.ErrUpstreamUnavailable, err)
	}

	return parseInterpretation(reply)
}

// Execute dispatches one interpretation through the static table.
func (e *Executor) Execute(ctx context.Context, in Interpretation) (any, error) {
	handler, ok := e.table[in.Service+"."+in.Action]
	if !ok {
		return nil, &UnsupportedActionError{Service: in.Service, Action: in.Action}
	}

	for name := range in.Params {
		if !handler.AllowedParams[name] {
			return nil, &InterpretationError{
				Reason: fmt.Sprintf("param %q is not permitted for %s.%s", name, in.Service, in.Action),
			}
		}
	}
	if handler.Validate != nil {
		if err := handler.Validate(in.Params); err != nil {
			return nil, &InterpretationError{Reason: err.Error()}
		}
	}

	slog.Info("Executing interpreted action", "service", in.Service, "action", in.Action)
	return handler.Run(ctx, in.Params)
}

// InterpretAndExecute chains interpretation and dispatch.
func (e *Executor) InterpretAndExecute(ctx context.Context, objective string, context_ map[string]any, constraints []string) (*Interpretation, any, error) {
	in, err := e.Interpret(ctx, objective, context_, constraints)
	if err != nil {
		return nil, nil, err
	}
	out, err := e.Execute(ctx, *in)
	if err != nil {
		return in, nil, err
	}
	return in, out, nil
}

func (e *Executor) buildPrompt(objective string, context_ map[string]any, constraints []string) string {
	var b strings.Builder
	b.WriteString("Objective: ")
	b.WriteString(objective)
	b.WriteString("\n\nSupported actions:\n")
	for _, key := range e.SupportedActions() {
		b.WriteString("- ")
		b.WriteString(key)
		b.WriteString("\n")
	}
	if len(context_) > 0 {
		if raw, err := json.Marshal(context_); err == nil {
			b.WriteString("\nContext: ")
			b.Write(raw)
			b.WriteString("\n")
		}
	}
	if len(constraints) > 0 {
		b.WriteString("\nConstraints:\n")
		for _, c := range constraints {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// parseInterpretation decodes the oracle reply, tolerating markdown code
// fences around the JSON object.
func parseInterpretation(reply string) (*Interpretation, error) {
	cleaned := stripFences(reply)

	var in Interpretation
	if err := json.Unmarshal([]byte(cleaned), &in); err != nil {
		return nil, &InterpretationError{Reason: "reply is not a JSON object"}
	}
	if in.Service == "" || in.Action == "" {
		return nil, &InterpretationError{Reason: "reply is missing service or action"}
	}
	if in.Params == nil {
		in.Params = map[string]any{}
	}
	return &in, nil
}

// stripFences removes a surrounding ```json ... ``` (or plain ```) fence.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the language tag line.
		first := strings.TrimSpace(trimmed[:idx])
		if first == "" || !strings.ContainsAny(first, "{}") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
