package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentos-labs/agentos/pkg/auth"
	"github.com/agentos-labs/agentos/pkg/models"
)

// reservedNames may not be used as agent names.
var reservedNames = map[string]bool{
	"":     true,
	"base": true,
}

type registeredAction struct {
	action Action
	schema *jsonschema.Schema
}

type registeredAgent struct {
	agent   Agent
	actions map[string]registeredAction
}

// Registry holds all registered agents and routes executions to them.
// Registration happens at startup; execution is concurrent.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*registeredAgent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*registeredAgent)}
}

// Register adds an agent and compiles its action schemas. Reserved and
// duplicate names are rejected.
func (r *Registry) Register(a Agent) error {
	name := a.Name()
	if reservedNames[strings.ToLower(name)] {
		return fmt.Errorf("agent name %q is reserved", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("agent %q already registered", name)
	}

	reg := &registeredAgent{agent: a, actions: make(map[string]registeredAction)}
	for _, action := range a.Actions() {
		if action.Name == "" {
			return fmt.Errorf("agent %q declares an unnamed action", name)
		}
		if _, dup := reg.actions[action.Name]; dup {
			return fmt.Errorf("agent %q declares action %q twice", name, action.Name)
		}

		var compiled *jsonschema.Schema
		if action.InputSchema != nil {
			raw, err := json.Marshal(action.InputSchema)
			if err != nil {
				return fmt.Errorf("agent %q action %q: schema not serializable: %w", name, action.Name, err)
			}
			compiled, err = jsonschema.CompileString(fmt.Sprintf("%s/%s.json", name, action.Name), string(raw))
			if err != nil {
				return fmt.Errorf("agent %q action %q: invalid schema: %w", name, action.Name, err)
			}
		}
		reg.actions[action.Name] = registeredAction{action: action, schema: compiled}
	}

	r.agents[name] = reg
	slog.Info("Agent registered", "agent", name, "actions", len(reg.actions))
	return nil
}

// Execute routes one request to the named agent action, enforcing roles
// and validating params against the action schema.
func (r *Registry) Execute(ctx context.Context, agentName, actionName string, params map[string]any) (any, error) {
	r.mu.RLock()
	reg, ok := r.agents[agentName]
	r.mu.RUnlock()
	if !ok {
		return nil, NewNotFoundError(fmt.Sprintf("unknown agent %q", agentName))
	}

	ra, ok := reg.actions[actionName]
	if !ok {
		return nil, NewUnsupportedActionError(fmt.Sprintf("unsupported action %q on agent %q", actionName, agentName))
	}

	if len(ra.action.RequiredRoles) > 0 {
		p, ok := auth.PrincipalFromContext(ctx)
		if !ok || !p.HasAnyRole(ra.action.RequiredRoles) {
			return nil, NewForbiddenError(fmt.Sprintf("action %s.%s requires one of roles %v", agentName, actionName, ra.action.RequiredRoles))
		}
	}

	if params == nil {
		params = map[string]any{}
	}
	if ra.schema != nil {
		if err := ra.schema.Validate(normalize(params)); err != nil {
			return nil, NewValidationError(
				fmt.Sprintf("invalid params for %s.%s", agentName, actionName),
				validationDetails(err))
		}
	}

	return ra.action.Handler(ctx, params)
}

// Agents returns the sorted registered agent names.
func (r *Registry) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tools flattens every registered action into the tool listing, named
// "<agent>_<action>".
func (r *Registry) Tools() []models.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tools []models.ToolInfo
	for agentName, reg := range r.agents {
		for actionName, ra := range reg.actions {
			tools = append(tools, models.ToolInfo{
				Name:          agentName + "_" + actionName,
				Agent:         agentName,
				Action:        actionName,
				Description:   ra.action.Description,
				InputSchema:   ra.action.InputSchema,
				RequiredRoles: ra.action.RequiredRoles,
			})
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// ResolveTool splits a flattened tool name back into agent and action.
// The agent name must match a registered agent; action names may contain
// underscores.
func (r *Registry) ResolveTool(toolName string) (agentName, actionName string, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name := range r.agents {
		prefix := name + "_"
		if strings.HasPrefix(toolName, prefix) {
			return name, strings.TrimPrefix(toolName, prefix), nil
		}
	}
	return "", "", NewNotFoundError(fmt.Sprintf("unknown tool %q", toolName))
}

// normalize round-trips params through JSON so the validator sees the
// canonical decoded representation regardless of how the map was built.
func normalize(params map[string]any) any {
	raw, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return params
	}
	return out
}

// validationDetails flattens a jsonschema validation error into
// field -> message pairs.
func validationDetails(err error) map[string]string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return map[string]string{"params": err.Error()}
	}

	details := make(map[string]string)
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			field := strings.TrimPrefix(e.InstanceLocation, "/")
			if field == "" {
				field = "params"
			}
			details[field] = e.Message
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return details
}
