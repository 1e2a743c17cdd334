// Package people exposes profile management as gateway actions.
package people

import (
	"context"

	"github.com/agentos-labs/agentos/pkg/agent"
	"github.com/agentos-labs/agentos/pkg/models"
	peoplesvc "github.com/agentos-labs/agentos/pkg/services/people"
)

// Agent is the people agent.
type Agent struct {
	svc *peoplesvc.Service
}

// New creates the people agent.
func New(svc *peoplesvc.Service) *Agent {
	return &Agent{svc: svc}
}

func (a *Agent) Name() string        { return "agentos_people" }
func (a *Agent) Description() string { return "Profile identity and role management" }

func (a *Agent) Actions() []agent.Action {
	idParam := map[string]any{"type": "string", "minLength": 1}

	return []agent.Action{
		{
			Name:        "create_profile",
			Description: "Create a profile; requires at least one external identifier",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_id":     map[string]any{"type": "string"},
					"external_id": map[string]any{"type": "string"},
					"whatsapp_id": map[string]any{"type": "string"},
					"email":       map[string]any{"type": "string"},
					"phone":       map[string]any{"type": "string"},
					"first_name":  map[string]any{"type": "string"},
					"last_name":   map[string]any{"type": "string"},
					"type": map[string]any{
						"type": "string",
						"enum": []any{"client", "vendor", "reseller", "courier", "admin", "system", "bot"},
					},
					"roles": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
				},
			},
			Handler: a.createProfile,
		},
		{
			Name:        "get_profile",
			Description: "Resolve a profile by id or any unique identifier",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"identifier"},
				"properties": map[string]any{
					"identifier": idParam,
				},
			},
			Handler: a.getProfile,
		},
		{
			Name:        "update_profile",
			Description: "Partially update a profile",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"profile_id"},
				"properties": map[string]any{
					"profile_id": idParam,
					"email":      map[string]any{"type": "string"},
					"phone":      map[string]any{"type": "string"},
					"first_name": map[string]any{"type": "string"},
					"last_name":  map[string]any{"type": "string"},
					"active":     map[string]any{"type": "boolean"},
				},
			},
			Handler: a.updateProfile,
		},
		{
			Name:          "add_role",
			Description:   "Grant a role to a profile",
			RequiredRoles: []string{"admin"},
			InputSchema:   roleSchema(idParam),
			Handler:       a.addRole,
		},
		{
			Name:          "remove_role",
			Description:   "Revoke a role from a profile",
			RequiredRoles: []string{"admin"},
			InputSchema:   roleSchema(idParam),
			Handler:       a.removeRole,
		},
	}
}

func roleSchema(idParam map[string]any) map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"profile_id", "role"},
		"properties": map[string]any{
			"profile_id": idParam,
			"role":       map[string]any{"type": "string", "minLength": 1},
		},
	}
}

type createProfileParams struct {
	UserID     string   `json:"user_id"`
	ExternalID string   `json:"external_id"`
	WhatsappID string   `json:"whatsapp_id"`
	Email      string   `json:"email"`
	Phone      string   `json:"phone"`
	FirstName  string   `json:"first_name"`
	LastName   string   `json:"last_name"`
	Type       string   `json:"type"`
	Roles      []string `json:"roles"`
}

func (a *Agent) createProfile(ctx context.Context, params map[string]any) (any, error) {
	var p createProfileParams
	if err := agent.DecodeParams(params, &p); err != nil {
		return nil, agent.NewValidationError(err.Error(), nil)
	}

	return a.svc.CreateProfile(ctx, peoplesvc.CreateProfileInput{
		UserID:     p.UserID,
		ExternalID: p.ExternalID,
		WhatsappID: p.WhatsappID,
		Email:      p.Email,
		Phone:      p.Phone,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Type:       models.ProfileType(p.Type),
		Roles:      p.Roles,
	})
}

func (a *Agent) getProfile(ctx context.Context, params map[string]any) (any, error) {
	identifier, _ := params["identifier"].(string)
	return a.svc.GetProfile(ctx, identifier)
}

type updateProfileParams struct {
	ProfileID string  `json:"profile_id"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Active    *bool   `json:"active"`
}

func (a *Agent) updateProfile(ctx context.Context, params map[string]any) (any, error) {
	var p updateProfileParams
	if err := agent.DecodeParams(params, &p); err != nil {
		return nil, agent.NewValidationError(err.Error(), nil)
	}

	return a.svc.UpdateProfile(ctx, p.ProfileID, peoplesvc.UpdateProfileInput{
		Email:     p.Email,
		Phone:     p.Phone,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Active:    p.Active,
	})
}

func (a *Agent) addRole(ctx context.Context, params map[string]any) (any, error) {
	profileID, _ := params["profile_id"].(string)
	role, _ := params["role"].(string)
	return a.svc.AddRole(ctx, profileID, role)
}

func (a *Agent) removeRole(ctx context.Context, params map[string]any) (any, error) {
	profileID, _ := params["profile_id"].(string)
	role, _ := params["role"].(string)
	return a.svc.RemoveRole(ctx, profileID, role)
}
