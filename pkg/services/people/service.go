package people

import (
	"context"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/agentos-labs/agentos/pkg/models"
	"github.com/agentos-labs/agentos/pkg/services"
)

// Service is the profile domain service.
type Service struct {
	repo Repository
}

// NewService creates the profile service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateProfileInput carries the caller-settable profile fields.
type CreateProfileInput struct {
	UserID     string
	ExternalID string
	WhatsappID string
	Email      string
	Phone      string
	FirstName  string
	LastName   string
	Type       models.ProfileType
	Roles      []string
}

// CreateProfile validates and persists a new active profile.
func (s *Service) CreateProfile(ctx context.Context, in CreateProfileInput) (*models.Profile, error) {
	if in.Type == "" {
		in.Type = models.ProfileClient
	}
	roles := in.Roles
	if roles == nil {
		roles = []string{}
	}

	p := &models.Profile{
		UserID:     in.UserID,
		ExternalID: in.ExternalID,
		WhatsappID: in.WhatsappID,
		Email:      in.Email,
		Phone:      in.Phone,
		FirstName:  in.FirstName,
		LastName:   in.LastName,
		Type:       in.Type,
		Roles:      roles,
		Active:     true,
	}
	p.DeriveFullName()
	if err := p.Validate(); err != nil {
		return nil, services.NewValidation(err.Error(), nil)
	}

	id, err := s.repo.Insert(ctx, p)
	if err != nil {
		return nil, err
	}
	p.ID = id

	slog.Info("Profile created", "profile_id", id, "type", p.Type)
	return p, nil
}

// GetProfile resolves a profile by id or any unique external identifier.
func (s *Service) GetProfile(ctx context.Context, identifier string) (*models.Profile, error) {
	if identifier == "" {
		return nil, services.NewValidation("identifier is required", nil)
	}
	return s.repo.FindByIdentifier(ctx, identifier)
}

// UpdateProfileInput holds the mutable fields; nil means leave unchanged.
type UpdateProfileInput struct {
	Email     *string
	Phone     *string
	FirstName *string
	LastName  *string
	Active    *bool
}

// UpdateProfile applies a partial update and rederives the full name when
// a name component changed.
func (s *Service) UpdateProfile(ctx context.Context, id string, in UpdateProfileInput) (*models.Profile, error) {
	set := bson.M{}
	if in.Email != nil {
		set["email"] = *in.Email
	}
	if in.Phone != nil {
		set["phone"] = *in.Phone
	}
	if in.FirstName != nil {
		set["first_name"] = *in.FirstName
	}
	if in.LastName != nil {
		set["last_name"] = *in.LastName
	}
	if in.Active != nil {
		set["active"] = *in.Active
	}
	if len(set) == 0 {
		return nil, services.NewValidation("no fields to update", nil)
	}

	updated, err := s.repo.Update(ctx, id, set)
	if err != nil {
		return nil, err
	}

	if in.FirstName != nil || in.LastName != nil {
		updated.DeriveFullName()
		updated, err = s.repo.Update(ctx, id, bson.M{"full_name": updated.FullName})
		if err != nil {
			return nil, err
		}
	}

	slog.Info("Profile updated", "profile_id", id)
	return updated, nil
}

// AddRole grants a role. Adding an already-held role is a no-op.
func (s *Service) AddRole(ctx context.Context, id, role string) (*models.Profile, error) {
	if role == "" {
		return nil, services.NewValidation("role is required", nil)
	}
	return s.repo.UpdateRoles(ctx, id, "add", role)
}

// RemoveRole revokes a role. Removing an absent role is a no-op.
func (s *Service) RemoveRole(ctx context.Context, id, role string) (*models.Profile, error) {
	if role == "" {
		return nil, services.NewValidation("role is required", nil)
	}
	return s.repo.UpdateRoles(ctx, id, "remove", role)
}

// Exists reports whether an active profile with the id exists. Used by
// sale creation for the client pre-flight check; deactivated clients
// cannot buy.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	return s.repo.Exists(ctx, id)
}
