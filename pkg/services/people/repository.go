// Package people owns profile identity: creation, lookup across external
// identifiers and role management.
package people

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/agentos-labs/agentos/pkg/database"
	"github.com/agentos-labs/agentos/pkg/models"
	"github.com/agentos-labs/agentos/pkg/services"
)

// Repository is the profile persistence surface.
type Repository interface {
	Insert(ctx context.Context, p *models.Profile) (string, error)
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	// FindByIdentifier resolves a profile by any unique external
	// identifier: user_id, external_id, whatsapp_id or email.
	FindByIdentifier(ctx context.Context, identifier string) (*models.Profile, error)
	Update(ctx context.Context, id string, set bson.M) (*models.Profile, error)
	UpdateRoles(ctx context.Context, id string, op string, role string) (*models.Profile, error)
	// Exists reports whether an active profile with the id exists.
	// Deactivated profiles are treated as absent.
	Exists(ctx context.Context, id string) (bool, error)
}

type mongoRepository struct {
	store *database.Store
}

// NewRepository creates the document-store backed profile repository.
func NewRepository(store *database.Store) Repository {
	return &mongoRepository{store: store}
}

func (r *mongoRepository) Insert(ctx context.Context, p *models.Profile) (string, error) {
	p.ID = primitive.NewObjectID().Hex()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	if _, err := r.store.Profiles().InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", duplicateError(err, p)
		}
		return "", fmt.Errorf("failed to insert profile: %w", err)
	}
	return p.ID, nil
}

func (r *mongoRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	err := r.store.Profiles().FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, services.NewNotFound("profile", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", id, err)
	}
	return &p, nil
}

func (r *mongoRepository) FindByIdentifier(ctx context.Context, identifier string) (*models.Profile, error) {
	filter := bson.M{"$or": []bson.M{
		{"_id": identifier},
		{"user_id": identifier},
		{"external_id": identifier},
		{"whatsapp_id": identifier},
		{"email": identifier},
	}}

	var p models.Profile
	err := r.store.Profiles().FindOne(ctx, filter).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, services.NewNotFound("profile", identifier)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile %s: %w", identifier, err)
	}
	return &p, nil
}

func (r *mongoRepository) Update(ctx context.Context, id string, set bson.M) (*models.Profile, error) {
	set["updated_at"] = time.Now().UTC()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var p models.Profile
	err := r.store.Profiles().FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, services.NewNotFound("profile", id)
	}
	if mongo.IsDuplicateKeyError(err) {
		return nil, duplicateError(err, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update profile %s: %w", id, err)
	}
	return &p, nil
}

func (r *mongoRepository) UpdateRoles(ctx context.Context, id string, op string, role string) (*models.Profile, error) {
	var update bson.M
	switch op {
	case "add":
		update = bson.M{
			"$addToSet": bson.M{"roles": role},
			"$set":      bson.M{"updated_at": time.Now().UTC()},
		}
	case "remove":
		update = bson.M{
			"$pull": bson.M{"roles": role},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		}
	default:
		return nil, fmt.Errorf("unknown role operation %q", op)
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var p models.Profile
	err := r.store.Profiles().FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, services.NewNotFound("profile", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update roles on profile %s: %w", id, err)
	}
	return &p, nil
}

func (r *mongoRepository) Exists(ctx context.Context, id string) (bool, error) {
	count, err := r.store.Profiles().CountDocuments(ctx, bson.M{"_id": id, "active": true}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check profile %s: %w", id, err)
	}
	return count > 0, nil
}

// duplicateError extracts which unique field collided from the index name
// in the server error.
func duplicateError(err error, p *models.Profile) error {
	msg := err.Error()
	for _, field := range []string{"email", "whatsapp_id", "user_id"} {
		if strings.Contains(msg, field) {
			value := ""
			if p != nil {
				switch field {
				case "email":
					value = p.Email
				case "whatsapp_id":
					value = p.WhatsappID
				case "user_id":
					value = p.UserID
				}
			}
			return &services.DuplicateProfileError{Field: field, Value: value}
		}
	}
	return &services.DuplicateProfileError{Field: "identifier"}
}
