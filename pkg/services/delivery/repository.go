// Package delivery owns the delivery session lifecycle: creation from a
// sale, courier assignment and the tracking state machine.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/agentos-labs/agentos/pkg/database"
	"github.com/agentos-labs/agentos/pkg/models"
	"github.com/agentos-labs/agentos/pkg/services"
)

// Repository is the delivery persistence surface.
type Repository interface {
	Insert(ctx context.Context, d *models.Delivery) (string, error)
	GetByID(ctx context.Context, id string) (*models.Delivery, error)
	GetBySaleID(ctx context.Context, saleID string) (*models.Delivery, error)
	// ApplyTransition atomically moves the delivery from its expected
	// current status, appending the tracking event. A nil expireAt
	// leaves expire_at untouched.
	ApplyTransition(ctx context.Context, id string, from, to models.DeliveryStatus,
		event models.TrackingEvent, location *models.Location, expireAt *time.Time) (*models.Delivery, error)
	// SetLocation records a position update without a status change.
	SetLocation(ctx context.Context, id string, event models.TrackingEvent, location models.Location) (*models.Delivery, error)
	AssignCourier(ctx context.Context, id, courierID string, event models.TrackingEvent) (*models.Delivery, error)
	// DeleteExpired removes terminal deliveries whose expire_at passed.
	// Backstop for stores without TTL enforcement.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type mongoRepository struct {
	store *database.Store
}

// NewRepository creates the document-store backed delivery repository.
func NewRepository(store *database.Store) Repository {
	return &mongoRepository{store: store}
}

func (r *mongoRepository) Insert(ctx context.Context, d *models.Delivery) (string, error) {
	d.ID = primitive.NewObjectID().Hex()
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	if _, err := r.store.Deliveries().InsertOne(ctx, d); err != nil {
		return "", fmt.Errorf("failed to insert delivery: %w", err)
	}
	return d.ID, nil
}

func (r *mongoRepository) GetByID(ctx context.Context, id string) (*models.Delivery, error) {
	var d models.Delivery
	err := r.store.Deliveries().FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, services.NewNotFound("delivery", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery %s: %w", id, err)
	}
	return &d, nil
}

func (r *mongoRepository) GetBySaleID(ctx context.Context, saleID string) (*models.Delivery, error) {
	var d models.Delivery
	err := r.store.Deliveries().FindOne(ctx, bson.M{"sale_id": saleID}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, services.NewNotFound("delivery", saleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery for sale %s: %w", saleID, err)
	}
	return &d, nil
}

func (r *mongoRepository) ApplyTransition(ctx context.Context, id string, from, to models.DeliveryStatus,
	event models.TrackingEvent, location *models.Location, expireAt *time.Time) (*models.Delivery, error) {

	set := bson.M{
		"current_status": to,
		"updated_at":     event.At,
	}
	if location != nil {
		set["current_location"] = location
	}
	if expireAt != nil {
		set["expire_at"] = *expireAt
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var d models.Delivery
	err := r.store.Deliveries().FindOneAndUpdate(ctx,
		bson.M{"_id": id, "current_status": from},
		bson.M{"$set": set, "$push": bson.M{"tracking_history": event}},
		opts).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// Either the delivery is gone or its status moved under us.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, &services.InvalidTransitionError{From: string(from), To: string(to)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition delivery %s: %w", id, err)
	}
	return &d, nil
}

func (r *mongoRepository) SetLocation(ctx context.Context, id string, event models.TrackingEvent, location models.Location) (*models.Delivery, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var d models.Delivery
	err := r.store.Deliveries().FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set":  bson.M{"current_location": location, "updated_at": event.At},
			"$push": bson.M{"tracking_history": event},
		},
		opts).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, services.NewNotFound("delivery", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record location for delivery %s: %w", id, err)
	}
	return &d, nil
}

func (r *mongoRepository) AssignCourier(ctx context.Context, id, courierID string, event models.TrackingEvent) (*models.Delivery, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var d models.Delivery
	err := r.store.Deliveries().FindOneAndUpdate(ctx,
		bson.M{"_id": id, "current_status": models.DeliveryPendingAssignment},
		bson.M{
			"$set": bson.M{
				"courier_profile_id": courierID,
				"current_status":     models.DeliveryAssigned,
				"updated_at":         event.At,
			},
			"$push": bson.M{"tracking_history": event},
		},
		opts).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, &services.InvalidTransitionError{From: "(not pending_assignment)", To: string(models.DeliveryAssigned)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to assign courier on delivery %s: %w", id, err)
	}
	return &d, nil
}

func (r *mongoRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.store.Deliveries().DeleteMany(ctx, bson.M{"expire_at": bson.M{"$lte": now}})
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired deliveries: %w", err)
	}
	return res.DeletedCount, nil
}
