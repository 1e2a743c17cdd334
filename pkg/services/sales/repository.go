// Package sales implements the transactional sale orchestrator: duplicate
// and idempotency guards, optimistic stock allocation and the post-commit
// fan-out to events, tasks and audit.
package sales

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
	"github.com/agentos-labs/agentos/pkg/services/products"
)

// ErrIdempotencyConflict reports an insert that raced another request with
// the same idempotency key.
var ErrIdempotencyConflict = errors.New("idempotency key conflict")

// Allocation is one conditional stock decrement bound to a sale creation.
// ObservedStock is carried for error reporting only; the decrement is
// guarded by ObservedVersion.
type Allocation struct {
	SKU             string
	Quantity        int
	ObservedVersion int64
	ObservedStock   int
}

// Repository is the sale persistence surface.
type Repository interface {
	// CreateWithAllocations inserts the sale and applies every stock
	// allocation in one transaction. Returns
	// products.ErrVersionConflict when any allocation lost its race and
	// ErrIdempotencyConflict when the idempotency index rejected the
	// insert.
	CreateWithAllocations(ctx context.Context, sale *models.Sale, allocs []Allocation) error
	GetByID(ctx context.Context, id string) (*models.Sale, error)
	FindByIdempotencyKey(ctx context.Context, clientID, key string) (*models.Sale, error)
	// ListByAgentClientSince lists the sales of one (agent, client) pair
	// created at or after since. Feeds the duplicate-sale window.
	ListByAgentClientSince(ctx context.Context, agentID, clientID string, since time.Time) ([]models.Sale, error)
	ListRecentByClient(ctx context.Context, clientID string, limit int64) ([]models.Sale, error)
	// AppendStatus transitions the sale and appends the history entry
	// atomically.
	AppendStatus(ctx context.Context, id string, status models.SaleStatus, entry models.SaleStatusEntry) (*models.Sale, error)
	SetDeliveryID(ctx context.Context, id, deliveryID string) error
	SetPaymentStatus(ctx context.Context, id, paymentStatus string) error
}

type mongoRepository struct {
	store    *database.Store
	products products.Repository
}

// NewRepository creates the document-store backed sale repository.
func NewRepository(store *database.Store, productsRepo products.Repository) Repository {
	return &mongoRepository{store: store, products: productsRepo}
}

func (r *mongoRepository) CreateWithAllocations(ctx context.Context, sale *models.Sale, allocs []Allocation) error {
	if sale.ID == "" {
		sale.ID = primitive.NewObjectID().Hex()
	}

	_, err := r.store.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		for _, a := range allocs {
			if err := r.products.AllocateStock(sc, a.SKU, a.Quantity, a.ObservedVersion); err != nil {
				return nil, err
			}
		}
		if _, err := r.store.Sales().InsertOne(sc, sale); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, ErrIdempotencyConflict
			}
			return nil, fmt.Errorf("failed to insert sale: %w", err)
		}
		return nil, nil
	})
	return err
}

func (r *mongoRepository) GetByID(ctx context.Context, id string) (*models.Sale, error) {
	var s models.Sale
	err := r.store.Sales().FindOne(ctx, bson.M{"_id": id}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, services.NewNotFound("sale", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sale %s: %w", id, err)
	}
	return &s, nil
}

func (r *mongoRepository) FindByIdempotencyKey(ctx context.Context, clientID, key string) (*models.Sale, error) {
	var s models.Sale
	err := r.store.Sales().FindOne(ctx, bson.M{"client_id": clientID, "idempotency_key": key}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, services.NewNotFound("sale", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return &s, nil
}

func (r *mongoRepository) ListByAgentClientSince(ctx context.Context, agentID, clientID string, since time.Time) ([]models.Sale, error) {
	cursor, err := r.store.Sales().Find(ctx, bson.M{
		"agent_id":   agentID,
		"client_id":  clientID,
		"created_at": bson.M{"$gte": since},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.Sale
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode sales: %w", err)
	}
	return out, nil
}

func (r *mongoRepository) ListRecentByClient(ctx context.Context, clientID string, limit int64) ([]models.Sale, error) {
	if limit <= 0 {
		limit = 10
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cursor, err := r.store.Sales().Find(ctx, bson.M{"client_id": clientID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent sales: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.Sale
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode sales: %w", err)
	}
	return out, nil
}

func (r *mongoRepository) AppendStatus(ctx context.Context, id string, status models.SaleStatus, entry models.SaleStatusEntry) (*models.Sale, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var s models.Sale
	err := r.store.Sales().FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{
		"$set":  bson.M{"status": status, "updated_at": time.Now().UTC()},
		"$push": bson.M{"status_history": entry},
	}, opts).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, services.NewNotFound("sale", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update sale %s status: %w", id, err)
	}
	return &s, nil
}

func (r *mongoRepository) SetDeliveryID(ctx context.Context, id, deliveryID string) error {
	res, err := r.store.Sales().UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"delivery_id": deliveryID, "updated_at": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("failed to link delivery to sale %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return services.NewNotFound("sale", id)
	}
	return nil
}

func (r *mongoRepository) SetPaymentStatus(ctx context.Context, id, paymentStatus string) error {
	res, err := r.store.Sales().UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"payment_status": paymentStatus, "updated_at": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("failed to set payment status on sale %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return services.NewNotFound("sale", id)
	}
	return nil
}
