// Package products serves the catalog and owns the optimistic stock
// allocation primitive used by sale creation.
package products

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/agentos-labs/agentos/pkg/database"
	"github.com/agentos-labs/agentos/pkg/models"
	"github.com/agentos-labs/agentos/pkg/services"
)

// ErrVersionConflict reports a conditional stock decrement that matched no
// document because the observed version was stale.
var ErrVersionConflict = errors.New("product version conflict")

// Repository is the catalog access surface.
type Repository interface {
	GetBySKU(ctx context.Context, sku string) (*models.Product, error)
	GetManyBySKU(ctx context.Context, skus []string) (map[string]*models.Product, error)
	ListActive(ctx context.Context, limit int64) ([]models.Product, error)
	// AllocateStock decrements available stock conditionally on the
	// observed version. Returns ErrVersionConflict when the document
	// moved under the caller. Runs inside the supplied context, which
	// may be a transaction session.
	AllocateStock(ctx context.Context, sku string, quantity int, observedVersion int64) error
}

type mongoRepository struct {
	store *database.Store
}

// NewRepository creates the document-store backed catalog repository.
func NewRepository(store *database.Store) Repository {
	return &mongoRepository{store: store}
}

func (r *mongoRepository) GetBySKU(ctx context.Context, sku string) (*models.Product, error) {
	var p models.Product
	err := r.store.Products().FindOne(ctx, bson.M{"sku": sku}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, services.NewNotFound("product", sku)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product %s: %w", sku, err)
	}
	return &p, nil
}

func (r *mongoRepository) GetManyBySKU(ctx context.Context, skus []string) (map[string]*models.Product, error) {
	cursor, err := r.store.Products().Find(ctx, bson.M{"sku": bson.M{"$in": skus}})
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	defer cursor.Close(ctx)

	out := make(map[string]*models.Product, len(skus))
	for cursor.Next(ctx) {
		var p models.Product
		if err := cursor.Decode(&p); err != nil {
			return nil, fmt.Errorf("failed to decode product: %w", err)
		}
		out[p.SKU] = &p
	}
	return out, cursor.Err()
}

func (r *mongoRepository) ListActive(ctx context.Context, limit int64) ([]models.Product, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().SetLimit(limit).SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := r.store.Products().Find(ctx, bson.M{"active": true}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.Product
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode products: %w", err)
	}
	return out, nil
}

func (r *mongoRepository) AllocateStock(ctx context.Context, sku string, quantity int, observedVersion int64) error {
	res := r.store.Products().FindOneAndUpdate(ctx,
		bson.M{
			"sku":             sku,
			"version":         observedVersion,
			"available_stock": bson.M{"$gte": quantity},
		},
		bson.M{
			"$inc": bson.M{"available_stock": -quantity, "version": 1},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrVersionConflict
		}
		return fmt.Errorf("failed to allocate stock for %s: %w", sku, err)
	}
	return nil
}
