package products

import (
	"context"

	"github.com/agentos-labs/agentos/pkg/models"
)

// Service exposes catalog reads to the agents.
type Service struct {
	repo Repository
}

// NewService creates the catalog service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetProduct loads one product by SKU.
func (s *Service) GetProduct(ctx context.Context, sku string) (*models.Product, error) {
	return s.repo.GetBySKU(ctx, sku)
}

// ListProducts lists active products.
func (s *Service) ListProducts(ctx context.Context, limit int64) ([]models.Product, error) {
	return s.repo.ListActive(ctx, limit)
}
