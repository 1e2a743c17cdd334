// Package sales exposes the sale orchestrator as gateway actions.
package sales

import (
	"context"

	"github.com/agentos-labs/agentos/pkg/agent"
	"github.com/agentos-labs/agentos/pkg/auth"
	"github.com/agentos-labs/agentos/pkg/models"
	productsvc "github.com/agentos-labs/agentos/pkg/services/products"
	salessvc "github.com/agentos-labs/agentos/pkg/services/sales"
)

// Agent is the sales agent.
type Agent struct {
	svc     *salessvc.Service
	catalog *productsvc.Service
}

// New creates the sales agent.
func New(svc *salessvc.Service, catalog *productsvc.Service) *Agent {
	return &Agent{svc: svc, catalog: catalog}
}

func (a *Agent) Name() string        { return "agentos_sales" }
func (a *Agent) Description() string { return "Sale creation, status and history" }

func (a *Agent) Actions() []agent.Action {
	return []agent.Action{
		{
			Name:        "create_sale",
			Description: "Create a sale with stock allocation and post-sale fan-out",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"client_id", "items"},
				"properties": map[string]any{
					"client_id": map[string]any{"type": "string", "minLength": 1},
					"items": map[string]any{
						"type":     "array",
						"minItems": 1,
						"items": map[string]any{
							"type":     "object",
							"required": []any{"sku", "quantity"},
							"properties": map[string]any{
								"sku":      map[string]any{"type": "string", "minLength": 1},
								"quantity": map[string]any{"type": "integer", "minimum": 1},
							},
						},
					},
					"currency":         map[string]any{"type": "string", "minLength": 3, "maxLength": 3},
					"delivery_address": map[string]any{"type": "string"},
					"origin_channel":   map[string]any{"type": "string"},
					"contextual_note":  map[string]any{"type": "string"},
					"idempotency_key":  map[string]any{"type": "string"},
				},
			},
			Handler: a.createSale,
		},
		{
			Name:        "get_sale_status",
			Description: "Load a sale with its status history",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"sale_id"},
				"properties": map[string]any{
					"sale_id": map[string]any{"type": "string", "minLength": 1},
				},
			},
			Handler: a.getSaleStatus,
		},
		{
			Name:        "list_recent_sales",
			Description: "List a client's most recent sales",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"client_id"},
				"properties": map[string]any{
					"client_id": map[string]any{"type": "string", "minLength": 1},
					"limit":     map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
				},
			},
			Handler: a.listRecentSales,
		},
		{
			Name:        "get_product",
			Description: "Load one catalog product by SKU",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"sku"},
				"properties": map[string]any{
					"sku": map[string]any{"type": "string", "minLength": 1},
				},
			},
			Handler: a.getProduct,
		},
		{
			Name:        "list_products",
			Description: "List active catalog products",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": 100},
				},
			},
			Handler: a.listProducts,
		},
	}
}

type createSaleParams struct {
	ClientID string `json:"client_id"`
	Items    []struct {
		SKU      string `json:"sku"`
		Quantity int    `json:"quantity"`
	} `json:"items"`
	Currency        string `json:"currency"`
	DeliveryAddress string `json:"delivery_address"`
	OriginChannel   string `json:"origin_channel"`
	ContextualNote  string `json:"contextual_note"`
	IdempotencyKey  string `json:"idempotency_key"`
}

func (a *Agent) createSale(ctx context.Context, params map[string]any) (any, error) {
	var p createSaleParams
	if err := agent.DecodeParams(params, &p); err != nil {
		return nil, agent.NewValidationError(err.Error(), nil)
	}

	in := salessvc.CreateSaleInput{
		ClientID:        p.ClientID,
		AgentType:       models.SaleAgentBot,
		Currency:        p.Currency,
		DeliveryAddress: p.DeliveryAddress,
		OriginChannel:   p.OriginChannel,
		ContextualNote:  p.ContextualNote,
		IdempotencyKey:  p.IdempotencyKey,
	}
	// The acting agent id always comes from the verified principal.
	if principal, ok := auth.PrincipalFromContext(ctx); ok {
		in.AgentID = principal.ID
	}
	for _, it := range p.Items {
		in.Items = append(in.Items, salessvc.CreateSaleItem{SKU: it.SKU, Quantity: it.Quantity})
	}

	return a.svc.CreateSale(ctx, in)
}

func (a *Agent) getSaleStatus(ctx context.Context, params map[string]any) (any, error) {
	saleID, _ := params["sale_id"].(string)
	return a.svc.GetSaleStatus(ctx, saleID)
}

func (a *Agent) listRecentSales(ctx context.Context, params map[string]any) (any, error) {
	clientID, _ := params["client_id"].(string)
	limit, _ := params["limit"].(float64)
	return a.svc.ListRecentSales(ctx, clientID, int64(limit))
}

func (a *Agent) getProduct(ctx context.Context, params map[string]any) (any, error) {
	sku, _ := params["sku"].(string)
	return a.catalog.GetProduct(ctx, sku)
}

func (a *Agent) listProducts(ctx context.Context, params map[string]any) (any, error) {
	limit, _ := params["limit"].(float64)
	return a.catalog.ListProducts(ctx, int64(limit))
}
