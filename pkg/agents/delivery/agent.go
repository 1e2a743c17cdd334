// Package delivery exposes the delivery lifecycle and courier chat as
// gateway actions.
package delivery

import (
	"context"
	"time"

	"github.com/agentos-labs/agentos/pkg/agent"
	"github.com/agentos-labs/agentos/pkg/auth"
	"github.com/agentos-labs/agentos/pkg/memory"
	"github.com/agentos-labs/agentos/pkg/models"
	deliverysvc "github.com/agentos-labs/agentos/pkg/services/delivery"
	"github.com/agentos-labs/agentos/pkg/trace"
)

// eventPublisher is the slice of events.Publisher the chat action needs.
type eventPublisher interface {
	Publish(ctx context.Context, event models.Event)
}

// Agent is the delivery agent.
type Agent struct {
	svc       *deliverysvc.Service
	memory    *memory.Service
	publisher eventPublisher
}

// New creates the delivery agent.
func New(svc *deliverysvc.Service, mem *memory.Service, publisher eventPublisher) *Agent {
	return &Agent{svc: svc, memory: mem, publisher: publisher}
}

func (a *Agent) Name() string        { return "agentos_delivery" }
func (a *Agent) Description() string { return "Delivery lifecycle, tracking and chat" }

func (a *Agent) Actions() []agent.Action {
	id := map[string]any{"type": "string", "minLength": 1}
	location := map[string]any{
		"type":     "object",
		"required": []any{"latitude", "longitude"},
		"properties": map[string]any{
			"latitude":    map[string]any{"type": "number", "minimum": -90, "maximum": 90},
			"longitude":   map[string]any{"type": "number", "minimum": -180, "maximum": 180},
			"description": map[string]any{"type": "string"},
		},
	}

	return []agent.Action{
		{
			Name:        "create_delivery",
			Description: "Open a delivery session for a sale",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"sale_id", "client_profile_id", "delivery_address"},
				"properties": map[string]any{
					"sale_id":           id,
					"client_profile_id": id,
					"pickup_address":    map[string]any{"type": "string"},
					"delivery_address":  map[string]any{"type": "string", "minLength": 1},
					"items": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type":     "object",
							"required": []any{"sku", "quantity"},
							"properties": map[string]any{
								"sku":      map[string]any{"type": "string"},
								"name":     map[string]any{"type": "string"},
								"quantity": map[string]any{"type": "integer", "minimum": 1},
							},
						},
					},
				},
			},
			Handler: a.createDelivery,
		},
		{
			Name:        "get_delivery",
			Description: "Load a delivery with its tracking history",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"delivery_id"},
				"properties": map[string]any{
					"delivery_id": id,
				},
			},
			Handler: a.getDelivery,
		},
		{
			Name:          "assign_courier",
			Description:   "Assign a courier to a pending delivery",
			RequiredRoles: []string{"admin", "dispatcher"},
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"delivery_id", "courier_profile_id"},
				"properties": map[string]any{
					"delivery_id":        id,
					"courier_profile_id": id,
				},
			},
			Handler: a.assignCourier,
		},
		{
			Name:        "update_status",
			Description: "Apply one delivery state-machine transition",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"delivery_id", "status"},
				"properties": map[string]any{
					"delivery_id": id,
					"status": map[string]any{
						"type": "string",
						"enum": []any{
							"assigned", "picking_up", "in_transit", "near_destination",
							"delivered", "failed_attempt", "failed_delivery", "cancelled", "returned",
						},
					},
					"description": map[string]any{"type": "string"},
					"location":    location,
				},
			},
			Handler: a.updateStatus,
		},
		{
			Name:          "update_location",
			Description:   "Record the courier's position",
			RequiredRoles: []string{deliverysvc.RoleCourier},
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"delivery_id", "location"},
				"properties": map[string]any{
					"delivery_id": id,
					"location":    location,
					"description": map[string]any{"type": "string"},
				},
			},
			Handler: a.updateLocation,
		},
		{
			Name:        "chat",
			Description: "Send a message on the delivery chat",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"chat_id", "content"},
				"properties": map[string]any{
					"chat_id": id,
					"content": map[string]any{"type": "string", "minLength": 1},
				},
			},
			Handler: a.chat,
		},
		{
			Name:        "chat_history",
			Description: "Read the recent delivery chat messages",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"chat_id"},
				"properties": map[string]any{
					"chat_id": id,
					"limit":   map[string]any{"type": "integer", "minimum": 1, "maximum": 100},
				},
			},
			Handler: a.chatHistory,
		},
	}
}

type createDeliveryParams struct {
	SaleID          string                `json:"sale_id"`
	ClientProfileID string                `json:"client_profile_id"`
	PickupAddress   string                `json:"pickup_address"`
	DeliveryAddress string                `json:"delivery_address"`
	Items           []models.DeliveryItem `json:"items"`
}

func (a *Agent) createDelivery(ctx context.Context, params map[string]any) (any, error) {
	var p createDeliveryParams
	if err := agent.DecodeParams(params, &p); err != nil {
		return nil, agent.NewValidationError(err.Error(), nil)
	}

	return a.svc.CreateDelivery(ctx, deliverysvc.CreateDeliveryInput{
		SaleID:          p.SaleID,
		ClientProfileID: p.ClientProfileID,
		PickupAddress:   p.PickupAddress,
		DeliveryAddress: p.DeliveryAddress,
		Items:           p.Items,
	})
}

func (a *Agent) getDelivery(ctx context.Context, params map[string]any) (any, error) {
	deliveryID, _ := params["delivery_id"].(string)
	return a.svc.GetDelivery(ctx, deliveryID)
}

func (a *Agent) assignCourier(ctx context.Context, params map[string]any) (any, error) {
	deliveryID, _ := params["delivery_id"].(string)
	courierID, _ := params["courier_profile_id"].(string)
	return a.svc.AssignCourier(ctx, deliveryID, courierID)
}

type updateStatusParams struct {
	DeliveryID  string           `json:"delivery_id"`
	Status      string           `json:"status"`
	Description string           `json:"description"`
	Location    *models.Location `json:"location"`
}

func (a *Agent) updateStatus(ctx context.Context, params map[string]any) (any, error) {
	var p updateStatusParams
	if err := agent.DecodeParams(params, &p); err != nil {
		return nil, agent.NewValidationError(err.Error(), nil)
	}

	return a.svc.UpdateStatus(ctx, deliverysvc.UpdateStatusInput{
		DeliveryID:  p.DeliveryID,
		Status:      models.DeliveryStatus(p.Status),
		Description: p.Description,
		Location:    p.Location,
	})
}

type updateLocationParams struct {
	DeliveryID  string          `json:"delivery_id"`
	Location    models.Location `json:"location"`
	Description string          `json:"description"`
}

func (a *Agent) updateLocation(ctx context.Context, params map[string]any) (any, error) {
	var p updateLocationParams
	if err := agent.DecodeParams(params, &p); err != nil {
		return nil, agent.NewValidationError(err.Error(), nil)
	}
	return a.svc.UpdateLocation(ctx, p.DeliveryID, p.Location, p.Description)
}

func (a *Agent) chat(ctx context.Context, params map[string]any) (any, error) {
	chatID, _ := params["chat_id"].(string)
	content, _ := params["content"].(string)

	senderID := ""
	if principal, ok := auth.PrincipalFromContext(ctx); ok {
		senderID = principal.ID
	}

	msg, err := a.memory.Append(ctx, models.ChatMessage{
		ChatID:   chatID,
		SenderID: senderID,
		Role:     "user",
		Content:  content,
	})
	if err != nil {
		return nil, err
	}

	a.publisher.Publish(ctx, models.Event{
		Channel:   "delivery.chat",
		Target:    models.TargetChat,
		TargetID:  chatID,
		EventType: "chat.message",
		TraceID:   trace.ID(ctx),
		Data: map[string]any{
			"chat_id":   chatID,
			"sender_id": senderID,
			"content":   content,
			"at":        msg.Timestamp.Format(time.RFC3339),
		},
	})
	return msg, nil
}

func (a *Agent) chatHistory(ctx context.Context, params map[string]any) (any, error) {
	chatID, _ := params["chat_id"].(string)
	limit, _ := params["limit"].(float64)
	return a.memory.Recent(ctx, chatID, int(limit))
}
