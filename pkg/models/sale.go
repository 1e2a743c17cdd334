package models

import (
	"fmt"
	"time"
)

// SaleStatus is the lifecycle state of a sale.
type SaleStatus string

// Sale lifecycle states.
const (
	SaleStatusPendingPayment SaleStatus = "pending_payment"
	SaleStatusProcessing     SaleStatus = "processing"
	SaleStatusCompleted      SaleStatus = "completed"
	SaleStatusShipping       SaleStatus = "shipping"
	SaleStatusDelivered      SaleStatus = "delivered"
	SaleStatusCancelled      SaleStatus = "cancelled"
	SaleStatusRefunded       SaleStatus = "refunded"
	SaleStatusError          SaleStatus = "error"
)

// SaleAgentType identifies what kind of actor created a sale.
type SaleAgentType string

// Sale agent types.
const (
	SaleAgentHuman  SaleAgentType = "human"
	SaleAgentBot    SaleAgentType = "bot"
	SaleAgentSystem SaleAgentType = "system"
)

// SaleItem is a line item of a sale. Prices are fixed-point decimals
// serialized as strings; TotalPrice = UnitPrice * Quantity rounded
// half-away-from-zero to 2 digits.
type SaleItem struct {
	ProductID  string `bson:"product_id" json:"product_id"`
	SKU        string `bson:"sku" json:"sku"`
	Name       string `bson:"name" json:"name"`
	Quantity   int    `bson:"quantity" json:"quantity"`
	UnitPrice  string `bson:"unit_price" json:"unit_price"`
	TotalPrice string `bson:"total_price" json:"total_price"`
}

// SaleStatusEntry is one append-only status_history element.
type SaleStatusEntry struct {
	Status  SaleStatus `bson:"status" json:"status"`
	At      time.Time  `bson:"at" json:"at"`
	Actor   string     `bson:"actor" json:"actor"`
	Comment string     `bson:"comment,omitempty" json:"comment,omitempty"`
}

// Sale is the persisted sale document.
type Sale struct {
	ID              string            `bson:"_id,omitempty" json:"id"`
	ClientID        string            `bson:"client_id" json:"client_id"`
	AgentID         string            `bson:"agent_id" json:"agent_id"`
	AgentType       SaleAgentType     `bson:"agent_type" json:"agent_type"`
	Items           []SaleItem        `bson:"items" json:"items"`
	TotalAmount     string            `bson:"total_amount" json:"total_amount"`
	Currency        string            `bson:"currency" json:"currency"`
	Status          SaleStatus        `bson:"status" json:"status"`
	StatusHistory   []SaleStatusEntry `bson:"status_history" json:"status_history"`
	PaymentStatus   string            `bson:"payment_status" json:"payment_status"`
	DeliveryID      string            `bson:"delivery_id,omitempty" json:"delivery_id,omitempty"`
	DeliveryAddress string            `bson:"delivery_address,omitempty" json:"delivery_address,omitempty"`
	OriginChannel   string            `bson:"origin_channel,omitempty" json:"origin_channel,omitempty"`
	ContextualNote  string            `bson:"contextual_note,omitempty" json:"contextual_note,omitempty"`
	IdempotencyKey  string            `bson:"idempotency_key,omitempty" json:"idempotency_key,omitempty"`
	CreatedAt       time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `bson:"updated_at" json:"updated_at"`
}

// Validate enforces the structural invariants of a sale document before it
// is persisted: non-empty items, an initial status_history entry matching
// the current status, and monotonic history timestamps.
func (s *Sale) Validate() error {
	if len(s.Items) == 0 {
		return fmt.Errorf("sale must contain at least one item")
	}
	for i, it := range s.Items {
		if it.Quantity <= 0 {
			return fmt.Errorf("items[%d]: quantity must be positive", i)
		}
	}
	if len(s.StatusHistory) == 0 {
		return fmt.Errorf("status_history must contain the initial entry")
	}
	if s.StatusHistory[0].Status != s.Status && len(s.StatusHistory) == 1 {
		return fmt.Errorf("initial status_history entry %q does not match status %q",
			s.StatusHistory[0].Status, s.Status)
	}
	for i := 1; i < len(s.StatusHistory); i++ {
		if s.StatusHistory[i].At.Before(s.StatusHistory[i-1].At) {
			return fmt.Errorf("status_history is not monotonic at index %d", i)
		}
	}
	return nil
}
