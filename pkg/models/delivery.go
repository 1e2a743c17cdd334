package models

import "time"

// DeliveryStatus is the lifecycle state of a delivery.
type DeliveryStatus string

// Delivery lifecycle states.
const (
	DeliveryPendingAssignment DeliveryStatus = "pending_assignment"
	DeliveryAssigned          DeliveryStatus = "assigned"
	DeliveryPickingUp         DeliveryStatus = "picking_up"
	DeliveryInTransit         DeliveryStatus = "in_transit"
	DeliveryNearDestination   DeliveryStatus = "near_destination"
	DeliveryDelivered         DeliveryStatus = "delivered"
	DeliveryFailedAttempt     DeliveryStatus = "failed_attempt"
	DeliveryFailedDelivery    DeliveryStatus = "failed_delivery"
	DeliveryCancelled         DeliveryStatus = "cancelled"
	DeliveryReturned          DeliveryStatus = "returned"
)

// Terminal reports whether s permits no further transitions. Terminal
// deliveries get an expire_at for TTL-based purge. failed_delivery is not
// terminal: the goods still have to come back as returned.
func (s DeliveryStatus) Terminal() bool {
	switch s {
	case DeliveryDelivered, DeliveryCancelled, DeliveryReturned:
		return true
	}
	return false
}

// transitions is the permitted successor set per state. cancelled is
// additionally reachable from every non-terminal state.
var transitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryPendingAssignment: {DeliveryAssigned},
	DeliveryAssigned:          {DeliveryPickingUp},
	DeliveryPickingUp:         {DeliveryInTransit, DeliveryFailedAttempt},
	DeliveryFailedAttempt:     {DeliveryInTransit},
	DeliveryInTransit:         {DeliveryNearDestination},
	DeliveryNearDestination:   {DeliveryDelivered, DeliveryFailedDelivery},
	DeliveryFailedDelivery:    {DeliveryReturned},
}

// CanTransition reports whether from -> to is a permitted transition.
func (s DeliveryStatus) CanTransition(to DeliveryStatus) bool {
	if to == DeliveryCancelled {
		return !s.Terminal() && s != DeliveryCancelled
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Location is a geographic point with optional free-form description.
type Location struct {
	Latitude    float64 `bson:"latitude" json:"latitude"`
	Longitude   float64 `bson:"longitude" json:"longitude"`
	Description string  `bson:"description,omitempty" json:"description,omitempty"`
}

// TrackingEvent is one append-only tracking_history element.
type TrackingEvent struct {
	At          time.Time      `bson:"at" json:"at"`
	Status      DeliveryStatus `bson:"status" json:"status"`
	Description string         `bson:"description" json:"description"`
	Location    *Location      `bson:"location,omitempty" json:"location,omitempty"`
	ActorID     string         `bson:"actor_id,omitempty" json:"actor_id,omitempty"`
}

// DeliveryItem mirrors the sold items handed to the courier.
type DeliveryItem struct {
	SKU      string `bson:"sku" json:"sku"`
	Name     string `bson:"name" json:"name"`
	Quantity int    `bson:"quantity" json:"quantity"`
}

// Delivery is the persisted delivery session document.
type Delivery struct {
	ID               string          `bson:"_id,omitempty" json:"id"`
	SaleID           string          `bson:"sale_id" json:"sale_id"`
	ClientProfileID  string          `bson:"client_profile_id" json:"client_profile_id"`
	CourierProfileID string          `bson:"courier_profile_id,omitempty" json:"courier_profile_id,omitempty"`
	Items            []DeliveryItem  `bson:"items" json:"items"`
	PickupAddress    string          `bson:"pickup_address" json:"pickup_address"`
	DeliveryAddress  string          `bson:"delivery_address" json:"delivery_address"`
	CurrentStatus    DeliveryStatus  `bson:"current_status" json:"current_status"`
	TrackingHistory  []TrackingEvent `bson:"tracking_history" json:"tracking_history"`
	CurrentLocation  *Location       `bson:"current_location,omitempty" json:"current_location,omitempty"`
	ExpireAt         *time.Time      `bson:"expire_at,omitempty" json:"expire_at,omitempty"`
	CreatedAt        time.Time       `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `bson:"updated_at" json:"updated_at"`
}
