package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentos-labs/agentos/pkg/auth"
	"github.com/agentos-labs/agentos/pkg/models"
	"github.com/agentos-labs/agentos/pkg/services"
	"github.com/agentos-labs/agentos/pkg/trace"
)

// RoleCourier is the role required for courier-only transitions.
const RoleCourier = "courier"

// courierOnlyStatuses may only be set by the assigned courier.
var courierOnlyStatuses = map[models.DeliveryStatus]bool{
	models.DeliveryDelivered:     true,
	models.DeliveryFailedAttempt: true,
}

// eventPublisher is the slice of events.Publisher the service needs.
type eventPublisher interface {
	Publish(ctx context.Context, event models.Event)
}

// Service is the delivery domain service.
type Service struct {
	repo          Repository
	publisher     eventPublisher
	retentionDays int
}

// NewService creates the delivery service.
func NewService(repo Repository, publisher eventPublisher, retentionDays int) *Service {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Service{repo: repo, publisher: publisher, retentionDays: retentionDays}
}

// CreateDeliveryInput is the request to open a delivery session.
type CreateDeliveryInput struct {
	SaleID          string
	ClientProfileID string
	Items           []models.DeliveryItem
	PickupAddress   string
	DeliveryAddress string
}

// CreateDelivery opens a delivery in pending_assignment with its initial
// tracking entry.
func (s *Service) CreateDelivery(ctx context.Context, in CreateDeliveryInput) (*models.Delivery, error) {
	fields := map[string]string{}
	if in.SaleID == "" {
		fields["sale_id"] = "required"
	}
	if in.ClientProfileID == "" {
		fields["client_profile_id"] = "required"
	}
	if in.DeliveryAddress == "" {
		fields["delivery_address"] = "required"
	}
	if len(fields) > 0 {
		return nil, services.NewValidation("invalid delivery request", fields)
	}

	now := time.Now().UTC()
	d := &models.Delivery{
		SaleID:          in.SaleID,
		ClientProfileID: in.ClientProfileID,
		Items:           in.Items,
		PickupAddress:   in.PickupAddress,
		DeliveryAddress: in.DeliveryAddress,
		CurrentStatus:   models.DeliveryPendingAssignment,
		TrackingHistory: []models.TrackingEvent{{
			At:          now,
			Status:      models.DeliveryPendingAssignment,
			Description: "delivery created",
		}},
	}

	id, err := s.repo.Insert(ctx, d)
	if err != nil {
		return nil, err
	}
	d.ID = id

	slog.Info("Delivery created", "delivery_id", id, "sale_id", in.SaleID)
	s.emitStatusChanged(ctx, d)
	return d, nil
}

// GetDelivery loads a delivery by id.
func (s *Service) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	if id == "" {
		return nil, services.NewValidation("delivery_id is required", nil)
	}
	return s.repo.GetByID(ctx, id)
}

// GetDeliveryBySale loads the delivery opened for a sale.
func (s *Service) GetDeliveryBySale(ctx context.Context, saleID string) (*models.Delivery, error) {
	return s.repo.GetBySaleID(ctx, saleID)
}

// AssignCourier binds a courier to a pending delivery and moves it to
// assigned.
func (s *Service) AssignCourier(ctx context.Context, id, courierID string) (*models.Delivery, error) {
	if courierID == "" {
		return nil, services.NewValidation("courier_profile_id is required", nil)
	}

	event := models.TrackingEvent{
		At:          time.Now().UTC(),
		Status:      models.DeliveryAssigned,
		Description: fmt.Sprintf("courier %s assigned", courierID),
		ActorID:     actorID(ctx),
	}
	d, err := s.repo.AssignCourier(ctx, id, courierID, event)
	if err != nil {
		return nil, err
	}

	slog.Info("Courier assigned", "delivery_id", id, "courier_id", courierID)
	s.emitStatusChanged(ctx, d)
	return d, nil
}

// UpdateStatusInput is one requested state-machine transition.
type UpdateStatusInput struct {
	DeliveryID  string
	Status      models.DeliveryStatus
	Description string
	Location    *models.Location
}

// UpdateStatus applies one transition, enforcing the state machine and the
// courier-only rules, then emits delivery.status_changed.
func (s *Service) UpdateStatus(ctx context.Context, in UpdateStatusInput) (*models.Delivery, error) {
	current, err := s.repo.GetByID(ctx, in.DeliveryID)
	if err != nil {
		return nil, err
	}

	if !current.CurrentStatus.CanTransition(in.Status) {
		return nil, &services.InvalidTransitionError{
			From: string(current.CurrentStatus),
			To:   string(in.Status),
		}
	}
	if courierOnlyStatuses[in.Status] {
		if err := requireAssignedCourier(ctx, current); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	event := models.TrackingEvent{
		At:          now,
		Status:      in.Status,
		Description: in.Description,
		Location:    in.Location,
		ActorID:     actorID(ctx),
	}

	var expireAt *time.Time
	if in.Status.Terminal() {
		t := now.AddDate(0, 0, s.retentionDays)
		expireAt = &t
	}

	d, err := s.repo.ApplyTransition(ctx, in.DeliveryID, current.CurrentStatus, in.Status, event, in.Location, expireAt)
	if err != nil {
		return nil, err
	}

	slog.Info("Delivery status changed",
		"delivery_id", d.ID, "from", current.CurrentStatus, "to", in.Status)
	s.emitStatusChanged(ctx, d)
	return d, nil
}

// UpdateLocation records a courier position without changing status and
// emits delivery.location_update.
func (s *Service) UpdateLocation(ctx context.Context, id string, loc models.Location, description string) (*models.Delivery, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireAssignedCourier(ctx, current); err != nil {
		return nil, err
	}
	if current.CurrentStatus.Terminal() {
		return nil, &services.InvalidTransitionError{
			From: string(current.CurrentStatus),
			To:   "location_update",
		}
	}

	event := models.TrackingEvent{
		At:          time.Now().UTC(),
		Status:      current.CurrentStatus,
		Description: description,
		Location:    &loc,
		ActorID:     actorID(ctx),
	}
	d, err := s.repo.SetLocation(ctx, id, event, loc)
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, models.Event{
		Channel:   "delivery.location_update",
		Target:    models.TargetUser,
		TargetID:  d.ClientProfileID,
		EventType: "delivery.location_update",
		TraceID:   trace.ID(ctx),
		Data: map[string]any{
			"delivery_id": d.ID,
			"latitude":    loc.Latitude,
			"longitude":   loc.Longitude,
			"description": loc.Description,
		},
	})
	return d, nil
}

// PurgeExpired removes terminal deliveries past retention. Returns the
// purge count.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, time.Now().UTC())
}

func (s *Service) emitStatusChanged(ctx context.Context, d *models.Delivery) {
	s.publisher.Publish(ctx, models.Event{
		Channel:   "delivery.status_changed",
		Target:    models.TargetUser,
		TargetID:  d.ClientProfileID,
		EventType: "delivery.status_changed",
		TraceID:   trace.ID(ctx),
		Data: map[string]any{
			"delivery_id": d.ID,
			"sale_id":     d.SaleID,
			"status":      string(d.CurrentStatus),
		},
	})
}

// requireAssignedCourier enforces that the caller is the courier bound to
// the delivery.
func requireAssignedCourier(ctx context.Context, d *models.Delivery) error {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return fmt.Errorf("courier identity required: %w", services.ErrForbidden)
	}
	if !p.HasRole(RoleCourier) || d.CourierProfileID == "" || p.ID != d.CourierProfileID {
		return fmt.Errorf("only the assigned courier may perform this action: %w", services.ErrForbidden)
	}
	return nil
}

func actorID(ctx context.Context) string {
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		return p.ID
	}
	return ""
}
