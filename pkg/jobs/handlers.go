// Package jobs implements the durable task handlers run by the worker:
// post-sale banking sync, delivery initiation and courier assignment.
// External integrations are opaque here; handlers log the hand-off and
// record the resulting state.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agentos-labs/agentos/pkg/models"
	"github.com/agentos-labs/agentos/pkg/services"
	"github.com/agentos-labs/agentos/pkg/services/delivery"
	"github.com/agentos-labs/agentos/pkg/tasks"
)

// saleService is the slice of the sale service the handlers need.
type saleService interface {
	GetSaleStatus(ctx context.Context, id string) (*models.Sale, error)
	LinkDelivery(ctx context.Context, saleID, deliveryID string) error
	MarkPaymentSynced(ctx context.Context, saleID string) error
}

// deliveryService is the slice of the delivery service the handlers need.
type deliveryService interface {
	CreateDelivery(ctx context.Context, in delivery.CreateDeliveryInput) (*models.Delivery, error)
	GetDelivery(ctx context.Context, id string) (*models.Delivery, error)
	GetDeliveryBySale(ctx context.Context, saleID string) (*models.Delivery, error)
}

// taskDispatcher enqueues follow-up tasks.
type taskDispatcher interface {
	Enqueue(ctx context.Context, queue, task string, args map[string]any) error
}

// Handlers holds the task handler set.
type Handlers struct {
	sales      saleService
	deliveries deliveryService
	dispatcher taskDispatcher
}

// NewHandlers creates the handler set.
func NewHandlers(sales saleService, deliveries deliveryService, dispatcher taskDispatcher) *Handlers {
	return &Handlers{sales: sales, deliveries: deliveries, dispatcher: dispatcher}
}

// Register binds every handler to its task name.
func (h *Handlers) Register(w *tasks.Worker) {
	w.Register(tasks.TaskSyncBanking, h.SyncBanking)
	w.Register(tasks.TaskInitiateDelivery, h.InitiateDelivery)
	w.Register(tasks.TaskAssignCourier, h.AssignCourier)
}

// SyncBanking hands a committed sale to the banking integration and marks
// its payment status. Idempotent; a vanished sale is dropped, not retried.
func (h *Handlers) SyncBanking(ctx context.Context, msg tasks.Message) error {
	saleID, err := stringArg(msg, "sale_id")
	if err != nil {
		slog.Error("Dropping banking sync with bad args", "error", err)
		return nil
	}

	if err := h.sales.MarkPaymentSynced(ctx, saleID); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			slog.Warn("Banking sync for unknown sale, dropping", "sale_id", saleID)
			return nil
		}
		return err
	}

	slog.Info("Sale handed to banking integration", "sale_id", saleID)
	return nil
}

// InitiateDelivery opens the delivery session for a sale and queues courier
// assignment. Sales without a delivery address are digital-only and skipped.
// Safe to re-run: an existing delivery is linked instead of duplicated.
func (h *Handlers) InitiateDelivery(ctx context.Context, msg tasks.Message) error {
	saleID, err := stringArg(msg, "sale_id")
	if err != nil {
		slog.Error("Dropping delivery initiation with bad args", "error", err)
		return nil
	}

	sale, err := h.sales.GetSaleStatus(ctx, saleID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			slog.Warn("Delivery initiation for unknown sale, dropping", "sale_id", saleID)
			return nil
		}
		return err
	}
	if sale.DeliveryID != "" {
		return nil
	}
	if sale.DeliveryAddress == "" {
		slog.Info("Sale has no delivery address, skipping delivery", "sale_id", saleID)
		return nil
	}

	d, err := h.deliveries.GetDeliveryBySale(ctx, saleID)
	if errors.Is(err, services.ErrNotFound) {
		d, err = h.deliveries.CreateDelivery(ctx, delivery.CreateDeliveryInput{
			SaleID:          sale.ID,
			ClientProfileID: sale.ClientID,
			Items:           deliveryItems(sale),
			DeliveryAddress: sale.DeliveryAddress,
		})
		if errors.Is(err, services.ErrValidation) {
			slog.Error("Sale cannot produce a valid delivery, dropping",
				"sale_id", saleID, "error", err)
			return nil
		}
	}
	if err != nil {
		return err
	}

	if err := h.sales.LinkDelivery(ctx, sale.ID, d.ID); err != nil {
		return err
	}

	if err := h.dispatcher.Enqueue(ctx, tasks.QueueDelivery, tasks.TaskAssignCourier,
		map[string]any{"delivery_id": d.ID}); err != nil {
		slog.Warn("Failed to enqueue courier assignment",
			"delivery_id", d.ID, "error", err)
	}

	slog.Info("Delivery initiated", "sale_id", saleID, "delivery_id", d.ID)
	return nil
}

// AssignCourier requests courier dispatch for a pending delivery. The
// selection itself lives in the external fleet integration; the delivery
// stays in pending_assignment until a dispatcher or the fleet answers.
func (h *Handlers) AssignCourier(ctx context.Context, msg tasks.Message) error {
	deliveryID, err := stringArg(msg, "delivery_id")
	if err != nil {
		slog.Error("Dropping courier assignment with bad args", "error", err)
		return nil
	}

	d, err := h.deliveries.GetDelivery(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			slog.Warn("Courier assignment for unknown delivery, dropping", "delivery_id", deliveryID)
			return nil
		}
		return err
	}
	if d.CourierProfileID != "" || d.CurrentStatus != models.DeliveryPendingAssignment {
		return nil
	}

	slog.Info("Courier dispatch requested",
		"delivery_id", d.ID, "delivery_address", d.DeliveryAddress)
	return nil
}

func deliveryItems(sale *models.Sale) []models.DeliveryItem {
	items := make([]models.DeliveryItem, 0, len(sale.Items))
	for _, it := range sale.Items {
		items = append(items, models.DeliveryItem{SKU: it.SKU, Name: it.Name, Quantity: it.Quantity})
	}
	return items
}

func stringArg(msg tasks.Message, key string) (string, error) {
	v, ok := msg.Args[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("task %s: missing %s argument", msg.Task, key)
	}
	return v, nil
}
