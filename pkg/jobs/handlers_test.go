package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos-labs/agentos/pkg/models"
	"github.com/agentos-labs/agentos/pkg/services"
	"github.com/agentos-labs/agentos/pkg/services/delivery"
	"github.com/agentos-labs/agentos/pkg/tasks"
)

type fakeSales struct {
	sales   map[string]*models.Sale
	syncErr error
}

func (f *fakeSales) GetSaleStatus(_ context.Context, id string) (*models.Sale, error) {
	s, ok := f.sales[id]
	if !ok {
		return nil, services.NewNotFound("sale", id)
	}
	return s, nil
}

func (f *fakeSales) LinkDelivery(_ context.Context, saleID, deliveryID string) error {
	s, ok := f.sales[saleID]
	if !ok {
		return services.NewNotFound("sale", saleID)
	}
	s.DeliveryID = deliveryID
	return nil
}

func (f *fakeSales) MarkPaymentSynced(_ context.Context, id string) error {
	if f.syncErr != nil {
		return f.syncErr
	}
	s, ok := f.sales[id]
	if !ok {
		return services.NewNotFound("sale", id)
	}
	s.PaymentStatus = "synced"
	return nil
}

type fakeDeliveries struct {
	deliveries map[string]*models.Delivery
	created    int
}

func (f *fakeDeliveries) CreateDelivery(_ context.Context, in delivery.CreateDeliveryInput) (*models.Delivery, error) {
	if in.DeliveryAddress == "" {
		return nil, services.NewValidation("delivery_address is required", nil)
	}
	f.created++
	d := &models.Delivery{
		ID:              "dlv-1",
		SaleID:          in.SaleID,
		ClientProfileID: in.ClientProfileID,
		Items:           in.Items,
		DeliveryAddress: in.DeliveryAddress,
		CurrentStatus:   models.DeliveryPendingAssignment,
	}
	f.deliveries[d.ID] = d
	return d, nil
}

func (f *fakeDeliveries) GetDelivery(_ context.Context, id string) (*models.Delivery, error) {
	d, ok := f.deliveries[id]
	if !ok {
		return nil, services.NewNotFound("delivery", id)
	}
	return d, nil
}

func (f *fakeDeliveries) GetDeliveryBySale(_ context.Context, saleID string) (*models.Delivery, error) {
	for _, d := range f.deliveries {
		if d.SaleID == saleID {
			return d, nil
		}
	}
	return nil, services.NewNotFound("delivery", saleID)
}

type fakeDispatcher struct {
	enqueued []string
	fail     bool
}

func (f *fakeDispatcher) Enqueue(_ context.Context, queue, task string, _ map[string]any) error {
	if f.fail {
		return assert.AnError
	}
	f.enqueued = append(f.enqueued, queue+"/"+task)
	return nil
}

func newHandlerFixture() (*Handlers, *fakeSales, *fakeDeliveries, *fakeDispatcher) {
	sales := &fakeSales{sales: map[string]*models.Sale{}}
	deliveries := &fakeDeliveries{deliveries: map[string]*models.Delivery{}}
	dispatcher := &fakeDispatcher{}
	return NewHandlers(sales, deliveries, dispatcher), sales, deliveries, dispatcher
}

func saleFixture(id string) *models.Sale {
	return &models.Sale{
		ID:              id,
		ClientID:        "client-1",
		Items:           []models.SaleItem{{SKU: "SKU-1", Name: "Widget", Quantity: 2}},
		DeliveryAddress: "42 Harbor St",
		PaymentStatus:   "pending",
	}
}

func msg(task string, args map[string]any) tasks.Message {
	return tasks.Message{Task: task, Args: args}
}

func TestSyncBankingMarksSale(t *testing.T) {
	h, sales, _, _ := newHandlerFixture()
	sales.sales["sale-1"] = saleFixture("sale-1")

	err := h.SyncBanking(context.Background(), msg(tasks.TaskSyncBanking, map[string]any{"sale_id": "sale-1"}))

	require.NoError(t, err)
	assert.Equal(t, "synced", sales.sales["sale-1"].PaymentStatus)
}

func TestSyncBankingDropsUnknownSale(t *testing.T) {
	h, _, _, _ := newHandlerFixture()

	err := h.SyncBanking(context.Background(), msg(tasks.TaskSyncBanking, map[string]any{"sale_id": "ghost"}))

	assert.NoError(t, err)
}

func TestSyncBankingDropsBadArgs(t *testing.T) {
	h, _, _, _ := newHandlerFixture()

	err := h.SyncBanking(context.Background(), msg(tasks.TaskSyncBanking, map[string]any{}))

	assert.NoError(t, err)
}

func TestSyncBankingRetriesOnStoreError(t *testing.T) {
	h, sales, _, _ := newHandlerFixture()
	sales.syncErr = assert.AnError

	err := h.SyncBanking(context.Background(), msg(tasks.TaskSyncBanking, map[string]any{"sale_id": "sale-1"}))

	assert.Error(t, err)
}

func TestInitiateDeliveryCreatesAndLinks(t *testing.T) {
	h, sales, deliveries, dispatcher := newHandlerFixture()
	sales.sales["sale-1"] = saleFixture("sale-1")

	err := h.InitiateDelivery(context.Background(), msg(tasks.TaskInitiateDelivery, map[string]any{"sale_id": "sale-1"}))

	require.NoError(t, err)
	assert.Equal(t, 1, deliveries.created)
	assert.Equal(t, "dlv-1", sales.sales["sale-1"].DeliveryID)

	d := deliveries.deliveries["dlv-1"]
	require.Len(t, d.Items, 1)
	assert.Equal(t, "SKU-1", d.Items[0].SKU)
	assert.Equal(t, 2, d.Items[0].Quantity)
	assert.Equal(t, "42 Harbor St", d.DeliveryAddress)

	assert.Equal(t, []string{tasks.QueueDelivery + "/" + tasks.TaskAssignCourier}, dispatcher.enqueued)
}

func TestInitiateDeliverySkipsLinkedSale(t *testing.T) {
	h, sales, deliveries, _ := newHandlerFixture()
	sale := saleFixture("sale-1")
	sale.DeliveryID = "dlv-9"
	sales.sales["sale-1"] = sale

	err := h.InitiateDelivery(context.Background(), msg(tasks.TaskInitiateDelivery, map[string]any{"sale_id": "sale-1"}))

	require.NoError(t, err)
	assert.Zero(t, deliveries.created)
}

func TestInitiateDeliverySkipsDigitalSale(t *testing.T) {
	h, sales, deliveries, _ := newHandlerFixture()
	sale := saleFixture("sale-1")
	sale.DeliveryAddress = ""
	sales.sales["sale-1"] = sale

	err := h.InitiateDelivery(context.Background(), msg(tasks.TaskInitiateDelivery, map[string]any{"sale_id": "sale-1"}))

	require.NoError(t, err)
	assert.Zero(t, deliveries.created)
}

func TestInitiateDeliveryRelinksExisting(t *testing.T) {
	h, sales, deliveries, _ := newHandlerFixture()
	sales.sales["sale-1"] = saleFixture("sale-1")
	deliveries.deliveries["dlv-7"] = &models.Delivery{ID: "dlv-7", SaleID: "sale-1"}

	err := h.InitiateDelivery(context.Background(), msg(tasks.TaskInitiateDelivery, map[string]any{"sale_id": "sale-1"}))

	require.NoError(t, err)
	assert.Zero(t, deliveries.created)
	assert.Equal(t, "dlv-7", sales.sales["sale-1"].DeliveryID)
}

func TestInitiateDeliverySurvivesEnqueueFailure(t *testing.T) {
	h, sales, _, dispatcher := newHandlerFixture()
	sales.sales["sale-1"] = saleFixture("sale-1")
	dispatcher.fail = true

	err := h.InitiateDelivery(context.Background(), msg(tasks.TaskInitiateDelivery, map[string]any{"sale_id": "sale-1"}))

	assert.NoError(t, err)
	assert.Equal(t, "dlv-1", sales.sales["sale-1"].DeliveryID)
}

func TestInitiateDeliveryDropsUnknownSale(t *testing.T) {
	h, _, deliveries, _ := newHandlerFixture()

	err := h.InitiateDelivery(context.Background(), msg(tasks.TaskInitiateDelivery, map[string]any{"sale_id": "ghost"}))

	assert.NoError(t, err)
	assert.Zero(t, deliveries.created)
}

func TestAssignCourierNoopsWhenAlreadyAssigned(t *testing.T) {
	h, _, deliveries, _ := newHandlerFixture()
	deliveries.deliveries["dlv-1"] = &models.Delivery{
		ID:               "dlv-1",
		CourierProfileID: "courier-1",
		CurrentStatus:    models.DeliveryAssigned,
	}

	err := h.AssignCourier(context.Background(), msg(tasks.TaskAssignCourier, map[string]any{"delivery_id": "dlv-1"}))

	assert.NoError(t, err)
}

func TestAssignCourierDropsUnknownDelivery(t *testing.T) {
	h, _, _, _ := newHandlerFixture()

	err := h.AssignCourier(context.Background(), msg(tasks.TaskAssignCourier, map[string]any{"delivery_id": "ghost"}))

	assert.NoError(t, err)
}

func TestAssignCourierRequestsDispatchForPending(t *testing.T) {
	h, _, deliveries, _ := newHandlerFixture()
	deliveries.deliveries["dlv-1"] = &models.Delivery{
		ID:            "dlv-1",
		CurrentStatus: models.DeliveryPendingAssignment,
	}

	err := h.AssignCourier(context.Background(), msg(tasks.TaskAssignCourier, map[string]any{"delivery_id": "dlv-1"}))

	assert.NoError(t, err)
}
