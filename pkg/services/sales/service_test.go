package sales

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos-labs/agentos/pkg/audit"
	"github.com/agentos-labs/agentos/pkg/auth"
	"github.com/agentos-labs/agentos/pkg/models"
	"github.com/agentos-labs/agentos/pkg/services"
	"github.com/agentos-labs/agentos/pkg/services/products"
	"github.com/agentos-labs/agentos/pkg/tasks"
)

// fakeProducts is an in-memory catalog with optional forced version
// conflicts to exercise the retry loop.
type fakeProducts struct {
	bySKU     map[string]*models.Product
	conflicts int
}

func (f *fakeProducts) GetBySKU(_ context.Context, sku string) (*models.Product, error) {
	p, ok := f.bySKU[sku]
	if !ok {
		return nil, services.NewNotFound("product", sku)
	}
	return p, nil
}

func (f *fakeProducts) GetManyBySKU(_ context.Context, skus []string) (map[string]*models.Product, error) {
	out := map[string]*models.Product{}
	for _, sku := range skus {
		if p, ok := f.bySKU[sku]; ok {
			cp := *p
			out[sku] = &cp
		}
	}
	return out, nil
}

func (f *fakeProducts) ListActive(_ context.Context, _ int64) ([]models.Product, error) {
	var out []models.Product
	for _, p := range f.bySKU {
		if p.Active {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeProducts) AllocateStock(_ context.Context, sku string, quantity int, observedVersion int64) error {
	if f.conflicts > 0 {
		f.conflicts--
		return products.ErrVersionConflict
	}
	p, ok := f.bySKU[sku]
	if !ok || p.Version != observedVersion || p.AvailableStock < quantity {
		return products.ErrVersionConflict
	}
	p.AvailableStock -= quantity
	p.Version++
	return nil
}

type fakeSaleRepo struct {
	products      *fakeProducts
	sales         map[string]*models.Sale
	nextID        int
	lastListLimit int64
}

func newFakeSaleRepo(p *fakeProducts) *fakeSaleRepo {
	return &fakeSaleRepo{products: p, sales: map[string]*models.Sale{}, nextID: 1}
}

func (f *fakeSaleRepo) CreateWithAllocations(ctx context.Context, sale *models.Sale, allocs []Allocation) error {
	for _, a := range allocs {
		if err := f.products.AllocateStock(ctx, a.SKU, a.Quantity, a.ObservedVersion); err != nil {
			return err
		}
	}
	if sale.IdempotencyKey != "" {
		for _, existing := range f.sales {
			if existing.ClientID == sale.ClientID && existing.IdempotencyKey == sale.IdempotencyKey {
				return ErrIdempotencyConflict
			}
		}
	}
	sale.ID = "s-" + string(rune('0'+f.nextID))
	f.nextID++
	cp := *sale
	f.sales[sale.ID] = &cp
	return nil
}

func (f *fakeSaleRepo) GetByID(_ context.Context, id string) (*models.Sale, error) {
	s, ok := f.sales[id]
	if !ok {
		return nil, services.NewNotFound("sale", id)
	}
	return s, nil
}

func (f *fakeSaleRepo) FindByIdempotencyKey(_ context.Context, clientID, key string) (*models.Sale, error) {
	for _, s := range f.sales {
		if s.ClientID == clientID && s.IdempotencyKey == key {
			return s, nil
		}
	}
	return nil, services.NewNotFound("sale", key)
}

func (f *fakeSaleRepo) ListByAgentClientSince(_ context.Context, agentID, clientID string, since time.Time) ([]models.Sale, error) {
	var out []models.Sale
	for _, s := range f.sales {
		if s.AgentID == agentID && s.ClientID == clientID && !s.CreatedAt.Before(since) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSaleRepo) ListRecentByClient(_ context.Context, clientID string, limit int64) ([]models.Sale, error) {
	f.lastListLimit = limit
	var out []models.Sale
	for _, s := range f.sales {
		if s.ClientID == clientID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSaleRepo) AppendStatus(_ context.Context, id string, status models.SaleStatus, entry models.SaleStatusEntry) (*models.Sale, error) {
	s, ok := f.sales[id]
	if !ok {
		return nil, services.NewNotFound("sale", id)
	}
	s.Status = status
	s.StatusHistory = append(s.StatusHistory, entry)
	return s, nil
}

func (f *fakeSaleRepo) SetDeliveryID(_ context.Context, id, deliveryID string) error {
	s, ok := f.sales[id]
	if !ok {
		return services.NewNotFound("sale", id)
	}
	s.DeliveryID = deliveryID
	return nil
}

func (f *fakeSaleRepo) SetPaymentStatus(_ context.Context, id, paymentStatus string) error {
	s, ok := f.sales[id]
	if !ok {
		return services.NewNotFound("sale", id)
	}
	s.PaymentStatus = paymentStatus
	return nil
}

// fakeClients maps profile id to active; a false entry models a known but
// deactivated client.
type fakeClients struct{ known map[string]bool }

func (f *fakeClients) Exists(_ context.Context, id string) (bool, error) { return f.known[id], nil }

type fakePublisher struct{ events []models.Event }

func (f *fakePublisher) Publish(_ context.Context, e models.Event) { f.events = append(f.events, e) }

type fakeDispatcher struct {
	enqueued []string
	fail     bool
}

func (f *fakeDispatcher) Enqueue(_ context.Context, _ string, task string, _ map[string]any) error {
	if f.fail {
		return assert.AnError
	}
	f.enqueued = append(f.enqueued, task)
	return nil
}

type fakeSink struct{ entries []audit.Entry }

func (f *fakeSink) Record(_ context.Context, e audit.Entry) { f.entries = append(f.entries, e) }

type fixture struct {
	svc        *Service
	repo       *fakeSaleRepo
	products   *fakeProducts
	publisher  *fakePublisher
	dispatcher *fakeDispatcher
	sink       *fakeSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p := &fakeProducts{bySKU: map[string]*models.Product{
		"SKU-1": {ID: "pr-1", SKU: "SKU-1", Name: "Widget", Active: true, AvailableStock: 10, StandardSellingPrice: "19.90", Version: 1},
		"SKU-2": {ID: "pr-2", SKU: "SKU-2", Name: "Gadget", Active: true, AvailableStock: 3, StandardSellingPrice: "5.25", Version: 7},
		"SKU-X": {ID: "pr-3", SKU: "SKU-X", Name: "Retired", Active: false, AvailableStock: 5, StandardSellingPrice: "1.00", Version: 1},
	}}
	repo := newFakeSaleRepo(p)
	pub := &fakePublisher{}
	disp := &fakeDispatcher{}
	sink := &fakeSink{}
	svc := NewService(repo, p, &fakeClients{known: map[string]bool{"client-1": true, "client-dormant": false}},
		pub, disp, sink, Config{DefaultCurrency: "BRL", DuplicateWindow: 5 * time.Minute, AllocationMaxRetries: 3})
	svc.sleep = func(time.Duration) {}
	return &fixture{svc: svc, repo: repo, products: p, publisher: pub, dispatcher: disp, sink: sink}
}

func input(items ...CreateSaleItem) CreateSaleInput {
	return CreateSaleInput{
		ClientID:  "client-1",
		AgentID:   "agent-1",
		AgentType: models.SaleAgentBot,
		Items:     items,
	}
}

func TestCreateSaleHappyPath(t *testing.T) {
	fx := newFixture(t)

	sale, err := fx.svc.CreateSale(context.Background(), input(
		CreateSaleItem{SKU: "SKU-1", Quantity: 2},
		CreateSaleItem{SKU: "SKU-2", Quantity: 1},
	))
	require.NoError(t, err)

	assert.Equal(t, models.SaleStatusProcessing, sale.Status)
	assert.Equal(t, "45.05", sale.TotalAmount)
	assert.Equal(t, "BRL", sale.Currency)
	require.Len(t, sale.StatusHistory, 1)
	assert.Equal(t, "agent-1", sale.StatusHistory[0].Actor)

	assert.Equal(t, 8, fx.products.bySKU["SKU-1"].AvailableStock)
	assert.Equal(t, 2, fx.products.bySKU["SKU-2"].AvailableStock)

	require.Len(t, fx.publisher.events, 1)
	assert.Equal(t, "sales.created", fx.publisher.events[0].EventType)
	assert.Equal(t, models.TargetGroup, fx.publisher.events[0].Target)

	assert.Equal(t, []string{tasks.TaskSyncBanking, tasks.TaskInitiateDelivery}, fx.dispatcher.enqueued)

	require.Len(t, fx.sink.entries, 1)
	assert.True(t, fx.sink.entries[0].Success)
}

func TestCreateSaleAuditCarriesPrincipalRoles(t *testing.T) {
	fx := newFixture(t)

	ctx := auth.WithPrincipal(context.Background(), auth.Principal{
		ID:    "agent-1",
		Roles: []string{"sales_agent"},
	})
	_, err := fx.svc.CreateSale(ctx, input(CreateSaleItem{SKU: "SKU-1", Quantity: 1}))
	require.NoError(t, err)

	require.Len(t, fx.sink.entries, 1)
	assert.Equal(t, []string{"sales_agent"}, fx.sink.entries[0].Roles)
}

func TestCreateSaleLineItemRounding(t *testing.T) {
	fx := newFixture(t)
	fx.products.bySKU["SKU-3"] = &models.Product{
		ID: "pr-4", SKU: "SKU-3", Name: "Oddly priced", Active: true,
		AvailableStock: 10, StandardSellingPrice: "0.335", Version: 1,
	}

	sale, err := fx.svc.CreateSale(context.Background(), input(CreateSaleItem{SKU: "SKU-3", Quantity: 1}))
	require.NoError(t, err)

	// 0.335 rounds half away from zero to 0.34.
	assert.Equal(t, "0.34", sale.Items[0].TotalPrice)
}

func TestCreateSaleUnknownClient(t *testing.T) {
	fx := newFixture(t)

	in := input(CreateSaleItem{SKU: "SKU-1", Quantity: 1})
	in.ClientID = "ghost"
	_, err := fx.svc.CreateSale(context.Background(), in)

	assert.ErrorIs(t, err, services.ErrNotFound)
	require.Len(t, fx.sink.entries, 1)
	assert.False(t, fx.sink.entries[0].Success)
	assert.Empty(t, fx.dispatcher.enqueued)
}

func TestCreateSaleInactiveClient(t *testing.T) {
	fx := newFixture(t)

	in := input(CreateSaleItem{SKU: "SKU-1", Quantity: 1})
	in.ClientID = "client-dormant"
	_, err := fx.svc.CreateSale(context.Background(), in)

	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.Equal(t, 10, fx.products.bySKU["SKU-1"].AvailableStock)
}

func TestCreateSaleInactiveProduct(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.CreateSale(context.Background(), input(CreateSaleItem{SKU: "SKU-X", Quantity: 1}))
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestCreateSaleInsufficientStock(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.CreateSale(context.Background(), input(CreateSaleItem{SKU: "SKU-2", Quantity: 4}))

	var stockErr *services.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "SKU-2", stockErr.SKU)
	assert.Equal(t, 4, stockErr.Requested)
	assert.Equal(t, 3, stockErr.Available)
	assert.ErrorIs(t, err, services.ErrConflict)
}

func TestCreateSaleDuplicateWindow(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.CreateSale(context.Background(), input(CreateSaleItem{SKU: "SKU-1", Quantity: 2}))
	require.NoError(t, err)

	_, err = fx.svc.CreateSale(context.Background(), input(CreateSaleItem{SKU: "SKU-1", Quantity: 2}))
	var dup *services.DuplicateSaleError
	require.ErrorAs(t, err, &dup)
	assert.ErrorIs(t, err, services.ErrConflict)
}

func TestCreateSaleDuplicateWindowIgnoresCancelled(t *testing.T) {
	fx := newFixture(t)

	first, err := fx.svc.CreateSale(context.Background(), input(CreateSaleItem{SKU: "SKU-1", Quantity: 2}))
	require.NoError(t, err)

	_, err = fx.svc.UpdateStatus(context.Background(), first.ID, models.SaleStatusCancelled, "agent-1", "client gave up")
	require.NoError(t, err)

	_, err = fx.svc.CreateSale(context.Background(), input(CreateSaleItem{SKU: "SKU-1", Quantity: 2}))
	assert.NoError(t, err)
}

func TestCreateSaleDuplicateWindowIsPerAgent(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.CreateSale(context.Background(), input(CreateSaleItem{SKU: "SKU-1", Quantity: 2}))
	require.NoError(t, err)

	// Same client, same basket, different selling agent.
	in := input(CreateSaleItem{SKU: "SKU-1", Quantity: 2})
	in.AgentID = "agent-2"
	_, err = fx.svc.CreateSale(context.Background(), in)
	assert.NoError(t, err)
}

func TestCreateSaleDifferentItemsNotDuplicate(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.CreateSale(context.Background(), input(CreateSaleItem{SKU: "SKU-1", Quantity: 2}))
	require.NoError(t, err)

	_, err = fx.svc.CreateSale(context.Background(), input(CreateSaleItem{SKU: "SKU-1", Quantity: 3}))
	assert.NoError(t, err)
}

func TestCreateSaleIdempotentReplay(t *testing.T) {
	fx := newFixture(t)

	in := input(CreateSaleItem{SKU: "SKU-1", Quantity: 1})
	in.IdempotencyKey = "key-1"

	first, err := fx.svc.CreateSale(context.Background(), in)
	require.NoError(t, err)

	second, err := fx.svc.CreateSale(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// No second allocation happened.
	assert.Equal(t, 9, fx.products.bySKU["SKU-1"].AvailableStock)
}

func TestCreateSaleIdempotencyKeyPayloadMismatch(t *testing.T) {
	fx := newFixture(t)

	in := input(CreateSaleItem{SKU: "SKU-1", Quantity: 1})
	in.IdempotencyKey = "key-1"
	_, err := fx.svc.CreateSale(context.Background(), in)
	require.NoError(t, err)

	in.Items = []CreateSaleItem{{SKU: "SKU-1", Quantity: 5}}
	_, err = fx.svc.CreateSale(context.Background(), in)

	var dup *services.DuplicateSaleError
	require.ErrorAs(t, err, &dup)
	assert.Contains(t, dup.Reason, "different payload")
}

func TestCreateSaleRetriesVersionConflicts(t *testing.T) {
	fx := newFixture(t)
	fx.products.conflicts = 2

	sale, err := fx.svc.CreateSale(context.Background(), input(CreateSaleItem{SKU: "SKU-1", Quantity: 1}))
	require.NoError(t, err)
	assert.NotEmpty(t, sale.ID)
	assert.Equal(t, 9, fx.products.bySKU["SKU-1"].AvailableStock)
}

func TestCreateSaleExhaustedRetriesReportsStock(t *testing.T) {
	fx := newFixture(t)
	fx.products.conflicts = 10

	_, err := fx.svc.CreateSale(context.Background(), input(CreateSaleItem{SKU: "SKU-1", Quantity: 1}))

	var stockErr *services.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "SKU-1", stockErr.SKU)
	assert.Equal(t, 1, stockErr.Requested)
	assert.Equal(t, 10, stockErr.Available)
	assert.ErrorIs(t, err, services.ErrConflict)
}

func TestCreateSaleEnqueueFailureDoesNotFailSale(t *testing.T) {
	fx := newFixture(t)
	fx.dispatcher.fail = true

	sale, err := fx.svc.CreateSale(context.Background(), input(CreateSaleItem{SKU: "SKU-1", Quantity: 1}))
	require.NoError(t, err)
	assert.NotEmpty(t, sale.ID)
}

func TestCreateSaleValidation(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.CreateSale(context.Background(), CreateSaleInput{ClientID: "client-1"})
	assert.ErrorIs(t, err, services.ErrValidation)

	_, err = fx.svc.CreateSale(context.Background(), input(CreateSaleItem{SKU: "SKU-1", Quantity: 0}))
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestGetSaleStatusAndListRecent(t *testing.T) {
	fx := newFixture(t)

	created, err := fx.svc.CreateSale(context.Background(), input(CreateSaleItem{SKU: "SKU-1", Quantity: 1}))
	require.NoError(t, err)

	got, err := fx.svc.GetSaleStatus(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	list, err := fx.svc.ListRecentSales(context.Background(), "client-1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = fx.svc.GetSaleStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestListRecentSalesClampsLimit(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.ListRecentSales(context.Background(), "client-1", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), fx.repo.lastListLimit)

	_, err = fx.svc.ListRecentSales(context.Background(), "client-1", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(50), fx.repo.lastListLimit)
}
