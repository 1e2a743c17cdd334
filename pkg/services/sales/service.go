package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentos-labs/agentos/pkg/audit"
	"github.com/agentos-labs/agentos/pkg/auth"
	"github.com/agentos-labs/agentos/pkg/events"
	"github.com/agentos-labs/agentos/pkg/models"
	"github.com/agentos-labs/agentos/pkg/services"
	"github.com/agentos-labs/agentos/pkg/services/products"
	"github.com/agentos-labs/agentos/pkg/tasks"
	"github.com/agentos-labs/agentos/pkg/trace"
)

// clientChecker verifies the referenced client profile exists and is
// active.
type clientChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// eventPublisher is the slice of events.Publisher the service needs.
type eventPublisher interface {
	Publish(ctx context.Context, event models.Event)
}

// taskDispatcher is the slice of tasks.Dispatcher the service needs.
type taskDispatcher interface {
	Enqueue(ctx context.Context, queue, task string, args map[string]any) error
}

// auditor records action outcomes.
type auditor interface {
	Record(ctx context.Context, e audit.Entry)
}

// Config tunes the orchestrator.
type Config struct {
	DefaultCurrency      string
	DuplicateWindow      time.Duration
	AllocationMaxRetries int
}

// Service is the sale domain service.
type Service struct {
	repo       Repository
	products   products.Repository
	clients    clientChecker
	publisher  eventPublisher
	dispatcher taskDispatcher
	sink       auditor
	cfg        Config
	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// NewService creates the sale service.
func NewService(repo Repository, productsRepo products.Repository, clients clientChecker,
	publisher eventPublisher, dispatcher taskDispatcher, sink auditor, cfg Config) *Service {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "BRL"
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = 5 * time.Minute
	}
	if cfg.AllocationMaxRetries <= 0 {
		cfg.AllocationMaxRetries = 3
	}
	return &Service{
		repo:       repo,
		products:   productsRepo,
		clients:    clients,
		publisher:  publisher,
		dispatcher: dispatcher,
		sink:       sink,
		cfg:        cfg,
		sleep:      time.Sleep,
	}
}

// CreateSaleInput is the request to create a sale.
type CreateSaleInput struct {
	ClientID        string
	AgentID         string
	AgentType       models.SaleAgentType
	Items           []CreateSaleItem
	Currency        string
	DeliveryAddress string
	OriginChannel   string
	ContextualNote  string
	IdempotencyKey  string
}

// CreateSaleItem is one requested line item.
type CreateSaleItem struct {
	SKU      string
	Quantity int
}

// CreateSale runs the full orchestration: pre-flight checks, idempotency
// and duplicate guards, priced line items, transactional stock allocation
// with bounded retries, then best-effort post-commit fan-out.
func (s *Service) CreateSale(ctx context.Context, in CreateSaleInput) (*models.Sale, error) {
	start := time.Now()
	sale, err := s.createSale(ctx, in)
	s.audit(ctx, in, sale, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	s.fanOut(ctx, sale)
	return sale, nil
}

func (s *Service) createSale(ctx context.Context, in CreateSaleInput) (*models.Sale, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	ok, err := s.clients.Exists(ctx, in.ClientID)
	if err != nil {
		return nil, fmt.Errorf("client pre-flight check failed: %w", err)
	}
	if !ok {
		return nil, services.NewNotFound("client", in.ClientID)
	}

	signature := itemsSignature(in.Items)

	if in.IdempotencyKey != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, in.ClientID, in.IdempotencyKey)
		if err == nil {
			return s.replay(existing, signature, in)
		}
		if !errors.Is(err, services.ErrNotFound) {
			return nil, err
		}
	}

	if err := s.checkDuplicateWindow(ctx, in.AgentID, in.ClientID, signature); err != nil {
		return nil, err
	}

	items, total, err := s.priceItems(ctx, in)
	if err != nil {
		return nil, err
	}

	currency := in.Currency
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	agentType := in.AgentType
	if agentType == "" {
		agentType = models.SaleAgentHuman
	}

	now := time.Now().UTC()
	sale := &models.Sale{
		ClientID:    in.ClientID,
		AgentID:     in.AgentID,
		AgentType:   agentType,
		Items:       items,
		TotalAmount: total,
		Currency:    currency,
		Status:      models.SaleStatusProcessing,
		StatusHistory: []models.SaleStatusEntry{{
			Status: models.SaleStatusProcessing,
			At:     now,
			Actor:  in.AgentID,
		}},
		PaymentStatus:   "pending",
		DeliveryAddress: in.DeliveryAddress,
		OriginChannel:   in.OriginChannel,
		ContextualNote:  in.ContextualNote,
		IdempotencyKey:  in.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := sale.Validate(); err != nil {
		return nil, services.NewValidation(err.Error(), nil)
	}

	if err := s.allocateAndInsert(ctx, sale, in); err != nil {
		var replayed *models.Sale
		if errors.Is(err, ErrIdempotencyConflict) && in.IdempotencyKey != "" {
			if existing, lookupErr := s.repo.FindByIdempotencyKey(ctx, in.ClientID, in.IdempotencyKey); lookupErr == nil {
				replayed, err = s.replay(existing, signature, in)
				if err == nil {
					return replayed, nil
				}
			}
		}
		return nil, err
	}

	slog.Info("Sale created",
		"sale_id", sale.ID,
		"client_id", sale.ClientID,
		"total", sale.TotalAmount,
		"currency", sale.Currency,
		"items", len(sale.Items))
	return sale, nil
}

// allocateAndInsert retries the transactional create while stock documents
// move under it, re-reading versions between attempts.
func (s *Service) allocateAndInsert(ctx context.Context, sale *models.Sale, in CreateSaleInput) error {
	for attempt := 1; ; attempt++ {
		allocs, err := s.buildAllocations(ctx, in.Items)
		if err != nil {
			return err
		}

		err = s.repo.CreateWithAllocations(ctx, sale, allocs)
		if err == nil {
			return nil
		}
		if !errors.Is(err, products.ErrVersionConflict) {
			return err
		}
		if attempt >= s.cfg.AllocationMaxRetries {
			slog.Warn("Stock allocation contention exhausted retries",
				"client_id", in.ClientID, "attempts", attempt)
			return s.exhaustedAllocationError(ctx, in.Items, allocs)
		}

		// Randomized pause to de-synchronize contending writers.
		s.sleep(time.Duration(rand.Intn(50)+10) * time.Millisecond)
	}
}

// buildAllocations loads current product versions and fails fast on
// unknown, inactive or understocked SKUs.
func (s *Service) buildAllocations(ctx context.Context, items []CreateSaleItem) ([]Allocation, error) {
	skus := make([]string, 0, len(items))
	for _, it := range items {
		skus = append(skus, it.SKU)
	}

	loaded, err := s.products.GetManyBySKU(ctx, skus)
	if err != nil {
		return nil, err
	}

	allocs := make([]Allocation, 0, len(items))
	for _, it := range items {
		p, ok := loaded[it.SKU]
		if !ok {
			return nil, services.NewNotFound("product", it.SKU)
		}
		if !p.Active {
			return nil, services.NewValidation(fmt.Sprintf("product %s is not active", it.SKU), nil)
		}
		if p.AvailableStock < it.Quantity {
			return nil, &services.InsufficientStockError{
				SKU:       it.SKU,
				Requested: it.Quantity,
				Available: p.AvailableStock,
			}
		}
		allocs = append(allocs, Allocation{
			SKU:             it.SKU,
			Quantity:        it.Quantity,
			ObservedVersion: p.Version,
			ObservedStock:   p.AvailableStock,
		})
	}
	return allocs, nil
}

// priceItems prices the request against the catalog. Unit prices come from
// the catalog; line totals round half away from zero to 2 digits.
func (s *Service) priceItems(ctx context.Context, in CreateSaleInput) ([]models.SaleItem, string, error) {
	skus := make([]string, 0, len(in.Items))
	for _, it := range in.Items {
		skus = append(skus, it.SKU)
	}
	loaded, err := s.products.GetManyBySKU(ctx, skus)
	if err != nil {
		return nil, "", err
	}

	total := decimal.Zero
	items := make([]models.SaleItem, 0, len(in.Items))
	for _, it := range in.Items {
		p, ok := loaded[it.SKU]
		if !ok {
			return nil, "", services.NewNotFound("product", it.SKU)
		}
		unit, err := decimal.NewFromString(p.StandardSellingPrice)
		if err != nil {
			return nil, "", fmt.Errorf("product %s has malformed price %q: %w", it.SKU, p.StandardSellingPrice, err)
		}
		line := unit.Mul(decimal.NewFromInt(int64(it.Quantity))).Round(2)
		total = total.Add(line)

		items = append(items, models.SaleItem{
			ProductID:  p.ID,
			SKU:        p.SKU,
			Name:       p.Name,
			Quantity:   it.Quantity,
			UnitPrice:  unit.StringFixed(2),
			TotalPrice: line.StringFixed(2),
		})
	}
	return items, total.Round(2).StringFixed(2), nil
}

// checkDuplicateWindow rejects a sale whose item signature matches a
// non-cancelled sale of the same (agent, client) pair inside the window.
// A different agent selling the same basket to the same client is not a
// duplicate.
func (s *Service) checkDuplicateWindow(ctx context.Context, agentID, clientID, signature string) error {
	since := time.Now().UTC().Add(-s.cfg.DuplicateWindow)
	recent, err := s.repo.ListByAgentClientSince(ctx, agentID, clientID, since)
	if err != nil {
		return err
	}
	for i := range recent {
		if recent[i].Status == models.SaleStatusCancelled {
			continue
		}
		if saleSignature(&recent[i]) == signature {
			return &services.DuplicateSaleError{
				ClientID:   clientID,
				ExistingID: recent[i].ID,
				Reason:     "same items within duplicate window",
			}
		}
	}
	return nil
}

// replay resolves an idempotency-key hit: same payload returns the
// existing sale, a different payload is a conflict.
func (s *Service) replay(existing *models.Sale, signature string, in CreateSaleInput) (*models.Sale, error) {
	if saleSignature(existing) == signature {
		slog.Info("Idempotent sale replay", "sale_id", existing.ID, "client_id", in.ClientID)
		return existing, nil
	}
	return nil, &services.DuplicateSaleError{
		ClientID:   in.ClientID,
		ExistingID: existing.ID,
		Reason:     "idempotency key reused with different payload",
	}
}

// fanOut runs the best-effort post-commit side effects. Failures here are
// logged; the committed sale is never rolled back.
func (s *Service) fanOut(ctx context.Context, sale *models.Sale) {
	s.publisher.Publish(ctx, models.Event{
		Channel:   "sales.created",
		Target:    models.TargetGroup,
		TargetID:  events.GroupSalesDashboard,
		EventType: "sales.created",
		TraceID:   trace.ID(ctx),
		Data: map[string]any{
			"sale_id":   sale.ID,
			"client_id": sale.ClientID,
			"total":     sale.TotalAmount,
			"currency":  sale.Currency,
			"status":    string(sale.Status),
		},
	})

	for _, task := range []string{tasks.TaskSyncBanking, tasks.TaskInitiateDelivery} {
		if err := s.dispatcher.Enqueue(ctx, tasks.QueueSales, task, map[string]any{"sale_id": sale.ID}); err != nil {
			slog.Warn("Failed to enqueue post-sale task",
				"task", task, "sale_id", sale.ID, "error", err)
		}
	}
}

func (s *Service) audit(ctx context.Context, in CreateSaleInput, sale *models.Sale, err error, took time.Duration) {
	entry := audit.Entry{
		TraceID:    trace.ID(ctx),
		ActorID:    in.AgentID,
		Action:     "sales.create_sale",
		EntityType: "sale",
		Success:    err == nil,
		Params: map[string]any{
			"client_id": in.ClientID,
			"items":     len(in.Items),
		},
		Err:      err,
		Duration: took,
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		entry.Roles = p.Roles
	}
	if sale != nil {
		entry.EntityID = sale.ID
	}
	s.sink.Record(ctx, entry)
}

// GetSaleStatus loads a sale by id.
func (s *Service) GetSaleStatus(ctx context.Context, id string) (*models.Sale, error) {
	if id == "" {
		return nil, services.NewValidation("sale_id is required", nil)
	}
	return s.repo.GetByID(ctx, id)
}

// ListRecentSales lists a client's most recent sales. The limit is clamped
// to [1, 50] and defaults to 10.
func (s *Service) ListRecentSales(ctx context.Context, clientID string, limit int64) ([]models.Sale, error) {
	if clientID == "" {
		return nil, services.NewValidation("client_id is required", nil)
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}
	return s.repo.ListRecentByClient(ctx, clientID, limit)
}

// UpdateStatus transitions a sale and appends the history entry.
func (s *Service) UpdateStatus(ctx context.Context, id string, status models.SaleStatus, actor, comment string) (*models.Sale, error) {
	entry := models.SaleStatusEntry{
		Status:  status,
		At:      time.Now().UTC(),
		Actor:   actor,
		Comment: comment,
	}
	return s.repo.AppendStatus(ctx, id, status, entry)
}

// LinkDelivery records the delivery created for a sale.
func (s *Service) LinkDelivery(ctx context.Context, saleID, deliveryID string) error {
	return s.repo.SetDeliveryID(ctx, saleID, deliveryID)
}

// MarkPaymentSynced records that the sale was handed to the banking
// integration. Idempotent.
func (s *Service) MarkPaymentSynced(ctx context.Context, saleID string) error {
	return s.repo.SetPaymentStatus(ctx, saleID, "synced")
}

func validateInput(in CreateSaleInput) error {
	fields := map[string]string{}
	if in.ClientID == "" {
		fields["client_id"] = "required"
	}
	if len(in.Items) == 0 {
		fields["items"] = "at least one item is required"
	}
	for i, it := range in.Items {
		if it.SKU == "" {
			fields[fmt.Sprintf("items[%d].sku", i)] = "required"
		}
		if it.Quantity <= 0 {
			fields[fmt.Sprintf("items[%d].quantity", i)] = "must be positive"
		}
	}
	if len(fields) > 0 {
		return services.NewValidation("invalid sale request", fields)
	}
	return nil
}

// itemsSignature canonicalizes requested items as sorted "sku:qty" pairs.
func itemsSignature(items []CreateSaleItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%s:%d", it.SKU, it.Quantity))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

func saleSignature(sale *models.Sale) string {
	parts := make([]string, 0, len(sale.Items))
	for _, it := range sale.Items {
		parts = append(parts, fmt.Sprintf("%s:%d", it.SKU, it.Quantity))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// exhaustedAllocationError reports the allocation that kept losing its
// race. A fresh read names the drained SKU with its true availability;
// when stock still covers the request, the first contended line is
// reported with the freshest numbers observed.
func (s *Service) exhaustedAllocationError(ctx context.Context, items []CreateSaleItem, allocs []Allocation) error {
	fresh, err := s.buildAllocations(ctx, items)
	if err != nil {
		return err
	}
	if len(fresh) > 0 {
		allocs = fresh
	}
	if len(allocs) == 0 {
		return fmt.Errorf("stock allocation contention: %w", services.ErrConflict)
	}
	a := allocs[0]
	return &services.InsufficientStockError{
		SKU:       a.SKU,
		Requested: a.Quantity,
		Available: a.ObservedStock,
	}
}
