package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"opsboard/internal/cache"
	"opsboard/internal/domain"
	"opsboard/internal/store"
	"opsboard/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo         store.Repository
	summaryCache cache.SummaryCache
	skuPrefix    string
	summaryTTL   time.Duration
}

func New(repo store.Repository, summaryCache cache.SummaryCache, skuPrefix string, summaryTTL time.Duration) *Service {
	if summaryCache == nil {
		summaryCache = cache.NoopSummaryCache{}
	}
	skuPrefix = strings.ToUpper(strings.TrimSpace(skuPrefix))
	if skuPrefix == "" {
		skuPrefix = "OPS"
	}
	if summaryTTL <= 0 {
		summaryTTL = time.Minute
	}

	return &Service{
		repo:         repo,
		summaryCache: summaryCache,
		skuPrefix:    skuPrefix,
		summaryTTL:   summaryTTL,
	}
}

func (s *Service) ListItems(ctx context.Context, search string, limit int) ([]domain.Item, error) {
	return s.repo.ListItems(ctx, search, limit)
}

func (s *Service) GetItem(ctx context.Context, itemID string) (domain.Item, error) {
	item, err := s.repo.GetItemByID(ctx, strings.TrimSpace(itemID))
	if err != nil {
		return domain.Item{}, err
	}
	return *item, nil
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Item{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Unit = strings.TrimSpace(req.Unit)
	if req.Name == "" {
		return domain.Item{}, fmt.Errorf("%w: item requires name", store.ErrInvalidState)
	}
	if req.SalePriceCents < 1 {
		return domain.Item{}, fmt.Errorf("%w: item requires positive price", store.ErrInvalidState)
	}
	if req.LowStockThreshold < 0 || req.OpeningQty < 0 || req.OpeningUnitCostCents < 0 {
		return domain.Item{}, fmt.Errorf("%w: item has negative quantities", store.ErrInvalidState)
	}
	if req.Unit == "" {
		req.Unit = "pcs"
	}

	sku, err := s.nextSKU(ctx, req.Name)
	if err != nil {
		return domain.Item{}, err
	}

	created, err := s.repo.CreateItem(ctx, domain.Item{
		ID:                xid.New("item"),
		SKU:               sku,
		Name:              req.Name,
		Category:          req.Category,
		Unit:              req.Unit,
		SalePriceCents:    req.SalePriceCents,
		LowStockThreshold: req.LowStockThreshold,
		Active:            true,
		CreatedAt:         time.Now().UTC(),
	})
	if err != nil {
		return domain.Item{}, err
	}

	if req.OpeningQty > 0 {
		_, err := s.repo.CreateBatch(ctx, domain.InventoryBatch{
			ID:            xid.New("batch"),
			ItemID:        created.ID,
			QtyReceived:   req.OpeningQty,
			QtyRemaining:  req.OpeningQty,
			UnitCostCents: req.OpeningUnitCostCents,
			SourceType:    domain.BatchSourceOpening,
			Note:          "opening stock",
			ReceivedAt:    time.Now().UTC(),
		})
		if err != nil {
			return domain.Item{}, err
		}
		s.invalidateSummary(ctx)
	}

	s.logAudit(ctx, "item_create", "item", created.ID, fmt.Sprintf("sku=%s,price=%d,opening_qty=%d", created.SKU, created.SalePriceCents, req.OpeningQty))
	return *created, nil
}

func (s *Service) UpdateItem(ctx context.Context, itemID string, req domain.ItemUpdateRequest) (domain.Item, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Item{}, fmt.Errorf("admin role required")
	}

	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return domain.Item{}, fmt.Errorf("%w: item id is required", store.ErrInvalidState)
	}

	existing, err := s.repo.GetItemByID(ctx, itemID)
	if err != nil {
		return domain.Item{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Item{}, fmt.Errorf("%w: item requires name", store.ErrInvalidState)
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Unit != nil {
		unit := strings.TrimSpace(*req.Unit)
		if unit == "" {
			return domain.Item{}, fmt.Errorf("%w: item requires unit", store.ErrInvalidState)
		}
		updated.Unit = unit
	}
	if req.SalePriceCents != nil {
		if *req.SalePriceCents < 1 {
			return domain.Item{}, fmt.Errorf("%w: item requires positive price", store.ErrInvalidState)
		}
		updated.SalePriceCents = *req.SalePriceCents
	}
	if req.LowStockThreshold != nil {
		if *req.LowStockThreshold < 0 {
			return domain.Item{}, fmt.Errorf("%w: negative low stock threshold", store.ErrInvalidState)
		}
		updated.LowStockThreshold = *req.LowStockThreshold
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateItem(ctx, updated)
	if err != nil {
		return domain.Item{}, err
	}

	if existing.SalePriceCents != saved.SalePriceCents {
		if err := s.repo.CreatePriceHistory(ctx, domain.ItemPriceHistory{
			ID:            xid.New("ph"),
			ItemID:        saved.ID,
			OldPriceCents: existing.SalePriceCents,
			NewPriceCents: saved.SalePriceCents,
			ChangedBy:     actor.Username,
			ChangedAt:     time.Now().UTC(),
		}); err != nil {
			log.Printf("[service] WARN: failed to record price history item=%s: %v", saved.ID, err)
		}
	}

	s.logAudit(ctx, "item_update", "item", saved.ID, fmt.Sprintf("active=%t,price=%d", saved.Active, saved.SalePriceCents))
	return *saved, nil
}

func (s *Service) ListItemPriceHistory(ctx context.Context, itemID string, limit int) ([]domain.ItemPriceHistory, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, fmt.Errorf("%w: item id is required", store.ErrInvalidState)
	}
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListPriceHistory(ctx, itemID, limit)
}

func (s *Service) ReceiveBatch(ctx context.Context, req domain.BatchReceiveRequest) (domain.InventoryBatch, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.InventoryBatch{}, fmt.Errorf("admin role required")
	}

	req.ItemID = strings.TrimSpace(req.ItemID)
	if req.ItemID == "" || req.Qty < 1 || req.UnitCostCents < 0 {
		return domain.InventoryBatch{}, fmt.Errorf("%w: batch requires item, positive qty and non-negative cost", store.ErrInvalidState)
	}

	receivedAt := time.Now().UTC()
	if strings.TrimSpace(req.ReceivedDate) != "" {
		parsed, err := time.Parse("2006-01-02", req.ReceivedDate)
		if err != nil {
			return domain.InventoryBatch{}, fmt.Errorf("%w: received_date must be YYYY-MM-DD", store.ErrInvalidState)
		}
		receivedAt = parsed.UTC()
	}

	if _, err := s.repo.GetItemByID(ctx, req.ItemID); err != nil {
		return domain.InventoryBatch{}, err
	}

	batch, err := s.repo.CreateBatch(ctx, domain.InventoryBatch{
		ID:            xid.New("batch"),
		ItemID:        req.ItemID,
		QtyReceived:   req.Qty,
		QtyRemaining:  req.Qty,
		UnitCostCents: req.UnitCostCents,
		SourceType:    domain.BatchSourceManual,
		Note:          strings.TrimSpace(req.Note),
		ReceivedAt:    receivedAt,
	})
	if err != nil {
		return domain.InventoryBatch{}, err
	}

	s.invalidateSummary(ctx)
	s.logAudit(ctx, "batch_receive", "inventory_batch", batch.ID, fmt.Sprintf("item=%s,qty=%d,cost=%d", batch.ItemID, batch.QtyReceived, batch.UnitCostCents))
	return *batch, nil
}

func (s *Service) ListBatches(ctx context.Context, itemID string, limit int) ([]domain.InventoryBatch, error) {
	return s.repo.ListBatches(ctx, strings.TrimSpace(itemID), limit)
}

func (s *Service) ListStockLevels(ctx context.Context, lowOnly bool) ([]domain.StockLevel, error) {
	return s.repo.ListStockLevels(ctx, lowOnly)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer requires name", store.ErrInvalidState)
	}

	customer, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:        xid.New("cust"),
		Name:      req.Name,
		Phone:     strings.TrimSpace(req.Phone),
		Address:   strings.TrimSpace(req.Address),
		Note:      strings.TrimSpace(req.Note),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", customer.ID, fmt.Sprintf("name=%s", customer.Name))
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context, search string, limit int) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx, search, limit)
}

func (s *Service) GetCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomerByID(ctx, strings.TrimSpace(customerID))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, customerID string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer id is required", store.ErrInvalidState)
	}

	existing, err := s.repo.GetCustomerByID(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, fmt.Errorf("%w: customer requires name", store.ErrInvalidState)
		}
		updated.Name = name
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}
	if req.Note != nil {
		updated.Note = strings.TrimSpace(*req.Note)
	}

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_update", "customer", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	if len(req.Lines) == 0 {
		return domain.Order{}, fmt.Errorf("%w: order has no items", store.ErrInvalidState)
	}

	lines := make([]domain.OrderLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		itemID := strings.TrimSpace(line.ItemID)
		if itemID == "" || line.Qty < 1 {
			return domain.Order{}, fmt.Errorf("%w: line requires item and positive qty", store.ErrInvalidState)
		}
		if line.UnitPriceCents < 0 {
			return domain.Order{}, fmt.Errorf("%w: line price must be non-negative", store.ErrInvalidState)
		}
		lines = append(lines, domain.OrderLine{
			ItemID:         itemID,
			Qty:            line.Qty,
			UnitPriceCents: line.UnitPriceCents,
		})
	}

	order, err := s.repo.CreateOrder(ctx, domain.Order{
		CustomerID: strings.TrimSpace(req.CustomerID),
		Channel:    strings.ToLower(strings.TrimSpace(req.Channel)),
		Lines:      lines,
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.invalidateSummary(ctx)
	s.logAudit(ctx, "order_create", "order", order.ID, fmt.Sprintf("code=%s,total=%d,lines=%d", order.Code, order.TotalCents, len(order.Lines)))
	return *order, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, status string, limit int) ([]domain.Order, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && !isOrderStatus(status) {
		return nil, fmt.Errorf("%w: unknown order status %s", store.ErrInvalidState, status)
	}
	return s.repo.ListOrders(ctx, status, limit)
}

func (s *Service) ConfirmOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", store.ErrInvalidState)
	}

	order, err := s.repo.UpdateOrderStatus(ctx, orderID, domain.OrderStatusNew, domain.OrderStatusConfirmed)
	if err != nil {
		return domain.Order{}, err
	}

	s.invalidateSummary(ctx)
	s.logAudit(ctx, "order_confirm", "order", order.ID, fmt.Sprintf("code=%s", order.Code))
	return *order, nil
}

func (s *Service) UpdateOrderDelivery(ctx context.Context, orderID string, req domain.OrderDeliveryRequest) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	status := strings.ToLower(strings.TrimSpace(req.DeliveryStatus))
	if orderID == "" || !isDeliveryStatus(status) {
		return domain.Order{}, fmt.Errorf("%w: unknown delivery status %s", store.ErrInvalidState, status)
	}

	order, err := s.repo.UpdateOrderDelivery(ctx, orderID, status)
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, "order_delivery", "order", order.ID, fmt.Sprintf("delivery_status=%s", status))
	return *order, nil
}

func (s *Service) UpdateOrderPayment(ctx context.Context, orderID string, req domain.OrderPaymentRequest) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	status := strings.ToLower(strings.TrimSpace(req.PaymentStatus))
	if orderID == "" || !isPaymentStatus(status) {
		return domain.Order{}, fmt.Errorf("%w: unknown payment status %s", store.ErrInvalidState, status)
	}

	order, err := s.repo.UpdateOrderPayment(ctx, orderID, status)
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, "order_payment", "order", order.ID, fmt.Sprintf("payment_status=%s", status))
	return *order, nil
}

// CompleteOrder allocates stock FIFO, records COGS and marks the order
// completed. Completing an already completed order returns the stored totals
// and changes nothing.
func (s *Service) CompleteOrder(ctx context.Context, req domain.CompleteOrderRequest) (domain.CompleteOrderResponse, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.CompleteOrderResponse{}, fmt.Errorf("%w: order_id is required", store.ErrInvalidState)
	}

	completion, err := s.repo.CompleteOrder(ctx, orderID, time.Now().UTC())
	if err != nil {
		return domain.CompleteOrderResponse{}, err
	}

	if !completion.AlreadyCompleted {
		s.invalidateSummary(ctx)
		s.logAudit(ctx, "order_complete", "order", orderID, fmt.Sprintf("cogs=%d,profit=%d", completion.CogsTotalCents, completion.GrossProfitCents))
	}

	return domain.CompleteOrderResponse{
		OK:               true,
		CogsTotalCents:   completion.CogsTotalCents,
		GrossProfitCents: completion.GrossProfitCents,
	}, nil
}

// CancelOrder reverses a completed order through its allocation records,
// crediting every batch back exactly what was drawn from it.
func (s *Service) CancelOrder(ctx context.Context, req domain.CancelOrderRequest) (domain.Order, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order_id is required", store.ErrInvalidState)
	}

	order, err := s.repo.CancelOrder(ctx, orderID, time.Now().UTC())
	if err != nil {
		return domain.Order{}, err
	}

	s.invalidateSummary(ctx)
	s.logAudit(ctx, "order_cancel", "order", order.ID, fmt.Sprintf("code=%s", order.Code))
	return *order, nil
}

func (s *Service) ListOrderAllocations(ctx context.Context, orderID string) ([]domain.CogsAllocation, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", store.ErrInvalidState)
	}
	return s.repo.ListAllocationsByOrder(ctx, orderID)
}

func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.Expense, error) {
	req.ExpenseDate = strings.TrimSpace(req.ExpenseDate)
	if _, err := time.Parse("2006-01-02", req.ExpenseDate); err != nil {
		return domain.Expense{}, fmt.Errorf("%w: expense_date must be YYYY-MM-DD", store.ErrInvalidState)
	}
	if req.AmountCents < 1 {
		return domain.Expense{}, fmt.Errorf("%w: expense requires positive amount", store.ErrInvalidState)
	}

	expense, err := s.repo.CreateExpense(ctx, domain.Expense{
		ID:          xid.New("exp"),
		ExpenseDate: req.ExpenseDate,
		Category:    strings.TrimSpace(req.Category),
		AmountCents: req.AmountCents,
		Note:        strings.TrimSpace(req.Note),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return domain.Expense{}, err
	}

	s.invalidateSummary(ctx)
	s.logAudit(ctx, "expense_create", "expense", expense.ID, fmt.Sprintf("date=%s,amount=%d", expense.ExpenseDate, expense.AmountCents))
	return *expense, nil
}

func (s *Service) ListExpenses(ctx context.Context, from string, to string, limit int) ([]domain.Expense, error) {
	if err := validateDateRange(from, to); err != nil {
		return nil, err
	}
	return s.repo.ListExpenses(ctx, from, to, limit)
}

func (s *Service) CreateCampaign(ctx context.Context, req domain.CampaignCreateRequest) (domain.Campaign, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Campaign{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Campaign{}, fmt.Errorf("%w: campaign requires name", store.ErrInvalidState)
	}
	if req.BudgetCents < 0 {
		return domain.Campaign{}, fmt.Errorf("%w: campaign budget must be non-negative", store.ErrInvalidState)
	}
	if err := validateDateRange(req.StartDate, req.EndDate); err != nil {
		return domain.Campaign{}, err
	}

	campaign, err := s.repo.CreateCampaign(ctx, domain.Campaign{
		ID:          xid.New("camp"),
		Name:        req.Name,
		Channel:     strings.ToLower(strings.TrimSpace(req.Channel)),
		BudgetCents: req.BudgetCents,
		StartDate:   strings.TrimSpace(req.StartDate),
		EndDate:     strings.TrimSpace(req.EndDate),
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return domain.Campaign{}, err
	}

	s.logAudit(ctx, "campaign_create", "campaign", campaign.ID, fmt.Sprintf("name=%s,budget=%d", campaign.Name, campaign.BudgetCents))
	return *campaign, nil
}

func (s *Service) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	return s.repo.ListCampaigns(ctx)
}

func (s *Service) UpdateCampaign(ctx context.Context, campaignID string, req domain.CampaignUpdateRequest) (domain.Campaign, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Campaign{}, fmt.Errorf("admin role required")
	}

	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return domain.Campaign{}, fmt.Errorf("%w: campaign id is required", store.ErrInvalidState)
	}

	existing, err := s.repo.GetCampaignByID(ctx, campaignID)
	if err != nil {
		return domain.Campaign{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Campaign{}, fmt.Errorf("%w: campaign requires name", store.ErrInvalidState)
		}
		updated.Name = name
	}
	if req.Channel != nil {
		updated.Channel = strings.ToLower(strings.TrimSpace(*req.Channel))
	}
	if req.BudgetCents != nil {
		if *req.BudgetCents < 0 {
			return domain.Campaign{}, fmt.Errorf("%w: campaign budget must be non-negative", store.ErrInvalidState)
		}
		updated.BudgetCents = *req.BudgetCents
	}
	if req.StartDate != nil {
		updated.StartDate = strings.TrimSpace(*req.StartDate)
	}
	if req.EndDate != nil {
		updated.EndDate = strings.TrimSpace(*req.EndDate)
	}
	if err := validateDateRange(updated.StartDate, updated.EndDate); err != nil {
		return domain.Campaign{}, err
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateCampaign(ctx, updated)
	if err != nil {
		return domain.Campaign{}, err
	}

	s.logAudit(ctx, "campaign_update", "campaign", saved.ID, fmt.Sprintf("active=%t,budget=%d", saved.Active, saved.BudgetCents))
	return *saved, nil
}

// SummaryReport serves the dashboard KPI block. Results are cached per date
// range; any mutation that moves revenue, COGS, expenses or stock drops the
// whole cache.
func (s *Service) SummaryReport(ctx context.Context, from string, to string) (domain.SummaryReport, error) {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" && to == "" {
		now := time.Now().UTC()
		to = now.Format("2006-01-02")
		from = now.AddDate(0, 0, -29).Format("2006-01-02")
	}
	if err := validateDateRange(from, to); err != nil {
		return domain.SummaryReport{}, err
	}

	key := from + ":" + to
	if cached, hit, err := s.summaryCache.Get(ctx, key); err != nil {
		log.Printf("[service] WARN: summary cache read failed range=%s: %v", key, err)
	} else if hit {
		return *cached, nil
	}

	report, err := s.repo.GetSummaryReport(ctx, from, to)
	if err != nil {
		return domain.SummaryReport{}, err
	}

	if err := s.summaryCache.Set(ctx, key, &report, s.summaryTTL); err != nil {
		log.Printf("[service] WARN: summary cache write failed range=%s: %v", key, err)
	}
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidState)
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// nextSKU builds PREFIX-SLUG-NNN where the slug comes from the item name and
// NNN is a running count across the prefix. Uniqueness is still enforced by
// the store.
func (s *Service) nextSKU(ctx context.Context, name string) (string, error) {
	count, err := s.repo.CountItemsWithSKUPrefix(ctx, s.skuPrefix+"-")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%03d", s.skuPrefix, skuSlug(name), count+1), nil
}

func skuSlug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() >= 8 {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "ITEM"
	}
	return b.String()
}

func (s *Service) invalidateSummary(ctx context.Context) {
	if err := s.summaryCache.Invalidate(ctx); err != nil {
		log.Printf("[service] WARN: failed to invalidate summary cache: %v", err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func validateDateRange(from string, to string) error {
	var fromDay, toDay time.Time
	if strings.TrimSpace(from) != "" {
		parsed, err := time.Parse("2006-01-02", from)
		if err != nil {
			return fmt.Errorf("%w: from must be YYYY-MM-DD", store.ErrInvalidState)
		}
		fromDay = parsed
	}
	if strings.TrimSpace(to) != "" {
		parsed, err := time.Parse("2006-01-02", to)
		if err != nil {
			return fmt.Errorf("%w: to must be YYYY-MM-DD", store.ErrInvalidState)
		}
		toDay = parsed
	}
	if !fromDay.IsZero() && !toDay.IsZero() && toDay.Before(fromDay) {
		return fmt.Errorf("%w: to precedes from", store.ErrInvalidState)
	}
	return nil
}

func isOrderStatus(status string) bool {
	switch status {
	case domain.OrderStatusNew, domain.OrderStatusConfirmed, domain.OrderStatusCompleted, domain.OrderStatusCancelled:
		return true
	default:
		return false
	}
}

func isDeliveryStatus(status string) bool {
	switch status {
	case domain.DeliveryStatusPending, domain.DeliveryStatusShipped, domain.DeliveryStatusDelivered, domain.DeliveryStatusReturned, domain.DeliveryStatusFailed:
		return true
	default:
		return false
	}
}

func isPaymentStatus(status string) bool {
	switch status {
	case domain.PaymentStatusUnpaid, domain.PaymentStatusPartial, domain.PaymentStatusPaid:
		return true
	default:
		return false
	}
}
