package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"opsboard/internal/domain"
	"opsboard/internal/store"
	"opsboard/internal/xid"
)

type Store struct {
	mu                 sync.RWMutex
	itemsByID          map[string]domain.Item
	itemOrder          []string
	batchesByItem      map[string][]domain.InventoryBatch
	priceHistoryByItem map[string][]domain.ItemPriceHistory
	customersByID      map[string]domain.Customer
	ordersByID         map[string]*domain.Order
	allocationsByLine  map[string][]domain.CogsAllocation
	expensesByID       map[string]domain.Expense
	campaignsByID      map[string]domain.Campaign
	auditLogs          []domain.AuditLog
	usersByUsername    map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; if unset,
// hardcoded dev defaults are used with a warning. These credentials are never
// used in production (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		itemsByID:          make(map[string]domain.Item),
		itemOrder:          make([]string, 0, 32),
		batchesByItem:      make(map[string][]domain.InventoryBatch),
		priceHistoryByItem: make(map[string][]domain.ItemPriceHistory),
		customersByID:      make(map[string]domain.Customer),
		ordersByID:         make(map[string]*domain.Order),
		allocationsByLine:  make(map[string][]domain.CogsAllocation),
		expensesByID:       make(map[string]domain.Expense),
		campaignsByID:      make(map[string]domain.Campaign),
		auditLogs:          make([]domain.AuditLog, 0, 128),
		usersByUsername:    seedUsers(),
	}
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	items := []domain.Item{
		{ID: "item-kaos-01", SKU: "OPS-KAOS-001", Name: "Kaos Polos Hitam", Category: "apparel", Unit: "pcs", SalePriceCents: 7500000, LowStockThreshold: 10, Active: true, CreatedAt: now},
		{ID: "item-hoodie-01", SKU: "OPS-HOODIE-001", Name: "Hoodie Abu", Category: "apparel", Unit: "pcs", SalePriceCents: 18500000, LowStockThreshold: 5, Active: true, CreatedAt: now},
		{ID: "item-totebag-01", SKU: "OPS-TOTEBAG-001", Name: "Tote Bag Kanvas", Category: "accessory", Unit: "pcs", SalePriceCents: 4500000, LowStockThreshold: 15, Active: true, CreatedAt: now},
		{ID: "item-sticker-01", SKU: "OPS-STICKER-001", Name: "Sticker Pack", Category: "accessory", Unit: "pack", SalePriceCents: 1500000, LowStockThreshold: 25, Active: true, CreatedAt: now},
	}
	for _, item := range items {
		s.itemsByID[item.ID] = item
		s.itemOrder = append(s.itemOrder, item.ID)
	}

	batches := []domain.InventoryBatch{
		{ID: "batch-kaos-a", ItemID: "item-kaos-01", QtyReceived: 50, QtyRemaining: 50, UnitCostCents: 3200000, SourceType: domain.BatchSourceOpening, ReceivedAt: now.AddDate(0, 0, -14)},
		{ID: "batch-kaos-b", ItemID: "item-kaos-01", QtyReceived: 30, QtyRemaining: 30, UnitCostCents: 3500000, SourceType: domain.BatchSourceManual, ReceivedAt: now.AddDate(0, 0, -3)},
		{ID: "batch-hoodie-a", ItemID: "item-hoodie-01", QtyReceived: 20, QtyRemaining: 20, UnitCostCents: 9800000, SourceType: domain.BatchSourceOpening, ReceivedAt: now.AddDate(0, 0, -10)},
		{ID: "batch-totebag-a", ItemID: "item-totebag-01", QtyReceived: 60, QtyRemaining: 60, UnitCostCents: 1800000, SourceType: domain.BatchSourceOpening, ReceivedAt: now.AddDate(0, 0, -7)},
		{ID: "batch-sticker-a", ItemID: "item-sticker-01", QtyReceived: 100, QtyRemaining: 100, UnitCostCents: 400000, SourceType: domain.BatchSourceOpening, ReceivedAt: now.AddDate(0, 0, -7)},
	}
	for _, batch := range batches {
		s.batchesByItem[batch.ItemID] = append(s.batchesByItem[batch.ItemID], batch)
	}

	return s
}

func (s *Store) ListItems(_ context.Context, search string, limit int) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search = strings.ToLower(strings.TrimSpace(search))
	items := make([]domain.Item, 0, len(s.itemOrder))
	for _, id := range s.itemOrder {
		item := s.itemsByID[id]
		if search != "" &&
			!strings.Contains(strings.ToLower(item.Name), search) &&
			!strings.Contains(strings.ToLower(item.SKU), search) {
			continue
		}
		items = append(items, item)
	}

	slices.SortFunc(items, func(a, b domain.Item) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.SKU == "" || item.Name == "" || item.SalePriceCents < 1 {
		return nil, fmt.Errorf("%w: item requires sku, name and positive price", store.ErrInvalidState)
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.itemsByID[item.ID]; exists {
		return nil, fmt.Errorf("%w: item %s already exists", store.ErrInvalidState, item.ID)
	}
	for _, id := range s.itemOrder {
		if s.itemsByID[id].SKU == item.SKU {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrInvalidState, item.SKU)
		}
	}

	item.Active = true
	s.itemsByID[item.ID] = item
	s.itemOrder = append(s.itemOrder, item.ID)
	created := item
	return &created, nil
}

func (s *Store) GetItemByID(_ context.Context, itemID string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.itemsByID[itemID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyItem := item
	return &copyItem, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Name == "" || item.SalePriceCents < 1 {
		return nil, fmt.Errorf("%w: item requires name and positive price", store.ErrInvalidState)
	}
	existing, exists := s.itemsByID[item.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	// SKU and creation time are immutable.
	item.SKU = existing.SKU
	item.CreatedAt = existing.CreatedAt

	s.itemsByID[item.ID] = item
	updated := item
	return &updated, nil
}

func (s *Store) CountItemsWithSKUPrefix(_ context.Context, prefix string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, id := range s.itemOrder {
		if strings.HasPrefix(s.itemsByID[id].SKU, prefix) {
			count++
		}
	}
	return count, nil
}

func (s *Store) CreatePriceHistory(_ context.Context, entry domain.ItemPriceHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("ph")
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	s.priceHistoryByItem[entry.ItemID] = append(s.priceHistoryByItem[entry.ItemID], entry)
	return nil
}

func (s *Store) ListPriceHistory(_ context.Context, itemID string, limit int) ([]domain.ItemPriceHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.priceHistoryByItem[itemID]
	if len(history) == 0 {
		return []domain.ItemPriceHistory{}, nil
	}

	result := make([]domain.ItemPriceHistory, len(history))
	copy(result, history)
	slices.SortFunc(result, func(a, b domain.ItemPriceHistory) int {
		if a.ChangedAt.Equal(b.ChangedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.ChangedAt.After(b.ChangedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateBatch(_ context.Context, batch domain.InventoryBatch) (*domain.InventoryBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.ItemID == "" || batch.QtyReceived < 1 || batch.UnitCostCents < 0 {
		return nil, fmt.Errorf("%w: batch requires item, positive qty and non-negative cost", store.ErrInvalidState)
	}
	if _, exists := s.itemsByID[batch.ItemID]; !exists {
		return nil, store.ErrNotFound
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.QtyRemaining == 0 {
		batch.QtyRemaining = batch.QtyReceived
	}
	if batch.QtyRemaining < 0 || batch.QtyRemaining > batch.QtyReceived {
		return nil, fmt.Errorf("%w: batch qty_remaining outside [0, qty_received]", store.ErrInvalidState)
	}
	if batch.SourceType == "" {
		batch.SourceType = domain.BatchSourceManual
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}

	s.batchesByItem[batch.ItemID] = append(s.batchesByItem[batch.ItemID], batch)
	created := batch
	return &created, nil
}

func (s *Store) ListBatches(_ context.Context, itemID string, limit int) ([]domain.InventoryBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}
	result := make([]domain.InventoryBatch, 0, limit)
	if itemID != "" {
		result = append(result, s.batchesByItem[itemID]...)
	} else {
		for _, id := range s.itemOrder {
			result = append(result, s.batchesByItem[id]...)
		}
	}

	sortBatchesFIFO(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetStockMap(_ context.Context, itemIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stockMap := make(map[string]int, len(itemIDs))
	for _, id := range itemIDs {
		total := 0
		for _, batch := range s.batchesByItem[id] {
			total += batch.QtyRemaining
		}
		stockMap[id] = total
	}
	return stockMap, nil
}

func (s *Store) ListStockLevels(_ context.Context, lowOnly bool) ([]domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	levels := make([]domain.StockLevel, 0, len(s.itemOrder))
	for _, id := range s.itemOrder {
		item := s.itemsByID[id]
		if !item.Active {
			continue
		}
		total := 0
		for _, batch := range s.batchesByItem[id] {
			total += batch.QtyRemaining
		}
		if lowOnly && total > item.LowStockThreshold {
			continue
		}
		levels = append(levels, domain.StockLevel{
			ItemID:            item.ID,
			SKU:               item.SKU,
			Name:              item.Name,
			Unit:              item.Unit,
			LowStockThreshold: item.LowStockThreshold,
			StockQty:          total,
		})
	}

	slices.SortFunc(levels, func(a, b domain.StockLevel) int {
		return cmpString(a.SKU, b.SKU)
	})
	return levels, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer.Name = strings.TrimSpace(customer.Name)
	if customer.Name == "" {
		return nil, fmt.Errorf("%w: customer requires name", store.ErrInvalidState)
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) ListCustomers(_ context.Context, search string, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search = strings.ToLower(strings.TrimSpace(search))
	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, customer := range s.customersByID {
		if search != "" &&
			!strings.Contains(strings.ToLower(customer.Name), search) &&
			!strings.Contains(customer.Phone, search) {
			continue
		}
		customers = append(customers, customer)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(customers) > limit {
		customers = customers[:limit]
	}
	return customers, nil
}

func (s *Store) GetCustomerByID(_ context.Context, customerID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByID[customerID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.customersByID[customer.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if strings.TrimSpace(customer.Name) == "" {
		return nil, fmt.Errorf("%w: customer requires name", store.ErrInvalidState)
	}
	customer.CreatedAt = existing.CreatedAt
	s.customersByID[customer.ID] = customer
	updated := customer
	return &updated, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(order.Lines) == 0 {
		return nil, fmt.Errorf("%w: order has no items", store.ErrInvalidState)
	}
	if order.CustomerID != "" {
		if _, exists := s.customersByID[order.CustomerID]; !exists {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, order.CustomerID)
		}
	}
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.Code == "" {
		order.Code = xid.NewOrderCode(order.CreatedAt)
	}
	order.Status = domain.OrderStatusNew
	order.DeliveryStatus = domain.DeliveryStatusPending
	if order.PaymentStatus == "" {
		order.PaymentStatus = domain.PaymentStatusUnpaid
	}
	order.CogsTotalCents = 0
	order.GrossProfitCents = 0

	total := int64(0)
	lines := make([]domain.OrderLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		if line.Qty < 1 {
			return nil, fmt.Errorf("%w: line qty must be positive", store.ErrInvalidState)
		}
		item, exists := s.itemsByID[line.ItemID]
		if !exists || !item.Active {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, line.ItemID)
		}
		if line.UnitPriceCents < 0 {
			return nil, fmt.Errorf("%w: line price must be non-negative", store.ErrInvalidState)
		}
		if line.UnitPriceCents == 0 {
			line.UnitPriceCents = item.SalePriceCents
		}
		line.ID = xid.New("line")
		line.OrderID = order.ID
		line.LineTotalCents = int64(line.Qty) * line.UnitPriceCents
		total += line.LineTotalCents
		lines = append(lines, line)
	}
	order.Lines = lines
	order.TotalCents = total

	s.ordersByID[order.ID] = cloneOrder(&order)
	return cloneOrder(&order), nil
}

func (s *Store) GetOrderByID(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.ordersByID[orderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) ListOrders(_ context.Context, status string, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status = strings.ToLower(strings.TrimSpace(status))
	result := make([]domain.Order, 0, len(s.ordersByID))
	for _, order := range s.ordersByID {
		if status != "" && order.Status != status {
			continue
		}
		result = append(result, *cloneOrder(order))
	}
	slices.SortFunc(result, func(a, b domain.Order) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, orderID string, from string, to string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.ordersByID[orderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if order.Status != from {
		return nil, fmt.Errorf("%w: order %s is %s, expected %s", store.ErrInvalidState, orderID, order.Status, from)
	}
	order.Status = to
	return cloneOrder(order), nil
}

func (s *Store) UpdateOrderDelivery(_ context.Context, orderID string, deliveryStatus string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.ordersByID[orderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	order.DeliveryStatus = deliveryStatus
	return cloneOrder(order), nil
}

func (s *Store) UpdateOrderPayment(_ context.Context, orderID string, paymentStatus string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.ordersByID[orderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	order.PaymentStatus = paymentStatus
	return cloneOrder(order), nil
}

// CompleteOrder validates the full allocation plan before touching any batch,
// then applies it, so an insufficient-stock failure on the last line leaves
// every batch untouched.
func (s *Store) CompleteOrder(_ context.Context, orderID string, at time.Time) (*domain.OrderCompletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.ordersByID[orderID]
	if !exists {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
	}
	if order.Status == domain.OrderStatusCompleted {
		return &domain.OrderCompletion{
			OrderID:          orderID,
			AlreadyCompleted: true,
			CogsTotalCents:   order.CogsTotalCents,
			GrossProfitCents: order.GrossProfitCents,
		}, nil
	}
	if len(order.Lines) == 0 {
		return nil, fmt.Errorf("%w: order has no items", store.ErrInvalidState)
	}

	// Plan phase: walk FIFO over staged remaining quantities.
	type plannedTake struct {
		lineID  string
		itemID  string
		batchID string
		qty     int
		cost    int64
	}
	staged := map[string]int{}
	plan := make([]plannedTake, 0, len(order.Lines))

	for _, line := range order.Lines {
		batches := s.batchesByItem[line.ItemID]
		ordered := make([]domain.InventoryBatch, len(batches))
		copy(ordered, batches)
		sortBatchesFIFO(ordered)

		available := 0
		for _, batch := range ordered {
			remaining, ok := staged[batch.ID]
			if !ok {
				remaining = batch.QtyRemaining
			}
			available += remaining
		}
		if available == 0 {
			return nil, fmt.Errorf("%w: item %s", store.ErrOutOfStock, line.ItemID)
		}

		need := line.Qty
		for _, batch := range ordered {
			if need == 0 {
				break
			}
			remaining, ok := staged[batch.ID]
			if !ok {
				remaining = batch.QtyRemaining
			}
			if remaining < 1 {
				continue
			}
			take := need
			if take > remaining {
				take = remaining
			}
			staged[batch.ID] = remaining - take
			plan = append(plan, plannedTake{
				lineID:  line.ID,
				itemID:  line.ItemID,
				batchID: batch.ID,
				qty:     take,
				cost:    batch.UnitCostCents,
			})
			need -= take
		}
		if need > 0 {
			return nil, fmt.Errorf("%w: item %s", store.ErrInsufficientStock, line.ItemID)
		}
	}

	// Apply phase: the plan is complete, so every write below succeeds.
	if at.IsZero() {
		at = time.Now().UTC()
	}
	cogsTotal := int64(0)
	for _, take := range plan {
		batches := s.batchesByItem[take.itemID]
		for i := range batches {
			if batches[i].ID == take.batchID {
				batches[i].QtyRemaining -= take.qty
				break
			}
		}
		s.batchesByItem[take.itemID] = batches

		totalCost := int64(take.qty) * take.cost
		cogsTotal += totalCost
		s.allocationsByLine[take.lineID] = append(s.allocationsByLine[take.lineID], domain.CogsAllocation{
			ID:             xid.New("alloc"),
			OrderLineID:    take.lineID,
			BatchID:        take.batchID,
			QtyAllocated:   take.qty,
			UnitCostCents:  take.cost,
			TotalCostCents: totalCost,
			CreatedAt:      at,
		})
	}

	order.Status = domain.OrderStatusCompleted
	order.CogsTotalCents = cogsTotal
	order.GrossProfitCents = order.TotalCents - cogsTotal

	return &domain.OrderCompletion{
		OrderID:          orderID,
		CogsTotalCents:   order.CogsTotalCents,
		GrossProfitCents: order.GrossProfitCents,
	}, nil
}

// CancelOrder replays the order's allocations in reverse. If any referenced
// batch is gone the whole cancellation fails and nothing changes.
func (s *Store) CancelOrder(_ context.Context, orderID string, _ time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.ordersByID[orderID]
	if !exists {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
	}
	if order.Status != domain.OrderStatusCompleted {
		return nil, fmt.Errorf("%w: only completed orders can be cancelled", store.ErrInvalidState)
	}

	// Verify every allocation still points at a live batch before mutating.
	for _, line := range order.Lines {
		for _, alloc := range s.allocationsByLine[line.ID] {
			if !s.batchExists(line.ItemID, alloc.BatchID) {
				return nil, fmt.Errorf("allocation %s references missing batch %s", alloc.ID, alloc.BatchID)
			}
		}
	}

	for _, line := range order.Lines {
		for _, alloc := range s.allocationsByLine[line.ID] {
			batches := s.batchesByItem[line.ItemID]
			for i := range batches {
				if batches[i].ID == alloc.BatchID {
					batches[i].QtyRemaining += alloc.QtyAllocated
					break
				}
			}
			s.batchesByItem[line.ItemID] = batches
		}
		delete(s.allocationsByLine, line.ID)
	}

	order.Status = domain.OrderStatusCancelled
	order.CogsTotalCents = 0
	order.GrossProfitCents = 0
	return cloneOrder(order), nil
}

func (s *Store) ListAllocationsByOrder(_ context.Context, orderID string) ([]domain.CogsAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.ordersByID[orderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	result := make([]domain.CogsAllocation, 0, 8)
	for _, line := range order.Lines {
		result = append(result, s.allocationsByLine[line.ID]...)
	}
	return result, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.ExpenseDate == "" || expense.AmountCents < 1 {
		return nil, fmt.Errorf("%w: expense requires date and positive amount", store.ErrInvalidState)
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	s.expensesByID[expense.ID] = expense
	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(_ context.Context, from string, to string, limit int) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Expense, 0, len(s.expensesByID))
	for _, expense := range s.expensesByID {
		if from != "" && expense.ExpenseDate < from {
			continue
		}
		if to != "" && expense.ExpenseDate > to {
			continue
		}
		result = append(result, expense)
	}
	slices.SortFunc(result, func(a, b domain.Expense) int {
		if a.ExpenseDate == b.ExpenseDate {
			return cmpString(b.ID, a.ID)
		}
		return cmpString(b.ExpenseDate, a.ExpenseDate)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateCampaign(_ context.Context, campaign domain.Campaign) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	campaign.Name = strings.TrimSpace(campaign.Name)
	if campaign.Name == "" {
		return nil, fmt.Errorf("%w: campaign requires name", store.ErrInvalidState)
	}
	if campaign.ID == "" {
		campaign.ID = xid.New("camp")
	}
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = time.Now().UTC()
	}
	campaign.Active = true
	s.campaignsByID[campaign.ID] = campaign
	created := campaign
	return &created, nil
}

func (s *Store) ListCampaigns(_ context.Context) ([]domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	campaigns := make([]domain.Campaign, 0, len(s.campaignsByID))
	for _, campaign := range s.campaignsByID {
		campaigns = append(campaigns, campaign)
	}
	slices.SortFunc(campaigns, func(a, b domain.Campaign) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return campaigns, nil
}

func (s *Store) GetCampaignByID(_ context.Context, campaignID string) (*domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	campaign, exists := s.campaignsByID[campaignID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCampaign := campaign
	return &copyCampaign, nil
}

func (s *Store) UpdateCampaign(_ context.Context, campaign domain.Campaign) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.campaignsByID[campaign.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if strings.TrimSpace(campaign.Name) == "" {
		return nil, fmt.Errorf("%w: campaign requires name", store.ErrInvalidState)
	}
	campaign.CreatedAt = existing.CreatedAt
	s.campaignsByID[campaign.ID] = campaign
	updated := campaign
	return &updated, nil
}

func (s *Store) GetSummaryReport(_ context.Context, from string, to string) (domain.SummaryReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.SummaryReport{
		From:              from,
		To:                to,
		OrdersByStatus:    make([]domain.StatusCount, 0, 4),
		LowStock:          make([]domain.StockLevel, 0, 8),
		PendingCompletion: make([]domain.Order, 0, 8),
	}

	byStatus := map[string]int64{}
	for _, order := range s.ordersByID {
		day := order.CreatedAt.UTC().Format("2006-01-02")
		if from != "" && day < from {
			continue
		}
		if to != "" && day > to {
			continue
		}
		byStatus[order.Status]++
		if order.Status == domain.OrderStatusCompleted {
			report.RevenueCents += order.TotalCents
			report.CogsCents += order.CogsTotalCents
		}
		if order.Status == domain.OrderStatusConfirmed {
			report.PendingCompletion = append(report.PendingCompletion, *cloneOrder(order))
		}
	}
	for _, status := range []string{domain.OrderStatusNew, domain.OrderStatusConfirmed, domain.OrderStatusCompleted, domain.OrderStatusCancelled} {
		if count, ok := byStatus[status]; ok {
			report.OrdersByStatus = append(report.OrdersByStatus, domain.StatusCount{Status: status, Count: count})
		}
	}
	slices.SortFunc(report.PendingCompletion, func(a, b domain.Order) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})

	for _, expense := range s.expensesByID {
		if from != "" && expense.ExpenseDate < from {
			continue
		}
		if to != "" && expense.ExpenseDate > to {
			continue
		}
		report.ExpenseCents += expense.AmountCents
	}

	for _, id := range s.itemOrder {
		item := s.itemsByID[id]
		if !item.Active {
			continue
		}
		total := 0
		for _, batch := range s.batchesByItem[id] {
			total += batch.QtyRemaining
		}
		if total <= item.LowStockThreshold {
			report.LowStock = append(report.LowStock, domain.StockLevel{
				ItemID:            item.ID,
				SKU:               item.SKU,
				Name:              item.Name,
				Unit:              item.Unit,
				LowStockThreshold: item.LowStockThreshold,
				StockQty:          total,
			})
		}
	}
	slices.SortFunc(report.LowStock, func(a, b domain.StockLevel) int {
		return cmpString(a.SKU, b.SKU)
	})

	report.NetProfitCents = report.RevenueCents - report.CogsCents - report.ExpenseCents
	return report, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return fmt.Errorf("%w: user requires username and password", store.ErrInvalidState)
	}
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("%w: user %s already exists", store.ErrInvalidState, username)
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: user requires username and password", store.ErrInvalidState)
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) batchExists(itemID string, batchID string) bool {
	for _, batch := range s.batchesByItem[itemID] {
		if batch.ID == batchID {
			return true
		}
	}
	return false
}

// sortBatchesFIFO orders batches oldest received first; the stable sort keeps
// same-day batches in insertion order.
func sortBatchesFIFO(batches []domain.InventoryBatch) {
	slices.SortStableFunc(batches, func(a, b domain.InventoryBatch) int {
		if a.ReceivedAt.Before(b.ReceivedAt) {
			return -1
		}
		if a.ReceivedAt.After(b.ReceivedAt) {
			return 1
		}
		return 0
	})
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneOrder(src *domain.Order) *domain.Order {
	if src == nil {
		return nil
	}
	dup := *src
	lines := make([]domain.OrderLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return &dup
}
