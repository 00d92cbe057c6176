package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"opsboard/internal/cache"
	"opsboard/internal/domain"
	"opsboard/internal/store"
	"opsboard/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.New(), cache.NoopSummaryCache{}, "OPS", time.Minute)
}

func adminContext() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "admin",
		Role:     "admin",
	})
}

// seedItemWithTwoBatches creates one item backed by an older batch of 5 units
// at cost 10 and a newer batch of 5 units at cost 12.
func seedItemWithTwoBatches(t *testing.T, svc *Service, ctx context.Context) domain.Item {
	t.Helper()

	item, err := svc.CreateItem(ctx, domain.ItemCreateRequest{
		Name:           "Kaos Polos",
		Category:       "apparel",
		Unit:           "pcs",
		SalePriceCents: 20,
	})
	if err != nil {
		t.Fatalf("create item failed: %v", err)
	}

	_, err = svc.ReceiveBatch(ctx, domain.BatchReceiveRequest{
		ItemID:        item.ID,
		Qty:           5,
		UnitCostCents: 10,
		ReceivedDate:  "2026-08-01",
	})
	if err != nil {
		t.Fatalf("receive old batch failed: %v", err)
	}
	_, err = svc.ReceiveBatch(ctx, domain.BatchReceiveRequest{
		ItemID:        item.ID,
		Qty:           5,
		UnitCostCents: 12,
		ReceivedDate:  "2026-08-10",
	})
	if err != nil {
		t.Fatalf("receive new batch failed: %v", err)
	}
	return item
}

func totalRemaining(t *testing.T, svc *Service, ctx context.Context, itemID string) int {
	t.Helper()

	batches, err := svc.ListBatches(ctx, itemID, 100)
	if err != nil {
		t.Fatalf("list batches failed: %v", err)
	}
	total := 0
	for _, batch := range batches {
		total += batch.QtyRemaining
	}
	return total
}

func TestCompleteOrderAllocatesFIFOAcrossBatches(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()
	item := seedItemWithTwoBatches(t, svc, ctx)

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Channel: "online",
		Lines: []domain.OrderLineInput{
			{ItemID: item.ID, Qty: 7, UnitPriceCents: 20},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if order.TotalCents != 140 {
		t.Fatalf("expected order total 140, got %d", order.TotalCents)
	}

	resp, err := svc.CompleteOrder(ctx, domain.CompleteOrderRequest{OrderID: order.ID})
	if err != nil {
		t.Fatalf("complete order failed: %v", err)
	}
	if resp.CogsTotalCents != 5*10+2*12 {
		t.Fatalf("expected cogs 74, got %d", resp.CogsTotalCents)
	}
	if resp.GrossProfitCents != 140-74 {
		t.Fatalf("expected profit 66, got %d", resp.GrossProfitCents)
	}

	allocs, err := svc.ListOrderAllocations(ctx, order.ID)
	if err != nil {
		t.Fatalf("list allocations failed: %v", err)
	}
	if len(allocs) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocs))
	}
	if allocs[0].QtyAllocated != 5 || allocs[0].UnitCostCents != 10 || allocs[0].TotalCostCents != 50 {
		t.Fatalf("expected first allocation 5@10, got %d@%d", allocs[0].QtyAllocated, allocs[0].UnitCostCents)
	}
	if allocs[1].QtyAllocated != 2 || allocs[1].UnitCostCents != 12 || allocs[1].TotalCostCents != 24 {
		t.Fatalf("expected second allocation 2@12, got %d@%d", allocs[1].QtyAllocated, allocs[1].UnitCostCents)
	}

	batches, err := svc.ListBatches(ctx, item.ID, 100)
	if err != nil {
		t.Fatalf("list batches failed: %v", err)
	}
	if batches[0].QtyRemaining != 0 || batches[1].QtyRemaining != 3 {
		t.Fatalf("expected batches drained to 0/3, got %d/%d", batches[0].QtyRemaining, batches[1].QtyRemaining)
	}
}

func TestCompleteOrderIsIdempotent(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()
	item := seedItemWithTwoBatches(t, svc, ctx)

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ItemID: item.ID, Qty: 4, UnitPriceCents: 20},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	first, err := svc.CompleteOrder(ctx, domain.CompleteOrderRequest{OrderID: order.ID})
	if err != nil {
		t.Fatalf("first completion failed: %v", err)
	}
	second, err := svc.CompleteOrder(ctx, domain.CompleteOrderRequest{OrderID: order.ID})
	if err != nil {
		t.Fatalf("repeat completion failed: %v", err)
	}
	if second.CogsTotalCents != first.CogsTotalCents || second.GrossProfitCents != first.GrossProfitCents {
		t.Fatalf("repeat completion changed totals: %+v vs %+v", second, first)
	}

	if remaining := totalRemaining(t, svc, ctx, item.ID); remaining != 6 {
		t.Fatalf("expected 6 units remaining after one completion, got %d", remaining)
	}
}

func TestCancelOrderRestoresBatchesExactly(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()
	item := seedItemWithTwoBatches(t, svc, ctx)

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ItemID: item.ID, Qty: 7, UnitPriceCents: 20},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.CompleteOrder(ctx, domain.CompleteOrderRequest{OrderID: order.ID}); err != nil {
		t.Fatalf("complete order failed: %v", err)
	}

	cancelled, err := svc.CancelOrder(ctx, domain.CancelOrderRequest{OrderID: order.ID})
	if err != nil {
		t.Fatalf("cancel order failed: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected status cancelled, got %s", cancelled.Status)
	}
	if cancelled.CogsTotalCents != 0 || cancelled.GrossProfitCents != 0 {
		t.Fatalf("expected zeroed totals, got cogs %d profit %d", cancelled.CogsTotalCents, cancelled.GrossProfitCents)
	}

	batches, err := svc.ListBatches(ctx, item.ID, 100)
	if err != nil {
		t.Fatalf("list batches failed: %v", err)
	}
	for _, batch := range batches {
		if batch.QtyRemaining != batch.QtyReceived {
			t.Fatalf("expected batch %s restored to %d, got %d", batch.ID, batch.QtyReceived, batch.QtyRemaining)
		}
	}

	allocs, err := svc.ListOrderAllocations(ctx, order.ID)
	if err != nil {
		t.Fatalf("list allocations failed: %v", err)
	}
	if len(allocs) != 0 {
		t.Fatalf("expected allocations removed after cancel, got %d", len(allocs))
	}
}

func TestCompleteOrderInsufficientStockLeavesNothingBehind(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()
	item := seedItemWithTwoBatches(t, svc, ctx)

	second, err := svc.CreateItem(ctx, domain.ItemCreateRequest{
		Name:           "Totebag Kanvas",
		Category:       "apparel",
		SalePriceCents: 30,
	})
	if err != nil {
		t.Fatalf("create second item failed: %v", err)
	}
	_, err = svc.ReceiveBatch(ctx, domain.BatchReceiveRequest{
		ItemID:        second.ID,
		Qty:           2,
		UnitCostCents: 15,
	})
	if err != nil {
		t.Fatalf("receive batch failed: %v", err)
	}

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ItemID: item.ID, Qty: 3, UnitPriceCents: 20},
			{ItemID: second.ID, Qty: 5, UnitPriceCents: 30},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	_, err = svc.CompleteOrder(ctx, domain.CompleteOrderRequest{OrderID: order.ID})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	if remaining := totalRemaining(t, svc, ctx, item.ID); remaining != 10 {
		t.Fatalf("expected first item untouched at 10, got %d", remaining)
	}
	if remaining := totalRemaining(t, svc, ctx, second.ID); remaining != 2 {
		t.Fatalf("expected second item untouched at 2, got %d", remaining)
	}

	got, err := svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if got.Status == domain.OrderStatusCompleted {
		t.Fatalf("expected order not completed after failed allocation")
	}
	if got.CogsTotalCents != 0 {
		t.Fatalf("expected cogs untouched, got %d", got.CogsTotalCents)
	}
}

func TestCompleteOrderOutOfStock(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	item, err := svc.CreateItem(ctx, domain.ItemCreateRequest{
		Name:           "Stiker Logo",
		SalePriceCents: 5,
	})
	if err != nil {
		t.Fatalf("create item failed: %v", err)
	}

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ItemID: item.ID, Qty: 1, UnitPriceCents: 5},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	_, err = svc.CompleteOrder(ctx, domain.CompleteOrderRequest{OrderID: order.ID})
	if !errors.Is(err, store.ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}
}

func TestCancelOrderRequiresCompletedStatus(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()
	item := seedItemWithTwoBatches(t, svc, ctx)

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ItemID: item.ID, Qty: 1, UnitPriceCents: 20},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	_, err = svc.CancelOrder(ctx, domain.CancelOrderRequest{OrderID: order.ID})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for cancelling a new order, got %v", err)
	}
}

func TestConfirmOrderGuardsTransition(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()
	item := seedItemWithTwoBatches(t, svc, ctx)

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ItemID: item.ID, Qty: 1, UnitPriceCents: 20},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	confirmed, err := svc.ConfirmOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("confirm order failed: %v", err)
	}
	if confirmed.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected status confirmed, got %s", confirmed.Status)
	}

	_, err = svc.ConfirmOrder(ctx, order.ID)
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on double confirm, got %v", err)
	}
}

func TestCreateItemGeneratesSKUAndOpeningBatch(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	item, err := svc.CreateItem(ctx, domain.ItemCreateRequest{
		Name:                 "Mug Keramik",
		Category:             "merch",
		SalePriceCents:       4500,
		OpeningQty:           12,
		OpeningUnitCostCents: 2000,
	})
	if err != nil {
		t.Fatalf("create item failed: %v", err)
	}
	if !strings.HasPrefix(item.SKU, "OPS-MUGKERAM-") {
		t.Fatalf("unexpected sku %s", item.SKU)
	}

	batches, err := svc.ListBatches(ctx, item.ID, 10)
	if err != nil {
		t.Fatalf("list batches failed: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected opening batch, got %d batches", len(batches))
	}
	if batches[0].SourceType != domain.BatchSourceOpening || batches[0].QtyRemaining != 12 {
		t.Fatalf("unexpected opening batch %+v", batches[0])
	}
}

func TestCreateItemRequiresAdmin(t *testing.T) {
	svc := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{
		Username: "staff-a",
		Role:     "staff",
	})

	_, err := svc.CreateItem(ctx, domain.ItemCreateRequest{
		Name:           "Payung Lipat",
		SalePriceCents: 7000,
	})
	if err == nil {
		t.Fatalf("expected non-admin item create to fail")
	}
}

func TestUpdateItemRecordsPriceHistory(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()
	item := seedItemWithTwoBatches(t, svc, ctx)

	newPrice := int64(25)
	updated, err := svc.UpdateItem(ctx, item.ID, domain.ItemUpdateRequest{
		SalePriceCents: &newPrice,
	})
	if err != nil {
		t.Fatalf("update item failed: %v", err)
	}
	if updated.SalePriceCents != 25 {
		t.Fatalf("expected new price 25, got %d", updated.SalePriceCents)
	}

	history, err := svc.ListItemPriceHistory(ctx, item.ID, 10)
	if err != nil {
		t.Fatalf("list price history failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one price history entry, got %d", len(history))
	}
	if history[0].OldPriceCents != 20 || history[0].NewPriceCents != 25 {
		t.Fatalf("unexpected price history %+v", history[0])
	}
}

func TestSummaryReportComputesNetProfit(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()
	item := seedItemWithTwoBatches(t, svc, ctx)

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ItemID: item.ID, Qty: 7, UnitPriceCents: 20},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.CompleteOrder(ctx, domain.CompleteOrderRequest{OrderID: order.ID}); err != nil {
		t.Fatalf("complete order failed: %v", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	if _, err := svc.CreateExpense(ctx, domain.ExpenseCreateRequest{
		ExpenseDate: today,
		Category:    "packaging",
		AmountCents: 16,
	}); err != nil {
		t.Fatalf("create expense failed: %v", err)
	}

	report, err := svc.SummaryReport(ctx, today, today)
	if err != nil {
		t.Fatalf("summary report failed: %v", err)
	}
	if report.RevenueCents != 140 {
		t.Fatalf("expected revenue 140, got %d", report.RevenueCents)
	}
	if report.CogsCents != 74 {
		t.Fatalf("expected cogs 74, got %d", report.CogsCents)
	}
	if report.ExpenseCents != 16 {
		t.Fatalf("expected expenses 16, got %d", report.ExpenseCents)
	}
	if report.NetProfitCents != 140-74-16 {
		t.Fatalf("expected net profit 50, got %d", report.NetProfitCents)
	}
}

type countingCache struct {
	store       map[string]domain.SummaryReport
	gets        int
	hits        int
	invalidated int
}

func newCountingCache() *countingCache {
	return &countingCache{store: make(map[string]domain.SummaryReport)}
}

func (c *countingCache) Get(_ context.Context, key string) (*domain.SummaryReport, bool, error) {
	c.gets++
	report, ok := c.store[key]
	if !ok {
		return nil, false, nil
	}
	c.hits++
	return &report, true, nil
}

func (c *countingCache) Set(_ context.Context, key string, value *domain.SummaryReport, _ time.Duration) error {
	c.store[key] = *value
	return nil
}

func (c *countingCache) Invalidate(_ context.Context) error {
	c.invalidated++
	c.store = make(map[string]domain.SummaryReport)
	return nil
}

func TestSummaryReportReadThroughAndInvalidation(t *testing.T) {
	summaryCache := newCountingCache()
	svc := New(memory.New(), summaryCache, "OPS", time.Minute)
	ctx := adminContext()
	item := seedItemWithTwoBatches(t, svc, ctx)

	today := time.Now().UTC().Format("2006-01-02")
	if _, err := svc.SummaryReport(ctx, today, today); err != nil {
		t.Fatalf("first summary failed: %v", err)
	}
	if _, err := svc.SummaryReport(ctx, today, today); err != nil {
		t.Fatalf("second summary failed: %v", err)
	}
	if summaryCache.hits != 1 {
		t.Fatalf("expected one cache hit, got %d", summaryCache.hits)
	}

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ItemID: item.ID, Qty: 1, UnitPriceCents: 20},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.CompleteOrder(ctx, domain.CompleteOrderRequest{OrderID: order.ID}); err != nil {
		t.Fatalf("complete order failed: %v", err)
	}
	if summaryCache.invalidated == 0 {
		t.Fatalf("expected completion to invalidate summary cache")
	}

	report, err := svc.SummaryReport(ctx, today, today)
	if err != nil {
		t.Fatalf("summary after completion failed: %v", err)
	}
	if report.RevenueCents != 20 {
		t.Fatalf("expected refreshed revenue 20, got %d", report.RevenueCents)
	}
}
