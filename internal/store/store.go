package store

import (
	"context"
	"errors"
	"time"

	"opsboard/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrOutOfStock        = errors.New("out of stock")
	ErrInsufficientStock = errors.New("insufficient stock")
)

type Repository interface {
	ListItems(ctx context.Context, search string, limit int) ([]domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	GetItemByID(ctx context.Context, itemID string) (*domain.Item, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	CountItemsWithSKUPrefix(ctx context.Context, prefix string) (int, error)
	CreatePriceHistory(ctx context.Context, entry domain.ItemPriceHistory) error
	ListPriceHistory(ctx context.Context, itemID string, limit int) ([]domain.ItemPriceHistory, error)

	CreateBatch(ctx context.Context, batch domain.InventoryBatch) (*domain.InventoryBatch, error)
	ListBatches(ctx context.Context, itemID string, limit int) ([]domain.InventoryBatch, error)
	GetStockMap(ctx context.Context, itemIDs []string) (map[string]int, error)
	ListStockLevels(ctx context.Context, lowOnly bool) ([]domain.StockLevel, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	ListCustomers(ctx context.Context, search string, limit int) ([]domain.Customer, error)
	GetCustomerByID(ctx context.Context, customerID string) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, status string, limit int) ([]domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, from string, to string) (*domain.Order, error)
	UpdateOrderDelivery(ctx context.Context, orderID string, deliveryStatus string) (*domain.Order, error)
	UpdateOrderPayment(ctx context.Context, orderID string, paymentStatus string) (*domain.Order, error)

	// CompleteOrder allocates stock to every line of the order FIFO over the
	// item's batches and marks the order completed, all in one transaction.
	// A second call on a completed order returns the stored totals with
	// AlreadyCompleted set and changes nothing.
	CompleteOrder(ctx context.Context, orderID string, at time.Time) (*domain.OrderCompletion, error)
	// CancelOrder reverses a completed order: every allocation is credited
	// back to its batch and deleted, and the order returns to cancelled with
	// zeroed COGS, all in one transaction.
	CancelOrder(ctx context.Context, orderID string, at time.Time) (*domain.Order, error)
	ListAllocationsByOrder(ctx context.Context, orderID string) ([]domain.CogsAllocation, error)

	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	ListExpenses(ctx context.Context, from string, to string, limit int) ([]domain.Expense, error)

	CreateCampaign(ctx context.Context, campaign domain.Campaign) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context) ([]domain.Campaign, error)
	GetCampaignByID(ctx context.Context, campaignID string) (*domain.Campaign, error)
	UpdateCampaign(ctx context.Context, campaign domain.Campaign) (*domain.Campaign, error)

	GetSummaryReport(ctx context.Context, from string, to string) (domain.SummaryReport, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
