package domain

import "time"

// Item is a stockable product or supply. Identity (ID, SKU) is immutable;
// batches and order lines reference items by ID.
type Item struct {
	ID                string    `json:"id"`
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	Category          string    `json:"category"`
	Unit              string    `json:"unit"`
	SalePriceCents    int64     `json:"sale_price_cents"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
}

type ItemCreateRequest struct {
	Name                 string `json:"name"`
	Category             string `json:"category"`
	Unit                 string `json:"unit"`
	SalePriceCents       int64  `json:"sale_price_cents"`
	LowStockThreshold    int    `json:"low_stock_threshold"`
	OpeningQty           int    `json:"opening_qty"`
	OpeningUnitCostCents int64  `json:"opening_unit_cost_cents"`
}

type ItemUpdateRequest struct {
	Name              *string `json:"name,omitempty"`
	Category          *string `json:"category,omitempty"`
	Unit              *string `json:"unit,omitempty"`
	SalePriceCents    *int64  `json:"sale_price_cents,omitempty"`
	LowStockThreshold *int    `json:"low_stock_threshold,omitempty"`
	Active            *bool   `json:"active,omitempty"`
}

type ItemPriceHistory struct {
	ID            string    `json:"id"`
	ItemID        string    `json:"item_id"`
	OldPriceCents int64     `json:"old_price_cents"`
	NewPriceCents int64     `json:"new_price_cents"`
	ChangedBy     string    `json:"changed_by"`
	ChangedAt     time.Time `json:"changed_at"`
}

type ItemListResponse struct {
	Items []Item `json:"items"`
}

type ItemResponse struct {
	Item Item `json:"item"`
}

// InventoryBatch is one stock receipt. QtyReceived and UnitCostCents never
// change after creation; QtyRemaining is decremented by order completion and
// credited back by cancellation, staying within [0, QtyReceived].
type InventoryBatch struct {
	ID            string    `json:"id"`
	ItemID        string    `json:"item_id"`
	QtyReceived   int       `json:"qty_received"`
	QtyRemaining  int       `json:"qty_remaining"`
	UnitCostCents int64     `json:"unit_cost_cents"`
	SourceType    string    `json:"source_type"`
	Note          string    `json:"note,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
}

type BatchReceiveRequest struct {
	ItemID        string `json:"item_id"`
	Qty           int    `json:"qty"`
	UnitCostCents int64  `json:"unit_cost_cents"`
	ReceivedDate  string `json:"received_date,omitempty"`
	Note          string `json:"note"`
}

type BatchListResponse struct {
	Batches []InventoryBatch `json:"batches"`
}

type BatchResponse struct {
	Batch InventoryBatch `json:"batch"`
}

// CogsAllocation records which batch an order line drew from, with quantity
// and unit cost captured at allocation time. Cancellation replays these
// records to restore batch quantities exactly; it never recomputes from
// aggregate stock.
type CogsAllocation struct {
	ID             string    `json:"id"`
	OrderLineID    string    `json:"order_line_id"`
	BatchID        string    `json:"batch_id"`
	QtyAllocated   int       `json:"qty_allocated"`
	UnitCostCents  int64     `json:"unit_cost_cents"`
	TotalCostCents int64     `json:"total_cost_cents"`
	CreatedAt      time.Time `json:"created_at"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Note    string `json:"note"`
}

type CustomerUpdateRequest struct {
	Name    *string `json:"name,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Address *string `json:"address,omitempty"`
	Note    *string `json:"note,omitempty"`
}

type CustomerListResponse struct {
	Customers []Customer `json:"customers"`
}

type OrderLine struct {
	ID             string `json:"id"`
	OrderID        string `json:"order_id"`
	ItemID         string `json:"item_id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

type Order struct {
	ID               string      `json:"id"`
	Code             string      `json:"code"`
	CustomerID       string      `json:"customer_id,omitempty"`
	Channel          string      `json:"channel,omitempty"`
	Status           string      `json:"status"`
	DeliveryStatus   string      `json:"delivery_status"`
	PaymentStatus    string      `json:"payment_status"`
	TotalCents       int64       `json:"total_cents"`
	CogsTotalCents   int64       `json:"cogs_total_cents"`
	GrossProfitCents int64       `json:"gross_profit_cents"`
	CreatedAt        time.Time   `json:"created_at"`
	Lines            []OrderLine `json:"lines"`
}

type OrderLineInput struct {
	ItemID         string `json:"item_id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type OrderCreateRequest struct {
	CustomerID string           `json:"customer_id"`
	Channel    string           `json:"channel"`
	Lines      []OrderLineInput `json:"lines"`
}

type OrderResponse struct {
	Order Order `json:"order"`
}

type OrderListResponse struct {
	Orders []Order `json:"orders"`
}

type OrderDeliveryRequest struct {
	DeliveryStatus string `json:"delivery_status"`
}

type OrderPaymentRequest struct {
	PaymentStatus string `json:"payment_status"`
}

type CompleteOrderRequest struct {
	OrderID string `json:"order_id"`
}

type CompleteOrderResponse struct {
	OK               bool  `json:"ok"`
	CogsTotalCents   int64 `json:"cogs_total_cents"`
	GrossProfitCents int64 `json:"gross_profit_cents"`
}

type CancelOrderRequest struct {
	OrderID string `json:"order_id"`
}

// OrderCompletion is the store-level result of completing an order.
// AlreadyCompleted marks the idempotent short-circuit: a prior call already
// completed the order and no new allocations were made.
type OrderCompletion struct {
	OrderID          string
	AlreadyCompleted bool
	CogsTotalCents   int64
	GrossProfitCents int64
}

type Expense struct {
	ID          string    `json:"id"`
	ExpenseDate string    `json:"expense_date"`
	Category    string    `json:"category"`
	AmountCents int64     `json:"amount_cents"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type ExpenseCreateRequest struct {
	ExpenseDate string `json:"expense_date"`
	Category    string `json:"category"`
	AmountCents int64  `json:"amount_cents"`
	Note        string `json:"note"`
}

type ExpenseListResponse struct {
	Expenses []Expense `json:"expenses"`
}

type Campaign struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Channel     string    `json:"channel"`
	BudgetCents int64     `json:"budget_cents"`
	StartDate   string    `json:"start_date,omitempty"`
	EndDate     string    `json:"end_date,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

type CampaignCreateRequest struct {
	Name        string `json:"name"`
	Channel     string `json:"channel"`
	BudgetCents int64  `json:"budget_cents"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

type CampaignUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Channel     *string `json:"channel,omitempty"`
	BudgetCents *int64  `json:"budget_cents,omitempty"`
	StartDate   *string `json:"start_date,omitempty"`
	EndDate     *string `json:"end_date,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

type CampaignListResponse struct {
	Campaigns []Campaign `json:"campaigns"`
}

type StockLevel struct {
	ItemID            string `json:"item_id"`
	SKU               string `json:"sku"`
	Name              string `json:"name"`
	Unit              string `json:"unit"`
	LowStockThreshold int    `json:"low_stock_threshold"`
	StockQty          int    `json:"stock_qty"`
}

type StockLevelResponse struct {
	Levels []StockLevel `json:"levels"`
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

type SummaryReport struct {
	From              string        `json:"from"`
	To                string        `json:"to"`
	RevenueCents      int64         `json:"revenue_cents"`
	CogsCents         int64         `json:"cogs_cents"`
	ExpenseCents      int64         `json:"expense_cents"`
	NetProfitCents    int64         `json:"net_profit_cents"`
	OrdersByStatus    []StatusCount `json:"orders_by_status"`
	LowStock          []StockLevel  `json:"low_stock"`
	PendingCompletion []Order       `json:"pending_completion"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type AuditLogListResponse struct {
	AuditLogs []AuditLog `json:"audit_logs"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	OrderStatusNew       = "new"
	OrderStatusConfirmed = "confirmed"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusShipped   = "shipped"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusReturned  = "returned"
	DeliveryStatusFailed    = "failed"
)

const (
	PaymentStatusUnpaid  = "unpaid"
	PaymentStatusPartial = "partial"
	PaymentStatusPaid    = "paid"
)

const (
	BatchSourceManual  = "manual"
	BatchSourceOpening = "opening"
)

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)
