package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"opsboard/internal/domain"
	"opsboard/internal/store"
	"opsboard/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListItems(ctx context.Context, search string, limit int) ([]domain.Item, error) {
	if limit < 1 {
		limit = 200
	}
	search = strings.TrimSpace(search)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, category, unit, sale_price_cents, low_stock_threshold, active, created_at
		FROM items
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR sku ILIKE '%' || $1 || '%')
		ORDER BY category, name
		LIMIT $2
	`, search, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, limit)
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.SKU, &item.Name, &item.Category, &item.Unit, &item.SalePriceCents, &item.LowStockThreshold, &item.Active, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.SKU == "" || item.Name == "" || item.SalePriceCents < 1 {
		return nil, fmt.Errorf("%w: item requires sku, name and positive price", store.ErrInvalidState)
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, sku, name, category, unit, sale_price_cents, low_stock_threshold, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
	`, item.ID, item.SKU, item.Name, item.Category, item.Unit, item.SalePriceCents, item.LowStockThreshold, item.Active, item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrInvalidState, item.SKU)
		}
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) GetItemByID(ctx context.Context, itemID string) (*domain.Item, error) {
	var item domain.Item
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, category, unit, sale_price_cents, low_stock_threshold, active, created_at
		FROM items
		WHERE id = $1
	`, itemID).Scan(&item.ID, &item.SKU, &item.Name, &item.Category, &item.Unit, &item.SalePriceCents, &item.LowStockThreshold, &item.Active, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return &item, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.Name == "" || item.SalePriceCents < 1 {
		return nil, fmt.Errorf("%w: item requires name and positive price", store.ErrInvalidState)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET name = $2, category = $3, unit = $4, sale_price_cents = $5, low_stock_threshold = $6, active = $7, updated_at = now()
		WHERE id = $1
	`, item.ID, item.Name, item.Category, item.Unit, item.SalePriceCents, item.LowStockThreshold, item.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetItemByID(ctx, item.ID)
}

func (s *Store) CountItemsWithSKUPrefix(ctx context.Context, prefix string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::int
		FROM items
		WHERE sku LIKE $1 || '%'
	`, prefix).Scan(&count)
	return count, err
}

func (s *Store) CreatePriceHistory(ctx context.Context, entry domain.ItemPriceHistory) error {
	if entry.ID == "" {
		entry.ID = xid.New("ph")
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO item_price_history (id, item_id, old_price_cents, new_price_cents, changed_by, changed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.ItemID, entry.OldPriceCents, entry.NewPriceCents, entry.ChangedBy, entry.ChangedAt)
	return err
}

func (s *Store) ListPriceHistory(ctx context.Context, itemID string, limit int) ([]domain.ItemPriceHistory, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, old_price_cents, new_price_cents, changed_by, changed_at
		FROM item_price_history
		WHERE item_id = $1
		ORDER BY changed_at DESC
		LIMIT $2
	`, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.ItemPriceHistory, 0, limit)
	for rows.Next() {
		var entry domain.ItemPriceHistory
		if err := rows.Scan(&entry.ID, &entry.ItemID, &entry.OldPriceCents, &entry.NewPriceCents, &entry.ChangedBy, &entry.ChangedAt); err != nil {
			return nil, err
		}
		entry.ChangedAt = entry.ChangedAt.UTC()
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history, nil
}

func (s *Store) CreateBatch(ctx context.Context, batch domain.InventoryBatch) (*domain.InventoryBatch, error) {
	if strings.TrimSpace(batch.ItemID) == "" || batch.QtyReceived < 1 || batch.UnitCostCents < 0 {
		return nil, fmt.Errorf("%w: batch requires item, positive qty and non-negative cost", store.ErrInvalidState)
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_batches (
			id, item_id, qty_received, qty_remaining, unit_cost_cents,
			source_type, note, received_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
	`, batch.ID, batch.ItemID, batch.QtyReceived, batch.QtyRemaining, batch.UnitCostCents, batch.SourceType, strings.TrimSpace(batch.Note), batch.ReceivedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	created := batch
	return &created, nil
}

func (s *Store) ListBatches(ctx context.Context, itemID string, limit int) ([]domain.InventoryBatch, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, qty_received, qty_remaining, unit_cost_cents, source_type, note, received_at
		FROM inventory_batches
		WHERE ($1 = '' OR item_id = $1)
		ORDER BY received_at ASC, seq ASC
		LIMIT $2
	`, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.InventoryBatch, 0, limit)
	for rows.Next() {
		var batch domain.InventoryBatch
		if err := rows.Scan(&batch.ID, &batch.ItemID, &batch.QtyReceived, &batch.QtyRemaining, &batch.UnitCostCents, &batch.SourceType, &batch.Note, &batch.ReceivedAt); err != nil {
			return nil, err
		}
		batch.ReceivedAt = batch.ReceivedAt.UTC()
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) GetStockMap(ctx context.Context, itemIDs []string) (map[string]int, error) {
	stockMap := make(map[string]int, len(itemIDs))
	if len(itemIDs) == 0 {
		return stockMap, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, COALESCE(SUM(qty_remaining),0)::int
		FROM inventory_batches
		WHERE item_id = ANY($1)
		GROUP BY item_id
	`, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var itemID string
		var qty int
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		stockMap[itemID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range itemIDs {
		if _, ok := stockMap[id]; !ok {
			stockMap[id] = 0
		}
	}
	return stockMap, nil
}

func (s *Store) ListStockLevels(ctx context.Context, lowOnly bool) ([]domain.StockLevel, error) {
	query := `
		SELECT i.id, i.sku, i.name, i.unit, i.low_stock_threshold,
			COALESCE(SUM(b.qty_remaining),0)::int AS stock_qty
		FROM items i
		LEFT JOIN inventory_batches b ON b.item_id = i.id
		WHERE i.active = true
		GROUP BY i.id, i.sku, i.name, i.unit, i.low_stock_threshold
	`
	if lowOnly {
		query += ` HAVING COALESCE(SUM(b.qty_remaining),0) <= i.low_stock_threshold`
	}
	query += ` ORDER BY i.sku`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	levels := make([]domain.StockLevel, 0, 64)
	for rows.Next() {
		var level domain.StockLevel
		if err := rows.Scan(&level.ItemID, &level.SKU, &level.Name, &level.Unit, &level.LowStockThreshold, &level.StockQty); err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return levels, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, address, note, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, customer.ID, customer.Name, customer.Phone, customer.Address, customer.Note, customer.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) ListCustomers(ctx context.Context, search string, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 100
	}
	search = strings.TrimSpace(search)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, address, note, created_at
		FROM customers
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR phone LIKE '%' || $1 || '%')
		ORDER BY created_at DESC
		LIMIT $2
	`, search, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, limit)
	for rows.Next() {
		var customer domain.Customer
		if err := rows.Scan(&customer.ID, &customer.Name, &customer.Phone, &customer.Address, &customer.Note, &customer.CreatedAt); err != nil {
			return nil, err
		}
		customer.CreatedAt = customer.CreatedAt.UTC()
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, customerID string) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, address, note, created_at
		FROM customers
		WHERE id = $1
	`, customerID).Scan(&customer.ID, &customer.Name, &customer.Phone, &customer.Address, &customer.Note, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, fmt.Errorf("%w: customer requires name", store.ErrInvalidState)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, address = $4, note = $5, updated_at = now()
		WHERE id = $1
	`, customer.ID, customer.Name, customer.Phone, customer.Address, customer.Note)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetCustomerByID(ctx, customer.ID)
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Lines) == 0 {
		return nil, fmt.Errorf("%w: order has no items", store.ErrInvalidState)
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

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if order.CustomerID != "" {
		var exists bool
		if err := pgTx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM customers WHERE id = $1)`, order.CustomerID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, order.CustomerID)
		}
	}

	total := int64(0)
	lines := make([]domain.OrderLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		if line.Qty < 1 {
			return nil, fmt.Errorf("%w: line qty must be positive", store.ErrInvalidState)
		}
		if line.UnitPriceCents < 0 {
			return nil, fmt.Errorf("%w: line price must be non-negative", store.ErrInvalidState)
		}
		var salePrice int64
		var active bool
		err := pgTx.QueryRowContext(ctx, `
			SELECT sale_price_cents, active
			FROM items
			WHERE id = $1
		`, line.ItemID).Scan(&salePrice, &active)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, line.ItemID)
			}
			return nil, err
		}
		if !active {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, line.ItemID)
		}
		if line.UnitPriceCents == 0 {
			line.UnitPriceCents = salePrice
		}
		line.ID = xid.New("line")
		line.OrderID = order.ID
		line.LineTotalCents = int64(line.Qty) * line.UnitPriceCents
		total += line.LineTotalCents
		lines = append(lines, line)
	}
	order.Lines = lines
	order.TotalCents = total
	order.CogsTotalCents = 0
	order.GrossProfitCents = 0

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO orders (
			id, code, customer_id, channel, status, delivery_status, payment_status,
			total_cents, cogs_total_cents, gross_profit_cents, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
	`, order.ID, order.Code, nullIfEmpty(order.CustomerID), order.Channel, order.Status,
		order.DeliveryStatus, order.PaymentStatus, order.TotalCents, order.CogsTotalCents,
		order.GrossProfitCents, order.CreatedAt)
	if err != nil {
		return nil, err
	}

	for i, line := range order.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO order_lines (id, order_id, line_no, item_id, qty, unit_price_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, line.ID, order.ID, i+1, line.ItemID, line.Qty, line.UnitPriceCents, line.LineTotalCents)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := order
	return &created, nil
}

func (s *Store) GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := scanOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	lines, err := scanOrderLines(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	order.Lines = lines
	return order, nil
}

func (s *Store) ListOrders(ctx context.Context, status string, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 100
	}
	status = strings.ToLower(strings.TrimSpace(status))

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, COALESCE(customer_id,''), channel, status, delivery_status, payment_status,
			total_cents, cogs_total_cents, gross_profit_cents, created_at
		FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.Code, &order.CustomerID, &order.Channel, &order.Status,
			&order.DeliveryStatus, &order.PaymentStatus, &order.TotalCents, &order.CogsTotalCents,
			&order.GrossProfitCents, &order.CreatedAt); err != nil {
			return nil, err
		}
		order.CreatedAt = order.CreatedAt.UTC()
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return orders, nil
	}

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, item_id, qty, unit_price_cents, line_total_cents
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, line_no ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	lineMap := make(map[string][]domain.OrderLine, len(ids))
	for lineRows.Next() {
		var line domain.OrderLine
		if err := lineRows.Scan(&line.ID, &line.OrderID, &line.ItemID, &line.Qty, &line.UnitPriceCents, &line.LineTotalCents); err != nil {
			return nil, err
		}
		lineMap[line.OrderID] = append(lineMap[line.OrderID], line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		orders[i].Lines = lineMap[orders[i].ID]
	}
	return orders, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, from string, to string) (*domain.Order, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, orderID, from, to)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		order, getErr := scanOrder(ctx, s.db, orderID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: order %s is %s, expected %s", store.ErrInvalidState, orderID, order.Status, from)
	}
	return s.GetOrderByID(ctx, orderID)
}

func (s *Store) UpdateOrderDelivery(ctx context.Context, orderID string, deliveryStatus string) (*domain.Order, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET delivery_status = $2, updated_at = now()
		WHERE id = $1
	`, orderID, deliveryStatus)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetOrderByID(ctx, orderID)
}

func (s *Store) UpdateOrderPayment(ctx context.Context, orderID string, paymentStatus string) (*domain.Order, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $2, updated_at = now()
		WHERE id = $1
	`, orderID, paymentStatus)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetOrderByID(ctx, orderID)
}

// CompleteOrder runs the whole FIFO allocation inside a single serializable
// transaction with the order row and every candidate batch row locked, so a
// failure on any line rolls everything back.
func (s *Store) CompleteOrder(ctx context.Context, orderID string, at time.Time) (*domain.OrderCompletion, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	var totalCents, cogsCents, profitCents int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT status, total_cents, cogs_total_cents, gross_profit_cents
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID).Scan(&status, &totalCents, &cogsCents, &profitCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
		}
		return nil, err
	}
	if status == domain.OrderStatusCompleted {
		return &domain.OrderCompletion{
			OrderID:          orderID,
			AlreadyCompleted: true,
			CogsTotalCents:   cogsCents,
			GrossProfitCents: profitCents,
		}, nil
	}

	lines, err := scanOrderLines(ctx, pgTx, orderID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: order has no items", store.ErrInvalidState)
	}

	cogsTotal := int64(0)
	for _, line := range lines {
		batchRows, err := pgTx.QueryContext(ctx, `
			SELECT id, qty_remaining, unit_cost_cents
			FROM inventory_batches
			WHERE item_id = $1 AND qty_remaining > 0
			ORDER BY received_at ASC, seq ASC
			FOR UPDATE
		`, line.ItemID)
		if err != nil {
			return nil, err
		}
		type batchState struct {
			id        string
			remaining int
			cost      int64
		}
		batches := make([]batchState, 0, 8)
		for batchRows.Next() {
			var b batchState
			if err := batchRows.Scan(&b.id, &b.remaining, &b.cost); err != nil {
				_ = batchRows.Close()
				return nil, err
			}
			batches = append(batches, b)
		}
		if err := batchRows.Err(); err != nil {
			_ = batchRows.Close()
			return nil, err
		}
		_ = batchRows.Close()

		if len(batches) == 0 {
			return nil, fmt.Errorf("%w: item %s", store.ErrOutOfStock, line.ItemID)
		}

		need := line.Qty
		for _, batch := range batches {
			if need == 0 {
				break
			}
			take := need
			if take > batch.remaining {
				take = batch.remaining
			}
			_, err = pgTx.ExecContext(ctx, `
				UPDATE inventory_batches
				SET qty_remaining = qty_remaining - $1, updated_at = now()
				WHERE id = $2
			`, take, batch.id)
			if err != nil {
				return nil, err
			}

			totalCost := int64(take) * batch.cost
			cogsTotal += totalCost
			_, err = pgTx.ExecContext(ctx, `
				INSERT INTO cogs_allocations (
					id, order_line_id, batch_id, qty_allocated, unit_cost_cents, total_cost_cents, created_at
				)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, xid.New("alloc"), line.ID, batch.id, take, batch.cost, totalCost, at)
			if err != nil {
				return nil, err
			}
			need -= take
		}
		if need > 0 {
			return nil, fmt.Errorf("%w: item %s", store.ErrInsufficientStock, line.ItemID)
		}
	}

	grossProfit := totalCents - cogsTotal
	_, err = pgTx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, cogs_total_cents = $3, gross_profit_cents = $4, updated_at = now()
		WHERE id = $1
	`, orderID, domain.OrderStatusCompleted, cogsTotal, grossProfit)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &domain.OrderCompletion{
		OrderID:          orderID,
		CogsTotalCents:   cogsTotal,
		GrossProfitCents: grossProfit,
	}, nil
}

// CancelOrder credits every allocation back to its batch and deletes the
// allocation rows, in one serializable transaction. A missing batch aborts
// the whole cancellation.
func (s *Store) CancelOrder(ctx context.Context, orderID string, _ time.Time) (*domain.Order, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
		}
		return nil, err
	}
	if status != domain.OrderStatusCompleted {
		return nil, fmt.Errorf("%w: only completed orders can be cancelled", store.ErrInvalidState)
	}

	allocRows, err := pgTx.QueryContext(ctx, `
		SELECT a.id, a.batch_id, a.qty_allocated
		FROM cogs_allocations a
		JOIN order_lines l ON l.id = a.order_line_id
		WHERE l.order_id = $1
		FOR UPDATE OF a
	`, orderID)
	if err != nil {
		return nil, err
	}
	type allocState struct {
		id      string
		batchID string
		qty     int
	}
	allocs := make([]allocState, 0, 8)
	for allocRows.Next() {
		var a allocState
		if err := allocRows.Scan(&a.id, &a.batchID, &a.qty); err != nil {
			_ = allocRows.Close()
			return nil, err
		}
		allocs = append(allocs, a)
	}
	if err := allocRows.Err(); err != nil {
		_ = allocRows.Close()
		return nil, err
	}
	_ = allocRows.Close()

	for _, alloc := range allocs {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE inventory_batches
			SET qty_remaining = qty_remaining + $1, updated_at = now()
			WHERE id = $2
		`, alloc.qty, alloc.batchID)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, fmt.Errorf("allocation %s references missing batch %s", alloc.id, alloc.batchID)
		}
		if _, err := pgTx.ExecContext(ctx, `DELETE FROM cogs_allocations WHERE id = $1`, alloc.id); err != nil {
			return nil, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, cogs_total_cents = 0, gross_profit_cents = 0, updated_at = now()
		WHERE id = $1
	`, orderID, domain.OrderStatusCancelled)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.GetOrderByID(ctx, orderID)
}

func (s *Store) ListAllocationsByOrder(ctx context.Context, orderID string) ([]domain.CogsAllocation, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.order_line_id, a.batch_id, a.qty_allocated, a.unit_cost_cents, a.total_cost_cents, a.created_at
		FROM cogs_allocations a
		JOIN order_lines l ON l.id = a.order_line_id
		WHERE l.order_id = $1
		ORDER BY l.line_no ASC, a.created_at ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	allocs := make([]domain.CogsAllocation, 0, 8)
	for rows.Next() {
		var alloc domain.CogsAllocation
		if err := rows.Scan(&alloc.ID, &alloc.OrderLineID, &alloc.BatchID, &alloc.QtyAllocated, &alloc.UnitCostCents, &alloc.TotalCostCents, &alloc.CreatedAt); err != nil {
			return nil, err
		}
		alloc.CreatedAt = alloc.CreatedAt.UTC()
		allocs = append(allocs, alloc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return allocs, nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.ExpenseDate == "" || expense.AmountCents < 1 {
		return nil, fmt.Errorf("%w: expense requires date and positive amount", store.ErrInvalidState)
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, expense_date, category, amount_cents, note, created_at)
		VALUES ($1,$2::date,$3,$4,$5,$6)
	`, expense.ID, expense.ExpenseDate, expense.Category, expense.AmountCents, expense.Note, expense.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(ctx context.Context, from string, to string, limit int) ([]domain.Expense, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, expense_date::text, category, amount_cents, note, created_at
		FROM expenses
		WHERE ($1 = '' OR expense_date >= $1::date)
			AND ($2 = '' OR expense_date <= $2::date)
		ORDER BY expense_date DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, limit)
	for rows.Next() {
		var expense domain.Expense
		if err := rows.Scan(&expense.ID, &expense.ExpenseDate, &expense.Category, &expense.AmountCents, &expense.Note, &expense.CreatedAt); err != nil {
			return nil, err
		}
		expense.CreatedAt = expense.CreatedAt.UTC()
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (s *Store) CreateCampaign(ctx context.Context, campaign domain.Campaign) (*domain.Campaign, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, channel, budget_cents, start_date, end_date, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,NULLIF($5,'')::date,NULLIF($6,'')::date,$7,$8,now())
	`, campaign.ID, campaign.Name, campaign.Channel, campaign.BudgetCents, campaign.StartDate, campaign.EndDate, campaign.Active, campaign.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := campaign
	return &created, nil
}

func (s *Store) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, channel, budget_cents, COALESCE(start_date::text,''), COALESCE(end_date::text,''), active, created_at
		FROM campaigns
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := make([]domain.Campaign, 0, 16)
	for rows.Next() {
		var campaign domain.Campaign
		if err := rows.Scan(&campaign.ID, &campaign.Name, &campaign.Channel, &campaign.BudgetCents, &campaign.StartDate, &campaign.EndDate, &campaign.Active, &campaign.CreatedAt); err != nil {
			return nil, err
		}
		campaign.CreatedAt = campaign.CreatedAt.UTC()
		campaigns = append(campaigns, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return campaigns, nil
}

func (s *Store) GetCampaignByID(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	var campaign domain.Campaign
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, channel, budget_cents, COALESCE(start_date::text,''), COALESCE(end_date::text,''), active, created_at
		FROM campaigns
		WHERE id = $1
	`, campaignID).Scan(&campaign.ID, &campaign.Name, &campaign.Channel, &campaign.BudgetCents, &campaign.StartDate, &campaign.EndDate, &campaign.Active, &campaign.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	campaign.CreatedAt = campaign.CreatedAt.UTC()
	return &campaign, nil
}

func (s *Store) UpdateCampaign(ctx context.Context, campaign domain.Campaign) (*domain.Campaign, error) {
	if strings.TrimSpace(campaign.Name) == "" {
		return nil, fmt.Errorf("%w: campaign requires name", store.ErrInvalidState)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET name = $2, channel = $3, budget_cents = $4,
			start_date = NULLIF($5,'')::date, end_date = NULLIF($6,'')::date,
			active = $7, updated_at = now()
		WHERE id = $1
	`, campaign.ID, campaign.Name, campaign.Channel, campaign.BudgetCents, campaign.StartDate, campaign.EndDate, campaign.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetCampaignByID(ctx, campaign.ID)
}

func (s *Store) GetSummaryReport(ctx context.Context, from string, to string) (domain.SummaryReport, error) {
	report := domain.SummaryReport{
		From:              from,
		To:                to,
		OrdersByStatus:    make([]domain.StatusCount, 0, 4),
		LowStock:          make([]domain.StockLevel, 0, 8),
		PendingCompletion: make([]domain.Order, 0, 8),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(total_cents) FILTER (WHERE status = $3),0)::bigint,
			COALESCE(SUM(cogs_total_cents) FILTER (WHERE status = $3),0)::bigint
		FROM orders
		WHERE ($1 = '' OR created_at::date >= $1::date)
			AND ($2 = '' OR created_at::date <= $2::date)
	`, from, to, domain.OrderStatusCompleted).Scan(&report.RevenueCents, &report.CogsCents)
	if err != nil {
		return report, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents),0)::bigint
		FROM expenses
		WHERE ($1 = '' OR expense_date >= $1::date)
			AND ($2 = '' OR expense_date <= $2::date)
	`, from, to).Scan(&report.ExpenseCents)
	if err != nil {
		return report, err
	}

	statusRows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)::bigint
		FROM orders
		WHERE ($1 = '' OR created_at::date >= $1::date)
			AND ($2 = '' OR created_at::date <= $2::date)
		GROUP BY status
		ORDER BY status
	`, from, to)
	if err != nil {
		return report, err
	}
	for statusRows.Next() {
		var row domain.StatusCount
		if err := statusRows.Scan(&row.Status, &row.Count); err != nil {
			_ = statusRows.Close()
			return report, err
		}
		report.OrdersByStatus = append(report.OrdersByStatus, row)
	}
	if err := statusRows.Err(); err != nil {
		_ = statusRows.Close()
		return report, err
	}
	_ = statusRows.Close()

	lowStock, err := s.ListStockLevels(ctx, true)
	if err != nil {
		return report, err
	}
	report.LowStock = lowStock

	pending, err := s.ListOrders(ctx, domain.OrderStatusConfirmed, 50)
	if err != nil {
		return report, err
	}
	report.PendingCompletion = pending

	report.NetProfitCents = report.RevenueCents - report.CogsCents - report.ExpenseCents
	return report, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return fmt.Errorf("%w: user requires username and password", store.ErrInvalidState)
	}
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,true,$4,now())
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s already exists", store.ErrInvalidState, user.Username)
		}
		return err
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: user requires username and password", store.ErrInvalidState)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanOrder(ctx context.Context, q queryer, orderID string) (*domain.Order, error) {
	var order domain.Order
	err := q.QueryRowContext(ctx, `
		SELECT id, code, COALESCE(customer_id,''), channel, status, delivery_status, payment_status,
			total_cents, cogs_total_cents, gross_profit_cents, created_at
		FROM orders
		WHERE id = $1
	`, orderID).Scan(&order.ID, &order.Code, &order.CustomerID, &order.Channel, &order.Status,
		&order.DeliveryStatus, &order.PaymentStatus, &order.TotalCents, &order.CogsTotalCents,
		&order.GrossProfitCents, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	return &order, nil
}

func scanOrderLines(ctx context.Context, q queryer, orderID string) ([]domain.OrderLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, item_id, qty, unit_price_cents, line_total_cents
		FROM order_lines
		WHERE order_id = $1
		ORDER BY line_no ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0, 8)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ItemID, &line.Qty, &line.UnitPriceCents, &line.LineTotalCents); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func nullIfEmpty(val string) any {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
