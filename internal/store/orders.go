package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"settlement-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrder inserts a new order row
func (q *Queries) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (order_id, user_id, address_id, pay_method, status, total_count, total_amount, freight)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err := sqlx.GetContext(ctx, q.db, order, query,
		order.OrderID, order.UserID, order.AddressID, order.PayMethod, order.Status,
		order.TotalCount, order.TotalAmount, order.Freight)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order %s: %w", order.OrderID, ErrConflict)
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// UpdateOrderTotals persists the running totals of an order
func (q *Queries) UpdateOrderTotals(ctx context.Context, order *models.Order) error {
	query := `
		UPDATE orders SET total_count = $1, total_amount = $2, updated_at = NOW()
		WHERE order_id = $3
		RETURNING updated_at`

	err := sqlx.GetContext(ctx, q.db, &order.UpdatedAt, query,
		order.TotalCount, order.TotalAmount, order.OrderID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("order %s: %w", order.OrderID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update order totals: %w", err)
	}
	return nil
}

// GetOrderByID retrieves an order by ID
func (q *Queries) GetOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q.db, &order, `
		SELECT order_id, user_id, address_id, pay_method, status, total_count,
		       total_amount, freight, created_at, updated_at
		FROM orders WHERE order_id = $1`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// TransitionOrderStatus moves an order from one status to another only if it
// is still in the expected status. It reports whether a row was changed.
func (q *Queries) TransitionOrderStatus(ctx context.Context, orderID string, from, to models.OrderStatus) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE order_id = $2 AND status = $3",
		to, orderID, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition order status: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// CreateOrderLine inserts one order line
func (q *Queries) CreateOrderLine(ctx context.Context, line *models.OrderLine) error {
	query := `
		INSERT INTO order_lines (order_id, sku_id, count, price)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	if err := sqlx.GetContext(ctx, q.db, line, query,
		line.OrderID, line.SKUID, line.Count, line.Price); err != nil {
		return fmt.Errorf("failed to insert order line: %w", err)
	}
	return nil
}

// GetOrderLines retrieves all lines for an order
func (q *Queries) GetOrderLines(ctx context.Context, orderID string) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := sqlx.SelectContext(ctx, q.db, &lines,
		"SELECT id, order_id, sku_id, count, price, created_at FROM order_lines WHERE order_id = $1 ORDER BY id",
		orderID)
	return lines, err
}

// CreatePayment records a verified payment
func (q *Queries) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, trade_id)
		VALUES ($1, $2)
		RETURNING id, created_at`

	err := sqlx.GetContext(ctx, q.db, payment, query, payment.OrderID, payment.TradeID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payment for order %s: %w", payment.OrderID, ErrConflict)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// GetPaymentByOrderID retrieves the payment recorded for an order
func (q *Queries) GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	var payment models.Payment
	err := sqlx.GetContext(ctx, q.db, &payment,
		"SELECT id, order_id, trade_id, created_at FROM payments WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment for order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
