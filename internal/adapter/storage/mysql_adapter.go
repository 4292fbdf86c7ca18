package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/checkout-payments/internal/core/domain"
)

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

const orderColumns = `
	id, transaction_ref, user_id, subtotal, discount_amount, final_amount,
	coupon_code, discount_percentage,
	customer_name, customer_email, customer_phone, customer_address,
	customer_city, customer_state, customer_postcode,
	payment_status, payment_gateway, currency, created_at, updated_at`

func (m *MySQLAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var couponCode sql.NullString
	var discountPct sql.NullInt64
	if order.HasCoupon() {
		couponCode = sql.NullString{String: order.CouponCode, Valid: true}
		discountPct = sql.NullInt64{Int64: int64(order.DiscountPercentage), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.TransactionRef, order.UserID,
		order.Pricing.Subtotal, order.Pricing.DiscountAmount, order.Pricing.FinalAmount,
		couponCode, discountPct,
		order.Customer.Name, order.Customer.Email, order.Customer.Phone, order.Customer.Address,
		order.Customer.City, order.Customer.State, order.Customer.Postcode,
		order.PaymentStatus, order.PaymentGateway, order.Currency, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, line := range order.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, product_id, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?)`,
			order.ID, i, line.ProductID, line.Quantity, line.UnitPrice,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit()
}

func (m *MySQLAdapter) GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	return m.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID)
}

func (m *MySQLAdapter) GetOrderByTransactionRef(ctx context.Context, transactionRef string) (*domain.Order, error) {
	return m.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE transaction_ref = ?`, transactionRef)
}

// TransitionFromPending is a single conditional update; the status guard in the
// WHERE clause makes concurrent callers race on the row lock, not on a read.
func (m *MySQLAdapter) TransitionFromPending(ctx context.Context, transactionRef string, target domain.PaymentStatus, at time.Time) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = ?, updated_at = ?
		WHERE transaction_ref = ? AND payment_status = ?`,
		target, at, transactionRef, domain.PaymentStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return rows == 1, nil
}

func (m *MySQLAdapter) getOrder(ctx context.Context, query string, arg string) (*domain.Order, error) {
	var (
		order       domain.Order
		couponCode  sql.NullString
		discountPct sql.NullInt64
	)

	err := m.db.QueryRowContext(ctx, query, arg).Scan(
		&order.ID, &order.TransactionRef, &order.UserID,
		&order.Pricing.Subtotal, &order.Pricing.DiscountAmount, &order.Pricing.FinalAmount,
		&couponCode, &discountPct,
		&order.Customer.Name, &order.Customer.Email, &order.Customer.Phone, &order.Customer.Address,
		&order.Customer.City, &order.Customer.State, &order.Customer.Postcode,
		&order.PaymentStatus, &order.PaymentGateway, &order.Currency, &order.CreatedAt, &order.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	order.CouponCode = couponCode.String
	order.DiscountPercentage = int(discountPct.Int64)

	lines, err := m.getOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Lines = lines

	return &order, nil
}

func (m *MySQLAdapter) getOrderItems(ctx context.Context, orderID string) ([]domain.LineItem, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price
		FROM order_items WHERE order_id = ? ORDER BY line_no`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var lines []domain.LineItem
	for rows.Next() {
		var line domain.LineItem
		if err := rows.Scan(&line.ProductID, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		lines = append(lines, line)
	}

	return lines, rows.Err()
}

const couponColumns = `id, code, user_id, discount_percentage, expiration_date, is_active, created_at, updated_at`

func (m *MySQLAdapter) GetActiveCoupon(ctx context.Context, code, userID string) (*domain.Coupon, error) {
	return m.getCoupon(ctx, `
		SELECT `+couponColumns+` FROM coupons
		WHERE code = ? AND user_id = ? AND is_active = TRUE`, code, userID)
}

func (m *MySQLAdapter) GetActiveCouponForUser(ctx context.Context, userID string) (*domain.Coupon, error) {
	return m.getCoupon(ctx, `
		SELECT `+couponColumns+` FROM coupons
		WHERE user_id = ? AND is_active = TRUE
		ORDER BY expiration_date DESC LIMIT 1`, userID)
}

func (m *MySQLAdapter) DeactivateCoupon(ctx context.Context, couponID int64) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE coupons SET is_active = FALSE, updated_at = NOW(6)
		WHERE id = ?`, couponID)
	if err != nil {
		return fmt.Errorf("deactivate coupon: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) getCoupon(ctx context.Context, query string, args ...any) (*domain.Coupon, error) {
	var c domain.Coupon
	err := m.db.QueryRowContext(ctx, query, args...).Scan(
		&c.ID, &c.Code, &c.UserID, &c.DiscountPercentage, &c.ExpiresAt, &c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query coupon: %w", err)
	}
	return &c, nil
}
