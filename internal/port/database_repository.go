package port

import (
	"context"
	"time"

	"github.com/rl1809/checkout-payments/internal/core/domain"
)

type OrderRepository interface {
	// CreateOrder persists a new order together with its line items
	CreateOrder(ctx context.Context, order domain.Order) error

	// GetOrderByID retrieves an order by primary key, nil if absent
	GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error)

	// GetOrderByTransactionRef retrieves an order by gateway transaction reference, nil if absent
	GetOrderByTransactionRef(ctx context.Context, transactionRef string) (*domain.Order, error)

	// TransitionFromPending sets the status only if the order is still pending, returns false otherwise
	TransitionFromPending(ctx context.Context, transactionRef string, target domain.PaymentStatus, at time.Time) (bool, error)
}

type CouponRepository interface {
	// GetActiveCoupon retrieves the active coupon with code owned by userID, nil if absent
	GetActiveCoupon(ctx context.Context, code, userID string) (*domain.Coupon, error)

	// GetActiveCouponForUser retrieves any active coupon owned by userID, nil if absent
	GetActiveCouponForUser(ctx context.Context, userID string) (*domain.Coupon, error)

	// DeactivateCoupon marks a coupon inactive
	DeactivateCoupon(ctx context.Context, couponID int64) error
}
