package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/checkout-payments/internal/core/domain"
	"github.com/rl1809/checkout-payments/internal/port"
)

// OrderLedger owns order records and the payment status state machine.
type OrderLedger struct {
	repo     port.OrderRepository
	notifier *StatusNotifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrderLedger builds a ledger. notifier may be nil.
func NewOrderLedger(repo port.OrderRepository, notifier *StatusNotifier, logger *zap.Logger) *OrderLedger {
	return &OrderLedger{
		repo:     repo,
		notifier: notifier,
		logger:   logger.With(zap.String("component", "order_ledger")),
		now:      time.Now,
	}
}

// Create records a pending order. Lines are copied so later cart changes cannot
// alter what is charged.
func (l *OrderLedger) Create(
	ctx context.Context,
	userID string,
	lines []domain.LineItem,
	pricing domain.PricingResult,
	coupon *domain.EvaluatedCoupon,
	customer domain.CustomerInfo,
) (*domain.Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user is required", domain.ErrValidation)
	}
	if err := validateCustomer(customer); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, domain.ErrEmptyCart
	}

	now := l.now().UTC()
	order := domain.Order{
		ID:             uuid.NewString(),
		TransactionRef: newTransactionRef(userID, now),
		UserID:         userID,
		Lines:          append([]domain.LineItem(nil), lines...),
		Pricing:        pricing,
		Customer:       customer,
		PaymentStatus:  domain.PaymentStatusPending,
		PaymentGateway: domain.GatewaySSLCommerz,
		Currency:       domain.CurrencyBDT,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if coupon != nil {
		order.CouponCode = coupon.Code
		order.DiscountPercentage = coupon.DiscountPercentage
	}

	if err := l.repo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	l.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("transaction_ref", order.TransactionRef),
		zap.String("final_amount", order.Pricing.FinalAmount.StringFixed(2)),
	)

	return &order, nil
}

// Transition moves the order behind transactionRef from pending to target in one
// conditional write. A terminal order is returned unchanged with
// TransitionReplayed or TransitionConflict. The order is read before the write;
// an applied transition is not re-read.
func (l *OrderLedger) Transition(ctx context.Context, transactionRef string, target domain.PaymentStatus) (*domain.Order, domain.TransitionOutcome, error) {
	if transactionRef == "" {
		return nil, 0, fmt.Errorf("%w: transaction reference is required", domain.ErrValidation)
	}
	if !target.IsTerminal() {
		return nil, 0, fmt.Errorf("%w: %q is not a terminal status", domain.ErrValidation, target)
	}

	order, err := l.Lookup(ctx, transactionRef)
	if err != nil {
		return nil, 0, err
	}

	at := l.now().UTC()
	applied, err := l.repo.TransitionFromPending(ctx, transactionRef, target, at)
	if err != nil {
		return nil, 0, fmt.Errorf("transition order: %w", err)
	}

	if applied {
		order.PaymentStatus = target
		order.UpdatedAt = at
		l.logger.Info("order transitioned",
			zap.String("transaction_ref", transactionRef),
			zap.String("status", string(target)),
		)
		if l.notifier != nil {
			l.notifier.Notify(*order)
		}
		return order, domain.TransitionApplied, nil
	}

	if order.PaymentStatus == domain.PaymentStatusPending {
		// Lost a race; reload to see which outcome won.
		if order, err = l.Lookup(ctx, transactionRef); err != nil {
			return nil, 0, err
		}
	}

	switch {
	case order.PaymentStatus == target:
		return order, domain.TransitionReplayed, nil
	case order.PaymentStatus.IsTerminal():
		return order, domain.TransitionConflict, nil
	}

	return nil, 0, fmt.Errorf("order %s still %s after conditional update", transactionRef, order.PaymentStatus)
}

// Lookup finds an order by gateway transaction reference.
func (l *OrderLedger) Lookup(ctx context.Context, transactionRef string) (*domain.Order, error) {
	order, err := l.repo.GetOrderByTransactionRef(ctx, transactionRef)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

// Get returns an order owned by userID.
func (l *OrderLedger) Get(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	order, err := l.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	if order.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return order, nil
}

func validateCustomer(c domain.CustomerInfo) error {
	var missing []string
	if strings.TrimSpace(c.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(c.Email) == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(c.Phone) == "" {
		missing = append(missing, "phone")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: customer %s required", domain.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

func newTransactionRef(userID string, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("TXN-%d-%s-%s", now.UnixMilli(), userID, suffix)
}
