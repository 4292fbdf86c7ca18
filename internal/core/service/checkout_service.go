package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/checkout-payments/internal/core/domain"
	"github.com/rl1809/checkout-payments/internal/port"
)

type CheckoutConfig struct {
	Callbacks       domain.CallbackURLs
	ProductName     string
	InitiateTimeout time.Duration
}

type CheckoutRequest struct {
	UserID     string
	Lines      []domain.LineItem
	Customer   domain.CustomerInfo
	CouponCode string
}

type CheckoutResult struct {
	Order       *domain.Order
	RedirectURL string
	Coupon      *domain.EvaluatedCoupon
}

type CheckoutService struct {
	coupons *CouponService
	ledger  *OrderLedger
	gateway port.PaymentGateway
	cfg     CheckoutConfig
	logger  *zap.Logger
	now     func() time.Time
}

func NewCheckoutService(
	coupons *CouponService,
	ledger *OrderLedger,
	gateway port.PaymentGateway,
	cfg CheckoutConfig,
	logger *zap.Logger,
) *CheckoutService {
	return &CheckoutService{
		coupons: coupons,
		ledger:  ledger,
		gateway: gateway,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "checkout_service")),
		now:     time.Now,
	}
}

// Checkout prices the cart, records a pending order and opens a gateway session.
// An explicit gateway rejection marks the order failed; any other gateway error
// leaves it pending.
func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := validateCustomer(req.Customer); err != nil {
		return nil, err
	}
	if err := validateLines(req.Lines); err != nil {
		return nil, err
	}

	var coupon *domain.EvaluatedCoupon
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		evaluated, err := s.coupons.Evaluate(ctx, code, req.UserID, s.now())
		if err != nil {
			return nil, err
		}
		coupon = &evaluated
	}

	pricing, err := Price(req.Lines, coupon)
	if err != nil {
		return nil, err
	}

	order, err := s.ledger.Create(ctx, req.UserID, req.Lines, pricing, coupon, req.Customer)
	if err != nil {
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, s.cfg.InitiateTimeout)
	defer cancel()

	session, err := s.gateway.Initiate(initCtx, domain.PaymentRequest{
		Amount:         order.Pricing.FinalAmount,
		Currency:       order.Currency,
		TransactionRef: order.TransactionRef,
		Customer:       order.Customer,
		Callbacks:      s.cfg.Callbacks,
		ProductName:    s.cfg.ProductName,
	})
	if err != nil {
		if errors.Is(err, domain.ErrGatewayRejected) {
			s.markFailed(ctx, order.TransactionRef)
		} else {
			s.logger.Warn("gateway unavailable, order left pending",
				zap.String("transaction_ref", order.TransactionRef),
				zap.Error(err),
			)
		}
		return nil, fmt.Errorf("initiate payment: %w", err)
	}

	return &CheckoutResult{
		Order:       order,
		RedirectURL: session.RedirectURL,
		Coupon:      coupon,
	}, nil
}

// OrderStatus returns the order if it belongs to userID.
func (s *CheckoutService) OrderStatus(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	return s.ledger.Get(ctx, orderID, userID)
}

func (s *CheckoutService) markFailed(ctx context.Context, transactionRef string) {
	_, _, err := s.ledger.Transition(context.WithoutCancel(ctx), transactionRef, domain.PaymentStatusFailed)
	if err != nil {
		s.logger.Error("failed to mark rejected order as failed",
			zap.String("transaction_ref", transactionRef),
			zap.Error(err),
		)
	}
}
