package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/checkout-payments/internal/core/domain"
	"github.com/rl1809/checkout-payments/internal/port"
)

type CouponService struct {
	repo   port.CouponRepository
	logger *zap.Logger
}

func NewCouponService(repo port.CouponRepository, logger *zap.Logger) *CouponService {
	return &CouponService{
		repo:   repo,
		logger: logger.With(zap.String("component", "coupon_service")),
	}
}

// Evaluate checks code against userID at now. An expired coupon is deactivated
// before ErrCouponExpired is returned.
func (s *CouponService) Evaluate(ctx context.Context, code, userID string, now time.Time) (domain.EvaluatedCoupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.EvaluatedCoupon{}, domain.ErrCouponInvalid
	}

	coupon, err := s.repo.GetActiveCoupon(ctx, code, userID)
	if err != nil {
		return domain.EvaluatedCoupon{}, fmt.Errorf("get coupon: %w", err)
	}
	if coupon == nil {
		return domain.EvaluatedCoupon{}, domain.ErrCouponNotFound
	}

	if err := s.retireIfExpired(ctx, coupon, now); err != nil {
		return domain.EvaluatedCoupon{}, err
	}

	if coupon.DiscountPercentage < 0 || coupon.DiscountPercentage > 100 {
		return domain.EvaluatedCoupon{}, fmt.Errorf("%w: discount %d%% out of range", domain.ErrCouponInvalid, coupon.DiscountPercentage)
	}

	return domain.EvaluatedCoupon{
		Code:               coupon.Code,
		DiscountPercentage: coupon.DiscountPercentage,
	}, nil
}

// ActiveCoupon returns the user's active coupon, retiring it if it has expired.
func (s *CouponService) ActiveCoupon(ctx context.Context, userID string, now time.Time) (*domain.Coupon, error) {
	coupon, err := s.repo.GetActiveCouponForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if coupon == nil {
		return nil, domain.ErrCouponNotFound
	}

	if err := s.retireIfExpired(ctx, coupon, now); err != nil {
		return nil, err
	}

	return coupon, nil
}

func (s *CouponService) retireIfExpired(ctx context.Context, coupon *domain.Coupon, now time.Time) error {
	if !coupon.Expired(now) {
		return nil
	}

	if err := s.repo.DeactivateCoupon(ctx, coupon.ID); err != nil {
		return fmt.Errorf("deactivate coupon: %w", err)
	}
	coupon.Active = false

	s.logger.Info("deactivated expired coupon",
		zap.Int64("coupon_id", coupon.ID),
		zap.String("user_id", coupon.UserID),
		zap.Time("expired_at", coupon.ExpiresAt),
	)

	return domain.ErrCouponExpired
}
