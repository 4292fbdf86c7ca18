package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/checkout-payments/internal/core/domain"
)

var hundred = decimal.NewFromInt(100)

// Price computes subtotal, discount and final amount for a cart snapshot.
// The discount is rounded to two places and never exceeds the subtotal.
func Price(lines []domain.LineItem, coupon *domain.EvaluatedCoupon) (domain.PricingResult, error) {
	if err := validateLines(lines); err != nil {
		return domain.PricingResult{}, err
	}

	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.Total())
	}

	discount := decimal.Zero
	if coupon != nil {
		if coupon.DiscountPercentage < 0 || coupon.DiscountPercentage > 100 {
			return domain.PricingResult{}, fmt.Errorf("%w: discount %d%% out of range", domain.ErrCouponInvalid, coupon.DiscountPercentage)
		}
		discount = subtotal.
			Mul(decimal.NewFromInt(int64(coupon.DiscountPercentage))).
			Div(hundred).
			Round(2)
		if discount.GreaterThan(subtotal) {
			discount = subtotal
		}
	}

	final := subtotal.Sub(discount)
	if final.IsNegative() {
		final = decimal.Zero
	}

	return domain.PricingResult{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		FinalAmount:    final,
	}, nil
}

func validateLines(lines []domain.LineItem) error {
	if len(lines) == 0 {
		return domain.ErrEmptyCart
	}

	for i, line := range lines {
		if line.ProductID == "" {
			return fmt.Errorf("%w: line %d has no product", domain.ErrValidation, i)
		}
		if line.Quantity < 1 {
			return fmt.Errorf("%w: line %d quantity must be at least 1", domain.ErrValidation, i)
		}
		if line.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: line %d has a negative price", domain.ErrValidation, i)
		}
	}

	return nil
}
