package domain

import "github.com/shopspring/decimal"

type PricingResult struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
}
