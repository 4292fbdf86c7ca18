package domain

import "time"

type Coupon struct {
	ID                 int64
	Code               string
	UserID             string
	DiscountPercentage int
	ExpiresAt          time.Time
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Expired reports whether the coupon's expiry lies strictly before now.
func (c Coupon) Expired(now time.Time) bool {
	return c.ExpiresAt.Before(now)
}

// EvaluatedCoupon is a coupon that passed evaluation for one user at one instant.
type EvaluatedCoupon struct {
	Code               string
	DiscountPercentage int
}
