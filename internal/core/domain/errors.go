package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrEmptyCart  = fmt.Errorf("%w: cart is empty", ErrValidation)

	ErrCoupon         = errors.New("coupon error")
	ErrCouponNotFound = fmt.Errorf("%w: coupon not found", ErrCoupon)
	ErrCouponExpired  = fmt.Errorf("%w: coupon has expired", ErrCoupon)
	ErrCouponInvalid  = fmt.Errorf("%w: coupon is invalid", ErrCoupon)

	ErrOrderNotFound = errors.New("order not found")
	ErrForbidden     = errors.New("order belongs to another user")

	ErrGateway            = errors.New("gateway error")
	ErrGatewayUnavailable = fmt.Errorf("%w: gateway unavailable", ErrGateway)
	ErrGatewayRejected    = fmt.Errorf("%w: gateway rejected request", ErrGateway)

	ErrTransitionConflict = errors.New("transition conflict")

	ErrPaymentNotVerified = errors.New("payment could not be verified")
	ErrCallbackInProgress = errors.New("callback is already being processed")
)
