package port

import (
	"context"

	"github.com/rl1809/checkout-payments/internal/core/domain"
)

type PaymentGateway interface {
	// Initiate opens a hosted payment session and returns the page the shopper is sent to
	Initiate(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentSession, error)

	// Verify asks the gateway for the authoritative outcome behind a verification token
	Verify(ctx context.Context, token string) (*domain.Verification, error)
}
