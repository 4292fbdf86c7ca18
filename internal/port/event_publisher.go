package port

import (
	"context"

	"github.com/rl1809/checkout-payments/internal/core/domain"
)

type EventPublisher interface {
	// PublishStatusChanged emits one payment status change
	PublishStatusChanged(ctx context.Context, event domain.PaymentStatusEvent) error
}
