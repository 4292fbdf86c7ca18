package service

import (
	"sync"

	"go.uber.org/zap"

	"github.com/rl1809/checkout-payments/internal/core/domain"
)

// StatusNotifier buffers payment status events for the publishing workers.
// Notify never blocks; a full or closed queue drops the event.
type StatusNotifier struct {
	mu     sync.RWMutex
	closed bool
	queue  chan domain.PaymentStatusEvent
	logger *zap.Logger
}

func NewStatusNotifier(queueSize int, logger *zap.Logger) *StatusNotifier {
	return &StatusNotifier{
		queue:  make(chan domain.PaymentStatusEvent, queueSize),
		logger: logger.With(zap.String("component", "status_notifier")),
	}
}

func (n *StatusNotifier) Notify(order domain.Order) {
	event := domain.PaymentStatusEvent{
		OrderID:        order.ID,
		TransactionRef: order.TransactionRef,
		UserID:         order.UserID,
		Status:         order.PaymentStatus,
		FinalAmount:    order.Pricing.FinalAmount,
		Currency:       order.Currency,
		OccurredAt:     order.UpdatedAt,
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		n.logger.Warn("status event queue closed, dropping event",
			zap.String("transaction_ref", order.TransactionRef),
			zap.String("status", string(order.PaymentStatus)),
		)
		return
	}

	select {
	case n.queue <- event:
	default:
		n.logger.Warn("status event queue full, dropping event",
			zap.String("transaction_ref", order.TransactionRef),
			zap.String("status", string(order.PaymentStatus)),
		)
	}
}

func (n *StatusNotifier) GetEventQueue() <-chan domain.PaymentStatusEvent {
	return n.queue
}

// Close stops accepting events and closes the queue so workers can drain it.
// It is safe to call more than once.
func (n *StatusNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	close(n.queue)
}
