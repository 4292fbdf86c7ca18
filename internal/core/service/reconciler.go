package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/checkout-payments/internal/core/domain"
	"github.com/rl1809/checkout-payments/internal/port"
)

type CallbackKind string

const (
	CallbackSuccess CallbackKind = "success"
	CallbackFail    CallbackKind = "fail"
	CallbackCancel  CallbackKind = "cancel"
	CallbackIPN     CallbackKind = "ipn"
)

const callbackKeyPrefix = "callback:"

// Reconciler applies gateway callbacks to the order ledger. Callbacks are
// correlated by transaction reference only.
type Reconciler struct {
	ledger        *OrderLedger
	gateway       port.PaymentGateway
	cache         port.CacheRepository
	logger        *zap.Logger
	verifyTimeout time.Duration
	verifyGroup   singleflight.Group
}

// NewReconciler builds a reconciler. cache may be nil, in which case callbacks
// are not claimed across instances.
func NewReconciler(
	ledger *OrderLedger,
	gateway port.PaymentGateway,
	cache port.CacheRepository,
	logger *zap.Logger,
	verifyTimeout time.Duration,
) *Reconciler {
	return &Reconciler{
		ledger:        ledger,
		gateway:       gateway,
		cache:         cache,
		logger:        logger.With(zap.String("component", "reconciler")),
		verifyTimeout: verifyTimeout,
	}
}

// HandleSuccess verifies token with the gateway and marks the order paid.
func (r *Reconciler) HandleSuccess(ctx context.Context, transactionRef, token string) (*domain.Order, error) {
	return r.handleVerified(ctx, CallbackSuccess, transactionRef, token)
}

// HandleIPN runs the success logic for a server-to-server notification.
func (r *Reconciler) HandleIPN(ctx context.Context, transactionRef, token string) (*domain.Order, error) {
	return r.handleVerified(ctx, CallbackIPN, transactionRef, token)
}

func (r *Reconciler) HandleFail(ctx context.Context, transactionRef string) (*domain.Order, error) {
	return r.apply(ctx, CallbackFail, transactionRef, domain.PaymentStatusFailed)
}

func (r *Reconciler) HandleCancel(ctx context.Context, transactionRef string) (*domain.Order, error) {
	return r.apply(ctx, CallbackCancel, transactionRef, domain.PaymentStatusCancelled)
}

func (r *Reconciler) handleVerified(ctx context.Context, kind CallbackKind, transactionRef, token string) (*domain.Order, error) {
	if transactionRef == "" || token == "" {
		return nil, fmt.Errorf("%w: transaction reference and verification token are required", domain.ErrValidation)
	}

	order, err := r.ledger.Lookup(ctx, transactionRef)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			r.anomaly(kind, transactionRef, "callback for unknown transaction")
		}
		return nil, err
	}

	if order.PaymentStatus.IsTerminal() {
		if order.PaymentStatus != domain.PaymentStatusPaid {
			r.anomaly(kind, transactionRef, "success callback for order already "+string(order.PaymentStatus))
		}
		return order, nil
	}

	claimKey := fmt.Sprintf("%s%s:%s:%s", callbackKeyPrefix, kind, transactionRef, token)
	owner := uuid.NewString()
	if !r.claim(ctx, claimKey, owner) {
		return order, domain.ErrCallbackInProgress
	}

	result, err := r.process(ctx, kind, order, token)
	if err != nil {
		r.release(ctx, claimKey, owner)
	}
	return result, err
}

func (r *Reconciler) process(ctx context.Context, kind CallbackKind, order *domain.Order, token string) (*domain.Order, error) {
	verification, err := r.verify(ctx, token)
	if err != nil {
		r.logger.Warn("payment verification failed, order left pending",
			zap.String("callback", string(kind)),
			zap.String("transaction_ref", order.TransactionRef),
			zap.Error(err),
		)
		return nil, fmt.Errorf("verify payment: %w", err)
	}

	switch verification.Status {
	case domain.VerificationValid:
		if verification.TransactionRef != order.TransactionRef {
			r.anomaly(kind, order.TransactionRef, "verified transaction "+strconv.Quote(verification.TransactionRef)+" does not match callback")
			return nil, domain.ErrPaymentNotVerified
		}
		if !verification.Amount.Equal(order.Pricing.FinalAmount) {
			r.anomaly(kind, order.TransactionRef, "verified amount "+verification.Amount.String()+" does not match order amount "+order.Pricing.FinalAmount.String())
			return nil, domain.ErrPaymentNotVerified
		}
		return r.apply(ctx, kind, order.TransactionRef, domain.PaymentStatusPaid)
	case domain.VerificationRejected:
		r.logger.Info("gateway rejected payment",
			zap.String("callback", string(kind)),
			zap.String("transaction_ref", order.TransactionRef),
			zap.String("gateway_status", verification.RawStatus),
		)
		return r.apply(ctx, kind, order.TransactionRef, domain.PaymentStatusFailed)
	}

	r.logger.Info("payment verification inconclusive, order left pending",
		zap.String("callback", string(kind)),
		zap.String("transaction_ref", order.TransactionRef),
		zap.String("gateway_status", verification.RawStatus),
	)
	return nil, domain.ErrPaymentNotVerified
}

// verify collapses concurrent verifications of the same token into one gateway call.
func (r *Reconciler) verify(ctx context.Context, token string) (*domain.Verification, error) {
	v, err, _ := r.verifyGroup.Do(token, func() (interface{}, error) {
		verifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.verifyTimeout)
		defer cancel()
		return r.gateway.Verify(verifyCtx, token)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Verification), nil
}

func (r *Reconciler) apply(ctx context.Context, kind CallbackKind, transactionRef string, target domain.PaymentStatus) (*domain.Order, error) {
	order, outcome, err := r.ledger.Transition(ctx, transactionRef, target)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			r.anomaly(kind, transactionRef, "callback for unknown transaction")
		}
		return nil, err
	}

	switch outcome {
	case domain.TransitionReplayed:
		r.logger.Info("duplicate callback ignored",
			zap.String("callback", string(kind)),
			zap.String("transaction_ref", transactionRef),
			zap.String("status", string(order.PaymentStatus)),
		)
	case domain.TransitionConflict:
		r.anomaly(kind, transactionRef, fmt.Sprintf("%v: order is %s, callback wanted %s",
			domain.ErrTransitionConflict, order.PaymentStatus, target))
	}

	return order, nil
}

func (r *Reconciler) claim(ctx context.Context, key, owner string) bool {
	if r.cache == nil {
		return true
	}

	ok, err := r.cache.ClaimCallback(ctx, key, owner)
	if err != nil {
		r.logger.Warn("callback claim unavailable, processing without it", zap.String("key", key), zap.Error(err))
		return true
	}
	if !ok {
		r.logger.Info("callback already claimed", zap.String("key", key))
	}
	return ok
}

func (r *Reconciler) release(ctx context.Context, key, owner string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.ReleaseCallback(context.WithoutCancel(ctx), key, owner); err != nil {
		r.logger.Warn("failed to release callback claim", zap.String("key", key), zap.Error(err))
	}
}

func (r *Reconciler) anomaly(kind CallbackKind, transactionRef, detail string) {
	r.logger.Warn("callback anomaly",
		zap.String("callback", string(kind)),
		zap.String("transaction_ref", transactionRef),
		zap.String("detail", detail),
	)
}
