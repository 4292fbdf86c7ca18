package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rl1809/checkout-payments/internal/core/domain"
)

type reconcilerFixture struct {
	reconciler *Reconciler
	ledger     *OrderLedger
	repo       *mockOrderRepo
	gateway    *mockGateway
	cache      *mockCacheRepo
	notifier   *StatusNotifier
	logs       *observer.ObservedLogs
}

func newReconcilerFixture() *reconcilerFixture {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	repo := newMockOrderRepo()
	notifier := NewStatusNotifier(100, logger)
	ledger := NewOrderLedger(repo, notifier, logger)
	gateway := &mockGateway{}
	cache := newMockCacheRepo()

	return &reconcilerFixture{
		reconciler: NewReconciler(ledger, gateway, cache, logger, time.Second),
		ledger:     ledger,
		repo:       repo,
		gateway:    gateway,
		cache:      cache,
		notifier:   notifier,
		logs:       logs,
	}
}

func (f *reconcilerFixture) anomalies() int {
	return f.logs.FilterMessage("callback anomaly").Len()
}

func validFor(order *domain.Order) func(ctx context.Context, token string) (*domain.Verification, error) {
	return func(ctx context.Context, token string) (*domain.Verification, error) {
		return &domain.Verification{
			Status:         domain.VerificationValid,
			RawStatus:      "VALID",
			TransactionRef: order.TransactionRef,
			Amount:         order.Pricing.FinalAmount,
			Currency:       domain.CurrencyBDT,
		}, nil
	}
}

func TestHandleSuccess_MarksPaid(t *testing.T) {
	f := newReconcilerFixture()
	order := createPendingOrder(f.ledger)
	f.gateway.verifyFn = validFor(order)

	got, err := f.reconciler.HandleSuccess(context.Background(), order.TransactionRef, "val-1")
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, domain.PaymentStatusPaid, f.repo.status(order.TransactionRef))
	assert.EqualValues(t, 1, f.gateway.verifyCalls.Load())
	assert.Len(t, drain(f.notifier), 1)
}

func TestHandleSuccess_RejectedVerificationMarksFailed(t *testing.T) {
	f := newReconcilerFixture()
	order := createPendingOrder(f.ledger)
	f.gateway.verifyFn = func(ctx context.Context, token string) (*domain.Verification, error) {
		return &domain.Verification{Status: domain.VerificationRejected, RawStatus: "INVALID_TRANSACTION"}, nil
	}

	got, err := f.reconciler.HandleSuccess(context.Background(), order.TransactionRef, "val-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, got.PaymentStatus)
}

func TestHandleSuccess_InconclusiveLeavesPending(t *testing.T) {
	f := newReconcilerFixture()
	order := createPendingOrder(f.ledger)
	f.gateway.verifyFn = func(ctx context.Context, token string) (*domain.Verification, error) {
		return &domain.Verification{Status: domain.VerificationInconclusive, RawStatus: "PENDING"}, nil
	}

	_, err := f.reconciler.HandleSuccess(context.Background(), order.TransactionRef, "val-1")
	assert.ErrorIs(t, err, domain.ErrPaymentNotVerified)
	assert.Equal(t, domain.PaymentStatusPending, f.repo.status(order.TransactionRef))
	assert.Equal(t, 0, f.cache.held())
}

func TestHandleSuccess_GatewayErrorLeavesPending(t *testing.T) {
	f := newReconcilerFixture()
	order := createPendingOrder(f.ledger)
	f.gateway.verifyFn = func(ctx context.Context, token string) (*domain.Verification, error) {
		return nil, domain.ErrGatewayUnavailable
	}

	_, err := f.reconciler.HandleSuccess(context.Background(), order.TransactionRef, "val-1")
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Equal(t, domain.PaymentStatusPending, f.repo.status(order.TransactionRef))
	assert.Empty(t, drain(f.notifier))

	// claim was released, so the gateway's retry is processed
	f.gateway.verifyFn = validFor(order)
	got, err := f.reconciler.HandleSuccess(context.Background(), order.TransactionRef, "val-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, got.PaymentStatus)
}

func TestHandleSuccess_MismatchedVerificationIsAnomaly(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(v *domain.Verification)
	}{
		{"other transaction", func(v *domain.Verification) { v.TransactionRef = "TXN-someone-else" }},
		{"other amount", func(v *domain.Verification) { v.Amount = decimal.NewFromInt(1) }},
		{"no transaction", func(v *domain.Verification) { v.TransactionRef = "" }},
		{"no amount", func(v *domain.Verification) { v.Amount = decimal.Zero }},
		{"no transaction or amount", func(v *domain.Verification) {
			v.TransactionRef = ""
			v.Amount = decimal.Zero
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReconcilerFixture()
			order := createPendingOrder(f.ledger)
			f.gateway.verifyFn = func(ctx context.Context, token string) (*domain.Verification, error) {
				v, _ := validFor(order)(ctx, token)
				tt.mutate(v)
				return v, nil
			}

			_, err := f.reconciler.HandleSuccess(context.Background(), order.TransactionRef, "val-1")
			assert.ErrorIs(t, err, domain.ErrPaymentNotVerified)
			assert.Equal(t, domain.PaymentStatusPending, f.repo.status(order.TransactionRef))
			assert.Equal(t, 1, f.anomalies())
		})
	}
}

func TestHandleSuccess_ReplayOnPaidOrderSkipsGateway(t *testing.T) {
	f := newReconcilerFixture()
	order := createPendingOrder(f.ledger)
	f.gateway.verifyFn = validFor(order)

	_, err := f.reconciler.HandleSuccess(context.Background(), order.TransactionRef, "val-1")
	require.NoError(t, err)

	got, err := f.reconciler.HandleSuccess(context.Background(), order.TransactionRef, "val-1")
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPaid, got.PaymentStatus)
	assert.EqualValues(t, 1, f.gateway.verifyCalls.Load())
	assert.Len(t, drain(f.notifier), 1)
}

func TestHandleSuccess_ClaimedElsewhere(t *testing.T) {
	f := newReconcilerFixture()
	order := createPendingOrder(f.ledger)
	f.cache.claims["callback:success:"+order.TransactionRef+":val-1"] = "other-instance"

	got, err := f.reconciler.HandleSuccess(context.Background(), order.TransactionRef, "val-1")
	assert.ErrorIs(t, err, domain.ErrCallbackInProgress)
	assert.Equal(t, domain.PaymentStatusPending, got.PaymentStatus)
	assert.EqualValues(t, 0, f.gateway.verifyCalls.Load())
}

func TestHandleSuccess_CacheDownStillProcesses(t *testing.T) {
	f := newReconcilerFixture()
	order := createPendingOrder(f.ledger)
	f.gateway.verifyFn = validFor(order)
	f.cache.err = errors.New("connection refused")

	got, err := f.reconciler.HandleSuccess(context.Background(), order.TransactionRef, "val-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, got.PaymentStatus)
}

func TestHandleSuccess_MissingFields(t *testing.T) {
	f := newReconcilerFixture()

	_, err := f.reconciler.HandleSuccess(context.Background(), "", "val-1")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.reconciler.HandleSuccess(context.Background(), "TXN-1", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestHandleFail_ReplayIsNoop(t *testing.T) {
	f := newReconcilerFixture()
	order := createPendingOrder(f.ledger)

	first, err := f.reconciler.HandleFail(context.Background(), order.TransactionRef)
	require.NoError(t, err)
	second, err := f.reconciler.HandleFail(context.Background(), order.TransactionRef)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusFailed, first.PaymentStatus)
	assert.Equal(t, first, second)
	assert.Len(t, drain(f.notifier), 1)
	assert.Equal(t, 0, f.anomalies())
	assert.EqualValues(t, 0, f.gateway.verifyCalls.Load())
}

func TestHandleCancel_AfterPaidIsConflict(t *testing.T) {
	f := newReconcilerFixture()
	order := createPendingOrder(f.ledger)
	f.gateway.verifyFn = validFor(order)

	_, err := f.reconciler.HandleSuccess(context.Background(), order.TransactionRef, "val-1")
	require.NoError(t, err)

	got, err := f.reconciler.HandleCancel(context.Background(), order.TransactionRef)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, domain.PaymentStatusPaid, f.repo.status(order.TransactionRef))
	assert.Equal(t, 1, f.anomalies())
}

func TestHandleIPN_UnknownTransaction(t *testing.T) {
	f := newReconcilerFixture()
	createPendingOrder(f.ledger)

	_, err := f.reconciler.HandleIPN(context.Background(), "TXN-forged", "val-1")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	anomalies := f.logs.FilterMessage("callback anomaly").All()
	require.Len(t, anomalies, 1)
	assert.Equal(t, zapcore.WarnLevel, anomalies[0].Level)
	assert.Equal(t, "TXN-forged", anomalies[0].ContextMap()["transaction_ref"])
	assert.Equal(t, "ipn", anomalies[0].ContextMap()["callback"])

	assert.EqualValues(t, 0, f.gateway.verifyCalls.Load())
	assert.Empty(t, drain(f.notifier))
}

func TestHandleFail_UnknownTransaction(t *testing.T) {
	f := newReconcilerFixture()

	_, err := f.reconciler.HandleFail(context.Background(), "TXN-forged")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Equal(t, 1, f.anomalies())
}

func TestReconciler_ConcurrentSuccessAndCancel(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newReconcilerFixture()
		order := createPendingOrder(f.ledger)
		f.gateway.verifyFn = validFor(order)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			f.reconciler.HandleSuccess(context.Background(), order.TransactionRef, "val-1")
		}()
		go func() {
			defer wg.Done()
			f.reconciler.HandleIPN(context.Background(), order.TransactionRef, "val-1")
		}()
		go func() {
			defer wg.Done()
			f.reconciler.HandleCancel(context.Background(), order.TransactionRef)
		}()
		wg.Wait()

		final := f.repo.status(order.TransactionRef)
		if final != domain.PaymentStatusPaid && final != domain.PaymentStatusCancelled {
			t.Fatalf("round %d: unexpected final status %s", round, final)
		}

		events := drain(f.notifier)
		require.Len(t, events, 1, "round %d", round)
		assert.Equal(t, final, events[0].Status)
	}
}

func TestReconciler_VerifyHonoursTimeout(t *testing.T) {
	f := newReconcilerFixture()
	order := createPendingOrder(f.ledger)
	f.reconciler.verifyTimeout = 20 * time.Millisecond
	f.gateway.verifyFn = func(ctx context.Context, token string) (*domain.Verification, error) {
		<-ctx.Done()
		return nil, domain.ErrGatewayUnavailable
	}

	start := time.Now()
	_, err := f.reconciler.HandleSuccess(context.Background(), order.TransactionRef, "val-1")

	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, domain.PaymentStatusPending, f.repo.status(order.TransactionRef))
}
