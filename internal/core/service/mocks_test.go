package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/checkout-payments/internal/core/domain"
)

// Mock OrderRepository
type mockOrderRepo struct {
	mu        sync.Mutex
	orders    map[string]domain.Order // keyed by transaction ref
	refByID   map[string]string
	createErr error
	getErr    error

	// failReadsAfterWrite makes every read fail once a transition has been applied.
	failReadsAfterWrite bool
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{
		orders:  make(map[string]domain.Order),
		refByID: make(map[string]string),
	}
}

func (m *mockOrderRepo) CreateOrder(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	order.Lines = append([]domain.LineItem(nil), order.Lines...)
	m.orders[order.TransactionRef] = order
	m.refByID[order.ID] = order.TransactionRef
	return nil
}

func (m *mockOrderRepo) GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	ref, ok := m.refByID[orderID]
	if !ok {
		return nil, nil
	}
	order := m.orders[ref]
	return &order, nil
}

func (m *mockOrderRepo) GetOrderByTransactionRef(ctx context.Context, transactionRef string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	order, ok := m.orders[transactionRef]
	if !ok {
		return nil, nil
	}
	return &order, nil
}

func (m *mockOrderRepo) TransitionFromPending(ctx context.Context, transactionRef string, target domain.PaymentStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[transactionRef]
	if !ok || order.PaymentStatus != domain.PaymentStatusPending {
		return false, nil
	}
	order.PaymentStatus = target
	order.UpdatedAt = at
	m.orders[transactionRef] = order
	if m.failReadsAfterWrite {
		m.getErr = errors.New("connection reset")
	}
	return true, nil
}

func (m *mockOrderRepo) status(transactionRef string) domain.PaymentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[transactionRef].PaymentStatus
}

func (m *mockOrderRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// Mock CouponRepository
type mockCouponRepo struct {
	mu          sync.Mutex
	coupons     []domain.Coupon
	deactivated []int64
	lookups     int
}

func (m *mockCouponRepo) GetActiveCoupon(ctx context.Context, code, userID string) (*domain.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lookups++
	for _, c := range m.coupons {
		if c.Code == code && c.UserID == userID && c.Active {
			return &c, nil
		}
	}
	return nil, nil
}

func (m *mockCouponRepo) GetActiveCouponForUser(ctx context.Context, userID string) (*domain.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lookups++
	for _, c := range m.coupons {
		if c.UserID == userID && c.Active {
			return &c, nil
		}
	}
	return nil, nil
}

func (m *mockCouponRepo) DeactivateCoupon(ctx context.Context, couponID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.coupons {
		if m.coupons[i].ID == couponID {
			m.coupons[i].Active = false
		}
	}
	m.deactivated = append(m.deactivated, couponID)
	return nil
}

// Mock PaymentGateway
type mockGateway struct {
	initiateFn  func(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentSession, error)
	verifyFn    func(ctx context.Context, token string) (*domain.Verification, error)
	initiated   []domain.PaymentRequest
	verifyCalls atomic.Int32
	mu          sync.Mutex
}

func (m *mockGateway) Initiate(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentSession, error) {
	m.mu.Lock()
	m.initiated = append(m.initiated, req)
	m.mu.Unlock()

	if m.initiateFn != nil {
		return m.initiateFn(ctx, req)
	}
	return &domain.PaymentSession{RedirectURL: "https://gateway.test/pay/" + req.TransactionRef}, nil
}

func (m *mockGateway) Verify(ctx context.Context, token string) (*domain.Verification, error) {
	m.verifyCalls.Add(1)
	if m.verifyFn != nil {
		return m.verifyFn(ctx, token)
	}
	return &domain.Verification{Status: domain.VerificationInconclusive, RawStatus: "PENDING"}, nil
}

// Mock CacheRepository
type mockCacheRepo struct {
	mu     sync.Mutex
	claims map[string]string
	err    error
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{claims: make(map[string]string)}
}

func (m *mockCacheRepo) ClaimCallback(ctx context.Context, key, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return false, m.err
	}
	if _, held := m.claims[key]; held {
		return false, nil
	}
	m.claims[key] = owner
	return true, nil
}

func (m *mockCacheRepo) ReleaseCallback(ctx context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.claims[key] == owner {
		delete(m.claims, key)
	}
	return nil
}

func (m *mockCacheRepo) held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.claims)
}

func sampleLines() []domain.LineItem {
	return []domain.LineItem{
		{ProductID: "prod-1", Quantity: 2, UnitPrice: decimal.NewFromInt(100)},
	}
}

func sampleCustomer() domain.CustomerInfo {
	return domain.CustomerInfo{
		Name:  "Rahim Uddin",
		Email: "rahim@example.com",
		Phone: "01700000000",
	}
}

// createPendingOrder stores a pending order for user-1 priced at 180.
func createPendingOrder(ledger *OrderLedger) *domain.Order {
	pricing := domain.PricingResult{
		Subtotal:       decimal.NewFromInt(200),
		DiscountAmount: decimal.NewFromInt(20),
		FinalAmount:    decimal.NewFromInt(180),
	}
	order, err := ledger.Create(context.Background(), "user-1", sampleLines(), pricing,
		&domain.EvaluatedCoupon{Code: "SAVE10", DiscountPercentage: 10}, sampleCustomer())
	if err != nil {
		panic(err)
	}
	return order
}

func drain(n *StatusNotifier) []domain.PaymentStatusEvent {
	var events []domain.PaymentStatusEvent
	for {
		select {
		case ev := <-n.GetEventQueue():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func nopLogger() *zap.Logger {
	return zap.NewNop()
}
