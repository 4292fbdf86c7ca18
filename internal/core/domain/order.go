package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

const (
	GatewaySSLCommerz = "sslcommerz"
	CurrencyBDT       = "BDT"
)

// IsTerminal reports whether no further transition may leave s.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether s may move to next. Only pending has outgoing edges.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return s == PaymentStatusPending && next.IsTerminal()
}

type LineItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Total is unit price times quantity.
func (l LineItem) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type CustomerInfo struct {
	Name     string
	Email    string
	Phone    string
	Address  string
	City     string
	State    string
	Postcode string
}

type Order struct {
	ID                 string
	TransactionRef     string
	UserID             string
	Lines              []LineItem
	Pricing            PricingResult
	CouponCode         string
	DiscountPercentage int
	Customer           CustomerInfo
	PaymentStatus      PaymentStatus
	PaymentGateway     string
	Currency           string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasCoupon reports whether a coupon was applied when the order was priced.
func (o Order) HasCoupon() bool {
	return o.CouponCode != ""
}

// TransitionOutcome describes what a ledger transition did to the stored order.
type TransitionOutcome int

const (
	// TransitionApplied means the order moved from pending to the target.
	TransitionApplied TransitionOutcome = iota
	// TransitionReplayed means the order already held the target status.
	TransitionReplayed
	// TransitionConflict means the order already held a different terminal status.
	TransitionConflict
)

func (o TransitionOutcome) String() string {
	switch o {
	case TransitionApplied:
		return "applied"
	case TransitionReplayed:
		return "replayed"
	case TransitionConflict:
		return "conflict"
	}
	return "unknown"
}

type PaymentStatusEvent struct {
	OrderID        string          `json:"order_id"`
	TransactionRef string          `json:"transaction_ref"`
	UserID         string          `json:"user_id"`
	Status         PaymentStatus   `json:"status"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	Currency       string          `json:"currency"`
	OccurredAt     time.Time       `json:"occurred_at"`
}
