package domain

import "github.com/shopspring/decimal"

// CallbackURLs are the gateway-facing endpoints for one payment session.
type CallbackURLs struct {
	Success string
	Fail    string
	Cancel  string
	IPN     string
}

type PaymentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	TransactionRef string
	Customer       CustomerInfo
	Callbacks      CallbackURLs
	ProductName    string
}

type PaymentSession struct {
	RedirectURL string
	SessionKey  string
}

type VerificationStatus string

const (
	VerificationValid        VerificationStatus = "valid"
	VerificationRejected     VerificationStatus = "rejected"
	VerificationInconclusive VerificationStatus = "inconclusive"
)

// Verification is the gateway's authoritative answer for one verification token.
type Verification struct {
	Status         VerificationStatus
	RawStatus      string
	TransactionRef string
	Amount         decimal.Decimal
	Currency       string
}
