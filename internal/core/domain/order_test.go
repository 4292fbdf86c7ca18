package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPaymentStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   PaymentStatus
		terminal bool
	}{
		{PaymentStatusPending, false},
		{PaymentStatusPaid, true},
		{PaymentStatusFailed, true},
		{PaymentStatusCancelled, true},
		{PaymentStatus("refunded"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestPaymentStatus_CanTransitionTo(t *testing.T) {
	all := []PaymentStatus{PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCancelled}

	for _, from := range all {
		for _, to := range all {
			want := from == PaymentStatusPending && to != PaymentStatusPending
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestLineItem_Total(t *testing.T) {
	line := LineItem{ProductID: "p-1", Quantity: 3, UnitPrice: decimal.RequireFromString("19.99")}
	assert.True(t, decimal.RequireFromString("59.97").Equal(line.Total()))
}

func TestTransitionOutcome_String(t *testing.T) {
	assert.Equal(t, "applied", TransitionApplied.String())
	assert.Equal(t, "replayed", TransitionReplayed.String())
	assert.Equal(t, "conflict", TransitionConflict.String())
}
