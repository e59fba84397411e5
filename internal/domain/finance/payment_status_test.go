package finance

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPaymentStatus_IsValid(t *testing.T) {
	tests := []struct {
		status  PaymentStatus
		isValid bool
	}{
		{PaymentStatusPending, true},
		{PaymentStatusPartiallyPaid, true},
		{PaymentStatusPaid, true},
		{PaymentStatus("PARTIAL"), false},
		{PaymentStatus(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.isValid, tt.status.IsValid())
		})
	}
}

func TestStatusForUnsigned(t *testing.T) {
	tests := []struct {
		name     string
		totalDue string
		paid     string
		want     PaymentStatus
	}{
		{"nothing paid", "5000", "0", PaymentStatusPending},
		{"partly paid", "5000", "0.01", PaymentStatusPartiallyPaid},
		{"exactly paid", "5000", "5000", PaymentStatusPaid},
		{"overpaid", "5000", "6000", PaymentStatusPaid},
		{"zero due", "0", "0", PaymentStatusPaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusForUnsigned(dec(tt.totalDue), dec(tt.paid)))
		})
	}
}

func TestStatusForSigned(t *testing.T) {
	tests := []struct {
		name     string
		totalDue string
		paid     string
		want     PaymentStatus
	}{
		{"zero difference is paid immediately", "0", "0", PaymentStatusPaid},
		{"negative nothing paid", "-2000", "0", PaymentStatusPending},
		{"negative partly paid", "-2000", "500", PaymentStatusPartiallyPaid},
		{"negative fully paid", "-2000", "2000", PaymentStatusPaid},
		{"positive partly paid", "750", "100", PaymentStatusPartiallyPaid},
		{"positive fully paid", "750", "750", PaymentStatusPaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusForSigned(dec(tt.totalDue), dec(tt.paid)))
		})
	}
}

func TestPaymentStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from PaymentStatus
		to   PaymentStatus
		ok   bool
	}{
		{PaymentStatusPending, PaymentStatusPending, true},
		{PaymentStatusPending, PaymentStatusPartiallyPaid, true},
		{PaymentStatusPending, PaymentStatusPaid, true},
		{PaymentStatusPartiallyPaid, PaymentStatusPaid, true},
		{PaymentStatusPartiallyPaid, PaymentStatusPending, false},
		{PaymentStatusPaid, PaymentStatusPartiallyPaid, false},
		{PaymentStatusPaid, PaymentStatusPending, false},
		{PaymentStatusPaid, PaymentStatusPaid, true},
		{PaymentStatus("X"), PaymentStatusPaid, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
			err := ValidateTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidStatusChange))
			}
		})
	}
}

func TestPendingAmount(t *testing.T) {
	tests := []struct {
		name     string
		thread   Thread
		totalDue string
		paid     string
		want     string
	}{
		{"portal", ThreadPortal, "8000", "5000", "3000"},
		{"portal fully paid", ThreadPortal, "8000", "8000", "0"},
		{"signed negative", ThreadDifference, "-2000", "500", "1500"},
		{"signed negative settled", ThreadDifference, "-2000", "2000", "0"},
		{"signed positive", ThreadDifference, "750", "250", "500"},
		{"signed zero", ThreadDifference, "0", "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertDecimal(t, tt.want, PendingAmount(tt.thread, dec(tt.totalDue), dec(tt.paid)))
		})
	}
}

func TestPendingAmount_NonIncreasing(t *testing.T) {
	for _, thread := range []Thread{ThreadPortal, ThreadDifference} {
		totalDue := dec("1000")
		if thread.Signed() {
			totalDue = dec("-1000")
		}
		previous := PendingAmount(thread, totalDue, decimal.Zero)
		for paid := 100; paid <= 1000; paid += 100 {
			pending := PendingAmount(thread, totalDue, decimal.NewFromInt(int64(paid)))
			assert.True(t, pending.LessThanOrEqual(previous), "thread %s paid %d", thread, paid)
			assert.False(t, pending.IsNegative())
			previous = pending
		}
	}
}
