package enums

import "fmt"

// PaymentStatus tracks the escrow state of a meal request payment.
type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "PENDING"
	PaymentStatusPreAuthorized PaymentStatus = "PRE_AUTHORIZED"
	PaymentStatusHeld          PaymentStatus = "HELD"
	PaymentStatusReleased      PaymentStatus = "RELEASED"
	PaymentStatusRefunded      PaymentStatus = "REFUNDED"
	PaymentStatusCancelled     PaymentStatus = "CANCELLED"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusPreAuthorized,
	PaymentStatusHeld,
	PaymentStatusReleased,
	PaymentStatusRefunded,
	PaymentStatusCancelled,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (p PaymentStatus) IsTerminal() bool {
	return p == PaymentStatusRefunded || p == PaymentStatusCancelled
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
