package enums

import "fmt"

// MealRequestStatus tracks a meal request through the delivery lifecycle.
type MealRequestStatus string

const (
	MealRequestStatusPending         MealRequestStatus = "PENDING"
	MealRequestStatusAwaitingPayment MealRequestStatus = "AWAITING_PAYMENT"
	MealRequestStatusPaid            MealRequestStatus = "PAID"
	MealRequestStatusConfirmed       MealRequestStatus = "CONFIRMED"
	MealRequestStatusCancelled       MealRequestStatus = "CANCELLED"
)

var validMealRequestStatuses = []MealRequestStatus{
	MealRequestStatusPending,
	MealRequestStatusAwaitingPayment,
	MealRequestStatusPaid,
	MealRequestStatusConfirmed,
	MealRequestStatusCancelled,
}

// String implements fmt.Stringer.
func (s MealRequestStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known MealRequestStatus.
func (s MealRequestStatus) IsValid() bool {
	for _, candidate := range validMealRequestStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseMealRequestStatus converts raw input into a MealRequestStatus.
func ParseMealRequestStatus(value string) (MealRequestStatus, error) {
	for _, candidate := range validMealRequestStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid meal request status %q", value)
}
