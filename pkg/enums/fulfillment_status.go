package enums

import "fmt"

// FulfillmentStatus tracks a fulfiller's claim on a meal request.
type FulfillmentStatus string

const (
	FulfillmentStatusClaimed   FulfillmentStatus = "CLAIMED"
	FulfillmentStatusConfirmed FulfillmentStatus = "CONFIRMED"
	FulfillmentStatusCancelled FulfillmentStatus = "CANCELLED"
)

var validFulfillmentStatuses = []FulfillmentStatus{
	FulfillmentStatusClaimed,
	FulfillmentStatusConfirmed,
	FulfillmentStatusCancelled,
}

func (s FulfillmentStatus) String() string {
	return string(s)
}

func (s FulfillmentStatus) IsValid() bool {
	for _, candidate := range validFulfillmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseFulfillmentStatus(value string) (FulfillmentStatus, error) {
	for _, candidate := range validFulfillmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fulfillment status %q", value)
}
