package enums

import "fmt"

// OutboxAggregateType names the record an outbox event describes.
type OutboxAggregateType string

const (
	AggregateMealRequest OutboxAggregateType = "meal_request"
	AggregateDispute     OutboxAggregateType = "dispute"
	AggregatePayout      OutboxAggregateType = "fulfiller_payout"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateMealRequest,
	AggregateDispute,
	AggregatePayout,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a lifecycle transition published downstream.
type OutboxEventType string

const (
	EventRequestCreated   OutboxEventType = "request.created"
	EventRequestClaimed   OutboxEventType = "request.claimed"
	EventRequestCancelled OutboxEventType = "request.cancelled"
	EventPaymentHeld      OutboxEventType = "payment.held"
	EventOrderConfirmed   OutboxEventType = "order.confirmed"
	EventDisputeOpened    OutboxEventType = "dispute.opened"
	EventDisputeResolved  OutboxEventType = "dispute.resolved"
	EventPayoutCreated    OutboxEventType = "payout.created"
)

var validOutboxEventTypes = []OutboxEventType{
	EventRequestCreated,
	EventRequestClaimed,
	EventRequestCancelled,
	EventPaymentHeld,
	EventOrderConfirmed,
	EventDisputeOpened,
	EventDisputeResolved,
	EventPayoutCreated,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
