package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/mealrun-backend/pkg/enums"
)

// RequestCreatedEvent announces a new meal request open for fulfillers.
type RequestCreatedEvent struct {
	RequestID      uuid.UUID `json:"request_id"`
	RequesterID    uuid.UUID `json:"requester_id"`
	DiningLocation string    `json:"dining_location"`
	RestaurantName string    `json:"restaurant_name"`
}

// RequestClaimedEvent is emitted when a fulfiller takes a request.
type RequestClaimedEvent struct {
	RequestID     uuid.UUID `json:"request_id"`
	FulfillmentID uuid.UUID `json:"fulfillment_id"`
	RequesterID   uuid.UUID `json:"requester_id"`
	FulfillerID   uuid.UUID `json:"fulfiller_id"`
}

// RequestCancelledEvent is emitted when the requester withdraws before a claim.
type RequestCancelledEvent struct {
	RequestID   uuid.UUID `json:"request_id"`
	RequesterID uuid.UUID `json:"requester_id"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// PaymentHeldEvent is emitted once buyer funds are captured into escrow.
type PaymentHeldEvent struct {
	RequestID        uuid.UUID `json:"request_id"`
	PaymentID        uuid.UUID `json:"payment_id"`
	AmountCents      int64     `json:"amount_cents"`
	ProviderIntentID string    `json:"provider_intent_id"`
}

// OrderConfirmedEvent is emitted when escrow is released to the fulfiller.
type OrderConfirmedEvent struct {
	RequestID     uuid.UUID `json:"request_id"`
	FulfillmentID uuid.UUID `json:"fulfillment_id"`
	FulfillerID   uuid.UUID `json:"fulfiller_id"`
	ViaDispute    bool      `json:"via_dispute"`
}

// DisputeOpenedEvent notifies operators that adjudication is needed.
type DisputeOpenedEvent struct {
	DisputeID   uuid.UUID `json:"dispute_id"`
	RequestID   uuid.UUID `json:"request_id"`
	RequesterID uuid.UUID `json:"requester_id"`
}

// DisputeResolvedEvent reports the admin decision.
type DisputeResolvedEvent struct {
	DisputeID      uuid.UUID           `json:"dispute_id"`
	RequestID      uuid.UUID           `json:"request_id"`
	Status         enums.DisputeStatus `json:"status"`
	ResolvedByID   uuid.UUID           `json:"resolved_by_id"`
	ReversedCents  int64               `json:"reversed_cents"`
	RefundProvider string              `json:"refund_provider_id,omitempty"`
}

// PayoutCreatedEvent records funds leaving the platform for a fulfiller.
type PayoutCreatedEvent struct {
	PayoutID           uuid.UUID `json:"payout_id"`
	FulfillerID        uuid.UUID `json:"fulfiller_id"`
	AmountCents        int64     `json:"amount_cents"`
	ProviderTransferID string    `json:"provider_transfer_id"`
}
