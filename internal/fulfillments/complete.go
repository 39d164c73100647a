package fulfillments

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/mealrun-backend/internal/payments"
	"github.com/angelmondragon/mealrun-backend/internal/requests"
	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox/payloads"
)

// Completion describes an escrow release for a request locked by the caller.
type Completion struct {
	Request    *models.MealRequest
	At         time.Time
	Actor      *outbox.ActorRef
	ViaDispute bool
}

// CompleteOrder releases held funds to the fulfiller: fulfillment CONFIRMED,
// request CONFIRMED and payment RELEASED, plus order.confirmed. It must run inside
// the transaction that locked c.Request.
func CompleteOrder(ctx context.Context, tx *gorm.DB, emitter outbox.Emitter, c Completion) error {
	request := c.Request
	fulfillment := request.Fulfillment
	payment := request.Payment
	if fulfillment == nil || fulfillment.Status != enums.FulfillmentStatusClaimed {
		return pkgerrors.New(pkgerrors.CodeConflict, "invalid fulfillment state")
	}
	if payment == nil || payment.Status != enums.PaymentStatusHeld {
		return pkgerrors.New(pkgerrors.CodeConflict, "invalid payment state")
	}

	ok, err := NewRepository(tx).Confirm(ctx, fulfillment.ID, c.At)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm fulfillment")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "invalid fulfillment state")
	}
	if err := requests.NewRepository(tx).UpdateStatus(ctx, request.ID, enums.MealRequestStatusConfirmed); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm request")
	}
	ok, err = payments.NewRepository(tx).Transition(ctx, payment.ID, enums.PaymentStatusHeld, enums.PaymentStatusReleased,
		map[string]any{"fulfiller_paid_at": c.At})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release payment")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "invalid payment state")
	}

	at := c.At
	fulfillment.Status = enums.FulfillmentStatusConfirmed
	fulfillment.ConfirmedAt = &at
	request.Status = enums.MealRequestStatusConfirmed
	payment.Status = enums.PaymentStatusReleased
	payment.FulfillerPaidAt = &at

	return emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderConfirmed,
		AggregateType: enums.AggregateMealRequest,
		AggregateID:   request.ID,
		Actor:         c.Actor,
		Data: payloads.OrderConfirmedEvent{
			RequestID:     request.ID,
			FulfillmentID: fulfillment.ID,
			FulfillerID:   fulfillment.FulfillerID,
			ViaDispute:    c.ViaDispute,
		},
		OccurredAt: c.At,
	})
}
