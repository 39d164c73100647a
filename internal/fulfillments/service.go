package fulfillments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mealrun-backend/internal/payments"
	"github.com/angelmondragon/mealrun-backend/internal/requests"
	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type evidenceChecker interface {
	RequireOwned(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, ids ...uuid.UUID) error
}

type capturer interface {
	CaptureIfReady(ctx context.Context, requestID uuid.UUID) error
}

// Service is the fulfillment manager.
type Service interface {
	Claim(ctx context.Context, input ClaimInput) (*FulfillmentDTO, error)
	ConfirmReceipt(ctx context.Context, fulfillmentID, requesterID uuid.UUID) (*FulfillmentDTO, error)
	ListMine(ctx context.Context, fulfillerID uuid.UUID) ([]FulfillmentDTO, error)
}

type ServiceParams struct {
	Requests     *requests.Repository
	Fulfillments *Repository
	Payments     *payments.Repository
	Evidence     evidenceChecker
	Capturer     capturer
	Tx           txRunner
	Outbox       outbox.Emitter
	Logger       *logger.Logger

	ReservationWindow time.Duration
	AmountCents       int64
	Currency          string
	Now               func() time.Time
}

type service struct {
	requests     *requests.Repository
	fulfillments *Repository
	payments     *payments.Repository
	evidence     evidenceChecker
	capturer     capturer
	tx           txRunner
	outbox       outbox.Emitter
	logg         *logger.Logger
	window       time.Duration
	amount       int64
	currency     string
	now          func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Requests == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "requests repository required")
	case p.Fulfillments == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fulfillments repository required")
	case p.Payments == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments repository required")
	case p.Evidence == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "evidence service required")
	case p.Tx == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	case p.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if p.ReservationWindow <= 0 {
		p.ReservationWindow = requests.DefaultReservationWindow
	}
	if p.AmountCents <= 0 {
		p.AmountCents = payments.DefaultAmountCents
	}
	if p.Currency == "" {
		p.Currency = payments.DefaultCurrency
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &service{
		requests:     p.Requests,
		fulfillments: p.Fulfillments,
		payments:     p.Payments,
		evidence:     p.Evidence,
		capturer:     p.Capturer,
		tx:           p.Tx,
		outbox:       p.Outbox,
		logg:         p.Logger,
		window:       p.ReservationWindow,
		amount:       p.AmountCents,
		currency:     p.Currency,
		now:          p.Now,
	}, nil
}

func (s *service) Claim(ctx context.Context, input ClaimInput) (*FulfillmentDTO, error) {
	if input.FulfillerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.EvidenceUploadID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order confirmation screenshot is required")
	}

	var (
		created     *models.Fulfillment
		needCapture bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		requestRepo := s.requests.WithTx(tx)
		request, err := requestRepo.FindByIDForUpdate(ctx, input.RequestID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "request not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load request")
		}
		if request.Fulfillment != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "order already claimed")
		}
		if request.Status != enums.MealRequestStatusPending {
			return pkgerrors.New(pkgerrors.CodeConflict, "request is no longer available")
		}
		if request.RequesterID == input.FulfillerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "cannot fulfill your own request")
		}
		now := s.now().UTC()
		if !request.ReservedBy(input.FulfillerID, now, s.window) {
			return pkgerrors.New(pkgerrors.CodeConflict, "reservation expired")
		}
		if err := s.evidence.RequireOwned(ctx, tx, input.FulfillerID, input.EvidenceUploadID); err != nil {
			return err
		}

		fulfillment := &models.Fulfillment{
			RequestID:        request.ID,
			FulfillerID:      input.FulfillerID,
			Status:           enums.FulfillmentStatusClaimed,
			EvidenceUploadID: input.EvidenceUploadID,
		}
		if err := s.fulfillments.WithTx(tx).Create(ctx, fulfillment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create fulfillment")
		}
		payment, err := payments.EnsurePending(ctx, s.payments.WithTx(tx), request, s.amount, s.currency)
		if err != nil {
			return err
		}

		next := enums.MealRequestStatusAwaitingPayment
		if payment.Status == enums.PaymentStatusHeld {
			next = enums.MealRequestStatusPaid
		}
		ok, err := requestRepo.UpdateStatusFrom(ctx, request.ID, enums.MealRequestStatusPending, next)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update request status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "request is no longer available")
		}
		if err := requestRepo.SetReservation(ctx, request.ID, nil, nil); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear reservation")
		}

		created = fulfillment
		needCapture = payment.Status == enums.PaymentStatusPreAuthorized
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRequestClaimed,
			AggregateType: enums.AggregateMealRequest,
			AggregateID:   request.ID,
			Actor:         &outbox.ActorRef{UserID: input.FulfillerID, Role: outbox.ActorRoleFulfiller},
			Data: payloads.RequestClaimedEvent{
				RequestID:     request.ID,
				FulfillmentID: fulfillment.ID,
				RequesterID:   request.RequesterID,
				FulfillerID:   input.FulfillerID,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	if needCapture && s.capturer != nil {
		if err := s.capturer.CaptureIfReady(ctx, input.RequestID); err != nil && s.logg != nil {
			s.logg.Error(s.logg.WithMealRequest(ctx, input.RequestID.String()), "capture after claim failed", err)
		}
	}

	dto := NewFulfillmentDTO(*created)
	return &dto, nil
}

func (s *service) ConfirmReceipt(ctx context.Context, fulfillmentID, requesterID uuid.UUID) (*FulfillmentDTO, error) {
	if requesterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	var confirmed *models.Fulfillment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		fulfillment, err := s.fulfillments.WithTx(tx).FindByID(ctx, fulfillmentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "fulfillment not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load fulfillment")
		}
		request, err := s.requests.WithTx(tx).FindByIDForUpdate(ctx, fulfillment.RequestID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load request")
		}
		if request.RequesterID != requesterID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "fulfillment not found")
		}
		if err := CompleteOrder(ctx, tx, s.outbox, Completion{
			Request: request,
			At:      s.now().UTC(),
			Actor:   &outbox.ActorRef{UserID: requesterID, Role: outbox.ActorRoleRequester},
		}); err != nil {
			return err
		}
		confirmed = request.Fulfillment
		confirmed.Request = request
		return nil
	})
	if err != nil {
		return nil, err
	}
	dto := NewFulfillmentDTO(*confirmed)
	return &dto, nil
}

func (s *service) ListMine(ctx context.Context, fulfillerID uuid.UUID) ([]FulfillmentDTO, error) {
	if fulfillerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	rows, err := s.fulfillments.ListByFulfiller(ctx, fulfillerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list fulfillments")
	}
	out := make([]FulfillmentDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, NewFulfillmentDTO(row))
	}
	return out, nil
}
