package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/mealrun-backend/internal/gateway"
	"github.com/angelmondragon/mealrun-backend/internal/reconciliation"
	"github.com/angelmondragon/mealrun-backend/internal/requests"
	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox/payloads"
)

const (
	DefaultAmountCents = 600
	DefaultCurrency    = "usd"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service orchestrates the authorization hold, capture and cancellation of a
// meal request payment. Local payment status only moves forward through
// ApplyGatewayState on a state the gateway reported.
type Service interface {
	Authorize(ctx context.Context, requestID, requesterID uuid.UUID) (*AuthorizeResult, error)
	Capture(ctx context.Context, requestID, requesterID uuid.UUID) (*PaymentDTO, error)
	CaptureIfReady(ctx context.Context, requestID uuid.UUID) error
	Cancel(ctx context.Context, requestID, requesterID uuid.UUID) error
	SyncStatus(ctx context.Context, requestID, requesterID uuid.UUID) (*SyncResult, error)
	Apply(ctx context.Context, report Report) (*ApplyResult, error)
	SyncUnsettled(ctx context.Context, olderThan time.Duration, limit int) (SyncStats, error)
}

// ServiceParams lists the collaborators of the payment orchestrator.
type ServiceParams struct {
	Requests  *requests.Repository
	Payments  *Repository
	Tx        txRunner
	Outbox    outbox.Emitter
	Gateway   gateway.Gateway
	Reconcile *reconciliation.Reporter
	Logger    *logger.Logger

	AmountCents int64
	Currency    string
	Now         func() time.Time
}

type service struct {
	requests  *requests.Repository
	payments  *Repository
	tx        txRunner
	outbox    outbox.Emitter
	gateway   gateway.Gateway
	reconcile *reconciliation.Reporter
	logg      *logger.Logger
	amount    int64
	currency  string
	now       func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Requests == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "requests repository required")
	case p.Payments == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments repository required")
	case p.Tx == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	case p.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	case p.Gateway == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	}
	if p.AmountCents <= 0 {
		p.AmountCents = DefaultAmountCents
	}
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &service{
		requests:  p.Requests,
		payments:  p.Payments,
		tx:        p.Tx,
		outbox:    p.Outbox,
		gateway:   p.Gateway,
		reconcile: p.Reconcile,
		logg:      p.Logger,
		amount:    p.AmountCents,
		currency:  p.Currency,
		now:       p.Now,
	}, nil
}

func (s *service) Authorize(ctx context.Context, requestID, requesterID uuid.UUID) (*AuthorizeResult, error) {
	if requesterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var paymentID uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		request, err := s.lockRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if request.RequesterID != requesterID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "request not found")
		}
		if request.Status != enums.MealRequestStatusPending && request.Status != enums.MealRequestStatusAwaitingPayment {
			return pkgerrors.New(pkgerrors.CodeConflict, "request can no longer be paid")
		}
		payment, err := EnsurePending(ctx, s.payments.WithTx(tx), request, s.amount, s.currency)
		if err != nil {
			return err
		}
		if payment.Status != enums.PaymentStatusPending {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment already authorized")
		}
		paymentID = payment.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	hold, err := s.gateway.AuthorizeHold(ctx, gateway.HoldParams{
		RequestID:      requestID,
		AmountCents:    s.amount,
		Currency:       s.currency,
		IdempotencyKey: "hold:" + paymentID.String(),
	})
	if err != nil {
		return nil, gateway.AsAppError(err, "authorize payment hold")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.payments.WithTx(tx).SetIntent(ctx, paymentID, hold.IntentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment intent")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment changed during authorization")
		}
		return nil
	})
	if err != nil {
		entry := reconciliation.Entry{
			Operation:   reconciliation.OpAuthorize,
			RequestID:   requestID.String(),
			ProviderRef: hold.IntentID,
			AmountCents: s.amount,
		}
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			if cerr := s.gateway.CancelHold(ctx, hold.IntentID); cerr != nil {
				s.reconcile.Required(ctx, entry, cerr)
			}
			return nil, err
		}
		s.reconcile.Required(ctx, entry, err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payment authorization")
	}

	return &AuthorizeResult{PaymentID: paymentID, ClientSecret: hold.ClientSecret}, nil
}

// EnsurePending returns the payment of request, creating it as PENDING when the
// request has none. It must run inside the transaction holding the request lock.
func EnsurePending(ctx context.Context, repo *Repository, request *models.MealRequest, amount int64, currency string) (*models.Payment, error) {
	if request.Payment != nil {
		return request.Payment, nil
	}
	payment := &models.Payment{
		RequestID:   request.ID,
		AmountCents: amount,
		Currency:    currency,
		Status:      enums.PaymentStatusPending,
	}
	if err := repo.Create(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
	}
	request.Payment = payment
	return payment, nil
}

func (s *service) Capture(ctx context.Context, requestID, requesterID uuid.UUID) (*PaymentDTO, error) {
	if requesterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.RequesterID != requesterID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "request not found")
	}
	return s.capture(ctx, request)
}

// CaptureIfReady captures when the request is claimed and the hold is confirmed.
// Any other state is a no-op.
func (s *service) CaptureIfReady(ctx context.Context, requestID uuid.UUID) error {
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if request.Status != enums.MealRequestStatusAwaitingPayment ||
		request.Payment == nil || request.Payment.Status != enums.PaymentStatusPreAuthorized {
		return nil
	}
	_, err = s.capture(ctx, request)
	return err
}

func (s *service) capture(ctx context.Context, request *models.MealRequest) (*PaymentDTO, error) {
	if request.Status != enums.MealRequestStatusAwaitingPayment {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "request is not awaiting payment")
	}
	payment := request.Payment
	if payment == nil || payment.Status != enums.PaymentStatusPreAuthorized || payment.IntentID() == "" {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment is not pre-authorized")
	}

	state, err := s.gateway.Capture(ctx, payment.IntentID())
	if err != nil {
		return nil, gateway.AsAppError(err, "capture payment")
	}
	if _, err := s.Apply(ctx, Report{
		IntentID:  payment.IntentID(),
		RequestID: request.ID,
		State:     state,
		Source:    SourceCapture,
	}); err != nil {
		s.reconcile.Required(ctx, reconciliation.Entry{
			Operation:   reconciliation.OpCapture,
			RequestID:   request.ID.String(),
			ProviderRef: payment.IntentID(),
			AmountCents: payment.AmountCents,
		}, err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payment capture")
	}

	current, err := s.payments.FindByRequestID(ctx, request.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	dto := NewPaymentDTO(*current)
	return &dto, nil
}

// Cancel withdraws an unclaimed request. A live hold is released at the gateway
// first; if that fails nothing changes locally.
func (s *service) Cancel(ctx context.Context, requestID, requesterID uuid.UUID) error {
	if requesterID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if request.RequesterID != requesterID {
		return pkgerrors.New(pkgerrors.CodeNotFound, "request not found")
	}
	if request.Status != enums.MealRequestStatusPending || request.Fulfillment != nil {
		return pkgerrors.New(pkgerrors.CodeConflict, "only unclaimed requests can be cancelled")
	}

	var releasedIntent string
	if payment := request.Payment; payment != nil && payment.IntentID() != "" &&
		(payment.Status == enums.PaymentStatusPreAuthorized || payment.Status == enums.PaymentStatusPending) {
		if err := s.gateway.CancelHold(ctx, payment.IntentID()); err != nil {
			return gateway.AsAppError(err, "release payment hold")
		}
		releasedIntent = payment.IntentID()
	}

	now := s.now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.lockRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if locked.Status != enums.MealRequestStatusPending || locked.Fulfillment != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "request was claimed while cancelling")
		}
		if locked.Payment != nil {
			ok, err := s.payments.WithTx(tx).Transition(ctx, locked.Payment.ID, locked.Payment.Status, enums.PaymentStatusCancelled, nil)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel payment")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeConflict, "payment changed while cancelling")
			}
		}
		ok, err := s.requests.WithTx(tx).UpdateStatusFrom(ctx, locked.ID, enums.MealRequestStatusPending, enums.MealRequestStatusCancelled)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel request")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "request was claimed while cancelling")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRequestCancelled,
			AggregateType: enums.AggregateMealRequest,
			AggregateID:   locked.ID,
			Actor:         &outbox.ActorRef{UserID: requesterID, Role: outbox.ActorRoleRequester},
			Data: payloads.RequestCancelledEvent{
				RequestID:   locked.ID,
				RequesterID: requesterID,
				CancelledAt: now,
			},
			OccurredAt: now,
		})
	})
	if err != nil && releasedIntent != "" {
		s.reconcile.Required(ctx, reconciliation.Entry{
			Operation:   reconciliation.OpCancelHold,
			RequestID:   requestID.String(),
			ProviderRef: releasedIntent,
		}, err)
	}
	return err
}

// SyncStatus polls the gateway for the caller's payment and applies what it
// reports. Payments without an intent or past the hold stages are returned as is.
func (s *service) SyncStatus(ctx context.Context, requestID, requesterID uuid.UUID) (*SyncResult, error) {
	if requesterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.RequesterID != requesterID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "request not found")
	}
	payment := request.Payment
	if payment == nil {
		return &SyncResult{}, nil
	}
	if payment.IntentID() == "" ||
		(payment.Status != enums.PaymentStatusPending && payment.Status != enums.PaymentStatusPreAuthorized) {
		dto := NewPaymentDTO(*payment)
		return &SyncResult{Payment: &dto}, nil
	}

	state, err := s.gateway.GetIntentState(ctx, payment.IntentID())
	if err != nil {
		return nil, gateway.AsAppError(err, "fetch payment status")
	}
	result, err := s.Apply(ctx, Report{
		IntentID:  payment.IntentID(),
		RequestID: request.ID,
		State:     state,
		Source:    SourceSync,
	})
	if err != nil {
		return nil, err
	}
	current, err := s.payments.FindByRequestID(ctx, request.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	dto := NewPaymentDTO(*current)
	return &SyncResult{Payment: &dto, Updated: result.Changed}, nil
}

// Apply folds a gateway-reported intent state into local state. Reports for an
// unknown intent, or whose request metadata disagrees, are ignored. Applying the
// same report twice changes nothing the second time.
func (s *service) Apply(ctx context.Context, report Report) (*ApplyResult, error) {
	if report.IntentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id required")
	}
	payment, err := s.payments.FindByIntentID(ctx, report.IntentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &ApplyResult{}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if report.RequestID != uuid.Nil && payment.RequestID != report.RequestID {
		return &ApplyResult{}, nil
	}

	result := ApplyResult{PaymentID: payment.ID, RequestID: payment.RequestID}
	var requestStatus enums.MealRequestStatus
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		request, err := s.lockRequest(ctx, tx, payment.RequestID)
		if err != nil {
			return err
		}
		requestStatus = request.Status
		current := request.Payment
		if current == nil || current.IntentID() != report.IntentID {
			return nil
		}
		result.Previous = current.Status
		result.Status = current.Status

		next, changed := ApplyGatewayState(current.Status, report.State)
		if !changed {
			return nil
		}
		now := s.now().UTC()
		var extra map[string]any
		if next == enums.PaymentStatusHeld {
			extra = map[string]any{"requester_charged_at": now}
		}
		ok, err := s.payments.WithTx(tx).Transition(ctx, current.ID, current.Status, next, extra)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
		}
		if !ok {
			return nil
		}
		result.Status = next
		result.Changed = true
		if next != enums.PaymentStatusHeld {
			return nil
		}

		if request.Status == enums.MealRequestStatusAwaitingPayment {
			if _, err := s.requests.WithTx(tx).UpdateStatusFrom(ctx, request.ID,
				enums.MealRequestStatusAwaitingPayment, enums.MealRequestStatusPaid); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark request paid")
			}
			requestStatus = enums.MealRequestStatusPaid
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentHeld,
			AggregateType: enums.AggregateMealRequest,
			AggregateID:   request.ID,
			Actor:         &outbox.ActorRef{Role: outbox.ActorRoleGateway},
			Data: payloads.PaymentHeldEvent{
				RequestID:        request.ID,
				PaymentID:        current.ID,
				AmountCents:      current.AmountCents,
				ProviderIntentID: report.IntentID,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil && result.Changed {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"meal_request_id": result.RequestID.String(),
			"payment_id":      result.PaymentID.String(),
			"from":            result.Previous,
			"to":              result.Status,
			"source":          report.Source,
		}), "payment status advanced")
	}

	if result.Changed && result.Status == enums.PaymentStatusPreAuthorized &&
		requestStatus == enums.MealRequestStatusAwaitingPayment && report.Source != SourceCapture {
		if err := s.CaptureIfReady(ctx, result.RequestID); err != nil && s.logg != nil {
			s.logg.Error(s.logg.WithMealRequest(ctx, result.RequestID.String()), "auto capture failed", err)
		}
	}
	return &result, nil
}

// SyncUnsettled polls every payment still waiting on the gateway that has not
// moved for olderThan. Per-payment failures are collected and do not stop the run.
func (s *service) SyncUnsettled(ctx context.Context, olderThan time.Duration, limit int) (SyncStats, error) {
	var stats SyncStats
	if limit <= 0 {
		limit = 100
	}
	cutoff := s.now().UTC().Add(-olderThan)
	rows, err := s.payments.ListUnsettled(ctx, cutoff, limit)
	if err != nil {
		return stats, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list unsettled payments")
	}

	var errs error
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return stats, multierr.Append(errs, err)
		}
		state, err := s.gateway.GetIntentState(ctx, row.IntentID())
		if err != nil {
			stats.Failed++
			errs = multierr.Append(errs, gateway.AsAppError(err, "fetch payment status "+row.ID.String()))
			continue
		}
		result, err := s.Apply(ctx, Report{
			IntentID:  row.IntentID(),
			RequestID: row.RequestID,
			State:     state,
			Source:    SourceCron,
		})
		if err != nil {
			stats.Failed++
			errs = multierr.Append(errs, err)
			continue
		}
		stats.Checked++
		if result.Changed {
			stats.Changed++
		}
	}
	return stats, errs
}

func (s *service) loadRequest(ctx context.Context, id uuid.UUID) (*models.MealRequest, error) {
	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load request")
	}
	return request, nil
}

func (s *service) lockRequest(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.MealRequest, error) {
	request, err := s.requests.WithTx(tx).FindByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load request")
	}
	return request, nil
}
