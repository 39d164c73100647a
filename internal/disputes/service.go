package disputes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mealrun-backend/internal/fulfillments"
	"github.com/angelmondragon/mealrun-backend/internal/gateway"
	"github.com/angelmondragon/mealrun-backend/internal/payments"
	"github.com/angelmondragon/mealrun-backend/internal/payouts"
	"github.com/angelmondragon/mealrun-backend/internal/reconciliation"
	"github.com/angelmondragon/mealrun-backend/internal/requests"
	"github.com/angelmondragon/mealrun-backend/pkg/db"
	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/mealrun-backend/pkg/pagination"
)

const (
	minReasonLen = 10
	maxReasonLen = 2000
	maxEvidence  = 2

	// approvalLease bounds how long an approval claim blocks other resolutions
	// when the approving process dies before releasing it.
	approvalLease = 5 * time.Minute
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type evidenceChecker interface {
	RequireOwned(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, ids ...uuid.UUID) error
}

// Service is the dispute resolver.
type Service interface {
	Open(ctx context.Context, input OpenInput) (*DisputeDTO, error)
	Approve(ctx context.Context, disputeID, adminID uuid.UUID) (*DisputeDTO, error)
	Deny(ctx context.Context, disputeID, adminID uuid.UUID) (*DisputeDTO, error)
	Get(ctx context.Context, disputeID, callerID uuid.UUID, isAdmin bool) (*DisputeDTO, error)
	ListAll(ctx context.Context, params pagination.Params, status *enums.DisputeStatus) (*pagination.Page[DisputeDTO], error)
}

type ServiceParams struct {
	Requests     *requests.Repository
	Disputes     *Repository
	Payments     *payments.Repository
	Fulfillments *fulfillments.Repository
	Payouts      *payouts.Repository
	Evidence     evidenceChecker
	Gateway      gateway.Gateway
	Tx           txRunner
	Outbox       outbox.Emitter
	Reconcile    *reconciliation.Reporter
	Logger       *logger.Logger

	FulfillerAmountCents int64
	Now                  func() time.Time
}

type service struct {
	requests        *requests.Repository
	disputes        *Repository
	payments        *payments.Repository
	fulfillments    *fulfillments.Repository
	payouts         *payouts.Repository
	evidence        evidenceChecker
	gateway         gateway.Gateway
	tx              txRunner
	outbox          outbox.Emitter
	reconcile       *reconciliation.Reporter
	logg            *logger.Logger
	fulfillerAmount int64
	now             func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Requests == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "requests repository required")
	case p.Disputes == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "disputes repository required")
	case p.Payments == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments repository required")
	case p.Fulfillments == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fulfillments repository required")
	case p.Payouts == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payouts repository required")
	case p.Evidence == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "evidence service required")
	case p.Gateway == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	case p.Tx == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	case p.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if p.FulfillerAmountCents <= 0 {
		p.FulfillerAmountCents = payouts.DefaultFulfillerAmountCents
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &service{
		requests:        p.Requests,
		disputes:        p.Disputes,
		payments:        p.Payments,
		fulfillments:    p.Fulfillments,
		payouts:         p.Payouts,
		evidence:        p.Evidence,
		gateway:         p.Gateway,
		tx:              p.Tx,
		outbox:          p.Outbox,
		reconcile:       p.Reconcile,
		logg:            p.Logger,
		fulfillerAmount: p.FulfillerAmountCents,
		now:             p.Now,
	}, nil
}

func (s *service) Open(ctx context.Context, input OpenInput) (*DisputeDTO, error) {
	if input.RequesterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	reason := strings.TrimSpace(input.Reason)
	if n := utf8.RuneCountInString(reason); n < minReasonLen || n > maxReasonLen {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason must be 10-2000 characters")
	}
	if len(input.EvidenceIDs) == 0 || len(input.EvidenceIDs) > maxEvidence {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "one or two evidence images are required")
	}

	var created *models.Dispute
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		request, err := s.lockRequest(ctx, tx, input.RequestID)
		if err != nil {
			return err
		}
		if request.RequesterID != input.RequesterID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if request.Dispute != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "a dispute already exists for this order")
		}
		if request.Status != enums.MealRequestStatusPaid && request.Status != enums.MealRequestStatusConfirmed {
			return pkgerrors.New(pkgerrors.CodeConflict, "this order cannot be disputed")
		}
		if payment := request.Payment; payment == nil ||
			(payment.Status != enums.PaymentStatusHeld && payment.Status != enums.PaymentStatusReleased) {
			return pkgerrors.New(pkgerrors.CodeConflict, "this order cannot be disputed")
		}
		if err := s.evidence.RequireOwned(ctx, tx, input.RequesterID, input.EvidenceIDs...); err != nil {
			return err
		}

		dispute := &models.Dispute{
			RequestID:      request.ID,
			RequesterID:    input.RequesterID,
			Reason:         reason,
			EvidenceImage1: input.EvidenceIDs[0],
			Status:         enums.DisputeStatusPending,
		}
		if len(input.EvidenceIDs) > 1 {
			second := input.EvidenceIDs[1]
			dispute.EvidenceImage2 = &second
		}
		if err := s.disputes.WithTx(tx).Create(ctx, dispute); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "a dispute already exists for this order")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create dispute")
		}
		dispute.Request = request
		created = dispute
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeOpened,
			AggregateType: enums.AggregateDispute,
			AggregateID:   dispute.ID,
			Actor:         &outbox.ActorRef{UserID: input.RequesterID, Role: outbox.ActorRoleRequester},
			Data: payloads.DisputeOpenedEvent{
				DisputeID:   dispute.ID,
				RequestID:   request.ID,
				RequesterID: input.RequesterID,
			},
			OccurredAt: s.now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}
	dto := NewDisputeDTO(*created)
	return &dto, nil
}

// approval is what Approve needs from the locked state before it calls the gateway.
type approval struct {
	disputeID     uuid.UUID
	requestID     uuid.UUID
	paymentStatus enums.PaymentStatus
	intentID      string
	fulfillerID   uuid.UUID
}

// Approve refunds the requester and, when the fulfiller was already paid, claws
// the fulfiller share back from their payouts newest first. A failure before the
// final commit leaves the dispute PENDING; approving again reuses the same
// gateway idempotency keys and skips reversals already recorded.
func (s *service) Approve(ctx context.Context, disputeID, adminID uuid.UUID) (*DisputeDTO, error) {
	if adminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var snap approval
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		dispute, request, err := s.lockDispute(ctx, tx, disputeID)
		if err != nil {
			return err
		}
		payment := request.Payment
		if payment == nil || payment.IntentID() == "" {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment record missing")
		}
		if payment.Status != enums.PaymentStatusHeld && payment.Status != enums.PaymentStatusReleased {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment cannot be refunded")
		}
		now := s.now().UTC()
		claimed, err := s.disputes.WithTx(tx).ClaimApproval(ctx, dispute.ID, now, now.Add(-approvalLease))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim dispute approval")
		}
		if !claimed {
			return pkgerrors.New(pkgerrors.CodeConflict, "dispute approval already in progress")
		}
		snap = approval{
			disputeID:     dispute.ID,
			requestID:     request.ID,
			paymentStatus: payment.Status,
			intentID:      payment.IntentID(),
		}
		if request.Fulfillment != nil {
			snap.fulfillerID = request.Fulfillment.FulfillerID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	refundID, err := s.gateway.Refund(ctx, snap.intentID, "refund:"+snap.disputeID.String())
	if err != nil {
		s.releaseApproval(ctx, snap.disputeID)
		return nil, gateway.AsAppError(err, "refund payment")
	}
	refunded := reconciliation.Entry{
		Operation:   reconciliation.OpRefund,
		RequestID:   snap.requestID.String(),
		DisputeID:   snap.disputeID.String(),
		ProviderRef: refundID,
	}

	reversed, err := s.reverseFulfillerShare(ctx, snap)
	if err != nil {
		s.releaseApproval(ctx, snap.disputeID)
		s.reconcile.Required(ctx, refunded, err)
		return nil, err
	}

	now := s.now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		request, err := s.lockRequest(ctx, tx, snap.requestID)
		if err != nil {
			return err
		}
		ok, err := s.disputes.WithTx(tx).Resolve(ctx, snap.disputeID, enums.DisputeStatusApproved, adminID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve dispute")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "dispute already resolved")
		}
		if request.Payment == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment record missing")
		}
		ok, err = s.payments.WithTx(tx).Transition(ctx, request.Payment.ID, snap.paymentStatus, enums.PaymentStatusRefunded, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refund payment")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment changed during approval")
		}
		if err := s.requests.WithTx(tx).UpdateStatus(ctx, request.ID, enums.MealRequestStatusCancelled); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel request")
		}
		if request.Fulfillment != nil {
			if err := s.fulfillments.WithTx(tx).UpdateStatus(ctx, request.Fulfillment.ID, enums.FulfillmentStatusCancelled); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel fulfillment")
			}
		}
		return s.emitResolved(ctx, tx, snap.disputeID, request.ID, enums.DisputeStatusApproved, adminID, reversed, refundID, now)
	})
	if err != nil {
		s.releaseApproval(ctx, snap.disputeID)
		s.reconcile.Required(ctx, refunded, err)
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record dispute approval")
	}
	return s.load(ctx, snap.disputeID)
}

// reverseFulfillerShare walks the fulfiller's payouts newest first and reverses
// until the fulfiller share is covered. Older payouts the fulfiller already spent
// are not preferred, so the share may stay partly unrecovered when recent payouts
// are too small.
func (s *service) reverseFulfillerShare(ctx context.Context, snap approval) (int64, error) {
	if snap.paymentStatus != enums.PaymentStatusReleased || snap.fulfillerID == uuid.Nil {
		return 0, nil
	}
	already, err := s.disputes.ReversedForDispute(ctx, snap.disputeID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reversals")
	}
	remaining := s.fulfillerAmount - already
	if remaining <= 0 {
		return already, nil
	}
	history, err := s.payouts.ListByFulfiller(ctx, snap.fulfillerID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payouts")
	}

	for _, payout := range history {
		if remaining <= 0 {
			break
		}
		if payout.Pending() || payout.Failed() {
			continue
		}
		net := payout.AmountCents - payout.ReversedCents()
		if net <= 0 {
			continue
		}
		amount := min(remaining, net)
		key := "reversal:" + snap.disputeID.String() + ":" + payout.ID.String()
		reversalID, err := s.gateway.ReverseTransfer(ctx, payout.ProviderTransferID, amount, key)
		if err != nil {
			return 0, gateway.AsAppError(err, "reverse transfer")
		}
		reversal := &models.DisputeReversal{
			DisputeID:          snap.disputeID,
			PayoutID:           payout.ID,
			AmountCents:        amount,
			ProviderReversalID: reversalID,
		}
		var recorded int64
		if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			recorded, err = s.recordReversal(ctx, tx, reversal)
			return err
		}); err != nil {
			s.reconcile.Required(ctx, reconciliation.Entry{
				Operation:   reconciliation.OpReversal,
				RequestID:   snap.requestID.String(),
				DisputeID:   snap.disputeID.String(),
				FulfillerID: snap.fulfillerID.String(),
				ProviderRef: reversalID,
				AmountCents: amount,
			}, err)
			return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record transfer reversal")
		}
		remaining -= recorded
	}

	if remaining > 0 && s.logg != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"dispute_id":        snap.disputeID.String(),
			"fulfiller_id":      snap.fulfillerID.String(),
			"unrecovered_cents": remaining,
		}), "fulfiller share not fully reversed")
	}
	return s.fulfillerAmount - remaining, nil
}

// recordReversal stores a reversal the gateway already made. The payout row is
// locked and the dispute's reversals re-read, so neither the payout nor the
// fulfiller share is reversed past its amount. It returns the amount recorded
// for this payout, which is the earlier row's amount when one already exists.
func (s *service) recordReversal(ctx context.Context, tx *gorm.DB, reversal *models.DisputeReversal) (int64, error) {
	payout, err := s.payouts.WithTx(tx).FindByIDForUpdate(ctx, reversal.PayoutID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock payout")
	}
	for _, existing := range payout.Reversals {
		if existing.DisputeID == reversal.DisputeID {
			return existing.AmountCents, nil
		}
	}
	if net := payout.AmountCents - payout.ReversedCents(); reversal.AmountCents > net {
		return 0, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("reversal of %d cents exceeds the %d cents left on payout", reversal.AmountCents, net))
	}
	already, err := s.disputes.WithTx(tx).ReversedForDispute(ctx, reversal.DisputeID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reversals")
	}
	if already+reversal.AmountCents > s.fulfillerAmount {
		return 0, pkgerrors.New(pkgerrors.CodeConflict, "reversal exceeds the fulfiller share")
	}
	if err := s.disputes.WithTx(tx).CreateReversal(ctx, reversal); err != nil {
		if db.IsUniqueViolation(err, "") {
			return 0, pkgerrors.New(pkgerrors.CodeConflict, "reversal already recorded for payout")
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reversal")
	}
	return reversal.AmountCents, nil
}

// releaseApproval drops the approval claim so the dispute can be approved again.
func (s *service) releaseApproval(ctx context.Context, disputeID uuid.UUID) {
	err := s.disputes.ReleaseApproval(context.WithoutCancel(ctx), disputeID)
	if err != nil && s.logg != nil {
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"dispute_id": disputeID.String(),
		}), "release dispute approval", err)
	}
}

// Deny closes the dispute in the fulfiller's favor. A still-held payment is
// released as if the requester had confirmed receipt.
func (s *service) Deny(ctx context.Context, disputeID, adminID uuid.UUID) (*DisputeDTO, error) {
	if adminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		dispute, request, err := s.lockDispute(ctx, tx, disputeID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if started := dispute.ApprovalStartedAt; started != nil && started.After(now.Add(-approvalLease)) {
			return pkgerrors.New(pkgerrors.CodeConflict, "dispute approval already in progress")
		}
		ok, err := s.disputes.WithTx(tx).Resolve(ctx, dispute.ID, enums.DisputeStatusDenied, adminID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve dispute")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "dispute already resolved")
		}
		if request.Payment != nil && request.Payment.Status == enums.PaymentStatusHeld {
			if err := fulfillments.CompleteOrder(ctx, tx, s.outbox, fulfillments.Completion{
				Request:    request,
				At:         now,
				Actor:      &outbox.ActorRef{UserID: adminID, Role: outbox.ActorRoleAdmin},
				ViaDispute: true,
			}); err != nil {
				return err
			}
		}
		return s.emitResolved(ctx, tx, dispute.ID, request.ID, enums.DisputeStatusDenied, adminID, 0, "", now)
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, disputeID)
}

// Get is visible to the requester, the assigned fulfiller and admins.
func (s *service) Get(ctx context.Context, disputeID, callerID uuid.UUID, isAdmin bool) (*DisputeDTO, error) {
	if callerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	dto, err := s.load(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if isAdmin || dto.RequesterID == callerID || (dto.FulfillerID != nil && *dto.FulfillerID == callerID) {
		return dto, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
}

func (s *service) ListAll(ctx context.Context, params pagination.Params, status *enums.DisputeStatus) (*pagination.Page[DisputeDTO], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.disputes.ListAll(ctx, params.Limit, cursor, status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list disputes")
	}
	dtos := make([]DisputeDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, NewDisputeDTO(row))
	}
	page := pagination.Trim(dtos, params.Limit, func(d DisputeDTO) pagination.Cursor {
		return pagination.Cursor{CreatedAt: d.CreatedAt, ID: d.ID}
	})
	return &page, nil
}

func (s *service) emitResolved(ctx context.Context, tx *gorm.DB, disputeID, requestID uuid.UUID, status enums.DisputeStatus, adminID uuid.UUID, reversed int64, refundID string, at time.Time) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDisputeResolved,
		AggregateType: enums.AggregateDispute,
		AggregateID:   disputeID,
		Actor:         &outbox.ActorRef{UserID: adminID, Role: outbox.ActorRoleAdmin},
		Data: payloads.DisputeResolvedEvent{
			DisputeID:      disputeID,
			RequestID:      requestID,
			Status:         status,
			ResolvedByID:   adminID,
			ReversedCents:  reversed,
			RefundProvider: refundID,
		},
		OccurredAt: at,
	})
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*DisputeDTO, error) {
	dispute, err := s.disputes.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispute")
	}
	dto := NewDisputeDTO(*dispute)
	return &dto, nil
}

// lockDispute locks the disputed request and re-reads the dispute under that lock.
// Only PENDING disputes are returned.
func (s *service) lockDispute(ctx context.Context, tx *gorm.DB, disputeID uuid.UUID) (*models.Dispute, *models.MealRequest, error) {
	dispute, err := s.disputes.WithTx(tx).FindByID(ctx, disputeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispute")
	}
	request, err := s.lockRequest(ctx, tx, dispute.RequestID)
	if err != nil {
		return nil, nil, err
	}
	if request.Dispute == nil || request.Dispute.Status != enums.DisputeStatusPending {
		return nil, nil, pkgerrors.New(pkgerrors.CodeConflict, "dispute already resolved")
	}
	return request.Dispute, request, nil
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
