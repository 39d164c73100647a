package payouts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mealrun-backend/internal/gateway"
	"github.com/angelmondragon/mealrun-backend/internal/reconciliation"
	"github.com/angelmondragon/mealrun-backend/internal/users"
	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
	"github.com/angelmondragon/mealrun-backend/pkg/money"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox/payloads"
)

const (
	DefaultFulfillerAmountCents = 500
	DefaultMinTransferCents     = 100
	DefaultCurrency             = "usd"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service derives fulfiller balances and moves earnings to connected accounts.
type Service interface {
	Balance(ctx context.Context, fulfillerID uuid.UUID) (*BalanceDTO, error)
	Transfer(ctx context.Context, input TransferInput) (*PayoutDTO, error)
	Onboard(ctx context.Context, input OnboardInput) (*OnboardingDTO, error)
}

type ServiceParams struct {
	Users     *users.Repository
	Payouts   *Repository
	Gateway   gateway.Gateway
	Tx        txRunner
	Outbox    outbox.Emitter
	Reconcile *reconciliation.Reporter
	Logger    *logger.Logger

	FulfillerAmountCents int64
	MinTransferCents     int64
	Currency             string
	Now                  func() time.Time
}

type service struct {
	users           *users.Repository
	payouts         *Repository
	gateway         gateway.Gateway
	tx              txRunner
	outbox          outbox.Emitter
	reconcile       *reconciliation.Reporter
	logg            *logger.Logger
	fulfillerAmount int64
	minTransfer     int64
	currency        string
	now             func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Users == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "users repository required")
	case p.Payouts == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payouts repository required")
	case p.Gateway == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	case p.Tx == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	case p.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if p.FulfillerAmountCents <= 0 {
		p.FulfillerAmountCents = DefaultFulfillerAmountCents
	}
	if p.MinTransferCents <= 0 {
		p.MinTransferCents = DefaultMinTransferCents
	}
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &service{
		users:           p.Users,
		payouts:         p.Payouts,
		gateway:         p.Gateway,
		tx:              p.Tx,
		outbox:          p.Outbox,
		reconcile:       p.Reconcile,
		logg:            p.Logger,
		fulfillerAmount: p.FulfillerAmountCents,
		minTransfer:     p.MinTransferCents,
		currency:        p.Currency,
		now:             p.Now,
	}, nil
}

// ledger is the derived position of one fulfiller.
type ledger struct {
	earned      int64
	transferred int64
	reversed    int64
}

func (l ledger) available() int64 {
	return l.earned - (l.transferred - l.reversed)
}

func (s *service) ledger(ctx context.Context, repo *Repository, fulfillerID uuid.UUID) (ledger, error) {
	count, err := repo.CountEarned(ctx, fulfillerID)
	if err != nil {
		return ledger{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count earnings")
	}
	transferred, err := repo.SumPayouts(ctx, fulfillerID)
	if err != nil {
		return ledger{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum payouts")
	}
	reversed, err := repo.SumReversals(ctx, fulfillerID)
	if err != nil {
		return ledger{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum reversals")
	}
	l := ledger{earned: count * s.fulfillerAmount, transferred: transferred, reversed: reversed}
	if l.available() < 0 {
		if s.logg != nil {
			s.logg.Error(s.logg.WithFields(ctx, map[string]any{
				"fulfiller_id":      fulfillerID.String(),
				"earned_cents":      l.earned,
				"transferred_cents": l.transferred,
				"reversed_cents":    l.reversed,
			}), "payout ledger out of balance", errors.New("negative available balance"))
		}
		return ledger{}, pkgerrors.New(pkgerrors.CodeInternal, "payout ledger out of balance")
	}
	return l, nil
}

func (s *service) Balance(ctx context.Context, fulfillerID uuid.UUID) (*BalanceDTO, error) {
	if fulfillerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	user, err := s.users.FindByID(ctx, fulfillerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	l, err := s.ledger(ctx, s.payouts, fulfillerID)
	if err != nil {
		return nil, err
	}
	earnings, err := s.payouts.ListEarnings(ctx, fulfillerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list earnings")
	}
	history, err := s.payouts.ListByFulfiller(ctx, fulfillerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payouts")
	}

	dto := &BalanceDTO{
		EarnedCents:         l.earned,
		TransferredCents:    l.transferred,
		ReversedCents:       l.reversed,
		AvailableCents:      l.available(),
		Available:           money.Dollars(l.available()),
		HasConnectedAccount: user.PayoutAccountID != nil && *user.PayoutAccountID != "",
		Earnings:            make([]EarningDTO, 0, len(earnings)),
		Payouts:             make([]PayoutDTO, 0, len(history)),
	}
	for _, f := range earnings {
		dto.Earnings = append(dto.Earnings, newEarningDTO(f, s.fulfillerAmount))
	}
	for _, p := range history {
		dto.Payouts = append(dto.Payouts, NewPayoutDTO(p))
	}
	return dto, nil
}

// Transfer reserves the amount as a pending payout under the fulfiller's row lock,
// calls the gateway outside the lock and then records the provider transfer id.
// Concurrent transfers by the same fulfiller see each other's pending rows.
func (s *service) Transfer(ctx context.Context, input TransferInput) (*PayoutDTO, error) {
	if input.FulfillerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.AmountCents != nil && *input.AmountCents < s.minTransfer {
		return nil, s.minimumError()
	}

	var (
		payout      *models.FulfillerPayout
		destination string
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		user, err := s.users.WithTx(tx).FindByIDForUpdate(ctx, input.FulfillerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
		}
		if user.PayoutAccountID == nil || *user.PayoutAccountID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "connect a payout account first")
		}
		repo := s.payouts.WithTx(tx)
		l, err := s.ledger(ctx, repo, input.FulfillerID)
		if err != nil {
			return err
		}
		available := l.available()
		amount := available
		if input.AmountCents != nil {
			amount = *input.AmountCents
		}
		if amount < s.minTransfer {
			return s.minimumError()
		}
		if amount > available {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("cannot transfer more than $%s available", money.Dollars(available)))
		}

		payout = &models.FulfillerPayout{FulfillerID: input.FulfillerID, AmountCents: amount}
		if err := repo.Create(ctx, payout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve payout")
		}
		destination = *user.PayoutAccountID
		return nil
	})
	if err != nil {
		return nil, err
	}

	transferID, err := s.gateway.Transfer(ctx, gateway.TransferParams{
		FulfillerID:    input.FulfillerID,
		DestinationID:  destination,
		AmountCents:    payout.AmountCents,
		Currency:       s.currency,
		IdempotencyKey: "transfer:" + payout.ID.String(),
	})
	if err != nil {
		if _, ferr := s.payouts.MarkFailed(ctx, payout.ID, s.now().UTC()); ferr != nil && s.logg != nil {
			s.logg.Error(s.logg.WithField(ctx, "payout_id", payout.ID.String()), "mark payout failed", ferr)
		}
		return nil, gateway.AsAppError(err, "transfer to fulfiller")
	}

	now := s.now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.payouts.WithTx(tx).RecordTransfer(ctx, payout.ID, transferID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record transfer")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "payout already recorded")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutCreated,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			Actor:         &outbox.ActorRef{UserID: input.FulfillerID, Role: outbox.ActorRoleFulfiller},
			Data: payloads.PayoutCreatedEvent{
				PayoutID:           payout.ID,
				FulfillerID:        input.FulfillerID,
				AmountCents:        payout.AmountCents,
				ProviderTransferID: transferID,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		s.reconcile.Required(ctx, reconciliation.Entry{
			Operation:   reconciliation.OpTransfer,
			FulfillerID: input.FulfillerID.String(),
			ProviderRef: transferID,
			AmountCents: payout.AmountCents,
		}, err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payout")
	}

	payout.ProviderTransferID = transferID
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"payout_id":    payout.ID.String(),
			"fulfiller_id": input.FulfillerID.String(),
			"amount_cents": payout.AmountCents,
		}), "payout transferred")
	}
	dto := NewPayoutDTO(*payout)
	return &dto, nil
}

func (s *service) minimumError() error {
	return pkgerrors.New(pkgerrors.CodeValidation,
		fmt.Sprintf("minimum transfer amount is $%s", money.Dollars(s.minTransfer)))
}

// Onboard creates the fulfiller's payout destination on first use and returns a
// fresh onboarding link for it.
func (s *service) Onboard(ctx context.Context, input OnboardInput) (*OnboardingDTO, error) {
	if input.FulfillerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if strings.TrimSpace(input.ReturnURL) == "" || strings.TrimSpace(input.RefreshURL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return and refresh urls are required")
	}
	user, err := s.users.FindByID(ctx, input.FulfillerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}

	var destination string
	if user.PayoutAccountID != nil {
		destination = *user.PayoutAccountID
	}
	if destination == "" {
		destination, err = s.gateway.CreatePayoutDestination(ctx, user.ID, user.Email)
		if err != nil {
			return nil, gateway.AsAppError(err, "create payout account")
		}
		if err := s.users.SetPayoutAccount(ctx, user.ID, destination); err != nil {
			s.reconcile.Required(ctx, reconciliation.Entry{
				Operation:   reconciliation.OpOnboarding,
				FulfillerID: user.ID.String(),
				ProviderRef: destination,
			}, err)
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store payout account")
		}
	}

	url, err := s.gateway.CreateOnboardingLink(ctx, destination, input.ReturnURL, input.RefreshURL)
	if err != nil {
		return nil, gateway.AsAppError(err, "create onboarding link")
	}
	return &OnboardingDTO{URL: url, DestinationID: destination}, nil
}
