package payouts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mealrun-backend/internal/gateway"
	"github.com/angelmondragon/mealrun-backend/internal/reconciliation"
	"github.com/angelmondragon/mealrun-backend/internal/testkit"
	"github.com/angelmondragon/mealrun-backend/internal/users"
	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
	"github.com/angelmondragon/mealrun-backend/pkg/metrics"
)

type harness struct {
	env      *testkit.Env
	reg      *prometheus.Registry
	reporter *reconciliation.Reporter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := prometheus.NewRegistry()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	return &harness{
		env:      testkit.New(t),
		reg:      reg,
		reporter: reconciliation.NewReporter(logg, metrics.NewReconciliationMetrics(reg)),
	}
}

func (h *harness) service(t *testing.T, tx txRunner) Service {
	t.Helper()
	conn := h.env.Conn()
	svc, err := NewService(ServiceParams{
		Users:     users.NewRepository(conn),
		Payouts:   NewRepository(conn),
		Gateway:   h.env.Gateway,
		Tx:        tx,
		Outbox:    h.env.Outbox,
		Reconcile: h.reporter,
		Logger:    logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Now:       h.env.Clock.Now,
	})
	require.NoError(t, err)
	return svc
}

func (h *harness) reconciliations(t *testing.T) float64 {
	t.Helper()
	mfs, err := h.reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// earner seeds a fulfiller with n released deliveries and a connected account.
func (h *harness) earner(t *testing.T, n int) uuid.UUID {
	t.Helper()
	requester := h.env.User(t, "req@vt.edu")
	fulfiller := h.env.User(t, "ful@vt.edu")
	for i := 0; i < n; i++ {
		h.env.ClaimedOrder(t, requester, fulfiller, enums.PaymentStatusReleased)
	}
	h.env.PayoutAccount(t, fulfiller, "acct_ful")
	return fulfiller
}

func (h *harness) payouts(t *testing.T, fulfillerID uuid.UUID) []models.FulfillerPayout {
	t.Helper()
	var rows []models.FulfillerPayout
	require.NoError(t, h.env.Conn().Where("fulfiller_id = ?", fulfillerID).Find(&rows).Error)
	return rows
}

func cents(v int64) *int64 { return &v }

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
}

func TestTransferRejectsMoreThanAvailableThenMovesFullBalance(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, h.env.DB)
	ctx := context.Background()
	fulfiller := h.earner(t, 3)

	_, err := svc.Transfer(ctx, TransferInput{FulfillerID: fulfiller, AmountCents: cents(2000)})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Empty(t, h.env.Gateway.Transfers)
	assert.Empty(t, h.payouts(t, fulfiller))

	dto, err := svc.Transfer(ctx, TransferInput{FulfillerID: fulfiller})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), dto.AmountCents)
	assert.Equal(t, "15.00", dto.Amount)
	assert.False(t, dto.Pending)

	require.Len(t, h.env.Gateway.Transfers, 1)
	sent := h.env.Gateway.Transfers[0]
	assert.Equal(t, int64(1500), sent.AmountCents)
	assert.Equal(t, "acct_ful", sent.DestinationID)
	assert.Equal(t, fulfiller, sent.FulfillerID)
	assert.Equal(t, "transfer:"+dto.ID.String(), sent.IdempotencyKey)

	rows := h.payouts(t, fulfiller)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1500), rows[0].AmountCents)
	assert.Equal(t, dto.ProviderTransferID, rows[0].ProviderTransferID)
	assert.Equal(t, int64(1), h.env.CountEvents(t, enums.EventPayoutCreated))

	balance, err := svc.Balance(ctx, fulfiller)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), balance.EarnedCents)
	assert.Equal(t, int64(1500), balance.TransferredCents)
	assert.Zero(t, balance.AvailableCents)

	_, err = svc.Transfer(ctx, TransferInput{FulfillerID: fulfiller})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestTransferPartialAmount(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, h.env.DB)
	fulfiller := h.earner(t, 2)

	dto, err := svc.Transfer(context.Background(), TransferInput{FulfillerID: fulfiller, AmountCents: cents(400)})
	require.NoError(t, err)
	assert.Equal(t, int64(400), dto.AmountCents)

	balance, err := svc.Balance(context.Background(), fulfiller)
	require.NoError(t, err)
	assert.Equal(t, int64(600), balance.AvailableCents)
}

func TestTransferPreconditions(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, h.env.DB)
	ctx := context.Background()
	fulfiller := h.earner(t, 1)
	unlinked := h.env.User(t, "new@vt.edu")

	cases := []struct {
		name  string
		input TransferInput
		code  pkgerrors.Code
	}{
		{"anonymous", TransferInput{}, pkgerrors.CodeUnauthorized},
		{"below minimum", TransferInput{FulfillerID: fulfiller, AmountCents: cents(99)}, pkgerrors.CodeValidation},
		{"no payout account", TransferInput{FulfillerID: unlinked}, pkgerrors.CodeValidation},
		{"unknown user", TransferInput{FulfillerID: uuid.New()}, pkgerrors.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Transfer(ctx, tc.input)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tc.code), "got %v", err)
		})
	}
	assert.Empty(t, h.env.Gateway.Transfers)
}

func TestTransferInsufficientPlatformBalance(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, h.env.DB)
	fulfiller := h.earner(t, 2)
	h.env.Gateway.TransferErr = fmt.Errorf("balance_insufficient: %w", gateway.ErrInsufficientBalance)

	_, err := svc.Transfer(context.Background(), TransferInput{FulfillerID: fulfiller})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))
	rows := h.payouts(t, fulfiller)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Failed())
	assert.False(t, rows[0].Pending())

	h.env.Gateway.TransferErr = errors.New("provider down")
	_, err = svc.Transfer(context.Background(), TransferInput{FulfillerID: fulfiller})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))

	balance, err := svc.Balance(context.Background(), fulfiller)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance.AvailableCents)
	assert.Zero(t, balance.TransferredCents)
	require.Len(t, balance.Payouts, 2)
	for _, p := range balance.Payouts {
		assert.True(t, p.Failed)
		assert.False(t, p.Pending)
	}

	h.env.Gateway.TransferErr = nil
	dto, err := svc.Transfer(context.Background(), TransferInput{FulfillerID: fulfiller})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), dto.AmountCents)
	assert.Len(t, h.payouts(t, fulfiller), 3)
}

func TestTransferCommitFailureKeepsReservation(t *testing.T) {
	h := newHarness(t)
	fulfiller := h.earner(t, 2)
	svc := h.service(t, &testkit.FailingTx{DB: h.env.DB, Err: errors.New("commit lost"), After: 1})

	_, err := svc.Transfer(context.Background(), TransferInput{FulfillerID: fulfiller})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
	assert.Len(t, h.env.Gateway.Transfers, 1)
	assert.Equal(t, float64(1), h.reconciliations(t))

	rows := h.payouts(t, fulfiller)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Pending())

	balance, err := h.service(t, h.env.DB).Balance(context.Background(), fulfiller)
	require.NoError(t, err)
	assert.Zero(t, balance.AvailableCents)
	require.Len(t, balance.Payouts, 1)
	assert.True(t, balance.Payouts[0].Pending)
}

func TestBalanceCountsOnlyReleasedDeliveries(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, h.env.DB)
	requester := h.env.User(t, "req@vt.edu")
	fulfiller := h.env.User(t, "ful@vt.edu")
	h.env.ClaimedOrder(t, requester, fulfiller, enums.PaymentStatusReleased)
	h.env.ClaimedOrder(t, requester, fulfiller, enums.PaymentStatusReleased)
	h.env.ClaimedOrder(t, requester, fulfiller, enums.PaymentStatusHeld)
	h.env.Payout(t, fulfiller, 300, "tr_1")

	balance, err := svc.Balance(context.Background(), fulfiller)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance.EarnedCents)
	assert.Equal(t, int64(300), balance.TransferredCents)
	assert.Zero(t, balance.ReversedCents)
	assert.Equal(t, int64(700), balance.AvailableCents)
	assert.Equal(t, "7.00", balance.Available)
	assert.False(t, balance.HasConnectedAccount)
	assert.Len(t, balance.Earnings, 2)
	for _, e := range balance.Earnings {
		assert.Equal(t, int64(500), e.AmountCents)
		assert.Equal(t, "Qdoba", e.RestaurantName)
	}
	require.Len(t, balance.Payouts, 1)
	assert.Equal(t, "tr_1", balance.Payouts[0].ProviderTransferID)
}

func TestBalanceReportsNegativeLedger(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, h.env.DB)
	fulfiller := h.earner(t, 1)
	h.env.Payout(t, fulfiller, 900, "tr_over")

	_, err := svc.Balance(context.Background(), fulfiller)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
	_, err = svc.Transfer(context.Background(), TransferInput{FulfillerID: fulfiller})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
}

func TestOnboardCreatesDestinationOnce(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, h.env.DB)
	ctx := context.Background()
	fulfiller := h.env.User(t, "ful@vt.edu")
	input := OnboardInput{
		FulfillerID: fulfiller,
		ReturnURL:   "https://mealrun.test/payouts?onboarded=1",
		RefreshURL:  "https://mealrun.test/payouts?refresh=1",
	}

	first, err := svc.Onboard(ctx, input)
	require.NoError(t, err)
	assert.NotEmpty(t, first.DestinationID)
	assert.Contains(t, first.URL, first.DestinationID)
	require.Len(t, h.env.Gateway.Accounts, 1)

	var user models.User
	require.NoError(t, h.env.Conn().First(&user, "id = ?", fulfiller).Error)
	require.NotNil(t, user.PayoutAccountID)
	assert.Equal(t, first.DestinationID, *user.PayoutAccountID)

	second, err := svc.Onboard(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, first.DestinationID, second.DestinationID)
	assert.Len(t, h.env.Gateway.Accounts, 1)
}

func TestOnboardFailures(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, h.env.DB)
	ctx := context.Background()
	fulfiller := h.env.User(t, "ful@vt.edu")

	_, err := svc.Onboard(ctx, OnboardInput{FulfillerID: fulfiller})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	h.env.Gateway.AccountErr = errors.New("connect disabled")
	_, err = svc.Onboard(ctx, OnboardInput{FulfillerID: fulfiller, ReturnURL: "https://a", RefreshURL: "https://b"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))

	var user models.User
	require.NoError(t, h.env.Conn().First(&user, "id = ?", fulfiller).Error)
	assert.Nil(t, user.PayoutAccountID)
}
