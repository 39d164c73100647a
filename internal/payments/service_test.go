package payments

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/mealrun-backend/internal/gateway"
	"github.com/angelmondragon/mealrun-backend/internal/reconciliation"
	"github.com/angelmondragon/mealrun-backend/internal/requests"
	"github.com/angelmondragon/mealrun-backend/internal/testkit"
	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
	"github.com/angelmondragon/mealrun-backend/pkg/metrics"
)

type harness struct {
	env      *testkit.Env
	reg      *prometheus.Registry
	logg     *logger.Logger
	reporter *reconciliation.Reporter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := prometheus.NewRegistry()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	return &harness{
		env:      testkit.New(t),
		reg:      reg,
		logg:     logg,
		reporter: reconciliation.NewReporter(logg, metrics.NewReconciliationMetrics(reg)),
	}
}

func (h *harness) service(t *testing.T, tx txRunner, gw gateway.Gateway) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Requests:  requests.NewRepository(h.env.Conn()),
		Payments:  NewRepository(h.env.Conn()),
		Tx:        tx,
		Outbox:    h.env.Outbox,
		Gateway:   gw,
		Reconcile: h.reporter,
		Logger:    h.logg,
		Now:       h.env.Clock.Now,
	})
	require.NoError(t, err)
	return svc
}

func (h *harness) defaultService(t *testing.T) Service {
	return h.service(t, h.env.DB, h.env.Gateway)
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

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
}

func TestAuthorizeCreatesHoldBeforeClaim(t *testing.T) {
	h := newHarness(t)
	svc := h.defaultService(t)
	ctx := context.Background()
	requester := h.env.User(t, "req@vt.edu")
	request := h.env.Request(t, requester)

	res, err := svc.Authorize(ctx, request.ID, requester)
	require.NoError(t, err)
	assert.NotEmpty(t, res.ClientSecret)

	stored := h.env.LoadRequest(t, request.ID)
	require.NotNil(t, stored.Payment)
	assert.Equal(t, res.PaymentID, stored.Payment.ID)
	assert.Equal(t, enums.PaymentStatusPending, stored.Payment.Status)
	assert.Equal(t, int64(600), stored.Payment.AmountCents)
	assert.NotEmpty(t, stored.Payment.IntentID())
	assert.Equal(t, enums.MealRequestStatusPending, stored.Status)

	require.Len(t, h.env.Gateway.Holds, 1)
	assert.Equal(t, "hold:"+res.PaymentID.String(), h.env.Gateway.Holds[0].IdempotencyKey)
	assert.Equal(t, int64(600), h.env.Gateway.Holds[0].AmountCents)
}

func TestAuthorizeAfterClaimReusesPayment(t *testing.T) {
	h := newHarness(t)
	svc := h.defaultService(t)
	ctx := context.Background()
	requester := h.env.User(t, "req@vt.edu")
	fulfiller := h.env.User(t, "ful@vt.edu")
	order := h.env.ClaimedOrder(t, requester, fulfiller, enums.PaymentStatusPending)

	res, err := svc.Authorize(ctx, order.Request.ID, requester)
	require.NoError(t, err)
	assert.Equal(t, order.Payment.ID, res.PaymentID)

	stored := h.env.LoadRequest(t, order.Request.ID)
	assert.Equal(t, enums.MealRequestStatusAwaitingPayment, stored.Status)
	assert.NotEqual(t, order.Payment.IntentID(), stored.Payment.IntentID())
}

func TestAuthorizePreconditions(t *testing.T) {
	h := newHarness(t)
	svc := h.defaultService(t)
	ctx := context.Background()
	requester := h.env.User(t, "req@vt.edu")
	fulfiller := h.env.User(t, "ful@vt.edu")

	request := h.env.Request(t, requester)
	_, err := svc.Authorize(ctx, request.ID, fulfiller)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.Authorize(ctx, uuid.New(), requester)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.Authorize(ctx, request.ID, uuid.Nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	held := h.env.ClaimedOrder(t, requester, fulfiller, enums.PaymentStatusHeld)
	_, err = svc.Authorize(ctx, held.Request.ID, requester)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	preAuth := h.env.ClaimedOrder(t, requester, fulfiller, enums.PaymentStatusPreAuthorized)
	_, err = svc.Authorize(ctx, preAuth.Request.ID, requester)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Empty(t, h.env.Gateway.Holds)
}

func TestAuthorizeGatewayFailureLeavesPaymentPending(t *testing.T) {
	h := newHarness(t)
	h.env.Gateway.AuthorizeErr = errors.New("card network down")
	svc := h.defaultService(t)
	requester := h.env.User(t, "req@vt.edu")
	request := h.env.Request(t, requester)

	_, err := svc.Authorize(context.Background(), request.ID, requester)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))

	stored := h.env.LoadRequest(t, request.ID)
	require.NotNil(t, stored.Payment)
	assert.Equal(t, enums.PaymentStatusPending, stored.Payment.Status)
	assert.Empty(t, stored.Payment.IntentID())
}

func TestAuthorizeCommitFailureReportsReconciliation(t *testing.T) {
	h := newHarness(t)
	tx := &testkit.FailingTx{DB: h.env.DB, Err: errors.New("commit lost"), After: 1}
	svc := h.service(t, tx, h.env.Gateway)
	requester := h.env.User(t, "req@vt.edu")
	request := h.env.Request(t, requester)

	_, err := svc.Authorize(context.Background(), request.ID, requester)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
	assert.Len(t, h.env.Gateway.Holds, 1)
	assert.Equal(t, float64(1), h.reconciliations(t))

	stored := h.env.LoadRequest(t, request.ID)
	assert.Empty(t, stored.Payment.IntentID())
}

func TestApplyIsIdempotentAcrossWebhookAndSync(t *testing.T) {
	h := newHarness(t)
	svc := h.defaultService(t)
	ctx := context.Background()
	requester := h.env.User(t, "req@vt.edu")
	fulfiller := h.env.User(t, "ful@vt.edu")
	order := h.env.ClaimedOrder(t, requester, fulfiller, enums.PaymentStatusPreAuthorized)
	intent := order.Payment.IntentID()
	h.env.Gateway.SetState(intent, gateway.IntentSucceeded)

	first, err := svc.Apply(ctx, Report{IntentID: intent, RequestID: order.Request.ID, State: gateway.IntentSucceeded, Source: SourceWebhook})
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, enums.PaymentStatusPreAuthorized, first.Previous)
	assert.Equal(t, enums.PaymentStatusHeld, first.Status)

	sync, err := svc.SyncStatus(ctx, order.Request.ID, requester)
	require.NoError(t, err)
	assert.False(t, sync.Updated)
	require.NotNil(t, sync.Payment)
	assert.Equal(t, enums.PaymentStatusHeld, sync.Payment.Status)

	again, err := svc.Apply(ctx, Report{IntentID: intent, RequestID: order.Request.ID, State: gateway.IntentSucceeded, Source: SourceWebhook})
	require.NoError(t, err)
	assert.False(t, again.Changed)

	stored := h.env.LoadRequest(t, order.Request.ID)
	assert.Equal(t, enums.MealRequestStatusPaid, stored.Status)
	assert.Equal(t, enums.PaymentStatusHeld, stored.Payment.Status)
	assert.NotNil(t, stored.Payment.RequesterChargedAt)
	assert.Equal(t, int64(1), h.env.CountEvents(t, enums.EventPaymentHeld))
}

func TestSyncStatusAdvancesPreAuthorization(t *testing.T) {
	h := newHarness(t)
	svc := h.defaultService(t)
	ctx := context.Background()
	requester := h.env.User(t, "req@vt.edu")
	request := h.env.Request(t, requester)

	res, err := svc.Authorize(ctx, request.ID, requester)
	require.NoError(t, err)
	stored := h.env.LoadRequest(t, request.ID)
	h.env.Gateway.SetState(stored.Payment.IntentID(), gateway.IntentRequiresCapture)

	sync, err := svc.SyncStatus(ctx, request.ID, requester)
	require.NoError(t, err)
	assert.True(t, sync.Updated)
	assert.Equal(t, res.PaymentID, sync.Payment.ID)
	assert.Equal(t, enums.PaymentStatusPreAuthorized, sync.Payment.Status)

	again, err := svc.SyncStatus(ctx, request.ID, requester)
	require.NoError(t, err)
	assert.False(t, again.Updated)

	// unclaimed, so nothing is captured
	assert.Empty(t, h.env.Gateway.Captures)
	assert.Equal(t, enums.MealRequestStatusPending, h.env.LoadRequest(t, request.ID).Status)
}

func TestSyncStatusWithoutPayment(t *testing.T) {
	h := newHarness(t)
	svc := h.defaultService(t)
	requester := h.env.User(t, "req@vt.edu")
	request := h.env.Request(t, requester)

	res, err := svc.SyncStatus(context.Background(), request.ID, requester)
	require.NoError(t, err)
	assert.False(t, res.Updated)
	assert.Nil(t, res.Payment)

	_, err = svc.SyncStatus(context.Background(), request.ID, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestApplyPreAuthorizationOnClaimedRequestCaptures(t *testing.T) {
	h := newHarness(t)
	svc := h.defaultService(t)
	requester := h.env.User(t, "req@vt.edu")
	fulfiller := h.env.User(t, "ful@vt.edu")
	order := h.env.ClaimedOrder(t, requester, fulfiller, enums.PaymentStatusPending)
	intent := order.Payment.IntentID()

	res, err := svc.Apply(context.Background(), Report{IntentID: intent, State: gateway.IntentRequiresCapture, Source: SourceWebhook})
	require.NoError(t, err)
	assert.True(t, res.Changed)

	assert.Equal(t, []string{intent}, h.env.Gateway.Captures)
	stored := h.env.LoadRequest(t, order.Request.ID)
	assert.Equal(t, enums.PaymentStatusHeld, stored.Payment.Status)
	assert.Equal(t, enums.MealRequestStatusPaid, stored.Status)
}

func TestApplyIgnoresUnknownOrMismatchedIntent(t *testing.T) {
	h := newHarness(t)
	svc := h.defaultService(t)
	ctx := context.Background()
	requester := h.env.User(t, "req@vt.edu")
	fulfiller := h.env.User(t, "ful@vt.edu")
	order := h.env.ClaimedOrder(t, requester, fulfiller, enums.PaymentStatusPreAuthorized)

	res, err := svc.Apply(ctx, Report{IntentID: "pi_unknown", State: gateway.IntentSucceeded, Source: SourceWebhook})
	require.NoError(t, err)
	assert.False(t, res.Changed)

	res, err = svc.Apply(ctx, Report{IntentID: order.Payment.IntentID(), RequestID: uuid.New(), State: gateway.IntentSucceeded, Source: SourceWebhook})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, enums.PaymentStatusPreAuthorized, h.env.LoadRequest(t, order.Request.ID).Payment.Status)

	_, err = svc.Apply(ctx, Report{State: gateway.IntentSucceeded})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCapture(t *testing.T) {
	h := newHarness(t)
	svc := h.defaultService(t)
	ctx := context.Background()
	requester := h.env.User(t, "req@vt.edu")
	fulfiller := h.env.User(t, "ful@vt.edu")
	order := h.env.ClaimedOrder(t, requester, fulfiller, enums.PaymentStatusPreAuthorized)

	_, err := svc.Capture(ctx, order.Request.ID, fulfiller)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	dto, err := svc.Capture(ctx, order.Request.ID, requester)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusHeld, dto.Status)
	assert.NotNil(t, dto.RequesterChargedAt)
	assert.Equal(t, enums.MealRequestStatusPaid, h.env.LoadRequest(t, order.Request.ID).Status)

	_, err = svc.Capture(ctx, order.Request.ID, requester)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestCaptureGatewayFailureKeepsHold(t *testing.T) {
	h := newHarness(t)
	h.env.Gateway.CaptureErr = errors.New("timeout")
	svc := h.defaultService(t)
	requester := h.env.User(t, "req@vt.edu")
	fulfiller := h.env.User(t, "ful@vt.edu")
	order := h.env.ClaimedOrder(t, requester, fulfiller, enums.PaymentStatusPreAuthorized)

	err := svc.CaptureIfReady(context.Background(), order.Request.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))
	stored := h.env.LoadRequest(t, order.Request.ID)
	assert.Equal(t, enums.PaymentStatusPreAuthorized, stored.Payment.Status)
	assert.Equal(t, enums.MealRequestStatusAwaitingPayment, stored.Status)
}

func TestCaptureIfReadySkipsUnreadyRequests(t *testing.T) {
	h := newHarness(t)
	svc := h.defaultService(t)
	requester := h.env.User(t, "req@vt.edu")
	fulfiller := h.env.User(t, "ful@vt.edu")
	pending := h.env.ClaimedOrder(t, requester, fulfiller, enums.PaymentStatusPending)
	unclaimed := h.env.Request(t, requester)

	require.NoError(t, svc.CaptureIfReady(context.Background(), pending.Request.ID))
	require.NoError(t, svc.CaptureIfReady(context.Background(), unclaimed.ID))
	assert.Empty(t, h.env.Gateway.Captures)
}

func TestCancelReleasesHold(t *testing.T) {
	h := newHarness(t)
	svc := h.defaultService(t)
	ctx := context.Background()
	requester := h.env.User(t, "req@vt.edu")
	request := h.env.Request(t, requester)

	_, err := svc.Authorize(ctx, request.ID, requester)
	require.NoError(t, err)
	intent := h.env.LoadRequest(t, request.ID).Payment.IntentID()
	h.env.Gateway.SetState(intent, gateway.IntentRequiresCapture)
	_, err = svc.Apply(ctx, Report{IntentID: intent, State: gateway.IntentRequiresCapture, Source: SourceWebhook})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, request.ID, requester))

	assert.Equal(t, []string{intent}, h.env.Gateway.Cancels)
	stored := h.env.LoadRequest(t, request.ID)
	assert.Equal(t, enums.MealRequestStatusCancelled, stored.Status)
	assert.Equal(t, enums.PaymentStatusCancelled, stored.Payment.Status)
	assert.Equal(t, int64(1), h.env.CountEvents(t, enums.EventRequestCancelled))
}

func TestCancelWithoutPayment(t *testing.T) {
	h := newHarness(t)
	svc := h.defaultService(t)
	requester := h.env.User(t, "req@vt.edu")
	request := h.env.Request(t, requester)

	require.NoError(t, svc.Cancel(context.Background(), request.ID, requester))
	assert.Empty(t, h.env.Gateway.Cancels)
	assert.Equal(t, enums.MealRequestStatusCancelled, h.env.LoadRequest(t, request.ID).Status)
}

func TestCancelFailsClosedWhenGatewayFails(t *testing.T) {
	h := newHarness(t)
	svc := h.defaultService(t)
	ctx := context.Background()
	requester := h.env.User(t, "req@vt.edu")
	request := h.env.Request(t, requester)
	_, err := svc.Authorize(ctx, request.ID, requester)
	require.NoError(t, err)

	h.env.Gateway.CancelErr = errors.New("provider unavailable")
	err = svc.Cancel(ctx, request.ID, requester)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))

	stored := h.env.LoadRequest(t, request.ID)
	assert.Equal(t, enums.MealRequestStatusPending, stored.Status)
	assert.Equal(t, enums.PaymentStatusPending, stored.Payment.Status)
	assert.Zero(t, h.env.CountEvents(t, enums.EventRequestCancelled))
}

func TestCancelRejectsClaimedOrForeignRequests(t *testing.T) {
	h := newHarness(t)
	svc := h.defaultService(t)
	ctx := context.Background()
	requester := h.env.User(t, "req@vt.edu")
	fulfiller := h.env.User(t, "ful@vt.edu")
	order := h.env.ClaimedOrder(t, requester, fulfiller, enums.PaymentStatusPreAuthorized)

	err := svc.Cancel(ctx, order.Request.ID, requester)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	err = svc.Cancel(ctx, order.Request.ID, fulfiller)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Empty(t, h.env.Gateway.Cancels)
}

// claimingGateway simulates a fulfiller claim landing while the hold is released.
type claimingGateway struct {
	gateway.Gateway
	conn      *gorm.DB
	requestID uuid.UUID
}

func (g *claimingGateway) CancelHold(ctx context.Context, intentID string) error {
	if err := g.conn.Model(&models.MealRequest{}).Where("id = ?", g.requestID).
		Update("status", enums.MealRequestStatusAwaitingPayment).Error; err != nil {
		return err
	}
	return g.Gateway.CancelHold(ctx, intentID)
}

func TestCancelRacingClaimReportsReconciliation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	requester := h.env.User(t, "req@vt.edu")
	request := h.env.Request(t, requester)

	_, err := h.defaultService(t).Authorize(ctx, request.ID, requester)
	require.NoError(t, err)

	svc := h.service(t, h.env.DB, &claimingGateway{Gateway: h.env.Gateway, conn: h.env.Conn(), requestID: request.ID})
	err = svc.Cancel(ctx, request.ID, requester)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	stored := h.env.LoadRequest(t, request.ID)
	assert.Equal(t, enums.MealRequestStatusAwaitingPayment, stored.Status)
	assert.Equal(t, enums.PaymentStatusPending, stored.Payment.Status)
	assert.Len(t, h.env.Gateway.Cancels, 1)
	assert.Equal(t, float64(1), h.reconciliations(t))
}

func TestSyncUnsettledCollectsFailures(t *testing.T) {
	h := newHarness(t)
	svc := h.defaultService(t)
	requester := h.env.User(t, "req@vt.edu")
	fulfiller := h.env.User(t, "ful@vt.edu")
	ready := h.env.ClaimedOrder(t, requester, fulfiller, enums.PaymentStatusPreAuthorized)
	missing := h.env.ClaimedOrder(t, requester, fulfiller, enums.PaymentStatusPending)
	settled := h.env.ClaimedOrder(t, requester, fulfiller, enums.PaymentStatusHeld)

	stale := h.env.Clock.Now().Add(-10 * time.Minute)
	require.NoError(t, h.env.Conn().Model(&models.Payment{}).
		Where("id IN ?", []uuid.UUID{ready.Payment.ID, missing.Payment.ID, settled.Payment.ID}).
		UpdateColumn("updated_at", stale).Error)
	h.env.Gateway.SetState(ready.Payment.IntentID(), gateway.IntentSucceeded)

	stats, err := svc.SyncUnsettled(context.Background(), 2*time.Minute, 10)
	require.Error(t, err)
	assert.Equal(t, SyncStats{Checked: 1, Changed: 1, Failed: 1}, stats)

	assert.Equal(t, enums.PaymentStatusHeld, h.env.LoadRequest(t, ready.Request.ID).Payment.Status)
	assert.Equal(t, enums.PaymentStatusPending, h.env.LoadRequest(t, missing.Request.ID).Payment.Status)
}
