// Package testkit seeds sqlite-backed lifecycle fixtures shared by service tests.
package testkit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/mealrun-backend/internal/evidence/evidencetest"
	"github.com/angelmondragon/mealrun-backend/internal/gateway/gatewaytest"
	"github.com/angelmondragon/mealrun-backend/pkg/db"
	"github.com/angelmondragon/mealrun-backend/pkg/db/dbtest"
	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox"
)

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Env bundles the collaborators most lifecycle services need.
type Env struct {
	DB      *db.Client
	Outbox  *outbox.Service
	Gateway *gatewaytest.Fake
	Clock   *Clock
}

func New(t *testing.T) *Env {
	t.Helper()
	client := dbtest.Open(t)
	return &Env{
		DB:      client,
		Outbox:  outbox.NewService(outbox.NewRepository(client.DB()), nil),
		Gateway: gatewaytest.New(),
		Clock:   NewClock(),
	}
}

func (e *Env) Conn() *gorm.DB {
	return e.DB.DB()
}

// User inserts a user and returns its id.
func (e *Env) User(t *testing.T, email string) uuid.UUID {
	t.Helper()
	user := models.User{Email: email, Name: email}
	require.NoError(t, e.Conn().Create(&user).Error)
	return user.ID
}

// PayoutAccount links a connected account to the user.
func (e *Env) PayoutAccount(t *testing.T, userID uuid.UUID, accountID string) {
	t.Helper()
	require.NoError(t, e.Conn().Model(&models.User{}).Where("id = ?", userID).
		Update("payout_account_id", accountID).Error)
}

// Upload stores a PNG owned by ownerID.
func (e *Env) Upload(t *testing.T, ownerID uuid.UUID) uuid.UUID {
	t.Helper()
	upload := models.Upload{
		UploaderID:  ownerID,
		ContentType: "image/png",
		SizeBytes:   int64(len(evidencetest.PNG)),
		Data:        evidencetest.PNG,
	}
	require.NoError(t, e.Conn().Create(&upload).Error)
	return upload.ID
}

// Request inserts a PENDING request with no reservation.
func (e *Env) Request(t *testing.T, requesterID uuid.UUID) *models.MealRequest {
	t.Helper()
	request := models.MealRequest{
		RequesterID:    requesterID,
		DiningLocation: "Turner Place at Lavery Hall",
		RestaurantName: "Qdoba",
		Description:    "Chicken burrito bowl, extra guac",
		Status:         enums.MealRequestStatusPending,
	}
	require.NoError(t, e.Conn().Create(&request).Error)
	return &request
}

// Order is a request at a given point of the lifecycle.
type Order struct {
	Request     *models.MealRequest
	Fulfillment *models.Fulfillment
	Payment     *models.Payment
	RequesterID uuid.UUID
	FulfillerID uuid.UUID
}

// ClaimedOrder builds a claimed request whose payment is in paymentStatus. The
// request status follows the payment: HELD means PAID, RELEASED means CONFIRMED.
func (e *Env) ClaimedOrder(t *testing.T, requesterID, fulfillerID uuid.UUID, paymentStatus enums.PaymentStatus) *Order {
	t.Helper()
	request := e.Request(t, requesterID)
	requestStatus := enums.MealRequestStatusAwaitingPayment
	fulfillmentStatus := enums.FulfillmentStatusClaimed
	var confirmedAt *time.Time
	switch paymentStatus {
	case enums.PaymentStatusHeld:
		requestStatus = enums.MealRequestStatusPaid
	case enums.PaymentStatusReleased:
		requestStatus = enums.MealRequestStatusConfirmed
		fulfillmentStatus = enums.FulfillmentStatusConfirmed
		now := e.Clock.Now()
		confirmedAt = &now
	}
	require.NoError(t, e.Conn().Model(request).Update("status", requestStatus).Error)
	request.Status = requestStatus

	fulfillment := models.Fulfillment{
		RequestID:        request.ID,
		FulfillerID:      fulfillerID,
		Status:           fulfillmentStatus,
		EvidenceUploadID: e.Upload(t, fulfillerID),
		ConfirmedAt:      confirmedAt,
	}
	require.NoError(t, e.Conn().Create(&fulfillment).Error)

	intentID := "pi_seed_" + request.ID.String()
	payment := models.Payment{
		RequestID:        request.ID,
		AmountCents:      600,
		Currency:         "usd",
		ProviderIntentID: &intentID,
		Status:           paymentStatus,
	}
	require.NoError(t, e.Conn().Create(&payment).Error)

	return &Order{
		Request:     request,
		Fulfillment: &fulfillment,
		Payment:     &payment,
		RequesterID: requesterID,
		FulfillerID: fulfillerID,
	}
}

// Payout inserts a payout for fulfillerID.
func (e *Env) Payout(t *testing.T, fulfillerID uuid.UUID, amount int64, transferID string) *models.FulfillerPayout {
	t.Helper()
	payout := models.FulfillerPayout{FulfillerID: fulfillerID, AmountCents: amount, ProviderTransferID: transferID}
	require.NoError(t, e.Conn().Create(&payout).Error)
	return &payout
}

// LoadRequest reads a request with every relation.
func (e *Env) LoadRequest(t *testing.T, id uuid.UUID) *models.MealRequest {
	t.Helper()
	var request models.MealRequest
	require.NoError(t, e.Conn().
		Preload("Fulfillment").
		Preload("Payment").
		Preload("Dispute").
		First(&request, "id = ?", id).Error)
	return &request
}

// CountEvents counts outbox rows of the given type.
func (e *Env) CountEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.Conn().Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

// FailingTx runs fn inside a real transaction and then rolls back with err,
// simulating a local commit failure after fn succeeded.
type FailingTx struct {
	DB  *db.Client
	Err error
	// After is how many successful transactions run before the failing one.
	After int

	mu    sync.Mutex
	calls int
}

func (f *FailingTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls > f.After
	f.mu.Unlock()
	if !fail {
		return f.DB.WithTx(ctx, fn)
	}
	return f.DB.WithTx(ctx, func(tx *gorm.DB) error {
		if err := fn(tx); err != nil {
			return err
		}
		return f.Err
	})
}
