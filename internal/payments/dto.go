package payments

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/mealrun-backend/internal/gateway"
	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
)

// PaymentDTO is the API view of a payment.
type PaymentDTO struct {
	ID                 uuid.UUID           `json:"id"`
	RequestID          uuid.UUID           `json:"request_id"`
	AmountCents        int64               `json:"amount_cents"`
	Currency           string              `json:"currency"`
	Status             enums.PaymentStatus `json:"status"`
	RequesterChargedAt *time.Time          `json:"requester_charged_at,omitempty"`
	FulfillerPaidAt    *time.Time          `json:"fulfiller_paid_at,omitempty"`
}

func NewPaymentDTO(p models.Payment) PaymentDTO {
	return PaymentDTO{
		ID:                 p.ID,
		RequestID:          p.RequestID,
		AmountCents:        p.AmountCents,
		Currency:           p.Currency,
		Status:             p.Status,
		RequesterChargedAt: p.RequesterChargedAt,
		FulfillerPaidAt:    p.FulfillerPaidAt,
	}
}

// AuthorizeResult carries what the client needs to confirm the hold.
type AuthorizeResult struct {
	PaymentID    uuid.UUID `json:"payment_id"`
	ClientSecret string    `json:"client_secret"`
}

// SyncResult reports the outcome of polling the gateway.
type SyncResult struct {
	Payment *PaymentDTO `json:"payment,omitempty"`
	Updated bool        `json:"updated"`
}

// Report is a gateway-observed intent state, from the webhook, the sync poll or a
// capture response.
type Report struct {
	IntentID string
	// RequestID comes from intent metadata when available; uuid.Nil skips the check.
	RequestID uuid.UUID
	State     gateway.IntentState
	Source    string
}

const (
	SourceWebhook = "webhook"
	SourceSync    = "sync"
	SourceCapture = "capture"
	SourceCron    = "cron"
)

// ApplyResult describes what a Report did to local state.
type ApplyResult struct {
	PaymentID uuid.UUID
	RequestID uuid.UUID
	Previous  enums.PaymentStatus
	Status    enums.PaymentStatus
	Changed   bool
}

// SyncStats summarizes a batch reconciliation run.
type SyncStats struct {
	Checked int
	Changed int
	Failed  int
}
