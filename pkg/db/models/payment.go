package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mealrun-backend/pkg/enums"
)

// Payment mirrors the escrow state of the gateway payment intent for a request.
type Payment struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	RequestID          uuid.UUID           `gorm:"column:request_id;type:uuid;not null;uniqueIndex"`
	AmountCents        int64               `gorm:"column:amount_cents;not null"`
	Currency           string              `gorm:"column:currency;type:text;not null;default:'usd'"`
	ProviderIntentID   *string             `gorm:"column:provider_intent_id;type:text;index"`
	Status             enums.PaymentStatus `gorm:"column:status;type:text;not null;index"`
	RequesterChargedAt *time.Time          `gorm:"column:requester_charged_at"`
	FulfillerPaidAt    *time.Time          `gorm:"column:fulfiller_paid_at"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// IntentID returns the provider intent reference or an empty string.
func (p *Payment) IntentID() string {
	if p.ProviderIntentID == nil {
		return ""
	}
	return *p.ProviderIntentID
}
