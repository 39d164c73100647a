package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DisputeReversal links an approved dispute to the payout amount it clawed back.
// A dispute reverses each payout at most once.
type DisputeReversal struct {
	ID                 uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	DisputeID          uuid.UUID `gorm:"column:dispute_id;type:uuid;not null;uniqueIndex:dispute_reversals_dispute_payout_key"`
	PayoutID           uuid.UUID `gorm:"column:payout_id;type:uuid;not null;index;uniqueIndex:dispute_reversals_dispute_payout_key"`
	AmountCents        int64     `gorm:"column:amount_cents;not null"`
	ProviderReversalID string    `gorm:"column:provider_reversal_id;type:text;not null"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (r *DisputeReversal) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
