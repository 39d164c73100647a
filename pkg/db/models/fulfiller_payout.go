package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FulfillerPayout is an append-only record of funds transferred to a fulfiller.
// ProviderTransferID stays empty while the gateway transfer is in flight; the row
// already counts against the balance in that state. A transfer the gateway
// rejected keeps its row with FailedAt set and no longer counts.
type FulfillerPayout struct {
	ID                 uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	FulfillerID        uuid.UUID  `gorm:"column:fulfiller_id;type:uuid;not null;index"`
	AmountCents        int64      `gorm:"column:amount_cents;not null"`
	ProviderTransferID string     `gorm:"column:provider_transfer_id;type:text;not null"`
	FailedAt           *time.Time `gorm:"column:failed_at"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`

	Reversals []DisputeReversal `gorm:"foreignKey:PayoutID;references:ID"`
}

func (p *FulfillerPayout) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// Pending reports whether the gateway transfer has not been recorded yet.
func (p *FulfillerPayout) Pending() bool {
	return p.ProviderTransferID == "" && p.FailedAt == nil
}

func (p *FulfillerPayout) Failed() bool {
	return p.FailedAt != nil
}

// ReversedCents sums the loaded reversals against this payout.
func (p *FulfillerPayout) ReversedCents() int64 {
	var total int64
	for _, r := range p.Reversals {
		total += r.AmountCents
	}
	return total
}
