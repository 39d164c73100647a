package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mealrun-backend/pkg/enums"
)

// Fulfillment is the hard claim of a meal request by a fulfiller.
type Fulfillment struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	RequestID        uuid.UUID               `gorm:"column:request_id;type:uuid;not null;uniqueIndex"`
	FulfillerID      uuid.UUID               `gorm:"column:fulfiller_id;type:uuid;not null;index"`
	Status           enums.FulfillmentStatus `gorm:"column:status;type:text;not null"`
	EvidenceUploadID uuid.UUID               `gorm:"column:evidence_upload_id;type:uuid;not null"`
	ConfirmedAt      *time.Time              `gorm:"column:confirmed_at"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time               `gorm:"column:updated_at;autoUpdateTime"`

	Request *MealRequest `gorm:"foreignKey:RequestID;references:ID"`
}

func (f *Fulfillment) BeforeCreate(*gorm.DB) error {
	ensureID(&f.ID)
	return nil
}
