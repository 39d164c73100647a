package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mealrun-backend/pkg/enums"
)

// Dispute records a requester complaint awaiting or after admin adjudication.
type Dispute struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	RequestID      uuid.UUID           `gorm:"column:request_id;type:uuid;not null;uniqueIndex"`
	RequesterID    uuid.UUID           `gorm:"column:requester_id;type:uuid;not null"`
	Reason         string              `gorm:"column:reason;type:text;not null"`
	EvidenceImage1 uuid.UUID           `gorm:"column:evidence_image_1;type:uuid;not null"`
	EvidenceImage2 *uuid.UUID          `gorm:"column:evidence_image_2;type:uuid"`
	Status         enums.DisputeStatus `gorm:"column:status;type:text;not null;index"`
	ResolvedAt     *time.Time          `gorm:"column:resolved_at"`
	ResolvedByID   *uuid.UUID          `gorm:"column:resolved_by_id;type:uuid"`
	// ApprovalStartedAt is set while an approval is talking to the gateway.
	ApprovalStartedAt *time.Time `gorm:"column:approval_started_at"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`

	Request   *MealRequest      `gorm:"foreignKey:RequestID;references:ID"`
	Reversals []DisputeReversal `gorm:"foreignKey:DisputeID;references:ID"`
}

func (d *Dispute) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ID)
	return nil
}
