package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User represents the canonical identity entity provisioned by the identity provider.
type User struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Email           string    `gorm:"column:email;type:text;not null;uniqueIndex"`
	Name            string    `gorm:"column:name;type:text;not null;default:''"`
	PayoutAccountID *string   `gorm:"column:payout_account_id;type:text"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	return nil
}
