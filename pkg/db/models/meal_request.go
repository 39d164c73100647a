package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mealrun-backend/pkg/enums"
)

// MealRequest is a requester's ask for a meal from a campus dining location.
// The reservation lease is embedded as ReservedByID/ReservedAt.
type MealRequest struct {
	ID             uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	RequesterID    uuid.UUID               `gorm:"column:requester_id;type:uuid;not null;index"`
	DiningLocation string                  `gorm:"column:dining_location;type:text;not null"`
	RestaurantName string                  `gorm:"column:restaurant_name;type:text;not null"`
	Description    string                  `gorm:"column:description;type:text;not null"`
	Status         enums.MealRequestStatus `gorm:"column:status;type:text;not null;index"`
	ReservedByID   *uuid.UUID              `gorm:"column:reserved_by_id;type:uuid"`
	ReservedAt     *time.Time              `gorm:"column:reserved_at"`
	CreatedAt      time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time               `gorm:"column:updated_at;autoUpdateTime"`

	Fulfillment *Fulfillment `gorm:"foreignKey:RequestID;references:ID"`
	Payment     *Payment     `gorm:"foreignKey:RequestID;references:ID"`
	Dispute     *Dispute     `gorm:"foreignKey:RequestID;references:ID"`
}

func (m *MealRequest) BeforeCreate(*gorm.DB) error {
	ensureID(&m.ID)
	return nil
}

// ReservationActive reports whether a non-expired reservation exists at now.
func (m *MealRequest) ReservationActive(now time.Time, window time.Duration) bool {
	if m.ReservedByID == nil || m.ReservedAt == nil {
		return false
	}
	return now.Before(m.ReservedAt.Add(window))
}

// ReservedBy reports whether fulfillerID holds a non-expired reservation at now.
func (m *MealRequest) ReservedBy(fulfillerID uuid.UUID, now time.Time, window time.Duration) bool {
	return m.ReservationActive(now, window) && *m.ReservedByID == fulfillerID
}
