package requests

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
)

// CreateInput carries the requester's ask.
type CreateInput struct {
	RequesterID    uuid.UUID
	DiningLocation string
	RestaurantName string
	Description    string
}

// RequestDTO is the API view of a meal request.
type RequestDTO struct {
	ID                     uuid.UUID               `json:"id"`
	RequesterID            uuid.UUID               `json:"requester_id"`
	DiningLocation         string                  `json:"dining_location"`
	RestaurantName         string                  `json:"restaurant_name"`
	Description            string                  `json:"description"`
	Status                 enums.MealRequestStatus `json:"status"`
	ReservedByID           *uuid.UUID              `json:"reserved_by_id,omitempty"`
	ReservationExpiresAt   *time.Time              `json:"reservation_expires_at,omitempty"`
	ReservationSecondsLeft int                     `json:"reservation_seconds_left,omitempty"`
	CreatedAt              time.Time               `json:"created_at"`
	Fulfillment            *FulfillmentSummary     `json:"fulfillment,omitempty"`
	Payment                *PaymentSummary         `json:"payment,omitempty"`
	Dispute                *DisputeSummary         `json:"dispute,omitempty"`
}

type FulfillmentSummary struct {
	ID               uuid.UUID               `json:"id"`
	FulfillerID      uuid.UUID               `json:"fulfiller_id"`
	Status           enums.FulfillmentStatus `json:"status"`
	EvidenceUploadID uuid.UUID               `json:"evidence_upload_id"`
	ConfirmedAt      *time.Time              `json:"confirmed_at,omitempty"`
}

type PaymentSummary struct {
	ID          uuid.UUID           `json:"id"`
	AmountCents int64               `json:"amount_cents"`
	Currency    string              `json:"currency"`
	Status      enums.PaymentStatus `json:"status"`
}

type DisputeSummary struct {
	ID         uuid.UUID           `json:"id"`
	Status     enums.DisputeStatus `json:"status"`
	Reason     string              `json:"reason"`
	CreatedAt  time.Time           `json:"created_at"`
	ResolvedAt *time.Time          `json:"resolved_at,omitempty"`
}

// NewRequestDTO maps a request and any loaded relations. Reservation fields are only
// populated while the lease is still valid at now.
func NewRequestDTO(m models.MealRequest, now time.Time, window time.Duration) RequestDTO {
	dto := RequestDTO{
		ID:             m.ID,
		RequesterID:    m.RequesterID,
		DiningLocation: m.DiningLocation,
		RestaurantName: m.RestaurantName,
		Description:    m.Description,
		Status:         m.Status,
		CreatedAt:      m.CreatedAt,
	}
	if m.ReservationActive(now, window) {
		expires := m.ReservedAt.Add(window)
		dto.ReservedByID = m.ReservedByID
		dto.ReservationExpiresAt = &expires
		dto.ReservationSecondsLeft = int(expires.Sub(now) / time.Second)
	}
	if f := m.Fulfillment; f != nil {
		dto.Fulfillment = &FulfillmentSummary{
			ID:               f.ID,
			FulfillerID:      f.FulfillerID,
			Status:           f.Status,
			EvidenceUploadID: f.EvidenceUploadID,
			ConfirmedAt:      f.ConfirmedAt,
		}
	}
	if p := m.Payment; p != nil {
		dto.Payment = &PaymentSummary{
			ID:          p.ID,
			AmountCents: p.AmountCents,
			Currency:    p.Currency,
			Status:      p.Status,
		}
	}
	if d := m.Dispute; d != nil {
		dto.Dispute = &DisputeSummary{
			ID:         d.ID,
			Status:     d.Status,
			Reason:     d.Reason,
			CreatedAt:  d.CreatedAt,
			ResolvedAt: d.ResolvedAt,
		}
	}
	return dto
}
