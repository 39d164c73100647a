package fulfillments

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
)

// ClaimInput is a fulfiller's hard claim backed by an uploaded order screenshot.
type ClaimInput struct {
	RequestID        uuid.UUID
	FulfillerID      uuid.UUID
	EvidenceUploadID uuid.UUID
}

type FulfillmentDTO struct {
	ID               uuid.UUID               `json:"id"`
	RequestID        uuid.UUID               `json:"request_id"`
	FulfillerID      uuid.UUID               `json:"fulfiller_id"`
	Status           enums.FulfillmentStatus `json:"status"`
	EvidenceUploadID uuid.UUID               `json:"evidence_upload_id"`
	ConfirmedAt      *time.Time              `json:"confirmed_at,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	Request          *RequestSummary         `json:"request,omitempty"`
}

// RequestSummary is what the fulfiller sees of the request they claimed.
type RequestSummary struct {
	Status         enums.MealRequestStatus `json:"status"`
	DiningLocation string                  `json:"dining_location"`
	RestaurantName string                  `json:"restaurant_name"`
	Description    string                  `json:"description"`
	PaymentStatus  *enums.PaymentStatus    `json:"payment_status,omitempty"`
}

func NewFulfillmentDTO(f models.Fulfillment) FulfillmentDTO {
	dto := FulfillmentDTO{
		ID:               f.ID,
		RequestID:        f.RequestID,
		FulfillerID:      f.FulfillerID,
		Status:           f.Status,
		EvidenceUploadID: f.EvidenceUploadID,
		ConfirmedAt:      f.ConfirmedAt,
		CreatedAt:        f.CreatedAt,
	}
	if f.Request != nil {
		summary := &RequestSummary{
			Status:         f.Request.Status,
			DiningLocation: f.Request.DiningLocation,
			RestaurantName: f.Request.RestaurantName,
			Description:    f.Request.Description,
		}
		if f.Request.Payment != nil {
			status := f.Request.Payment.Status
			summary.PaymentStatus = &status
		}
		dto.Request = summary
	}
	return dto
}
