package disputes

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
)

// OpenInput is a requester's complaint about a paid order.
type OpenInput struct {
	RequestID   uuid.UUID
	RequesterID uuid.UUID
	Reason      string
	EvidenceIDs []uuid.UUID
}

type DisputeDTO struct {
	ID             uuid.UUID                `json:"id"`
	RequestID      uuid.UUID                `json:"request_id"`
	RequesterID    uuid.UUID                `json:"requester_id"`
	FulfillerID    *uuid.UUID               `json:"fulfiller_id,omitempty"`
	Reason         string                   `json:"reason"`
	EvidenceImage1 uuid.UUID                `json:"evidence_image_1"`
	EvidenceImage2 *uuid.UUID               `json:"evidence_image_2,omitempty"`
	Status         enums.DisputeStatus      `json:"status"`
	RequestStatus  *enums.MealRequestStatus `json:"request_status,omitempty"`
	PaymentStatus  *enums.PaymentStatus     `json:"payment_status,omitempty"`
	ReversedCents  int64                    `json:"reversed_cents"`
	Reversals      []ReversalDTO            `json:"reversals"`
	CreatedAt      time.Time                `json:"created_at"`
	ResolvedAt     *time.Time               `json:"resolved_at,omitempty"`
	ResolvedByID   *uuid.UUID               `json:"resolved_by_id,omitempty"`
}

type ReversalDTO struct {
	ID                 uuid.UUID `json:"id"`
	PayoutID           uuid.UUID `json:"payout_id"`
	AmountCents        int64     `json:"amount_cents"`
	ProviderReversalID string    `json:"provider_reversal_id"`
	CreatedAt          time.Time `json:"created_at"`
}

func NewDisputeDTO(d models.Dispute) DisputeDTO {
	dto := DisputeDTO{
		ID:             d.ID,
		RequestID:      d.RequestID,
		RequesterID:    d.RequesterID,
		Reason:         d.Reason,
		EvidenceImage1: d.EvidenceImage1,
		EvidenceImage2: d.EvidenceImage2,
		Status:         d.Status,
		Reversals:      make([]ReversalDTO, 0, len(d.Reversals)),
		CreatedAt:      d.CreatedAt,
		ResolvedAt:     d.ResolvedAt,
		ResolvedByID:   d.ResolvedByID,
	}
	if d.Request != nil {
		status := d.Request.Status
		dto.RequestStatus = &status
		if d.Request.Fulfillment != nil {
			fulfillerID := d.Request.Fulfillment.FulfillerID
			dto.FulfillerID = &fulfillerID
		}
		if d.Request.Payment != nil {
			paymentStatus := d.Request.Payment.Status
			dto.PaymentStatus = &paymentStatus
		}
	}
	for _, r := range d.Reversals {
		dto.ReversedCents += r.AmountCents
		dto.Reversals = append(dto.Reversals, ReversalDTO{
			ID:                 r.ID,
			PayoutID:           r.PayoutID,
			AmountCents:        r.AmountCents,
			ProviderReversalID: r.ProviderReversalID,
			CreatedAt:          r.CreatedAt,
		})
	}
	return dto
}
