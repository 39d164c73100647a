package payouts

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/money"
)

// TransferInput asks for AmountCents, or the full available balance when nil.
type TransferInput struct {
	FulfillerID uuid.UUID
	AmountCents *int64
}

type OnboardInput struct {
	FulfillerID uuid.UUID
	ReturnURL   string
	RefreshURL  string
}

type BalanceDTO struct {
	EarnedCents         int64        `json:"total_earned_cents"`
	TransferredCents    int64        `json:"total_transferred_cents"`
	ReversedCents       int64        `json:"total_reversed_cents"`
	AvailableCents      int64        `json:"available_cents"`
	Available           string       `json:"available"`
	HasConnectedAccount bool         `json:"has_connected_account"`
	Earnings            []EarningDTO `json:"earnings"`
	Payouts             []PayoutDTO  `json:"payouts"`
}

type EarningDTO struct {
	FulfillmentID  uuid.UUID  `json:"fulfillment_id"`
	RequestID      uuid.UUID  `json:"request_id"`
	DiningLocation string     `json:"dining_location,omitempty"`
	RestaurantName string     `json:"restaurant_name,omitempty"`
	AmountCents    int64      `json:"amount_cents"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"`
}

type PayoutDTO struct {
	ID                 uuid.UUID `json:"id"`
	AmountCents        int64     `json:"amount_cents"`
	Amount             string    `json:"amount"`
	ReversedCents      int64     `json:"reversed_cents"`
	ProviderTransferID string    `json:"provider_transfer_id,omitempty"`
	Pending            bool      `json:"pending"`
	Failed             bool      `json:"failed"`
	CreatedAt          time.Time `json:"created_at"`
}

func NewPayoutDTO(p models.FulfillerPayout) PayoutDTO {
	return PayoutDTO{
		ID:                 p.ID,
		AmountCents:        p.AmountCents,
		Amount:             money.Dollars(p.AmountCents),
		ReversedCents:      p.ReversedCents(),
		ProviderTransferID: p.ProviderTransferID,
		Pending:            p.Pending(),
		Failed:             p.Failed(),
		CreatedAt:          p.CreatedAt,
	}
}

func newEarningDTO(f models.Fulfillment, amount int64) EarningDTO {
	dto := EarningDTO{
		FulfillmentID: f.ID,
		RequestID:     f.RequestID,
		AmountCents:   amount,
		ConfirmedAt:   f.ConfirmedAt,
	}
	if f.Request != nil {
		dto.DiningLocation = f.Request.DiningLocation
		dto.RestaurantName = f.Request.RestaurantName
	}
	return dto
}

type OnboardingDTO struct {
	URL           string `json:"url"`
	DestinationID string `json:"destination_id"`
}
