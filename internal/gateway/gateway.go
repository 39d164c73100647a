// Package gateway defines the payment provider surface the escrow core drives.
package gateway

import (
	"context"
	"errors"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
)

// IntentState mirrors the provider's payment intent status vocabulary.
type IntentState string

const (
	IntentRequiresPaymentMethod IntentState = "requires_payment_method"
	IntentRequiresConfirmation  IntentState = "requires_confirmation"
	IntentRequiresAction        IntentState = "requires_action"
	IntentProcessing            IntentState = "processing"
	IntentRequiresCapture       IntentState = "requires_capture"
	IntentCanceled              IntentState = "canceled"
	IntentSucceeded             IntentState = "succeeded"
)

// ErrInsufficientBalance reports that the platform balance cannot fund a transfer.
var ErrInsufficientBalance = errors.New("gateway: insufficient platform balance")

// HoldParams describe an authorization hold for a meal request.
type HoldParams struct {
	RequestID      uuid.UUID
	AmountCents    int64
	Currency       string
	IdempotencyKey string
}

// Hold is the provider's answer to an authorization request.
type Hold struct {
	IntentID     string
	ClientSecret string
	State        IntentState
}

// TransferParams describe a payout to a fulfiller's connected account.
type TransferParams struct {
	FulfillerID    uuid.UUID
	DestinationID  string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
}

// Gateway is implemented by the payment provider adapter.
type Gateway interface {
	AuthorizeHold(ctx context.Context, params HoldParams) (*Hold, error)
	Capture(ctx context.Context, intentID string) (IntentState, error)
	CancelHold(ctx context.Context, intentID string) error
	Refund(ctx context.Context, intentID string, idempotencyKey string) (string, error)
	GetIntentState(ctx context.Context, intentID string) (IntentState, error)
	CreatePayoutDestination(ctx context.Context, userID uuid.UUID, email string) (string, error)
	CreateOnboardingLink(ctx context.Context, destinationID, returnURL, refreshURL string) (string, error)
	Transfer(ctx context.Context, params TransferParams) (string, error)
	ReverseTransfer(ctx context.Context, transferID string, amountCents int64, idempotencyKey string) (string, error)
}

// AsAppError converts a gateway failure into the application error taxonomy.
func AsAppError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInsufficientBalance) {
		return pkgerrors.Wrap(pkgerrors.CodeInsufficientBalance, err, msg)
	}
	var typed *pkgerrors.Error
	if errors.As(err, &typed) {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, msg)
}
