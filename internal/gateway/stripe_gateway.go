package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/account"
	"github.com/stripe/stripe-go/v84/accountlink"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/transfer"
	"github.com/stripe/stripe-go/v84/transferreversal"

	pkgstripe "github.com/angelmondragon/mealrun-backend/pkg/stripe"
)

const (
	MetadataRequestID   = "requestId"
	metadataFulfillerID = "fulfillerId"
	metadataUserID      = "userId"
)

// StripeGateway implements Gateway on top of the Stripe API.
type StripeGateway struct {
	country string
}

// NewStripeGateway wraps an initialized Stripe client.
func NewStripeGateway(client *pkgstripe.Client, country string) (*StripeGateway, error) {
	if client == nil {
		return nil, errors.New("stripe client required")
	}
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		country = "US"
	}
	return &StripeGateway{country: country}, nil
}

func (g *StripeGateway) AuthorizeHold(ctx context.Context, params HoldParams) (*Hold, error) {
	if params.AmountCents <= 0 {
		return nil, fmt.Errorf("hold amount must be positive")
	}
	piParams := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(params.AmountCents),
		Currency:      stripe.String(currencyOrDefault(params.Currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	piParams.Context = ctx
	piParams.AddMetadata(MetadataRequestID, params.RequestID.String())
	if params.IdempotencyKey != "" {
		piParams.SetIdempotencyKey(params.IdempotencyKey)
	}

	intent, err := paymentintent.New(piParams)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &Hold{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		State:        IntentState(intent.Status),
	}, nil
}

func (g *StripeGateway) Capture(ctx context.Context, intentID string) (IntentState, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	intent, err := paymentintent.Capture(intentID, params)
	if err != nil {
		return "", mapStripeError(err)
	}
	return IntentState(intent.Status), nil
}

func (g *StripeGateway) CancelHold(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := paymentintent.Cancel(intentID, params); err != nil {
		return mapStripeError(err)
	}
	return nil
}

func (g *StripeGateway) Refund(ctx context.Context, intentID string, idempotencyKey string) (string, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	r, err := refund.New(params)
	if err != nil {
		return "", mapStripeError(err)
	}
	return r.ID, nil
}

func (g *StripeGateway) GetIntentState(ctx context.Context, intentID string) (IntentState, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := paymentintent.Get(intentID, params)
	if err != nil {
		return "", mapStripeError(err)
	}
	return IntentState(intent.Status), nil
}

func (g *StripeGateway) CreatePayoutDestination(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	params := &stripe.AccountParams{
		Type:    stripe.String(string(stripe.AccountTypeExpress)),
		Country: stripe.String(g.country),
		Email:   stripe.String(email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			Transfers: &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.Context = ctx
	params.AddMetadata(metadataUserID, userID.String())
	acct, err := account.New(params)
	if err != nil {
		return "", mapStripeError(err)
	}
	return acct.ID, nil
}

func (g *StripeGateway) CreateOnboardingLink(ctx context.Context, destinationID, returnURL, refreshURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(destinationID),
		ReturnURL:  stripe.String(returnURL),
		RefreshURL: stripe.String(refreshURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx
	link, err := accountlink.New(params)
	if err != nil {
		return "", mapStripeError(err)
	}
	return link.URL, nil
}

func (g *StripeGateway) Transfer(ctx context.Context, params TransferParams) (string, error) {
	tParams := &stripe.TransferParams{
		Amount:      stripe.Int64(params.AmountCents),
		Currency:    stripe.String(currencyOrDefault(params.Currency)),
		Destination: stripe.String(params.DestinationID),
	}
	tParams.Context = ctx
	tParams.AddMetadata(metadataFulfillerID, params.FulfillerID.String())
	if params.IdempotencyKey != "" {
		tParams.SetIdempotencyKey(params.IdempotencyKey)
	}
	t, err := transfer.New(tParams)
	if err != nil {
		return "", mapStripeError(err)
	}
	return t.ID, nil
}

func (g *StripeGateway) ReverseTransfer(ctx context.Context, transferID string, amountCents int64, idempotencyKey string) (string, error) {
	params := &stripe.TransferReversalParams{
		ID:     stripe.String(transferID),
		Amount: stripe.Int64(amountCents),
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	reversal, err := transferreversal.New(params)
	if err != nil {
		return "", mapStripeError(err)
	}
	return reversal.ID, nil
}

func currencyOrDefault(currency string) string {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		return string(stripe.CurrencyUSD)
	}
	return currency
}

func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeBalanceInsufficient {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, stripeErr.Msg)
	}
	return err
}

var _ Gateway = (*StripeGateway)(nil)
