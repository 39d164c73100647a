// Package stripewebhook turns verified gateway events into payment reports.
package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/mealrun-backend/internal/gateway"
	"github.com/angelmondragon/mealrun-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
)

type reportApplier interface {
	Apply(ctx context.Context, report payments.Report) (*payments.ApplyResult, error)
}

type Service struct {
	payments reportApplier
	logg     *logger.Logger
}

func NewService(applier reportApplier, logg *logger.Logger) (*Service, error) {
	if applier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments service required")
	}
	return &Service{payments: applier, logg: logg}, nil
}

// HandleEvent applies payment intent events. Other event types, and intents the
// platform does not know, are acknowledged without effect.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentAmountCapturableUpdated,
		stripe.EventTypePaymentIntentSucceeded:
	default:
		return nil
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}
	if intent.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}

	report := payments.Report{
		IntentID: intent.ID,
		State:    gateway.IntentState(intent.Status),
		Source:   payments.SourceWebhook,
	}
	if raw := intent.Metadata[gateway.MetadataRequestID]; raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			report.RequestID = id
		}
	}

	result, err := s.payments.Apply(ctx, report)
	if err != nil {
		return err
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"event_id":   event.ID,
			"event_type": string(event.Type),
			"intent_id":  intent.ID,
		})
		if result == nil || result.PaymentID == uuid.Nil {
			s.logg.Warn(ctx, "stripe event for unknown intent ignored")
		} else if result.Changed {
			s.logg.Info(s.logg.WithMealRequest(ctx, result.RequestID.String()), "stripe event applied")
		}
	}
	return nil
}
