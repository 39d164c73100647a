// Package reconciliation reports gateway side effects that were applied remotely
// but never committed locally.
package reconciliation

import (
	"context"

	"github.com/angelmondragon/mealrun-backend/pkg/logger"
	"github.com/angelmondragon/mealrun-backend/pkg/metrics"
)

const (
	OpCancelHold = "cancel_hold"
	OpRefund     = "refund"
	OpReversal   = "transfer_reversal"
	OpTransfer   = "transfer"
	OpAuthorize  = "authorize"
	OpCapture    = "capture"
	OpOnboarding = "payout_destination"
)

// Entry carries the correlation data an operator needs to fix the record by hand.
type Entry struct {
	Operation   string
	RequestID   string
	DisputeID   string
	FulfillerID string
	ProviderRef string
	AmountCents int64
}

// Reporter logs reconciliation.required at error level and counts it.
type Reporter struct {
	logg    *logger.Logger
	metrics *metrics.ReconciliationMetrics
}

func NewReporter(logg *logger.Logger, m *metrics.ReconciliationMetrics) *Reporter {
	return &Reporter{logg: logg, metrics: m}
}

// Required records one inconsistency. A nil reporter is a no-op.
func (r *Reporter) Required(ctx context.Context, entry Entry, err error) {
	if r == nil {
		return
	}
	r.metrics.IncRequired(entry.Operation)
	if r.logg == nil {
		return
	}
	fields := map[string]any{
		"operation":    entry.Operation,
		"provider_ref": entry.ProviderRef,
	}
	if entry.RequestID != "" {
		fields["meal_request_id"] = entry.RequestID
	}
	if entry.DisputeID != "" {
		fields["dispute_id"] = entry.DisputeID
	}
	if entry.FulfillerID != "" {
		fields["fulfiller_id"] = entry.FulfillerID
	}
	if entry.AmountCents != 0 {
		fields["amount_cents"] = entry.AmountCents
	}
	r.logg.Error(r.logg.WithFields(ctx, fields), "reconciliation.required", err)
}
