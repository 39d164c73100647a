package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/mealrun-backend/internal/payments"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
)

const (
	defaultPaymentSyncAge   = 2 * time.Minute
	defaultPaymentSyncBatch = 100
)

type paymentSyncer interface {
	SyncUnsettled(ctx context.Context, olderThan time.Duration, limit int) (payments.SyncStats, error)
}

type PaymentSyncJobParams struct {
	Logger   *logger.Logger
	Payments paymentSyncer
	MinAge   time.Duration
	Batch    int
}

// NewPaymentSyncJob polls the gateway for payments whose webhooks never
// arrived, so stuck holds eventually reach a terminal local state.
func NewPaymentSyncJob(params PaymentSyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	minAge := params.MinAge
	if minAge <= 0 {
		minAge = defaultPaymentSyncAge
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultPaymentSyncBatch
	}
	return &paymentSyncJob{
		logg:     params.Logger,
		payments: params.Payments,
		minAge:   minAge,
		batch:    batch,
	}, nil
}

type paymentSyncJob struct {
	logg     *logger.Logger
	payments paymentSyncer
	minAge   time.Duration
	batch    int
}

func (j *paymentSyncJob) Name() string { return "payment-sync" }

func (j *paymentSyncJob) Run(ctx context.Context) error {
	stats, err := j.payments.SyncUnsettled(ctx, j.minAge, j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"checked": stats.Checked,
		"changed": stats.Changed,
		"failed":  stats.Failed,
	})
	if err != nil {
		return fmt.Errorf("payment sync: %w", err)
	}
	switch {
	case stats.Failed > 0:
		j.logg.Warn(logCtx, "payment sync finished with failures")
	case stats.Checked > 0:
		j.logg.Info(logCtx, "payment sync complete")
	}
	return nil
}
