package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/mealrun-backend/pkg/logger"
)

const (
	defaultOutboxRetention      = 14 * 24 * time.Hour
	defaultOutboxParkedAttempts = 10
	defaultOutboxPurgeBatch     = 500
	// maxPurgeBatchesPerRun bounds one tick so the job never starves the others.
	maxPurgeBatchesPerRun = 20
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRetentionRepo interface {
	DeleteExpired(ctx context.Context, tx *gorm.DB, cutoff time.Time, parkedAttempts, limit int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxRetentionRepo
	Retention  time.Duration
	// ParkedAttempts matches the publisher's max attempts; rows at or above it
	// will never be retried and are purged alongside published rows.
	ParkedAttempts int
	BatchSize      int
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	repo      outboxRetentionRepo
	retention time.Duration
	parked    int
	batch     int
	now       func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("outbox retention: logger required")
	case params.DB == nil:
		return nil, errors.New("outbox retention: db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox retention: repository required")
	}
	return &outboxRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		repo:      params.Repository,
		retention: positiveOr(params.Retention, defaultOutboxRetention),
		parked:    positiveOr(params.ParkedAttempts, defaultOutboxParkedAttempts),
		batch:     positiveOr(params.BatchSize, defaultOutboxPurgeBatch),
		now:       time.Now,
	}, nil
}

func positiveOr[T int | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run purges in batches, one transaction each, until a short batch signals the
// backlog is drained.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	batches := 0
	for batches < maxPurgeBatchesPerRun {
		if err := ctx.Err(); err != nil {
			return err
		}
		var deleted int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			deleted, err = j.repo.DeleteExpired(ctx, tx, cutoff, j.parked, j.batch)
			return err
		})
		if err != nil {
			return fmt.Errorf("outbox retention: %w", err)
		}
		batches++
		total += deleted
		if deleted < int64(j.batch) {
			break
		}
	}
	if total == 0 {
		return nil
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":          cutoff,
		"parked_attempts": j.parked,
		"rows_deleted":    total,
		"batches":         batches,
	}), "outbox retention cleanup complete")
	return nil
}
