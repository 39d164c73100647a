package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeOutboxRetentionRepo struct {
	cutoff  time.Time
	parked  int
	limit   int
	calls   int
	batches []int64
	err     error
}

func (f *fakeOutboxRetentionRepo) DeleteExpired(_ context.Context, _ *gorm.DB, cutoff time.Time, parkedAttempts, limit int) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	f.parked = parkedAttempts
	f.limit = limit
	if f.err != nil {
		return 0, f.err
	}
	if len(f.batches) == 0 {
		return 0, nil
	}
	next := f.batches[0]
	f.batches = f.batches[1:]
	return next, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func newTestOutboxRetentionJob(t *testing.T, repo *fakeOutboxRetentionRepo, params OutboxRetentionJobParams) *outboxRetentionJob {
	t.Helper()
	params.Logger = testLogger()
	params.DB = passthroughTx{}
	params.Repository = repo
	job, err := NewOutboxRetentionJob(params)
	require.NoError(t, err)
	typed, ok := job.(*outboxRetentionJob)
	require.True(t, ok)
	return typed
}

func TestOutboxRetentionJobUsesDefaults(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeOutboxRetentionRepo{batches: []int64{7}}
	job := newTestOutboxRetentionJob(t, repo, OutboxRetentionJobParams{})
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, repo.calls)
	assert.True(t, repo.cutoff.Equal(now.Add(-defaultOutboxRetention)))
	assert.Equal(t, defaultOutboxParkedAttempts, repo.parked)
	assert.Equal(t, defaultOutboxPurgeBatch, repo.limit)
	assert.Equal(t, "outbox-retention", job.Name())
}

func TestOutboxRetentionJobHonorsParams(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeOutboxRetentionRepo{}
	job := newTestOutboxRetentionJob(t, repo, OutboxRetentionJobParams{Retention: 48 * time.Hour, ParkedAttempts: 3, BatchSize: 25})
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.True(t, repo.cutoff.Equal(now.Add(-48*time.Hour)))
	assert.Equal(t, 3, repo.parked)
	assert.Equal(t, 25, repo.limit)
}

func TestOutboxRetentionJobDrainsFullBatches(t *testing.T) {
	repo := &fakeOutboxRetentionRepo{batches: []int64{2, 2, 1, 2}}
	job := newTestOutboxRetentionJob(t, repo, OutboxRetentionJobParams{BatchSize: 2})

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 3, repo.calls)
}

func TestOutboxRetentionJobCapsBatchesPerRun(t *testing.T) {
	batches := make([]int64, maxPurgeBatchesPerRun+5)
	for i := range batches {
		batches[i] = 1
	}
	repo := &fakeOutboxRetentionRepo{batches: batches}
	job := newTestOutboxRetentionJob(t, repo, OutboxRetentionJobParams{BatchSize: 1})

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, maxPurgeBatchesPerRun, repo.calls)
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	repo := &fakeOutboxRetentionRepo{err: errors.New("boom")}
	job := newTestOutboxRetentionJob(t, repo, OutboxRetentionJobParams{})

	assert.ErrorContains(t, job.Run(context.Background()), "boom")
}

func TestOutboxRetentionJobStopsOnCanceledContext(t *testing.T) {
	repo := &fakeOutboxRetentionRepo{}
	job := newTestOutboxRetentionJob(t, repo, OutboxRetentionJobParams{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, job.Run(ctx), context.Canceled)
	assert.Zero(t, repo.calls)
}

func TestNewOutboxRetentionJobValidates(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{})
	assert.Error(t, err)
}
