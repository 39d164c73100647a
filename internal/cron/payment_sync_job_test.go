package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mealrun-backend/internal/payments"
)

type fakePaymentSyncer struct {
	olderThan time.Duration
	limit     int
	stats     payments.SyncStats
	err       error
}

func (f *fakePaymentSyncer) SyncUnsettled(_ context.Context, olderThan time.Duration, limit int) (payments.SyncStats, error) {
	f.olderThan = olderThan
	f.limit = limit
	return f.stats, f.err
}

func TestPaymentSyncJobPassesWindow(t *testing.T) {
	syncer := &fakePaymentSyncer{stats: payments.SyncStats{Checked: 3, Changed: 1, Failed: 1}}
	job, err := NewPaymentSyncJob(PaymentSyncJobParams{
		Logger:   testLogger(),
		Payments: syncer,
		MinAge:   5 * time.Minute,
		Batch:    25,
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 5*time.Minute, syncer.olderThan)
	assert.Equal(t, 25, syncer.limit)
	assert.Equal(t, "payment-sync", job.Name())
}

func TestPaymentSyncJobDefaults(t *testing.T) {
	syncer := &fakePaymentSyncer{}
	job, err := NewPaymentSyncJob(PaymentSyncJobParams{Logger: testLogger(), Payments: syncer})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, defaultPaymentSyncAge, syncer.olderThan)
	assert.Equal(t, defaultPaymentSyncBatch, syncer.limit)
}

func TestPaymentSyncJobPropagatesError(t *testing.T) {
	syncer := &fakePaymentSyncer{err: errors.New("list failed")}
	job, err := NewPaymentSyncJob(PaymentSyncJobParams{Logger: testLogger(), Payments: syncer})
	require.NoError(t, err)

	assert.Error(t, job.Run(context.Background()))
}

func TestNewPaymentSyncJobValidates(t *testing.T) {
	_, err := NewPaymentSyncJob(PaymentSyncJobParams{Logger: testLogger()})
	assert.Error(t, err)
}
