package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/mealrun-backend/pkg/db/dbtest"
	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
)

func TestEmitWritesEnvelopeInsideTransaction(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	ctx := context.Background()
	requestID := uuid.New()
	actorID := uuid.New()

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.EventRequestCreated,
			AggregateType: enums.AggregateMealRequest,
			AggregateID:   requestID,
			Actor:         &ActorRef{UserID: actorID, Role: ActorRoleRequester},
			Data:          map[string]string{"restaurant": "Chick-Fil-A"},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, client.DB().Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, requestID, rows[0].AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.Equal(t, actorID, envelope.Actor.UserID)
	assert.JSONEq(t, `{"restaurant":"Chick-Fil-A"}`, string(envelope.Data))
}

func TestEmitRolledBackWithTransaction(t *testing.T) {
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), nil)
	ctx := context.Background()

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.EventPaymentHeld,
			AggregateType: enums.AggregateMealRequest,
			AggregateID:   uuid.New(),
			Data:          map[string]int{"amount_cents": 600},
		}); err != nil {
			return err
		}
		return errors.New("commit aborted")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, client.DB().Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitRejectsUnknownEventAndMissingTx(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	assert.Error(t, svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventPaymentHeld}))

	client := dbtest.Open(t)
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{EventType: "nope"})
	})
	assert.Error(t, err)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	db := client.DB()

	first := models.OutboxEvent{EventType: enums.EventRequestCreated, AggregateType: enums.AggregateMealRequest, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	second := models.OutboxEvent{EventType: enums.EventRequestClaimed, AggregateType: enums.AggregateMealRequest, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	require.NoError(t, repo.Insert(db, first))
	require.NoError(t, repo.Insert(db, second))

	rows, err := repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, repo.MarkPublishedTx(db, rows[0].ID))
	require.NoError(t, repo.MarkFailedTx(db, rows[1].ID, errors.New("publish timeout")))

	rows, err = repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].AttemptCount)
	require.NotNil(t, rows[0].LastError)
	assert.Equal(t, "publish timeout", *rows[0].LastError)

	require.NoError(t, repo.MarkTerminalTx(db, rows[0].ID, errors.New("bad payload"), 3))
	rows, err = repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEmitKeepsCallerVersionAndTimestamp(t *testing.T) {
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), nil)
	ctx := context.Background()
	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.EventRequestClaimed,
			AggregateType: enums.AggregateMealRequest,
			AggregateID:   uuid.New(),
			Version:       2,
			OccurredAt:    occurred,
		})
	})
	require.NoError(t, err)

	var row models.OutboxEvent
	require.NoError(t, client.DB().First(&row).Error)
	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	assert.Equal(t, 2, envelope.Version)
	assert.True(t, occurred.Equal(envelope.OccurredAt))
	assert.JSONEq(t, `null`, string(envelope.Data))
}

func TestEmitRejectsUnencodableData(t *testing.T) {
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), nil)
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType: enums.EventPaymentHeld,
			Data:      map[string]any{"ch": make(chan int)},
		})
	})
	assert.Error(t, err)
}

func TestRepositoryDeleteExpiredBatches(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	db := client.DB()
	ctx := context.Background()
	old := time.Now().UTC().Add(-30 * 24 * time.Hour)
	published := old.Add(time.Hour)

	insert := func(createdAt time.Time, publishedAt *time.Time, attempts int) {
		row := models.OutboxEvent{
			EventType:     enums.EventRequestCreated,
			AggregateType: enums.AggregateMealRequest,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			PublishedAt:   publishedAt,
			AttemptCount:  attempts,
			CreatedAt:     createdAt,
		}
		require.NoError(t, db.Create(&row).Error)
	}
	insert(old, &published, 0)
	insert(old, &published, 0)
	insert(old, nil, 10)
	insert(old, nil, 2)
	insert(time.Now().UTC(), &published, 0)

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	deleted, err := repo.DeleteExpired(ctx, nil, cutoff, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	deleted, err = repo.DeleteExpired(ctx, nil, cutoff, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&remaining).Error)
	assert.Equal(t, int64(2), remaining)
}
