package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mealrun-backend/pkg/config"
	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	requestID := uuid.New()
	event := models.OutboxEvent{
		EventType:     enums.EventRequestClaimed,
		AggregateType: enums.AggregateMealRequest,
		AggregateID:   requestID,
		Payload: mustEnvelope(t, payloads.RequestClaimedEvent{
			RequestID:   requestID,
			FulfillerID: uuid.New(),
		}),
	}

	resolved, err := reg.Resolve(event)
	require.NoError(t, err)
	assert.Equal(t, "lifecycle-topic", resolved.Descriptor.Topic)
	payload, ok := resolved.Payload.(*payloads.RequestClaimedEvent)
	require.True(t, ok, "unexpected payload type %T", resolved.Payload)
	assert.Equal(t, requestID, payload.RequestID)
	assert.NotEmpty(t, resolved.Envelope.EventID)
	assert.False(t, resolved.Envelope.OccurredAt.IsZero())
}

func TestEventRegistryRoutesPayoutsToPayoutTopic(t *testing.T) {
	reg := newTestEventRegistry(t)
	event := models.OutboxEvent{
		EventType:     enums.EventPayoutCreated,
		AggregateType: enums.AggregatePayout,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, payloads.PayoutCreatedEvent{AmountCents: 1500}),
	}
	resolved, err := reg.Resolve(event)
	require.NoError(t, err)
	assert.Equal(t, "payouts-topic", resolved.Descriptor.Topic)
	assert.ElementsMatch(t, []string{"lifecycle-topic", "payouts-topic"}, reg.Topics())
}

func TestEventRegistryResolveRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)

	cases := map[string]models.OutboxEvent{
		"unknown event": {
			EventType:     enums.OutboxEventType("order_created"),
			AggregateType: enums.AggregateMealRequest,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, map[string]string{"a": "b"}),
		},
		"aggregate mismatch": {
			EventType:     enums.EventDisputeOpened,
			AggregateType: enums.AggregateMealRequest,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, payloads.DisputeOpenedEvent{}),
		},
		"missing aggregate id": {
			EventType:     enums.EventDisputeOpened,
			AggregateType: enums.AggregateDispute,
			Payload:       mustEnvelope(t, payloads.DisputeOpenedEvent{}),
		},
		"null payload": {
			EventType:     enums.EventRequestCreated,
			AggregateType: enums.AggregateMealRequest,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, nil),
		},
		"garbage envelope": {
			EventType:     enums.EventRequestCreated,
			AggregateType: enums.AggregateMealRequest,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`not-json`),
		},
	}

	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			require.Error(t, err)
			var nonRetry NonRetryableError
			assert.True(t, errors.As(err, &nonRetry), "expected non-retryable, got %T", err)
		})
	}
}

func TestNewEventRegistryRequiresLifecycleTopic(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{})
	assert.Error(t, err)

	reg, err := NewEventRegistry(config.PubSubConfig{LifecycleTopic: "only"})
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, reg.Topics())
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{
		LifecycleTopic: "lifecycle-topic",
		PayoutsTopic:   "payouts-topic",
	})
	require.NoError(t, err)
	return reg
}

func mustEnvelope(t *testing.T, data any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}
	out, err := json.Marshal(envelope)
	require.NoError(t, err)
	return out
}
