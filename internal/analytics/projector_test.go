package analytics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mealrun-backend/pkg/config"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox/registry"
)

var ingestTime = time.Date(2026, 9, 2, 8, 0, 0, 0, time.UTC)

func newTestProjector(t *testing.T) *Projector {
	t.Helper()
	reg, err := registry.NewEventRegistry(config.PubSubConfig{LifecycleTopic: "lifecycle"})
	require.NoError(t, err)
	p, err := NewProjector(reg)
	require.NoError(t, err)
	p.now = func() time.Time { return ingestTime }
	return p
}

func publishedMessage(t *testing.T, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, aggregateID uuid.UUID, actor *outbox.ActorRef, payload any) Message {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    "evt-" + aggregateID.String(),
		OccurredAt: time.Date(2026, 9, 1, 12, 30, 0, 0, time.UTC),
		Actor:      actor,
		Data:       data,
	})
	require.NoError(t, err)
	return Message{
		ID:   "msg-1",
		Data: body,
		Attributes: map[string]string{
			"event_type":     string(eventType),
			"aggregate_type": string(aggregate),
			"aggregate_id":   aggregateID.String(),
		},
	}
}

func TestProjectPaymentHeld(t *testing.T) {
	requestID := uuid.New()
	requester := uuid.New()
	msg := publishedMessage(t, enums.EventPaymentHeld, enums.AggregateMealRequest, requestID,
		&outbox.ActorRef{UserID: requester, Role: outbox.ActorRoleRequester},
		payloads.PaymentHeldEvent{RequestID: requestID, PaymentID: uuid.New(), AmountCents: 600, ProviderIntentID: "pi_1"})

	row, err := newTestProjector(t).Project(msg)
	require.NoError(t, err)
	assert.Equal(t, "evt-"+requestID.String(), row.EventID)
	assert.Equal(t, "payment.held", row.EventType)
	assert.Equal(t, requestID.String(), row.RequestID.StringVal)
	assert.True(t, row.AmountCents.Valid)
	assert.EqualValues(t, 600, row.AmountCents.Int64)
	assert.Equal(t, requester.String(), row.ActorID.StringVal)
	assert.Equal(t, "requester", row.ActorRole.StringVal)
	assert.False(t, row.FulfillerID.Valid)
	assert.Equal(t, "msg-1", row.MessageID)
	assert.Equal(t, ingestTime, row.IngestedAt)
	assert.True(t, row.Payload.Valid)
	assert.Contains(t, row.Payload.JSONVal, "pi_1")
}

func TestProjectDisputeResolvedAndPayout(t *testing.T) {
	disputeID := uuid.New()
	requestID := uuid.New()
	row, err := newTestProjector(t).Project(publishedMessage(t, enums.EventDisputeResolved, enums.AggregateDispute, disputeID, nil,
		payloads.DisputeResolvedEvent{DisputeID: disputeID, RequestID: requestID, Status: enums.DisputeStatusApproved, ReversedCents: 500}))
	require.NoError(t, err)
	assert.Equal(t, requestID.String(), row.RequestID.StringVal)
	assert.Equal(t, "APPROVED", row.DisputeStatus.StringVal)
	assert.EqualValues(t, 500, row.AmountCents.Int64)
	assert.False(t, row.ActorID.Valid)

	payoutID := uuid.New()
	fulfiller := uuid.New()
	row, err = newTestProjector(t).Project(publishedMessage(t, enums.EventPayoutCreated, enums.AggregatePayout, payoutID, nil,
		payloads.PayoutCreatedEvent{PayoutID: payoutID, FulfillerID: fulfiller, AmountCents: 1500, ProviderTransferID: "tr_1"}))
	require.NoError(t, err)
	assert.Equal(t, fulfiller.String(), row.FulfillerID.StringVal)
	assert.False(t, row.RequestID.Valid)
}

func TestProjectRejectsMalformedMessages(t *testing.T) {
	p := newTestProjector(t)
	valid := publishedMessage(t, enums.EventRequestCreated, enums.AggregateMealRequest, uuid.New(), nil,
		payloads.RequestCreatedEvent{RequestID: uuid.New()})

	cases := map[string]func(Message) Message{
		"unknown event": func(m Message) Message {
			m.Attributes = map[string]string{"event_type": "meal.eaten", "aggregate_type": "meal_request", "aggregate_id": uuid.NewString()}
			return m
		},
		"bad aggregate id": func(m Message) Message {
			m.Attributes = map[string]string{"event_type": "request.created", "aggregate_type": "meal_request", "aggregate_id": "nope"}
			return m
		},
		"aggregate mismatch": func(m Message) Message {
			m.Attributes = map[string]string{"event_type": "request.created", "aggregate_type": "dispute", "aggregate_id": uuid.NewString()}
			return m
		},
		"bad body": func(m Message) Message {
			m.Data = []byte("not json")
			return m
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			msg := valid
			msg = mutate(msg)
			_, err := p.Project(msg)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestLifecycleRowSaveUsesEventIDAsInsertID(t *testing.T) {
	row := &LifecycleRow{EventID: "evt-1", EventType: "request.created"}
	values, insertID, err := row.Save()
	require.NoError(t, err)
	assert.Equal(t, "evt-1", insertID)
	assert.Equal(t, "request.created", values["event_type"])
	assert.Contains(t, values, "payload")
}

func TestLifecycleSchemaCoversSavedColumns(t *testing.T) {
	values, _, err := (&LifecycleRow{EventID: "evt"}).Save()
	require.NoError(t, err)

	columns := make(map[string]bool, len(LifecycleSchema))
	for _, field := range LifecycleSchema {
		columns[field.Name] = true
	}
	assert.Len(t, LifecycleSchema, len(values))
	for name := range values {
		assert.True(t, columns[name], name)
	}
	assert.True(t, columns[LifecyclePartitionField])
}
