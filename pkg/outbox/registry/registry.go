package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/mealrun-backend/pkg/config"
	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox/payloads"
)

// EventDescriptor binds an event type to the aggregate it belongs to, the
// topic it is published on and the Go type of its payload.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is a validated outbox row with its decoded payload.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

func describe[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:      eventType,
		AggregateType:  aggregate,
		Topic:          topic,
		PayloadFactory: func() any { return new(T) },
	}
}

// NewEventRegistry registers every lifecycle event. Payout events go to the
// payouts topic when one is configured and share the lifecycle topic
// otherwise.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	lifecycle := cfg.LifecycleTopic
	if lifecycle == "" {
		return nil, errors.New("lifecycle topic is required")
	}
	payouts := cfg.PayoutsTopic
	if payouts == "" {
		payouts = lifecycle
	}

	descriptors := []EventDescriptor{
		describe[payloads.RequestCreatedEvent](enums.EventRequestCreated, enums.AggregateMealRequest, lifecycle),
		describe[payloads.RequestClaimedEvent](enums.EventRequestClaimed, enums.AggregateMealRequest, lifecycle),
		describe[payloads.RequestCancelledEvent](enums.EventRequestCancelled, enums.AggregateMealRequest, lifecycle),
		describe[payloads.PaymentHeldEvent](enums.EventPaymentHeld, enums.AggregateMealRequest, lifecycle),
		describe[payloads.OrderConfirmedEvent](enums.EventOrderConfirmed, enums.AggregateMealRequest, lifecycle),
		describe[payloads.DisputeOpenedEvent](enums.EventDisputeOpened, enums.AggregateDispute, lifecycle),
		describe[payloads.DisputeResolvedEvent](enums.EventDisputeResolved, enums.AggregateDispute, lifecycle),
		describe[payloads.PayoutCreatedEvent](enums.EventPayoutCreated, enums.AggregatePayout, payouts),
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(descriptors))}
	for _, desc := range descriptors {
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

// Topics returns the distinct topics in sorted order.
func (r *EventRegistry) Topics() []string {
	topics := make([]string, 0, 2)
	for _, desc := range r.entries {
		if !slices.Contains(topics, desc.Topic) {
			topics = append(topics, desc.Topic)
		}
	}
	slices.Sort(topics)
	return topics
}

// Resolve checks the row against its descriptor and decodes the envelope and
// typed payload. Every failure is a NonRetryableError.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, nonRetryable("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, nonRetryable("event %s belongs to aggregate %s, row has %s", event.EventType, desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, nonRetryable("event %s has no aggregate_id", event.EventType)
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, nonRetryable("decode envelope: %w", err)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nonRetryable("event %s has an empty payload", event.EventType)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, nonRetryable("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
