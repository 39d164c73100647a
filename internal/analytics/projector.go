package analytics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox/registry"
)

// ErrMalformed marks messages that can never be projected.
var ErrMalformed = errors.New("malformed lifecycle message")

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// Message is the subset of a Pub/Sub delivery the projector reads.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Projector turns published outbox messages into LifecycleRows using the same
// registry the publisher validated them with.
type Projector struct {
	registry resolver
	now      func() time.Time
}

func NewProjector(registry resolver) (*Projector, error) {
	if registry == nil {
		return nil, errors.New("event registry required")
	}
	return &Projector{registry: registry, now: time.Now}, nil
}

func (p *Projector) Project(msg Message) (*LifecycleRow, error) {
	eventType, err := enums.ParseOutboxEventType(strings.TrimSpace(msg.Attributes["event_type"]))
	if err != nil {
		return nil, fmt.Errorf("%w: event_type: %v", ErrMalformed, err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(strings.TrimSpace(msg.Attributes["aggregate_type"]))
	if err != nil {
		return nil, fmt.Errorf("%w: aggregate_type: %v", ErrMalformed, err)
	}
	aggregateID, err := uuid.Parse(strings.TrimSpace(msg.Attributes["aggregate_id"]))
	if err != nil {
		return nil, fmt.Errorf("%w: aggregate_id: %v", ErrMalformed, err)
	}

	resolved, err := p.registry.Resolve(models.OutboxEvent{
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       msg.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	envelope := resolved.Envelope
	if strings.TrimSpace(envelope.EventID) == "" {
		return nil, fmt.Errorf("%w: event id missing", ErrMalformed)
	}

	row := &LifecycleRow{
		EventID:       envelope.EventID,
		EventType:     string(eventType),
		AggregateType: string(aggregateType),
		AggregateID:   aggregateID.String(),
		MessageID:     msg.ID,
		OccurredAt:    envelope.OccurredAt.UTC(),
		IngestedAt:    p.now().UTC(),
		Payload:       bigquery.NullJSON{JSONVal: string(envelope.Data), Valid: len(envelope.Data) > 0},
	}
	if envelope.Actor != nil {
		row.ActorID = nullID(envelope.Actor.UserID)
		row.ActorRole = nullString(envelope.Actor.Role)
	}
	applyPayload(row, resolved.Payload)
	return row, nil
}

func applyPayload(row *LifecycleRow, payload any) {
	switch event := payload.(type) {
	case *payloads.RequestCreatedEvent:
		row.RequestID = nullID(event.RequestID)
	case *payloads.RequestClaimedEvent:
		row.RequestID = nullID(event.RequestID)
		row.FulfillerID = nullID(event.FulfillerID)
	case *payloads.RequestCancelledEvent:
		row.RequestID = nullID(event.RequestID)
	case *payloads.PaymentHeldEvent:
		row.RequestID = nullID(event.RequestID)
		row.AmountCents = bigquery.NullInt64{Int64: event.AmountCents, Valid: true}
	case *payloads.OrderConfirmedEvent:
		row.RequestID = nullID(event.RequestID)
		row.FulfillerID = nullID(event.FulfillerID)
	case *payloads.DisputeOpenedEvent:
		row.RequestID = nullID(event.RequestID)
	case *payloads.DisputeResolvedEvent:
		row.RequestID = nullID(event.RequestID)
		row.DisputeStatus = nullString(string(event.Status))
		row.AmountCents = bigquery.NullInt64{Int64: event.ReversedCents, Valid: true}
	case *payloads.PayoutCreatedEvent:
		row.FulfillerID = nullID(event.FulfillerID)
		row.AmountCents = bigquery.NullInt64{Int64: event.AmountCents, Valid: true}
	}
}

func nullID(id uuid.UUID) bigquery.NullString {
	if id == uuid.Nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: id.String(), Valid: true}
}

func nullString(v string) bigquery.NullString {
	if v == "" {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: v, Valid: true}
}
