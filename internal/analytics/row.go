// Package analytics projects lifecycle events into warehouse rows.
package analytics

import (
	"time"

	"cloud.google.com/go/bigquery"
)

// LifecycleRow is one lifecycle event as stored in the lifecycle_events table.
type LifecycleRow struct {
	EventID       string
	EventType     string
	AggregateType string
	AggregateID   string
	RequestID     bigquery.NullString
	ActorID       bigquery.NullString
	ActorRole     bigquery.NullString
	FulfillerID   bigquery.NullString
	AmountCents   bigquery.NullInt64
	DisputeStatus bigquery.NullString
	MessageID     string
	OccurredAt    time.Time
	IngestedAt    time.Time
	Payload       bigquery.NullJSON
}

// LifecycleSchema is the lifecycle_events layout, day-partitioned on occurred_at.
var LifecycleSchema = bigquery.Schema{
	{Name: "event_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "event_type", Type: bigquery.StringFieldType, Required: true},
	{Name: "aggregate_type", Type: bigquery.StringFieldType, Required: true},
	{Name: "aggregate_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "request_id", Type: bigquery.StringFieldType},
	{Name: "actor_id", Type: bigquery.StringFieldType},
	{Name: "actor_role", Type: bigquery.StringFieldType},
	{Name: "fulfiller_id", Type: bigquery.StringFieldType},
	{Name: "amount_cents", Type: bigquery.IntegerFieldType},
	{Name: "dispute_status", Type: bigquery.StringFieldType},
	{Name: "message_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "occurred_at", Type: bigquery.TimestampFieldType, Required: true},
	{Name: "ingested_at", Type: bigquery.TimestampFieldType, Required: true},
	{Name: "payload", Type: bigquery.JSONFieldType},
}

const LifecyclePartitionField = "occurred_at"

// Save implements bigquery.ValueSaver. The event id doubles as the insert id.
func (r *LifecycleRow) Save() (map[string]bigquery.Value, string, error) {
	return map[string]bigquery.Value{
		"event_id":       r.EventID,
		"event_type":     r.EventType,
		"aggregate_type": r.AggregateType,
		"aggregate_id":   r.AggregateID,
		"request_id":     r.RequestID,
		"actor_id":       r.ActorID,
		"actor_role":     r.ActorRole,
		"fulfiller_id":   r.FulfillerID,
		"amount_cents":   r.AmountCents,
		"dispute_status": r.DisputeStatus,
		"message_id":     r.MessageID,
		"occurred_at":    r.OccurredAt,
		"ingested_at":    r.IngestedAt,
		"payload":        r.Payload,
	}, r.EventID, nil
}
