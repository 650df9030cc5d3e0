package commands

import (
	"encoding/json"
	"time"

	"agora/contexts/finance-core/payment-service/ports"
)

// NewPaymentEnvelope builds canonical envelopes for payment events.
// Payment events partition by reference so per-payment ordering holds.
func NewPaymentEnvelope(
	eventID string,
	eventType string,
	reference string,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       occurredAt.UTC(),
		SourceService:    "payment-service",
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: "reference",
		PartitionKey:     reference,
		Data:             payload,
	}, nil
}
