package commands

import (
	"encoding/json"
	"time"

	"agora/contexts/polling/poll-service/ports"
)

// NewPollEnvelope builds canonical envelopes for poll lifecycle events.
// Lifecycle events always partition by poll_id so per-poll ordering holds.
func NewPollEnvelope(
	eventID string,
	eventType string,
	pollID string,
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
		SourceService:    "poll-service",
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: "poll_id",
		PartitionKey:     pollID,
		Data:             payload,
	}, nil
}
