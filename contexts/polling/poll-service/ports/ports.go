package ports

import (
	"context"
	"time"

	"agora/contexts/polling/poll-service/domain/entities"
	contractsv1 "agora/contracts/gen/events/v1"
)

type PollRepository interface {
	SavePoll(ctx context.Context, poll entities.Poll, options []entities.Option) error
	GetPoll(ctx context.Context, pollID string) (entities.Poll, []entities.Option, error)
	ListPolls(ctx context.Context, filter ListFilter) ([]entities.Poll, error)
	// TransitionPoll applies a guarded state move and reports whether this
	// caller performed it. Concurrent automatic and manual closes race on the
	// same guard, so exactly one of them observes performed=true.
	TransitionPoll(ctx context.Context, pollID string, from entities.LifecycleState, to entities.LifecycleState, at time.Time) (bool, error)
	ListDuePolls(ctx context.Context, to entities.LifecycleState, now time.Time, limit int) ([]entities.Poll, error)
	CountVotes(ctx context.Context, pollID string) (int64, error)
	DeletePoll(ctx context.Context, pollID string) error
}

type ListFilter struct {
	OwnerID        string
	OrganizationID string
	PublicOnly     bool
	State          entities.LifecycleState
}

// EventEnvelope aliases the canonical contract envelope so every context puts
// the same shape on the bus.
type EventEnvelope = contractsv1.Envelope

type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
