package ports

import (
	"context"
	"time"

	"agora/contexts/polling/vote-engine/domain/entities"
	contractsv1 "agora/contracts/gen/events/v1"
)

// PollProjection is the vote engine's read model of a poll. The engine never
// mutates poll metadata; it only needs the fields the restriction policy and
// the open-window check depend on.
type PollProjection struct {
	PollID          string
	OwnerID         string
	State           string
	StartAt         time.Time
	EndAt           time.Time
	Active          bool
	AllowAnonymous  bool
	OneVotePerVoter bool
	IPVoteLimit     int
	IPWindow        time.Duration
}

// Open reports whether votes are accepted at the given instant. A poll marked
// closed stays closed even inside its window; a scheduled poll whose window
// has arrived counts as open before the sweeper catches up.
func (p PollProjection) Open(now time.Time) bool {
	if !p.Active {
		return false
	}
	switch p.State {
	case "closed":
		return false
	case "open":
		return now.Before(p.EndAt)
	case "scheduled":
		return !now.Before(p.StartAt) && now.Before(p.EndAt)
	default:
		return false
	}
}

type PollReader interface {
	GetPollProjection(ctx context.Context, pollID string) (PollProjection, error)
}

// VoteLedger is the authoritative vote store plus the tally cache kept in the
// same transaction. CastVote re-validates the poll window under a row lock,
// appends the vote, bumps the option counter and returns the fresh tally.
// With enforceUnique set, a concurrent insert for the same voter key fails
// with ErrDuplicateVote.
type VoteLedger interface {
	CastVote(ctx context.Context, vote entities.Vote, enforceUnique bool, now time.Time) (entities.Tally, error)
	HasVoted(ctx context.Context, pollID string, voterKey string) (bool, error)
	CountRecentByAddress(ctx context.Context, pollID string, address string, since time.Time) (int, error)
	GetTally(ctx context.Context, pollID string) (entities.Tally, error)
	// RecomputeTally rebuilds the per-option counters from the ledger rows
	// and returns the corrected tally.
	RecomputeTally(ctx context.Context, pollID string) (entities.Tally, error)
}

// Broadcaster fans tally events out to live subscribers of a poll channel.
// Publish is best-effort: a subscriber that cannot keep up is dropped, never
// waited on.
type Broadcaster interface {
	Publish(pollID string, event entities.TallyEvent)
	Close(pollID string, final entities.Tally)
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

type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}

// EventDedupStore reserves consumed event ids so redelivered events are
// processed at most once. ReserveEvent reports true when the id was already
// reserved by an earlier delivery.
type EventDedupStore interface {
	ReserveEvent(ctx context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
