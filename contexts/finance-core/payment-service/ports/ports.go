package ports

import (
	"context"
	"time"

	"agora/contexts/finance-core/payment-service/domain/entities"
	contractsv1 "agora/contracts/gen/events/v1"
)

type PaymentRepository interface {
	SavePayment(ctx context.Context, record entities.PaymentRecord) error
	GetPayment(ctx context.Context, reference string) (entities.PaymentRecord, error)
	// ResolvePayment moves a pending record to a terminal status and reports
	// whether this caller performed the move. Concurrent webhook and user
	// verifications race on the pending guard; exactly one wins.
	ResolvePayment(ctx context.Context, reference string, status entities.PaymentStatus, at time.Time) (bool, error)
	// ScheduleRetry records a failed verification attempt and when the next
	// one is due. NeedsAttention marks an exhausted retry budget.
	ScheduleRetry(ctx context.Context, reference string, attempts int, nextAttemptAt time.Time, needsAttention bool) error
	ListDuePayments(ctx context.Context, now time.Time, limit int) ([]entities.PaymentRecord, error)
}

type InitializeRequest struct {
	Reference string
	Amount    float64
	Currency  string
	Email     string
	ReturnURL string
}

type InitializeResult struct {
	CheckoutURL string
}

type VerifyStatus string

const (
	VerifySuccess VerifyStatus = "success"
	VerifyFailed  VerifyStatus = "failed"
	VerifyPending VerifyStatus = "pending"
)

type VerifyResult struct {
	Status VerifyStatus
	Amount float64
}

// Gateway is the external payment provider. Verify errors are treated as
// transient; a definitive rejection comes back as VerifyFailed.
type Gateway interface {
	InitializeTransaction(ctx context.Context, req InitializeRequest) (InitializeResult, error)
	VerifyTransaction(ctx context.Context, reference string) (VerifyResult, error)
}

// PollActivator flips a monetized poll live once its payment succeeds.
// Activation is idempotent.
type PollActivator interface {
	ActivatePoll(ctx context.Context, pollID string) error
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
