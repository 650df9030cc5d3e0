package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"agora/contexts/finance-core/payment-service/domain/entities"
	domainerrors "agora/contexts/finance-core/payment-service/domain/errors"
	"agora/contexts/finance-core/payment-service/ports"

	"github.com/google/uuid"
)

// Store is the in-memory payment repository for tests and local wiring.
type Store struct {
	mu        sync.Mutex
	payments  map[string]entities.PaymentRecord
	activated map[string]int
	outbox    map[string]outboxRow
	now       func() time.Time
}

type outboxRow struct {
	message   ports.OutboxMessage
	published bool
}

func NewStore() *Store {
	return &Store{
		payments:  make(map[string]entities.PaymentRecord),
		activated: make(map[string]int),
		outbox:    make(map[string]outboxRow),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) SavePayment(_ context.Context, record entities.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.payments[record.Reference]; exists {
		return nil
	}
	s.payments[record.Reference] = record
	return nil
}

func (s *Store) GetPayment(_ context.Context, reference string) (entities.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.payments[strings.TrimSpace(reference)]
	if !ok {
		return entities.PaymentRecord{}, domainerrors.ErrPaymentNotFound
	}
	return record, nil
}

func (s *Store) ResolvePayment(
	_ context.Context,
	reference string,
	status entities.PaymentStatus,
	at time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.payments[strings.TrimSpace(reference)]
	if !ok {
		return false, domainerrors.ErrPaymentNotFound
	}
	if record.Status != entities.PaymentPending {
		return false, nil
	}
	record.Status = status
	resolvedAt := at.UTC()
	record.ResolvedAt = &resolvedAt
	record.UpdatedAt = at.UTC()
	s.payments[record.Reference] = record
	return true, nil
}

func (s *Store) ScheduleRetry(
	_ context.Context,
	reference string,
	attempts int,
	nextAttemptAt time.Time,
	needsAttention bool,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.payments[strings.TrimSpace(reference)]
	if !ok {
		return domainerrors.ErrPaymentNotFound
	}
	if record.Status != entities.PaymentPending {
		return nil
	}
	record.Attempts = attempts
	record.NextAttemptAt = nextAttemptAt.UTC()
	record.NeedsAttention = needsAttention
	record.UpdatedAt = s.now()
	s.payments[record.Reference] = record
	return nil
}

func (s *Store) ListDuePayments(_ context.Context, now time.Time, limit int) ([]entities.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	items := make([]entities.PaymentRecord, 0)
	for _, record := range s.payments {
		if record.Status != entities.PaymentPending || record.NeedsAttention {
			continue
		}
		if record.NextAttemptAt.After(now) {
			continue
		}
		items = append(items, record)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].NextAttemptAt.Before(items[j].NextAttemptAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) ActivatePoll(_ context.Context, pollID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activated[strings.TrimSpace(pollID)]++
	return nil
}

// ActivationCount reports how many times a poll was activated; tests use it
// to prove the unlock ran exactly once.
func (s *Store) ActivationCount(pollID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activated[pollID]
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if _, exists := s.outbox[outboxID]; exists {
		return nil
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	s.outbox[outboxID] = outboxRow{
		message: ports.OutboxMessage{
			OutboxID:     outboxID,
			EventType:    envelope.EventType,
			PartitionKey: envelope.PartitionKey,
			Payload:      payload,
			CreatedAt:    s.now(),
		},
	}
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	items := make([]ports.OutboxMessage, 0, len(s.outbox))
	for _, row := range s.outbox {
		if row.published {
			continue
		}
		items = append(items, row.message)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.outbox[outboxID]
	if !ok {
		return domainerrors.ErrInvalidPaymentInput
	}
	row.published = true
	s.outbox[outboxID] = row
	return nil
}

func (s *Store) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

var _ ports.PaymentRepository = (*Store)(nil)
var _ ports.PollActivator = (*Store)(nil)
var _ ports.OutboxWriter = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
var _ ports.Clock = (*Store)(nil)
var _ ports.IDGenerator = (*Store)(nil)
