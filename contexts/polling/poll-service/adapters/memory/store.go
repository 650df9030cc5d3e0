package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"agora/contexts/polling/poll-service/domain/entities"
	domainerrors "agora/contexts/polling/poll-service/domain/errors"
	"agora/contexts/polling/poll-service/ports"

	"github.com/google/uuid"
)

type outboxRecord struct {
	message   ports.OutboxMessage
	published bool
}

type Store struct {
	mu sync.RWMutex

	polls   map[string]entities.Poll
	options map[string][]entities.Option
	votes   map[string]int64
	outbox  map[string]outboxRecord
}

func NewStore(seed []entities.Poll) *Store {
	polls := make(map[string]entities.Poll, len(seed))
	for _, poll := range seed {
		polls[poll.PollID] = poll
	}
	return &Store{
		polls:   polls,
		options: make(map[string][]entities.Option),
		votes:   make(map[string]int64),
		outbox:  make(map[string]outboxRecord),
	}
}

// SetVoteCount seeds the vote total used by the deletion policy check.
func (s *Store) SetVoteCount(pollID string, count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes[strings.TrimSpace(pollID)] = count
}

func (s *Store) SavePoll(_ context.Context, poll entities.Poll, options []entities.Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pollID := strings.TrimSpace(poll.PollID)
	s.polls[pollID] = poll
	if len(options) > 0 {
		s.options[pollID] = append([]entities.Option(nil), options...)
	}
	return nil
}

func (s *Store) GetPoll(_ context.Context, pollID string) (entities.Poll, []entities.Option, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	poll, ok := s.polls[strings.TrimSpace(pollID)]
	if !ok {
		return entities.Poll{}, nil, domainerrors.ErrPollNotFound
	}
	options := append([]entities.Option(nil), s.options[poll.PollID]...)
	sort.Slice(options, func(i, j int) bool {
		return options[i].Position < options[j].Position
	})
	return poll, options, nil
}

func (s *Store) ListPolls(_ context.Context, filter ports.ListFilter) ([]entities.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Poll, 0, len(s.polls))
	for _, poll := range s.polls {
		if strings.TrimSpace(filter.OwnerID) != "" && !strings.EqualFold(poll.OwnerID, strings.TrimSpace(filter.OwnerID)) {
			continue
		}
		if strings.TrimSpace(filter.OrganizationID) != "" && poll.OrganizationID != strings.TrimSpace(filter.OrganizationID) {
			continue
		}
		if filter.PublicOnly && !poll.Public {
			continue
		}
		if filter.State != "" && poll.State != filter.State {
			continue
		}
		items = append(items, poll)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (s *Store) TransitionPoll(
	_ context.Context,
	pollID string,
	from entities.LifecycleState,
	to entities.LifecycleState,
	at time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	poll, ok := s.polls[strings.TrimSpace(pollID)]
	if !ok {
		return false, domainerrors.ErrPollNotFound
	}
	if poll.State != from {
		return false, nil
	}
	poll.State = to
	poll.UpdatedAt = at.UTC()
	if to == entities.StateClosed {
		poll.EndAt = at.UTC()
	}
	s.polls[poll.PollID] = poll
	return true, nil
}

func (s *Store) ListDuePolls(
	_ context.Context,
	to entities.LifecycleState,
	now time.Time,
	limit int,
) ([]entities.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	items := make([]entities.Poll, 0)
	for _, poll := range s.polls {
		switch to {
		case entities.StateOpen:
			if poll.State == entities.StateScheduled &&
				!now.UTC().Before(poll.StartAt) &&
				now.UTC().Before(poll.EndAt) {
				items = append(items, poll)
			}
		case entities.StateClosed:
			if poll.State != entities.StateClosed && !now.UTC().Before(poll.EndAt) {
				items = append(items, poll)
			}
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].EndAt.Before(items[j].EndAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) CountVotes(_ context.Context, pollID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.votes[strings.TrimSpace(pollID)], nil
}

func (s *Store) DeletePoll(_ context.Context, pollID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.TrimSpace(pollID)
	if _, ok := s.polls[key]; !ok {
		return domainerrors.ErrPollNotFound
	}
	delete(s.polls, key)
	delete(s.options, key)
	return nil
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if _, ok := s.outbox[outboxID]; ok {
		return nil
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	s.outbox[outboxID] = outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:     outboxID,
			EventType:    strings.TrimSpace(envelope.EventType),
			PartitionKey: strings.TrimSpace(envelope.PartitionKey),
			Payload:      payload,
			CreatedAt:    createdAt,
		},
	}
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

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
	sort.Slice(items, func(i, j int) bool {
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
	row, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrTransitionRejected
	}
	row.published = true
	s.outbox[strings.TrimSpace(outboxID)] = row
	return nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

var _ ports.PollRepository = (*Store)(nil)
var _ ports.OutboxWriter = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
