package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"agora/contexts/polling/vote-engine/domain/entities"
	domainerrors "agora/contexts/polling/vote-engine/domain/errors"
	"agora/contexts/polling/vote-engine/ports"

	"github.com/google/uuid"
)

// Store is the in-memory ledger used by tests and local wiring. One mutex
// covers poll projections, votes, counters, outbox and dedup state, so
// CastVote gets the same atomicity the Postgres transaction provides.
type Store struct {
	mu         sync.Mutex
	polls      map[string]ports.PollProjection
	options    map[string][]entities.OptionCount
	votes      map[string]entities.Vote
	uniqueKeys map[string]string
	outbox     map[string]outboxRow
	dedup      map[string]time.Time
	now        func() time.Time
}

type outboxRow struct {
	message   ports.OutboxMessage
	published bool
}

func NewStore() *Store {
	return &Store{
		polls:      make(map[string]ports.PollProjection),
		options:    make(map[string][]entities.OptionCount),
		votes:      make(map[string]entities.Vote),
		uniqueKeys: make(map[string]string),
		outbox:     make(map[string]outboxRow),
		dedup:      make(map[string]time.Time),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the store clock for deterministic tests.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SeedPoll registers a poll projection with its options, all counters at the
// given values.
func (s *Store) SeedPoll(poll ports.PollProjection, options []entities.OptionCount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls[poll.PollID] = poll
	counts := make([]entities.OptionCount, len(options))
	copy(counts, options)
	sort.SliceStable(counts, func(i, j int) bool { return counts[i].Position < counts[j].Position })
	s.options[poll.PollID] = counts
}

// SetPollState mutates a seeded projection, mirroring a lifecycle move made
// by the poll service.
func (s *Store) SetPollState(pollID string, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	poll, ok := s.polls[pollID]
	if !ok {
		return
	}
	poll.State = state
	s.polls[pollID] = poll
}

func (s *Store) GetPollProjection(_ context.Context, pollID string) (ports.PollProjection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	poll, ok := s.polls[strings.TrimSpace(pollID)]
	if !ok {
		return ports.PollProjection{}, domainerrors.ErrPollNotFound
	}
	return poll, nil
}

func (s *Store) CastVote(
	_ context.Context,
	vote entities.Vote,
	enforceUnique bool,
	now time.Time,
) (entities.Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	poll, ok := s.polls[vote.PollID]
	if !ok {
		return entities.Tally{}, domainerrors.ErrPollNotFound
	}
	if !poll.Open(now) {
		return entities.Tally{}, domainerrors.ErrPollNotOpen
	}
	uniqueKey := vote.PollID + "|" + vote.VoterKey
	if enforceUnique {
		if _, taken := s.uniqueKeys[uniqueKey]; taken {
			return entities.Tally{}, domainerrors.ErrDuplicateVote
		}
	}

	counts := s.options[vote.PollID]
	index := -1
	for i, count := range counts {
		if count.OptionID == vote.OptionID {
			index = i
			break
		}
	}
	if index < 0 {
		return entities.Tally{}, domainerrors.ErrOptionNotFound
	}

	s.votes[vote.VoteID] = vote
	if enforceUnique {
		s.uniqueKeys[uniqueKey] = vote.VoteID
	}
	counts[index].Count++
	return s.tallyLocked(vote.PollID), nil
}

func (s *Store) HasVoted(_ context.Context, pollID string, voterKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, vote := range s.votes {
		if vote.PollID == pollID && vote.VoterKey == voterKey {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CountRecentByAddress(
	_ context.Context,
	pollID string,
	address string,
	since time.Time,
) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, vote := range s.votes {
		if vote.PollID == pollID && vote.Address == address && !vote.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) GetTally(_ context.Context, pollID string) (entities.Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polls[pollID]; !ok {
		return entities.Tally{}, domainerrors.ErrPollNotFound
	}
	return s.tallyLocked(pollID), nil
}

func (s *Store) RecomputeTally(_ context.Context, pollID string) (entities.Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts, ok := s.options[pollID]
	if !ok {
		return entities.Tally{}, domainerrors.ErrPollNotFound
	}
	for i := range counts {
		counts[i].Count = 0
	}
	for _, vote := range s.votes {
		if vote.PollID != pollID {
			continue
		}
		for i := range counts {
			if counts[i].OptionID == vote.OptionID {
				counts[i].Count++
				break
			}
		}
	}
	return s.tallyLocked(pollID), nil
}

// VoteCount reports ledger rows for a poll; used by tests to compare against
// the cached tally.
func (s *Store) VoteCount(pollID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, vote := range s.votes {
		if vote.PollID == pollID {
			count++
		}
	}
	return count
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
		return domainerrors.ErrInvalidVoteInput
	}
	row.published = true
	s.outbox[outboxID] = row
	return nil
}

func (s *Store) ReserveEvent(_ context.Context, eventID string, _ string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.dedup[eventID]; seen {
		return true, nil
	}
	s.dedup[eventID] = expiresAt.UTC()
	return false, nil
}

func (s *Store) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (s *Store) tallyLocked(pollID string) entities.Tally {
	counts := s.options[pollID]
	copied := make([]entities.OptionCount, len(counts))
	copy(copied, counts)
	return entities.Tally{PollID: pollID, Counts: copied}
}

var _ ports.PollReader = (*Store)(nil)
var _ ports.VoteLedger = (*Store)(nil)
var _ ports.OutboxWriter = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
var _ ports.EventDedupStore = (*Store)(nil)
var _ ports.Clock = (*Store)(nil)
var _ ports.IDGenerator = (*Store)(nil)
