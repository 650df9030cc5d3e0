package pollservice_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pollservice "agora/contexts/polling/poll-service"
	"agora/contexts/polling/poll-service/application/commands"
	"agora/contexts/polling/poll-service/application/workers"
	"agora/contexts/polling/poll-service/domain/entities"
	domainerrors "agora/contexts/polling/poll-service/domain/errors"
	"agora/contexts/polling/poll-service/ports"
	httptransport "agora/contexts/polling/poll-service/transport/http"
)

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time {
	return c.t
}

type capturingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []ports.EventEnvelope
}

func (p *capturingPublisher) Publish(_ context.Context, topic string, event ports.EventEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

func createPoll(t *testing.T, module pollservice.Module, req httptransport.CreatePollRequest) httptransport.PollResponse {
	t.Helper()
	resp, err := module.Handler.CreatePollHandler(context.Background(), "owner-1", req)
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}
	return resp
}

func basicRequest() httptransport.CreatePollRequest {
	return httptransport.CreatePollRequest{
		Question:      "Best launch date?",
		Public:        true,
		DurationValue: 2,
		DurationUnit:  "days",
		Options:       []string{"This week", "Next week"},
	}
}

func TestCreatePollOpensInsideWindow(t *testing.T) {
	module := pollservice.NewInMemoryModule(nil, nil)

	resp := createPoll(t, module, basicRequest())
	if resp.State != "open" {
		t.Fatalf("expected poll to open immediately, got %s", resp.State)
	}
	if !resp.Active {
		t.Fatalf("free poll must be active on creation")
	}
	if len(resp.Options) != 2 {
		t.Fatalf("expected 2 options, got %d", len(resp.Options))
	}
	for i, option := range resp.Options {
		if option.Position != i+1 {
			t.Fatalf("option %d has position %d", i, option.Position)
		}
	}

	pending, err := module.Store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	if len(pending) != 1 || pending[0].EventType != "poll.opened" {
		t.Fatalf("expected one poll.opened event, got %+v", pending)
	}
}

func TestCreatePollRejectsBadInput(t *testing.T) {
	module := pollservice.NewInMemoryModule(nil, nil)

	cases := map[string]httptransport.CreatePollRequest{
		"one option": {
			Question:      "Only one choice?",
			DurationValue: 1,
			DurationUnit:  "days",
			Options:       []string{"Yes"},
		},
		"blank question": {
			Question:      "   ",
			DurationValue: 1,
			DurationUnit:  "days",
			Options:       []string{"A", "B"},
		},
		"unknown duration unit": {
			Question:      "When?",
			DurationValue: 1,
			DurationUnit:  "fortnights",
			Options:       []string{"A", "B"},
		},
		"zero duration": {
			Question:      "When?",
			DurationValue: 0,
			DurationUnit:  "days",
			Options:       []string{"A", "B"},
		},
	}
	for name, req := range cases {
		if _, err := module.Handler.CreatePollHandler(context.Background(), "owner-1", req); !errors.Is(err, domainerrors.ErrInvalidPollInput) {
			t.Fatalf("%s: expected ErrInvalidPollInput, got %v", name, err)
		}
	}
}

func TestMonetizedPollStaysLockedUntilPayment(t *testing.T) {
	module := pollservice.NewInMemoryModule(nil, nil)

	req := basicRequest()
	req.Monetized = true
	resp := createPoll(t, module, req)
	if resp.Active {
		t.Fatalf("monetized poll must stay inactive until payment reconciliation")
	}
}

func TestClosePollByOwner(t *testing.T) {
	module := pollservice.NewInMemoryModule(nil, nil)
	resp := createPoll(t, module, basicRequest())

	closed, err := module.Handler.ClosePollHandler(context.Background(), resp.PollID, "owner-1")
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closed.State != "closed" {
		t.Fatalf("expected closed, got %s", closed.State)
	}
	if closed.EndAt.After(time.Now().UTC().Add(time.Minute)) {
		t.Fatalf("early close must pull end_at to now, got %v", closed.EndAt)
	}

	if _, err := module.Handler.ClosePollHandler(context.Background(), resp.PollID, "owner-1"); !errors.Is(err, domainerrors.ErrTransitionRejected) {
		t.Fatalf("second close must be rejected, got %v", err)
	}

	pending, err := module.Store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	closedEvents := 0
	for _, row := range pending {
		if row.EventType == "poll.closed" {
			closedEvents++
		}
	}
	if closedEvents != 1 {
		t.Fatalf("expected exactly one poll.closed event, got %d", closedEvents)
	}
}

func TestCloseRequiresOwnership(t *testing.T) {
	module := pollservice.NewInMemoryModule(nil, nil)
	resp := createPoll(t, module, basicRequest())

	if _, err := module.Handler.ClosePollHandler(context.Background(), resp.PollID, "intruder"); !errors.Is(err, domainerrors.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := module.Handler.DeletePollHandler(context.Background(), resp.PollID, "intruder"); !errors.Is(err, domainerrors.ErrForbidden) {
		t.Fatalf("expected ErrForbidden on delete, got %v", err)
	}
}

func TestDeletePollWithVotesRejected(t *testing.T) {
	module := pollservice.NewInMemoryModule(nil, nil)
	resp := createPoll(t, module, basicRequest())
	module.Store.SetVoteCount(resp.PollID, 3)

	if err := module.Handler.DeletePollHandler(context.Background(), resp.PollID, "owner-1"); !errors.Is(err, domainerrors.ErrPollHasVotes) {
		t.Fatalf("expected ErrPollHasVotes, got %v", err)
	}
	if _, err := module.Handler.GetPollHandler(context.Background(), resp.PollID); err != nil {
		t.Fatalf("rejected delete must leave the poll in place: %v", err)
	}
}

func TestDeletePollWithoutVotes(t *testing.T) {
	module := pollservice.NewInMemoryModule(nil, nil)
	resp := createPoll(t, module, basicRequest())

	if err := module.Handler.DeletePollHandler(context.Background(), resp.PollID, "owner-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := module.Handler.GetPollHandler(context.Background(), resp.PollID); !errors.Is(err, domainerrors.ErrPollNotFound) {
		t.Fatalf("expected ErrPollNotFound after delete, got %v", err)
	}
}

func TestListPollsVisibilityFilters(t *testing.T) {
	module := pollservice.NewInMemoryModule(nil, nil)
	public := createPoll(t, module, basicRequest())
	private := basicRequest()
	private.Public = false
	hidden := createPoll(t, module, private)

	listed, err := module.Handler.ListPollsHandler(context.Background(), ports.ListFilter{PublicOnly: true})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed.Items) != 1 || listed.Items[0].PollID != public.PollID {
		t.Fatalf("public filter returned %+v", listed.Items)
	}

	mine, err := module.Handler.ListPollsHandler(context.Background(), ports.ListFilter{OwnerID: "owner-1"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(mine.Items) != 2 {
		t.Fatalf("owner filter must include %s and %s, got %+v", public.PollID, hidden.PollID, mine.Items)
	}
}

func TestLifecycleSweeperOpensAndClosesDuePolls(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	seed := []entities.Poll{
		{
			PollID:  "poll-due-open",
			OwnerID: "owner-1",
			Active:  true,
			State:   entities.StateScheduled,
			StartAt: now.Add(-time.Hour),
			EndAt:   now.Add(time.Hour),
		},
		{
			PollID:  "poll-due-close",
			OwnerID: "owner-1",
			Active:  true,
			State:   entities.StateOpen,
			StartAt: now.Add(-3 * time.Hour),
			EndAt:   now.Add(-time.Hour),
		},
		{
			PollID:  "poll-not-due",
			OwnerID: "owner-1",
			Active:  true,
			State:   entities.StateScheduled,
			StartAt: now.Add(time.Hour),
			EndAt:   now.Add(2 * time.Hour),
		},
	}
	module := pollservice.NewInMemoryModule(seed, nil)

	sweeper := workers.LifecycleSweeper{
		Polls:  module.Store,
		Outbox: module.Store,
		Clock:  fixedClock{t: now},
		IDGen:  module.Store,
	}
	if err := sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	assertState := func(pollID string, want entities.LifecycleState) {
		t.Helper()
		poll, _, err := module.Store.GetPoll(context.Background(), pollID)
		if err != nil {
			t.Fatalf("get %s failed: %v", pollID, err)
		}
		if poll.State != want {
			t.Fatalf("%s: expected %s, got %s", pollID, want, poll.State)
		}
	}
	assertState("poll-due-open", entities.StateOpen)
	assertState("poll-due-close", entities.StateClosed)
	assertState("poll-not-due", entities.StateScheduled)

	// A second sweep finds nothing to do and emits nothing new.
	if err := sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("idle sweep failed: %v", err)
	}
	pending, err := module.Store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected one opened and one closed event, got %+v", pending)
	}
}

func TestSweeperClosesPollThatNeverOpened(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	seed := []entities.Poll{{
		PollID:  "poll-skipped-window",
		OwnerID: "owner-1",
		Active:  true,
		State:   entities.StateScheduled,
		StartAt: now.Add(-3 * time.Hour),
		EndAt:   now.Add(-time.Hour),
	}}
	module := pollservice.NewInMemoryModule(seed, nil)

	sweeper := workers.LifecycleSweeper{
		Polls:  module.Store,
		Outbox: module.Store,
		Clock:  fixedClock{t: now},
		IDGen:  module.Store,
	}
	if err := sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	poll, _, err := module.Store.GetPoll(context.Background(), "poll-skipped-window")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if poll.State != entities.StateClosed {
		t.Fatalf("poll with an elapsed window must close from scheduled, got %s", poll.State)
	}

	// The row must leave the due set instead of being re-listed every cycle.
	due, err := module.Store.ListDuePolls(context.Background(), entities.StateClosed, now, 10)
	if err != nil {
		t.Fatalf("list due failed: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("closed poll still listed as due: %+v", due)
	}

	pending, err := module.Store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	if len(pending) != 1 || pending[0].EventType != "poll.closed" {
		t.Fatalf("expected one poll.closed event, got %+v", pending)
	}
}

func TestManualCloseRacingSweepSingleTransition(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	seed := []entities.Poll{{
		PollID:  "poll-race",
		OwnerID: "owner-1",
		Active:  true,
		State:   entities.StateOpen,
		StartAt: now.Add(-2 * time.Hour),
		EndAt:   now.Add(-time.Minute),
	}}
	module := pollservice.NewInMemoryModule(seed, nil)

	sweeper := workers.LifecycleSweeper{
		Polls:  module.Store,
		Outbox: module.Store,
		Clock:  fixedClock{t: now},
		IDGen:  module.Store,
	}
	useCase := commands.PollUseCase{
		Polls:  module.Store,
		Outbox: module.Store,
		Clock:  fixedClock{t: now},
		IDGen:  module.Store,
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(sweep bool) {
			defer wg.Done()
			if sweep {
				_ = sweeper.RunOnce(context.Background())
				return
			}
			_, _ = useCase.ClosePoll(context.Background(), commands.ClosePollCommand{
				PollID:  "poll-race",
				ActorID: "owner-1",
			})
		}(i%2 == 0)
	}
	wg.Wait()

	poll, _, err := module.Store.GetPoll(context.Background(), "poll-race")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if poll.State != entities.StateClosed {
		t.Fatalf("expected closed, got %s", poll.State)
	}
	pending, err := module.Store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	closedEvents := 0
	for _, row := range pending {
		if row.EventType == "poll.closed" {
			closedEvents++
		}
	}
	if closedEvents != 1 {
		t.Fatalf("guarded transition must emit exactly one poll.closed, got %d", closedEvents)
	}
}

func TestOutboxRelayPublishesLifecycleEvents(t *testing.T) {
	module := pollservice.NewInMemoryModule(nil, nil)
	resp := createPoll(t, module, basicRequest())
	if _, err := module.Handler.ClosePollHandler(context.Background(), resp.PollID, "owner-1"); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	publisher := &capturingPublisher{}
	relay := workers.OutboxRelay{
		Outbox:    module.Store,
		Publisher: publisher,
	}
	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("relay failed: %v", err)
	}
	if len(publisher.topics) != 2 {
		t.Fatalf("expected opened and closed events published, got %v", publisher.topics)
	}
	if publisher.topics[0] != "poll.opened" || publisher.topics[1] != "poll.closed" {
		t.Fatalf("events must publish in append order, got %v", publisher.topics)
	}
	for _, event := range publisher.events {
		if event.PartitionKey != resp.PollID {
			t.Fatalf("lifecycle events partition by poll_id, got %q", event.PartitionKey)
		}
	}

	remaining, err := module.Store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("published rows must leave the pending set, got %+v", remaining)
	}
}
