package workers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"agora/contexts/polling/vote-engine/adapters/live"
	"agora/contexts/polling/vote-engine/adapters/memory"
	"agora/contexts/polling/vote-engine/domain/entities"
	"agora/contexts/polling/vote-engine/ports"
)

type fakeBus struct {
	handlers  map[string]func(context.Context, ports.EventEnvelope) error
	published []ports.EventEnvelope
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]func(context.Context, ports.EventEnvelope) error)}
}

func (b *fakeBus) Subscribe(
	_ context.Context,
	topic string,
	_ string,
	handler func(context.Context, ports.EventEnvelope) error,
) error {
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBus) Publish(_ context.Context, _ string, event ports.EventEnvelope) error {
	b.published = append(b.published, event)
	return nil
}

func (b *fakeBus) deliver(t *testing.T, topic string, event ports.EventEnvelope) error {
	t.Helper()
	handler, ok := b.handlers[topic]
	if !ok {
		t.Fatalf("no handler registered for %s", topic)
	}
	return handler(context.Background(), event)
}

func pollClosedEvent(t *testing.T, eventID string, pollID string) ports.EventEnvelope {
	t.Helper()
	data, err := json.Marshal(map[string]any{"poll_id": pollID})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return ports.EventEnvelope{
		EventID:      eventID,
		EventType:    "poll.closed",
		OccurredAt:   time.Now().UTC(),
		PartitionKey: pollID,
		Data:         data,
	}
}

func TestPollClosedTerminatesLiveChannel(t *testing.T) {
	store := memory.NewStore()
	store.SeedPoll(ports.PollProjection{
		PollID: "poll-1",
		State:  "closed",
		Active: true,
	}, []entities.OptionCount{
		{OptionID: "opt-1", Position: 1, Count: 4},
	})
	hub := live.NewHub(8, nil)
	bus := newFakeBus()

	consumer := PollStateConsumer{
		Subscriber:  bus,
		Dedup:       store,
		Ledger:      store,
		Broadcaster: hub,
	}
	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("consumer start failed: %v", err)
	}

	sub, err := hub.Subscribe(context.Background(), "poll-1", func(context.Context) (entities.Tally, error) {
		return store.GetTally(context.Background(), "poll-1")
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	<-sub.Events()

	if err := bus.deliver(t, "poll.closed", pollClosedEvent(t, "event-1", "poll-1")); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}

	final, ok := <-sub.Events()
	if !ok {
		t.Fatalf("expected closed event before stream end")
	}
	if final.Kind != entities.TallyEventClosed || final.Counts[0].Count != 4 {
		t.Fatalf("expected final tally event, got %+v", final)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatalf("expected stream closed")
	}
}

func TestPollClosedReplaySkipped(t *testing.T) {
	store := memory.NewStore()
	store.SeedPoll(ports.PollProjection{PollID: "poll-1", State: "closed", Active: true},
		[]entities.OptionCount{{OptionID: "opt-1", Position: 1}})
	hub := live.NewHub(8, nil)
	bus := newFakeBus()

	consumer := PollStateConsumer{
		Subscriber:  bus,
		Dedup:       store,
		Ledger:      store,
		Broadcaster: hub,
	}
	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("consumer start failed: %v", err)
	}

	event := pollClosedEvent(t, "event-1", "poll-1")
	if err := bus.deliver(t, "poll.closed", event); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}

	// A subscriber attached after the first close; the replayed event must
	// not terminate its stream a second time.
	sub, err := hub.Subscribe(context.Background(), "poll-1", func(context.Context) (entities.Tally, error) {
		return store.GetTally(context.Background(), "poll-1")
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	<-sub.Events()

	if err := bus.deliver(t, "poll.closed", event); err != nil {
		t.Fatalf("replay delivery failed: %v", err)
	}
	select {
	case got := <-sub.Events():
		t.Fatalf("replayed event must be skipped, got %+v", got)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestOutboxRelayPublishesAndMarks(t *testing.T) {
	store := memory.NewStore()
	bus := newFakeBus()

	data, _ := json.Marshal(map[string]any{"poll_id": "poll-1"})
	if err := store.AppendOutbox(context.Background(), ports.EventEnvelope{
		EventID:      "event-1",
		EventType:    "vote.cast",
		OccurredAt:   time.Now().UTC(),
		PartitionKey: "poll-1",
		Data:         data,
	}); err != nil {
		t.Fatalf("append outbox failed: %v", err)
	}

	relay := OutboxRelay{Outbox: store, Publisher: bus}
	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("relay run failed: %v", err)
	}
	if len(bus.published) != 1 {
		t.Fatalf("expected one published event, got %d", len(bus.published))
	}
	if bus.published[0].EventType != "vote.cast" {
		t.Fatalf("unexpected event type %s", bus.published[0].EventType)
	}

	pending, err := store.ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected outbox drained, %d rows pending", len(pending))
	}

	// Second cycle has nothing to do.
	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("idle relay run failed: %v", err)
	}
	if len(bus.published) != 1 {
		t.Fatalf("idle cycle must not republish, got %d", len(bus.published))
	}
}
