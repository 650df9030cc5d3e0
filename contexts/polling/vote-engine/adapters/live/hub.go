package live

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"agora/contexts/polling/vote-engine/domain/entities"
	"agora/contexts/polling/vote-engine/ports"
)

const defaultSubscriberBuffer = 16

// Subscriber is one live tally stream. Events arrives in publish order; the
// channel is closed when the poll closes or the subscriber is dropped.
type Subscriber struct {
	id     string
	pollID string
	events chan entities.TallyEvent
}

func (s *Subscriber) ID() string {
	return s.id
}

func (s *Subscriber) PollID() string {
	return s.pollID
}

func (s *Subscriber) Events() <-chan entities.TallyEvent {
	return s.events
}

// Hub is the in-process broadcaster behind the live tally channels. One hub
// serves every poll; subscribers register per poll id. Publish never blocks:
// each subscriber owns a bounded buffer and is dropped when it overflows, so
// one stalled client cannot slow the vote write path or its peers. Snapshot
// reads serialize against publishes on the same poll only; unrelated polls
// keep broadcasting.
type Hub struct {
	mu      sync.Mutex
	buffer  int
	nextID  atomic.Int64
	streams map[string]*pollStream
	logger  *slog.Logger
}

// pollStream guards one poll's subscriber set. Its lock covers the
// snapshot-then-register step in Subscribe, so a delta cannot interleave
// between reading the tally and registering the subscriber.
type pollStream struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

var _ ports.Broadcaster = (*Hub)(nil)

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		buffer:  buffer,
		streams: make(map[string]*pollStream),
		logger:  logger,
	}
}

// lockedStream returns the poll's stream with its lock held, creating it on
// first use. A stream retired by Close is skipped and the lookup retried, so
// the caller never registers on a torn-down stream.
func (h *Hub) lockedStream(pollID string) *pollStream {
	for {
		h.mu.Lock()
		st, ok := h.streams[pollID]
		if !ok {
			st = &pollStream{subs: make(map[*Subscriber]struct{})}
			h.streams[pollID] = st
		}
		h.mu.Unlock()

		st.mu.Lock()
		if !st.closed {
			return st
		}
		st.mu.Unlock()
	}
}

// Subscribe registers a live stream for the poll and queues the snapshot event
// as its first delivery. The snapshot is read under the poll's stream lock
// that publishers for the same poll also take, so every delta the subscriber
// later receives happened after its snapshot; nothing is skipped and nothing
// is double-applied.
func (h *Hub) Subscribe(
	ctx context.Context,
	pollID string,
	snapshot func(context.Context) (entities.Tally, error),
) (*Subscriber, error) {
	st := h.lockedStream(pollID)
	defer st.mu.Unlock()

	tally, err := snapshot(ctx)
	if err != nil {
		return nil, err
	}

	sub := &Subscriber{
		id:     "sub-" + strconv.FormatInt(h.nextID.Add(1), 10),
		pollID: pollID,
		events: make(chan entities.TallyEvent, h.buffer),
	}
	sub.events <- entities.TallyEvent{
		Kind:       entities.TallyEventSnapshot,
		PollID:     pollID,
		Counts:     tally.Counts,
		OccurredAt: time.Now().UTC(),
	}
	st.subs[sub] = struct{}{}

	h.logger.Debug("live subscriber registered",
		"event", "votes_live_subscribed",
		"module", "polling/vote-engine",
		"layer", "adapter",
		"poll_id", pollID,
		"subscriber_id", sub.id,
	)
	return sub, nil
}

// Unsubscribe detaches the stream and closes its channel. Safe to call after
// the subscriber was already dropped or the poll closed.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	st := h.streams[sub.pollID]
	h.mu.Unlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if _, registered := st.subs[sub]; !registered {
		return
	}
	delete(st.subs, sub)
	close(sub.events)
}

// Publish fans the event out to every subscriber of the poll. A subscriber
// whose buffer is full is dropped and its channel closed.
func (h *Hub) Publish(pollID string, event entities.TallyEvent) {
	h.mu.Lock()
	st := h.streams[pollID]
	h.mu.Unlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	for sub := range st.subs {
		select {
		case sub.events <- event:
		default:
			h.logger.Warn("live subscriber dropped on overflow",
				"event", "votes_live_subscriber_dropped",
				"module", "polling/vote-engine",
				"layer", "adapter",
				"poll_id", pollID,
				"subscriber_id", sub.id,
			)
			delete(st.subs, sub)
			close(sub.events)
		}
	}
}

// Close delivers the terminal closed event with the final tally and ends
// every stream on the poll's channel. Subscribers that cannot absorb the
// final event still observe the channel closing.
func (h *Hub) Close(pollID string, final entities.Tally) {
	event := entities.TallyEvent{
		Kind:       entities.TallyEventClosed,
		PollID:     pollID,
		Counts:     final.Counts,
		OccurredAt: time.Now().UTC(),
	}

	h.mu.Lock()
	st := h.streams[pollID]
	delete(h.streams, pollID)
	h.mu.Unlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.closed = true
	for sub := range st.subs {
		select {
		case sub.events <- event:
		default:
		}
		delete(st.subs, sub)
		close(sub.events)
	}
}

// SubscriberCount reports the live stream count for a poll.
func (h *Hub) SubscriberCount(pollID string) int {
	h.mu.Lock()
	st := h.streams[pollID]
	h.mu.Unlock()
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.subs)
}
