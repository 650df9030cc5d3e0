package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	application "agora/contexts/polling/vote-engine/application"
	"agora/contexts/polling/vote-engine/ports"
)

const (
	pollClosedTopic = "poll.closed"
	defaultPollCG   = "vote-engine-poll-cg"
)

// PollStateConsumer reacts to poll lifecycle events. When a poll closes, the
// consumer reads the final tally and terminates the poll's live channel so
// subscribers receive the closed event and the stream ends.
type PollStateConsumer struct {
	Subscriber    ports.EventSubscriber
	Dedup         ports.EventDedupStore
	Ledger        ports.VoteLedger
	Broadcaster   ports.Broadcaster
	Clock         ports.Clock
	ConsumerGroup string
	DedupTTL      time.Duration
	Disabled      bool
	Logger        *slog.Logger
}

// Start subscribes the consumer to poll lifecycle topics. The consumer group
// can be overridden for environment-specific deployment.
func (c PollStateConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	if c.Disabled {
		logger.Info("poll state consumer disabled by feature flag",
			"event", "votes_poll_consumer_disabled",
			"module", "polling/vote-engine",
			"layer", "worker",
		)
		return nil
	}
	group := strings.TrimSpace(c.ConsumerGroup)
	if group == "" {
		group = defaultPollCG
	}
	if err := c.Subscriber.Subscribe(ctx, pollClosedTopic, group, c.handlePollClosed); err != nil {
		logger.Error("poll state consumer subscribe failed",
			"event", "votes_poll_consumer_subscribe_failed",
			"module", "polling/vote-engine",
			"layer", "worker",
			"topic", pollClosedTopic,
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("poll state consumer subscriptions active",
		"event", "votes_poll_consumer_started",
		"module", "polling/vote-engine",
		"layer", "worker",
		"consumer_group", group,
	)
	return nil
}

func (c PollStateConsumer) handlePollClosed(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	if alreadyProcessed, err := c.reserveEvent(ctx, event); err != nil {
		return err
	} else if alreadyProcessed {
		logger.Debug("poll.closed replay skipped",
			"event", "votes_poll_closed_replayed",
			"module", "polling/vote-engine",
			"layer", "worker",
			"event_id", event.EventID,
		)
		return nil
	}

	var payload struct {
		PollID string `json:"poll_id"`
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("poll.closed payload decode failed",
			"event", "votes_poll_closed_decode_failed",
			"module", "polling/vote-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}
	pollID := strings.TrimSpace(payload.PollID)
	if pollID == "" {
		logger.Warn("poll.closed without poll_id ignored",
			"event", "votes_poll_closed_missing_poll_id",
			"module", "polling/vote-engine",
			"layer", "worker",
			"event_id", event.EventID,
		)
		return nil
	}

	final, err := c.Ledger.GetTally(ctx, pollID)
	if err != nil {
		logger.Error("poll.closed final tally read failed",
			"event", "votes_poll_closed_tally_failed",
			"module", "polling/vote-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"poll_id", pollID,
			"error", err.Error(),
		)
		return err
	}
	if c.Broadcaster != nil {
		c.Broadcaster.Close(pollID, final)
	}
	logger.Info("poll.closed consumed",
		"event", "votes_poll_closed_consumed",
		"module", "polling/vote-engine",
		"layer", "worker",
		"event_id", event.EventID,
		"poll_id", pollID,
		"total_votes", final.Total(),
	)
	return nil
}

func (c PollStateConsumer) reserveEvent(ctx context.Context, event ports.EventEnvelope) (bool, error) {
	logger := application.ResolveLogger(c.Logger)
	alreadyProcessed, err := c.Dedup.ReserveEvent(ctx, event.EventID, hashPayload(event.Data), c.now().Add(c.dedupTTL()))
	if err != nil {
		logger.Error("poll event dedupe failed",
			"event", "votes_poll_event_dedupe_failed",
			"module", "polling/vote-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"error", err.Error(),
		)
		return false, err
	}
	return alreadyProcessed, nil
}

func (c PollStateConsumer) now() time.Time {
	now := time.Now().UTC()
	if c.Clock != nil {
		now = c.Clock.Now().UTC()
	}
	return now
}

func (c PollStateConsumer) dedupTTL() time.Duration {
	if c.DedupTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return c.DedupTTL
}
