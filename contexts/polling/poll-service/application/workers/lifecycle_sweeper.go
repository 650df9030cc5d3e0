package workers

import (
	"context"
	"log/slog"
	"time"

	application "agora/contexts/polling/poll-service/application"
	"agora/contexts/polling/poll-service/application/commands"
	"agora/contexts/polling/poll-service/domain/entities"
	"agora/contexts/polling/poll-service/ports"
)

// LifecycleSweeper drives time-based poll transitions: scheduled polls open
// once start_at passes, and any poll whose end_at passed closes, including
// one that sat out its whole window in scheduled. Every move goes through the
// repository's guarded transition, so the sweep tolerates racing with
// owner-invoked close actions.
type LifecycleSweeper struct {
	Polls     ports.PollRepository
	Outbox    ports.OutboxWriter
	Clock     ports.Clock
	IDGen     ports.IDGenerator
	BatchSize int
	Disabled  bool
	Logger    *slog.Logger
}

// RunOnce performs one sweep cycle. A transition that was already applied by
// a concurrent actor counts as a no-op, not an error.
func (s LifecycleSweeper) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(s.Logger)
	if s.Disabled {
		return nil
	}
	limit := s.BatchSize
	if limit <= 0 {
		limit = 100
	}
	now := s.now()

	opened, err := s.sweep(ctx, entities.StateOpen, "poll.opened", now, limit)
	if err != nil {
		logger.Error("lifecycle sweep open pass failed",
			"event", "polls_sweep_open_failed",
			"module", "polling/poll-service",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	closed, err := s.sweep(ctx, entities.StateClosed, "poll.closed", now, limit)
	if err != nil {
		logger.Error("lifecycle sweep close pass failed",
			"event", "polls_sweep_close_failed",
			"module", "polling/poll-service",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	if opened > 0 || closed > 0 {
		logger.Info("lifecycle sweep cycle completed",
			"event", "polls_sweep_completed",
			"module", "polling/poll-service",
			"layer", "worker",
			"opened", opened,
			"closed", closed,
		)
	}
	return nil
}

// sweep transitions each due poll from the state it was listed in. Guarding
// on the listed state keeps the move atomic against concurrent actors while
// still draining rows that skipped an intermediate state.
func (s LifecycleSweeper) sweep(
	ctx context.Context,
	to entities.LifecycleState,
	eventType string,
	now time.Time,
	limit int,
) (int, error) {
	logger := application.ResolveLogger(s.Logger)
	due, err := s.Polls.ListDuePolls(ctx, to, now, limit)
	if err != nil {
		return 0, err
	}

	transitioned := 0
	for _, poll := range due {
		performed, err := s.Polls.TransitionPoll(ctx, poll.PollID, poll.State, to, now)
		if err != nil {
			return transitioned, err
		}
		if !performed {
			logger.Debug("lifecycle sweep transition already applied",
				"event", "polls_sweep_transition_noop",
				"module", "polling/poll-service",
				"layer", "worker",
				"poll_id", poll.PollID,
				"to_state", string(to),
			)
			continue
		}
		transitioned++
		poll.State = to
		poll.UpdatedAt = now
		if err := s.appendEvent(ctx, eventType, poll, now); err != nil {
			return transitioned, err
		}
	}
	return transitioned, nil
}

func (s LifecycleSweeper) appendEvent(
	ctx context.Context,
	eventType string,
	poll entities.Poll,
	occurredAt time.Time,
) error {
	if s.Outbox == nil {
		return nil
	}
	eventID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	envelope, err := commands.NewPollEnvelope(eventID, eventType, poll.PollID, occurredAt, map[string]any{
		"poll_id":     poll.PollID,
		"state":       string(poll.State),
		"end_at":      poll.EndAt.UTC().Format(time.RFC3339),
		"occurred_at": occurredAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return s.Outbox.AppendOutbox(ctx, envelope)
}

func (s LifecycleSweeper) now() time.Time {
	now := time.Now().UTC()
	if s.Clock != nil {
		now = s.Clock.Now().UTC()
	}
	return now
}
