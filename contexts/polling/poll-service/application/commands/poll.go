package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "agora/contexts/polling/poll-service/application"
	"agora/contexts/polling/poll-service/domain/entities"
	domainerrors "agora/contexts/polling/poll-service/domain/errors"
	"agora/contexts/polling/poll-service/ports"
)

// CreatePollCommand is the write-model input for poll creation.
type CreatePollCommand struct {
	OwnerID        string
	Question       string
	CategoryID     string
	OrganizationID string
	Public         bool
	Monetized      bool
	StartAt        time.Time
	EndAt          time.Time
	OptionLabels   []string
	Restriction    entities.RestrictionConfig
}

type CreatePollResult struct {
	Poll    entities.Poll
	Options []entities.Option
}

// ClosePollCommand requests an owner-invoked early close.
type ClosePollCommand struct {
	PollID  string
	ActorID string
}

type DeletePollCommand struct {
	PollID  string
	ActorID string
}

// PollUseCase orchestrates poll writes: creation, the owner close action, and
// deletion. Lifecycle moves always go through the repository's guarded
// transition so they stay forward-only and race-safe.
type PollUseCase struct {
	Polls  ports.PollRepository
	Outbox ports.OutboxWriter
	Clock  ports.Clock
	IDGen  ports.IDGenerator
	Logger *slog.Logger
}

// CreatePoll validates the voting window and options, then persists the poll
// with its options. Polls whose window already started open immediately.
func (uc PollUseCase) CreatePoll(ctx context.Context, cmd CreatePollCommand) (CreatePollResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("poll create processing started",
		"event", "polls_create_started",
		"module", "polling/poll-service",
		"layer", "application",
		"owner_id", strings.TrimSpace(cmd.OwnerID),
	)
	if strings.TrimSpace(cmd.OwnerID) == "" ||
		strings.TrimSpace(cmd.Question) == "" ||
		len(cmd.OptionLabels) < 2 {
		return CreatePollResult{}, domainerrors.ErrInvalidPollInput
	}
	if !cmd.StartAt.Before(cmd.EndAt) {
		logger.Warn("poll create window invalid",
			"event", "polls_create_window_invalid",
			"module", "polling/poll-service",
			"layer", "application",
			"owner_id", strings.TrimSpace(cmd.OwnerID),
			"start_at", cmd.StartAt.UTC().Format(time.RFC3339),
			"end_at", cmd.EndAt.UTC().Format(time.RFC3339),
		)
		return CreatePollResult{}, domainerrors.ErrInvalidPollInput
	}
	for _, label := range cmd.OptionLabels {
		if strings.TrimSpace(label) == "" {
			return CreatePollResult{}, domainerrors.ErrInvalidPollInput
		}
	}

	now := uc.now()
	pollID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return CreatePollResult{}, err
	}

	state := entities.StateScheduled
	if !now.Before(cmd.StartAt.UTC()) {
		state = entities.StateOpen
	}
	poll := entities.Poll{
		PollID:         pollID,
		Question:       strings.TrimSpace(cmd.Question),
		CategoryID:     strings.TrimSpace(cmd.CategoryID),
		OwnerID:        strings.TrimSpace(cmd.OwnerID),
		OrganizationID: strings.TrimSpace(cmd.OrganizationID),
		Public:         cmd.Public,
		Monetized:      cmd.Monetized,
		// Monetized polls stay inactive until payment reconciliation
		// flips the flag.
		Active:      !cmd.Monetized,
		State:       state,
		StartAt:     cmd.StartAt.UTC(),
		EndAt:       cmd.EndAt.UTC(),
		Restriction: cmd.Restriction,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	options := make([]entities.Option, 0, len(cmd.OptionLabels))
	for i, label := range cmd.OptionLabels {
		optionID, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return CreatePollResult{}, err
		}
		options = append(options, entities.Option{
			OptionID: optionID,
			PollID:   pollID,
			Label:    strings.TrimSpace(label),
			Position: i + 1,
		})
	}

	if err := uc.Polls.SavePoll(ctx, poll, options); err != nil {
		return CreatePollResult{}, err
	}
	if state == entities.StateOpen {
		if err := uc.appendPollEvent(ctx, "poll.opened", poll, now); err != nil {
			return CreatePollResult{}, err
		}
	}

	logger.Info("poll created",
		"event", "polls_created",
		"module", "polling/poll-service",
		"layer", "application",
		"poll_id", poll.PollID,
		"owner_id", poll.OwnerID,
		"state", string(poll.State),
		"option_count", len(options),
	)
	return CreatePollResult{Poll: poll, Options: options}, nil
}

// ClosePoll transitions an open poll to closed ahead of its end date. The
// transition is guarded, so racing with the automatic close at end_date
// produces exactly one state change; the loser observes closed and no-ops.
func (uc PollUseCase) ClosePoll(ctx context.Context, cmd ClosePollCommand) (entities.Poll, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("poll close processing started",
		"event", "polls_close_started",
		"module", "polling/poll-service",
		"layer", "application",
		"poll_id", strings.TrimSpace(cmd.PollID),
		"actor_id", strings.TrimSpace(cmd.ActorID),
	)
	if strings.TrimSpace(cmd.PollID) == "" || strings.TrimSpace(cmd.ActorID) == "" {
		return entities.Poll{}, domainerrors.ErrInvalidPollInput
	}

	poll, _, err := uc.Polls.GetPoll(ctx, strings.TrimSpace(cmd.PollID))
	if err != nil {
		return entities.Poll{}, err
	}
	if !strings.EqualFold(poll.OwnerID, strings.TrimSpace(cmd.ActorID)) {
		return entities.Poll{}, domainerrors.ErrForbidden
	}
	if poll.State == entities.StateClosed {
		return entities.Poll{}, domainerrors.ErrTransitionRejected
	}

	now := uc.now()
	performed, err := uc.Polls.TransitionPoll(ctx, poll.PollID, poll.State, entities.StateClosed, now)
	if err != nil {
		return entities.Poll{}, err
	}
	poll.State = entities.StateClosed
	poll.EndAt = now
	poll.UpdatedAt = now
	if !performed {
		// Lost the race against the sweep; the poll is closed either way.
		logger.Info("poll close already performed",
			"event", "polls_close_noop",
			"module", "polling/poll-service",
			"layer", "application",
			"poll_id", poll.PollID,
		)
		return poll, nil
	}
	if err := uc.appendPollEvent(ctx, "poll.closed", poll, now); err != nil {
		return entities.Poll{}, err
	}
	logger.Info("poll closed",
		"event", "polls_closed",
		"module", "polling/poll-service",
		"layer", "application",
		"poll_id", poll.PollID,
		"actor_id", strings.TrimSpace(cmd.ActorID),
	)
	return poll, nil
}

// DeletePoll removes a poll that has not collected votes yet. Deletion after
// votes exist is rejected so the ledger stays auditable.
func (uc PollUseCase) DeletePoll(ctx context.Context, cmd DeletePollCommand) error {
	logger := application.ResolveLogger(uc.Logger)
	if strings.TrimSpace(cmd.PollID) == "" || strings.TrimSpace(cmd.ActorID) == "" {
		return domainerrors.ErrInvalidPollInput
	}
	poll, _, err := uc.Polls.GetPoll(ctx, strings.TrimSpace(cmd.PollID))
	if err != nil {
		return err
	}
	if !strings.EqualFold(poll.OwnerID, strings.TrimSpace(cmd.ActorID)) {
		return domainerrors.ErrForbidden
	}
	voteCount, err := uc.Polls.CountVotes(ctx, poll.PollID)
	if err != nil {
		return err
	}
	if voteCount > 0 {
		return domainerrors.ErrPollHasVotes
	}
	if err := uc.Polls.DeletePoll(ctx, poll.PollID); err != nil {
		return err
	}
	logger.Info("poll deleted",
		"event", "polls_deleted",
		"module", "polling/poll-service",
		"layer", "application",
		"poll_id", poll.PollID,
		"actor_id", strings.TrimSpace(cmd.ActorID),
	)
	return nil
}

func (uc PollUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}

func (uc PollUseCase) appendPollEvent(
	ctx context.Context,
	eventType string,
	poll entities.Poll,
	occurredAt time.Time,
) error {
	// Outbox is optional for pure read/test wiring, so nil is treated as no-op.
	if uc.Outbox == nil {
		return nil
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	envelope, err := NewPollEnvelope(eventID, eventType, poll.PollID, occurredAt, map[string]any{
		"poll_id":     poll.PollID,
		"state":       string(poll.State),
		"end_at":      poll.EndAt.UTC().Format(time.RFC3339),
		"occurred_at": occurredAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return uc.Outbox.AppendOutbox(ctx, envelope)
}
