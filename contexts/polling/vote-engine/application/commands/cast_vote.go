package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "agora/contexts/polling/vote-engine/application"
	"agora/contexts/polling/vote-engine/domain/entities"
	domainerrors "agora/contexts/polling/vote-engine/domain/errors"
	"agora/contexts/polling/vote-engine/domain/services"
	"agora/contexts/polling/vote-engine/ports"
)

// CastVoteCommand is the write-model input for a vote attempt. UserID is
// empty for anonymous voters; Address is the caller's network address.
type CastVoteCommand struct {
	PollID    string
	OptionID  string
	UserID    string
	Address   string
	UserAgent string
}

type CastVoteResult struct {
	Vote  entities.Vote
	Tally entities.Tally
}

// VoteUseCase orchestrates vote writes. The policy runs first against a
// snapshot of the poll and the ledger; the ledger then re-enforces the
// window and the uniqueness rule inside its own transaction, so a racing
// duplicate always loses at the storage constraint, never double-counts.
type VoteUseCase struct {
	Ledger      ports.VoteLedger
	Polls       ports.PollReader
	Broadcaster ports.Broadcaster
	Outbox      ports.OutboxWriter
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	Logger      *slog.Logger
}

// CastVote appends one vote to the ledger after the restriction policy
// admits it, updates the tally in the same transaction and broadcasts the
// resulting delta on the poll's live channel.
func (uc VoteUseCase) CastVote(ctx context.Context, cmd CastVoteCommand) (CastVoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	pollID := strings.TrimSpace(cmd.PollID)
	optionID := strings.TrimSpace(cmd.OptionID)
	userID := strings.TrimSpace(cmd.UserID)
	address := strings.TrimSpace(cmd.Address)
	if pollID == "" || optionID == "" {
		return CastVoteResult{}, domainerrors.ErrInvalidVoteInput
	}
	if userID == "" && address == "" {
		// Without either identity source there is nothing to key the vote on.
		return CastVoteResult{}, domainerrors.ErrInvalidVoteInput
	}

	poll, err := uc.Polls.GetPollProjection(ctx, pollID)
	if err != nil {
		return CastVoteResult{}, err
	}

	now := uc.now()
	voterKey := services.VoterKey(userID, address)

	facts := services.RestrictionFacts{
		Open:            poll.Open(now),
		Authenticated:   userID != "",
		AllowAnonymous:  poll.AllowAnonymous,
		OneVotePerVoter: poll.OneVotePerVoter,
		IPVoteLimit:     poll.IPVoteLimit,
	}
	if poll.OneVotePerVoter {
		voted, err := uc.Ledger.HasVoted(ctx, pollID, voterKey)
		if err != nil {
			return CastVoteResult{}, err
		}
		facts.HasVoted = voted
	}
	if poll.IPVoteLimit > 0 && address != "" {
		recent, err := uc.Ledger.CountRecentByAddress(ctx, pollID, address, now.Add(-poll.IPWindow))
		if err != nil {
			return CastVoteResult{}, err
		}
		facts.RecentFromAddress = recent
	}
	if err := services.EvaluateRestriction(facts); err != nil {
		logger.Info("vote rejected by restriction policy",
			"event", "votes_cast_rejected",
			"module", "polling/vote-engine",
			"layer", "application",
			"poll_id", pollID,
			"reason", err.Error(),
		)
		return CastVoteResult{}, err
	}

	voteID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return CastVoteResult{}, err
	}
	vote := entities.Vote{
		VoteID:    voteID,
		PollID:    pollID,
		OptionID:  optionID,
		VoterKey:  voterKey,
		UserID:    userID,
		Address:   address,
		UserAgent: strings.TrimSpace(cmd.UserAgent),
		CreatedAt: now,
	}

	tally, err := uc.Ledger.CastVote(ctx, vote, poll.OneVotePerVoter, now)
	if err != nil {
		return CastVoteResult{}, err
	}

	if uc.Broadcaster != nil {
		uc.Broadcaster.Publish(pollID, entities.TallyEvent{
			Kind:       entities.TallyEventDelta,
			PollID:     pollID,
			OptionID:   optionID,
			Delta:      1,
			Counts:     tally.Counts,
			OccurredAt: now,
		})
	}
	if err := uc.appendVoteEvent(ctx, vote, tally, now); err != nil {
		return CastVoteResult{}, err
	}

	logger.Info("vote recorded",
		"event", "votes_cast_recorded",
		"module", "polling/vote-engine",
		"layer", "application",
		"poll_id", pollID,
		"option_id", optionID,
		"anonymous", vote.Anonymous(),
	)
	return CastVoteResult{Vote: vote, Tally: tally}, nil
}

func (uc VoteUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}

func (uc VoteUseCase) appendVoteEvent(
	ctx context.Context,
	vote entities.Vote,
	tally entities.Tally,
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
	envelope, err := NewVoteEnvelope(eventID, "vote.cast", vote.PollID, occurredAt, map[string]any{
		"vote_id":     vote.VoteID,
		"poll_id":     vote.PollID,
		"option_id":   vote.OptionID,
		"anonymous":   vote.Anonymous(),
		"total_votes": tally.Total(),
		"occurred_at": occurredAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return uc.Outbox.AppendOutbox(ctx, envelope)
}
