package queries

import (
	"context"
	"strings"

	"agora/contexts/polling/vote-engine/domain/entities"
	domainerrors "agora/contexts/polling/vote-engine/domain/errors"
	"agora/contexts/polling/vote-engine/ports"
)

// TallyQueryUseCase serves read-only tally lookups from the cached per-option
// counters. Results are served for any existing poll regardless of state;
// closed polls simply stop changing.
type TallyQueryUseCase struct {
	Ledger ports.VoteLedger
	Polls  ports.PollReader
}

func (uc TallyQueryUseCase) GetTally(ctx context.Context, pollID string) (entities.Tally, error) {
	pollID = strings.TrimSpace(pollID)
	if pollID == "" {
		return entities.Tally{}, domainerrors.ErrInvalidVoteInput
	}
	if _, err := uc.Polls.GetPollProjection(ctx, pollID); err != nil {
		return entities.Tally{}, err
	}
	return uc.Ledger.GetTally(ctx, pollID)
}

// RecomputeTally rebuilds the cached counters from ledger rows. It exists for
// operational repair; normal traffic never needs it because counters move in
// the same transaction as the vote insert.
func (uc TallyQueryUseCase) RecomputeTally(ctx context.Context, pollID string) (entities.Tally, error) {
	pollID = strings.TrimSpace(pollID)
	if pollID == "" {
		return entities.Tally{}, domainerrors.ErrInvalidVoteInput
	}
	if _, err := uc.Polls.GetPollProjection(ctx, pollID); err != nil {
		return entities.Tally{}, err
	}
	return uc.Ledger.RecomputeTally(ctx, pollID)
}
