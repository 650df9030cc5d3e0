package queries

import (
	"context"
	"strings"

	"agora/contexts/polling/poll-service/domain/entities"
	"agora/contexts/polling/poll-service/ports"
)

type PollQueryUseCase struct {
	Polls ports.PollRepository
	Clock ports.Clock
}

type PollView struct {
	Poll       entities.Poll
	Options    []entities.Option
	TotalVotes int64
}

func (uc PollQueryUseCase) GetPoll(ctx context.Context, pollID string) (PollView, error) {
	poll, options, err := uc.Polls.GetPoll(ctx, strings.TrimSpace(pollID))
	if err != nil {
		return PollView{}, err
	}
	if uc.Clock != nil {
		poll.State = poll.EffectiveState(uc.Clock.Now().UTC())
	}
	var total int64
	for _, option := range options {
		total += option.VoteCount
	}
	return PollView{Poll: poll, Options: options, TotalVotes: total}, nil
}

// ListPolls applies the visibility rule from the original platform: a caller
// sees their own polls, public polls, and polls of organizations they belong
// to. Membership resolution happens upstream; here the filter is explicit.
func (uc PollQueryUseCase) ListPolls(ctx context.Context, filter ports.ListFilter) ([]entities.Poll, error) {
	polls, err := uc.Polls.ListPolls(ctx, filter)
	if err != nil {
		return nil, err
	}
	if uc.Clock != nil {
		now := uc.Clock.Now().UTC()
		for i := range polls {
			polls[i].State = polls[i].EffectiveState(now)
		}
	}
	return polls, nil
}
