package httpadapter

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"agora/contexts/polling/poll-service/application/commands"
	"agora/contexts/polling/poll-service/application/queries"
	"agora/contexts/polling/poll-service/domain/entities"
	domainerrors "agora/contexts/polling/poll-service/domain/errors"
	"agora/contexts/polling/poll-service/ports"
	httptransport "agora/contexts/polling/poll-service/transport/http"
)

type Handler struct {
	Polls   commands.PollUseCase
	Queries queries.PollQueryUseCase
	Logger  *slog.Logger
}

func (h Handler) CreatePollHandler(
	ctx context.Context,
	ownerID string,
	req httptransport.CreatePollRequest,
) (httptransport.PollResponse, error) {
	startAt := time.Now().UTC()
	endAt, err := resolveEndDate(startAt, req.DurationValue, req.DurationUnit)
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	result, err := h.Polls.CreatePoll(ctx, commands.CreatePollCommand{
		OwnerID:        ownerID,
		Question:       req.Question,
		CategoryID:     req.CategoryID,
		OrganizationID: req.OrganizationID,
		Public:         req.Public,
		Monetized:      req.Monetized,
		StartAt:        startAt,
		EndAt:          endAt,
		OptionLabels:   req.Options,
		Restriction: entities.RestrictionConfig{
			AllowAnonymous:  req.AllowAnonymous,
			OneVotePerVoter: req.OneVotePerVoter,
			IPVoteLimit:     req.IPVoteLimit,
			IPWindow:        time.Duration(req.IPWindowSeconds) * time.Second,
		},
	})
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	return mapPoll(result.Poll, result.Options), nil
}

func (h Handler) GetPollHandler(ctx context.Context, pollID string) (httptransport.PollResponse, error) {
	view, err := h.Queries.GetPoll(ctx, pollID)
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	resp := mapPoll(view.Poll, view.Options)
	resp.TotalVotes = view.TotalVotes
	return resp, nil
}

func (h Handler) ListPollsHandler(ctx context.Context, filter ports.ListFilter) (httptransport.PollListResponse, error) {
	polls, err := h.Queries.ListPolls(ctx, filter)
	if err != nil {
		return httptransport.PollListResponse{}, err
	}
	items := make([]httptransport.PollResponse, 0, len(polls))
	for _, poll := range polls {
		items = append(items, mapPoll(poll, nil))
	}
	return httptransport.PollListResponse{Items: items}, nil
}

func (h Handler) ClosePollHandler(ctx context.Context, pollID string, actorID string) (httptransport.ClosePollResponse, error) {
	poll, err := h.Polls.ClosePoll(ctx, commands.ClosePollCommand{
		PollID:  pollID,
		ActorID: actorID,
	})
	if err != nil {
		return httptransport.ClosePollResponse{}, err
	}
	return httptransport.ClosePollResponse{
		PollID:  poll.PollID,
		State:   string(poll.State),
		EndAt:   poll.EndAt,
		Message: "Poll closed successfully.",
	}, nil
}

func (h Handler) DeletePollHandler(ctx context.Context, pollID string, actorID string) error {
	return h.Polls.DeletePoll(ctx, commands.DeletePollCommand{
		PollID:  pollID,
		ActorID: actorID,
	})
}

func mapPoll(poll entities.Poll, options []entities.Option) httptransport.PollResponse {
	views := make([]httptransport.OptionView, 0, len(options))
	var total int64
	for _, option := range options {
		total += option.VoteCount
		views = append(views, httptransport.OptionView{
			OptionID:  option.OptionID,
			Label:     option.Label,
			Position:  option.Position,
			VoteCount: option.VoteCount,
		})
	}
	return httptransport.PollResponse{
		PollID:         poll.PollID,
		Question:       poll.Question,
		CategoryID:     poll.CategoryID,
		OwnerID:        poll.OwnerID,
		OrganizationID: poll.OrganizationID,
		Public:         poll.Public,
		Monetized:      poll.Monetized,
		Active:         poll.Active,
		State:          string(poll.State),
		StartAt:        poll.StartAt,
		EndAt:          poll.EndAt,
		TotalVotes:     total,
		Options:        views,
	}
}

// resolveEndDate mirrors the original duration_value/duration_unit input
// shape for poll creation.
func resolveEndDate(start time.Time, value int, unit string) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, domainerrors.ErrInvalidPollInput
	}
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "seconds":
		return start.Add(time.Duration(value) * time.Second), nil
	case "minutes":
		return start.Add(time.Duration(value) * time.Minute), nil
	case "hours":
		return start.Add(time.Duration(value) * time.Hour), nil
	case "days":
		return start.AddDate(0, 0, value), nil
	case "weeks":
		return start.AddDate(0, 0, 7*value), nil
	case "months":
		return start.AddDate(0, value, 0), nil
	case "years":
		return start.AddDate(value, 0, 0), nil
	default:
		return time.Time{}, domainerrors.ErrInvalidPollInput
	}
}
