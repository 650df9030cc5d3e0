package httpadapter

import (
	"context"
	"log/slog"

	"agora/contexts/polling/vote-engine/application/commands"
	"agora/contexts/polling/vote-engine/application/queries"
	"agora/contexts/polling/vote-engine/domain/entities"
	httptransport "agora/contexts/polling/vote-engine/transport/http"
)

type Handler struct {
	Votes   commands.VoteUseCase
	Queries queries.TallyQueryUseCase
	Logger  *slog.Logger
}

// VoterIdentity carries what the transport layer knows about the caller.
type VoterIdentity struct {
	UserID    string
	Address   string
	UserAgent string
}

func (h Handler) CastVoteHandler(
	ctx context.Context,
	pollID string,
	voter VoterIdentity,
	req httptransport.CastVoteRequest,
) (httptransport.VoteResponse, error) {
	result, err := h.Votes.CastVote(ctx, commands.CastVoteCommand{
		PollID:    pollID,
		OptionID:  req.OptionID,
		UserID:    voter.UserID,
		Address:   voter.Address,
		UserAgent: voter.UserAgent,
	})
	if err != nil {
		return httptransport.VoteResponse{}, err
	}
	return httptransport.VoteResponse{
		VoteID:     result.Vote.VoteID,
		PollID:     result.Vote.PollID,
		OptionID:   result.Vote.OptionID,
		Anonymous:  result.Vote.Anonymous(),
		CreatedAt:  result.Vote.CreatedAt,
		TotalVotes: result.Tally.Total(),
		Results:    mapCounts(result.Tally.Counts),
	}, nil
}

func (h Handler) GetTallyHandler(ctx context.Context, pollID string) (httptransport.TallyResponse, error) {
	tally, err := h.Queries.GetTally(ctx, pollID)
	if err != nil {
		return httptransport.TallyResponse{}, err
	}
	return httptransport.TallyResponse{
		PollID:     tally.PollID,
		TotalVotes: tally.Total(),
		Results:    mapCounts(tally.Counts),
	}, nil
}

// RecomputeTallyHandler rebuilds the cached counters from the ledger and
// returns the corrected tally. Operational endpoint for cold-cache recovery.
func (h Handler) RecomputeTallyHandler(ctx context.Context, pollID string) (httptransport.TallyResponse, error) {
	tally, err := h.Queries.RecomputeTally(ctx, pollID)
	if err != nil {
		return httptransport.TallyResponse{}, err
	}
	return httptransport.TallyResponse{
		PollID:     tally.PollID,
		TotalVotes: tally.Total(),
		Results:    mapCounts(tally.Counts),
	}, nil
}

// MapTallyEvent converts a broadcast event into its wire payload.
func MapTallyEvent(event entities.TallyEvent) httptransport.TallyEventPayload {
	var total int64
	for _, count := range event.Counts {
		total += count.Count
	}
	return httptransport.TallyEventPayload{
		Kind:       string(event.Kind),
		PollID:     event.PollID,
		OptionID:   event.OptionID,
		Delta:      event.Delta,
		TotalVotes: total,
		Results:    mapCounts(event.Counts),
		OccurredAt: event.OccurredAt,
	}
}

func mapCounts(counts []entities.OptionCount) []httptransport.OptionCountView {
	views := make([]httptransport.OptionCountView, 0, len(counts))
	for _, count := range counts {
		views = append(views, httptransport.OptionCountView{
			OptionID:  count.OptionID,
			Label:     count.Label,
			Position:  count.Position,
			VoteCount: count.Count,
		})
	}
	return views
}
