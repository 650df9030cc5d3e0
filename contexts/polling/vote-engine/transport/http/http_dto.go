package http

import "time"

// ErrorResponse is the shared error payload shape.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CastVoteRequest struct {
	OptionID string `json:"option_id"`
}

type OptionCountView struct {
	OptionID  string `json:"option_id"`
	Label     string `json:"label"`
	Position  int    `json:"position"`
	VoteCount int64  `json:"vote_count"`
}

type VoteResponse struct {
	VoteID     string            `json:"vote_id"`
	PollID     string            `json:"poll_id"`
	OptionID   string            `json:"option_id"`
	Anonymous  bool              `json:"anonymous"`
	CreatedAt  time.Time         `json:"created_at"`
	TotalVotes int64             `json:"total_votes"`
	Results    []OptionCountView `json:"results"`
}

type TallyResponse struct {
	PollID     string            `json:"poll_id"`
	TotalVotes int64             `json:"total_votes"`
	Results    []OptionCountView `json:"results"`
}

// TallyEventPayload is the wire shape of one live channel event.
type TallyEventPayload struct {
	Kind       string            `json:"kind"`
	PollID     string            `json:"poll_id"`
	OptionID   string            `json:"option_id,omitempty"`
	Delta      int64             `json:"delta,omitempty"`
	TotalVotes int64             `json:"total_votes"`
	Results    []OptionCountView `json:"results"`
	OccurredAt time.Time         `json:"occurred_at"`
}
