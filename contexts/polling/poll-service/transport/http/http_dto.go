package http

import "time"

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CreatePollRequest struct {
	Question        string   `json:"question"`
	CategoryID      string   `json:"category_id,omitempty"`
	OrganizationID  string   `json:"organization_id,omitempty"`
	Public          bool     `json:"is_public"`
	Monetized       bool     `json:"monetized,omitempty"`
	DurationValue   int      `json:"duration_value"`
	DurationUnit    string   `json:"duration_unit"`
	Options         []string `json:"options"`
	AllowAnonymous  bool     `json:"allow_anonymous,omitempty"`
	OneVotePerVoter bool     `json:"one_vote_per_voter"`
	IPVoteLimit     int      `json:"ip_vote_limit,omitempty"`
	IPWindowSeconds int64    `json:"ip_window_seconds,omitempty"`
}

type OptionView struct {
	OptionID  string `json:"option_id"`
	Label     string `json:"label"`
	Position  int    `json:"position"`
	VoteCount int64  `json:"vote_count"`
}

type PollResponse struct {
	PollID         string       `json:"poll_id"`
	Question       string       `json:"question"`
	CategoryID     string       `json:"category_id,omitempty"`
	OwnerID        string       `json:"owner_id"`
	OrganizationID string       `json:"organization_id,omitempty"`
	Public         bool         `json:"is_public"`
	Monetized      bool         `json:"monetized"`
	Active         bool         `json:"active"`
	State          string       `json:"state"`
	StartAt        time.Time    `json:"start_at"`
	EndAt          time.Time    `json:"end_at"`
	TotalVotes     int64        `json:"total_votes"`
	Options        []OptionView `json:"options,omitempty"`
}

type PollListResponse struct {
	Items []PollResponse `json:"items"`
}

type ClosePollResponse struct {
	PollID  string    `json:"poll_id"`
	State   string    `json:"state"`
	EndAt   time.Time `json:"end_at"`
	Message string    `json:"message"`
}
