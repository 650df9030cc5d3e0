package errors

import "errors"

var (
	ErrInvalidVoteInput = errors.New("invalid vote input")
	ErrPollNotFound     = errors.New("poll not found")
	ErrOptionNotFound   = errors.New("option does not belong to this poll")
	ErrPollNotOpen      = errors.New("poll is not open for voting")
	ErrAuthRequired     = errors.New("authentication required to vote in this poll")
	ErrAlreadyVoted     = errors.New("voter has already voted in this poll")
	ErrRateLimited      = errors.New("too many votes from this address")
	// ErrDuplicateVote is the race-detected duplicate: the storage constraint
	// rejected a concurrent insert that passed the policy existence check.
	ErrDuplicateVote = errors.New("duplicate vote detected at write time")
)
