package errors

import "errors"

var (
	ErrInvalidPollInput   = errors.New("invalid poll input")
	ErrPollNotFound       = errors.New("poll not found")
	ErrForbidden          = errors.New("actor does not own this poll")
	ErrTransitionRejected = errors.New("poll lifecycle transition rejected")
	ErrPollHasVotes       = errors.New("poll with recorded votes cannot be deleted")
)
