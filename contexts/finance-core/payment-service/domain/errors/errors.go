package errors

import "errors"

var (
	ErrInvalidPaymentInput = errors.New("invalid payment input")
	ErrPaymentNotFound     = errors.New("payment not found")
	// ErrVerificationTransient marks a gateway failure worth retrying with
	// backoff; the reference stays pending.
	ErrVerificationTransient = errors.New("gateway verification temporarily unavailable")
	// ErrVerificationExhausted is returned once the retry budget is spent;
	// the record is flagged for operator attention.
	ErrVerificationExhausted = errors.New("gateway verification attempts exhausted")
	ErrGatewayRejected       = errors.New("payment rejected by gateway")
)
