package entities

import "time"

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// PaymentRecord tracks one gateway transaction for a monetized poll. The
// reference is the idempotency anchor: every verification of the same
// reference converges on the same terminal record.
type PaymentRecord struct {
	Reference      string
	PollID         string
	OwnerID        string
	Amount         float64
	Currency       string
	Email          string
	Status         PaymentStatus
	CheckoutURL    string
	Attempts       int
	NextAttemptAt  time.Time
	NeedsAttention bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ResolvedAt     *time.Time
}

func (p PaymentRecord) Terminal() bool {
	return p.Status == PaymentSuccess || p.Status == PaymentFailed
}
