package http

import "time"

// ErrorResponse is the shared error payload shape.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type InitializePaymentRequest struct {
	PollID    string  `json:"poll_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Email     string  `json:"email"`
	ReturnURL string  `json:"return_url"`
}

type InitializePaymentResponse struct {
	Reference   string  `json:"reference"`
	PollID      string  `json:"poll_id"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Status      string  `json:"status"`
	CheckoutURL string  `json:"checkout_url"`
}

type VerifyPaymentRequest struct {
	Reference string `json:"reference"`
}

// WebhookRequest mirrors the gateway's callback payload; only the reference
// is consumed.
type WebhookRequest struct {
	TxRef     string `json:"tx_ref"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

type PaymentResponse struct {
	Reference      string     `json:"reference"`
	PollID         string     `json:"poll_id"`
	Amount         float64    `json:"amount"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	NeedsAttention bool       `json:"needs_attention"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}
