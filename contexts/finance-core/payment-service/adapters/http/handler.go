package httpadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"agora/contexts/finance-core/payment-service/application/commands"
	"agora/contexts/finance-core/payment-service/application/queries"
	"agora/contexts/finance-core/payment-service/domain/entities"
	domainerrors "agora/contexts/finance-core/payment-service/domain/errors"
	httptransport "agora/contexts/finance-core/payment-service/transport/http"
)

type Handler struct {
	Payments commands.PaymentUseCase
	Queries  queries.PaymentQueryUseCase
	Logger   *slog.Logger
}

func (h Handler) InitializePaymentHandler(
	ctx context.Context,
	ownerID string,
	req httptransport.InitializePaymentRequest,
) (httptransport.InitializePaymentResponse, error) {
	result, err := h.Payments.InitializePayment(ctx, commands.InitializePaymentCommand{
		PollID:    req.PollID,
		OwnerID:   ownerID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Email:     req.Email,
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		return httptransport.InitializePaymentResponse{}, err
	}
	return httptransport.InitializePaymentResponse{
		Reference:   result.Payment.Reference,
		PollID:      result.Payment.PollID,
		Amount:      result.Payment.Amount,
		Currency:    result.Payment.Currency,
		Status:      string(result.Payment.Status),
		CheckoutURL: result.CheckoutURL,
	}, nil
}

func (h Handler) VerifyPaymentHandler(
	ctx context.Context,
	reference string,
) (httptransport.PaymentResponse, error) {
	record, err := h.Payments.Reconcile(ctx, commands.ReconcileCommand{Reference: reference})
	if err != nil && !isSettledOutcome(err) {
		return httptransport.PaymentResponse{}, err
	}
	// A definitive rejection settles the record; the response carries the
	// failed status instead of an error.
	return mapPayment(record), nil
}

// WebhookHandler accepts the gateway callback. The reference drives a full
// verification against the gateway rather than trusting the callback body.
func (h Handler) WebhookHandler(ctx context.Context, req httptransport.WebhookRequest) error {
	reference := strings.TrimSpace(req.TxRef)
	if reference == "" {
		reference = strings.TrimSpace(req.Reference)
	}
	_, err := h.Payments.Reconcile(ctx, commands.ReconcileCommand{Reference: reference})
	if err != nil && !isSettledOutcome(err) {
		return err
	}
	return nil
}

func (h Handler) GetPaymentHandler(ctx context.Context, reference string) (httptransport.PaymentResponse, error) {
	record, err := h.Queries.GetPayment(ctx, reference)
	if err != nil {
		return httptransport.PaymentResponse{}, err
	}
	return mapPayment(record), nil
}

// isSettledOutcome filters Reconcile errors that still produced a usable
// record: a definitive gateway rejection settles the payment as failed.
func isSettledOutcome(err error) bool {
	return errors.Is(err, domainerrors.ErrGatewayRejected)
}

func mapPayment(record entities.PaymentRecord) httptransport.PaymentResponse {
	return httptransport.PaymentResponse{
		Reference:      record.Reference,
		PollID:         record.PollID,
		Amount:         record.Amount,
		Currency:       record.Currency,
		Status:         string(record.Status),
		Attempts:       record.Attempts,
		NeedsAttention: record.NeedsAttention,
		CreatedAt:      record.CreatedAt,
		ResolvedAt:     record.ResolvedAt,
	}
}
