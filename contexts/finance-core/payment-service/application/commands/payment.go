package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "agora/contexts/finance-core/payment-service/application"
	"agora/contexts/finance-core/payment-service/domain/entities"
	domainerrors "agora/contexts/finance-core/payment-service/domain/errors"
	"agora/contexts/finance-core/payment-service/ports"
)

const (
	defaultMaxAttempts = 5
	defaultRetryBase   = 30 * time.Second

	// Backoff doubles per attempt up to this many doublings, then plateaus.
	// An uncapped shift overflows once the attempt budget is configured large.
	maxBackoffShift = 10
)

type InitializePaymentCommand struct {
	PollID    string
	OwnerID   string
	Amount    float64
	Currency  string
	Email     string
	ReturnURL string
}

type InitializePaymentResult struct {
	Payment     entities.PaymentRecord
	CheckoutURL string
}

type ReconcileCommand struct {
	Reference string
}

// PaymentUseCase owns payment writes: transaction initialization and the
// verification/reconciliation path. The unlock side effect runs only on the
// guarded pending-to-success transition, so webhook, user verification and
// the background reconciler can all call Reconcile for the same reference
// without a double unlock.
type PaymentUseCase struct {
	Payments    ports.PaymentRepository
	Gateway     ports.Gateway
	Activator   ports.PollActivator
	Outbox      ports.OutboxWriter
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	MaxAttempts int
	RetryBase   time.Duration
	Logger      *slog.Logger
}

// InitializePayment registers a pending record and opens a gateway checkout
// for it. The reference is generated here and becomes the idempotency anchor
// for every later verification.
func (uc PaymentUseCase) InitializePayment(
	ctx context.Context,
	cmd InitializePaymentCommand,
) (InitializePaymentResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	pollID := strings.TrimSpace(cmd.PollID)
	ownerID := strings.TrimSpace(cmd.OwnerID)
	if pollID == "" || ownerID == "" || cmd.Amount <= 0 {
		return InitializePaymentResult{}, domainerrors.ErrInvalidPaymentInput
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = "ETB"
	}

	now := uc.now()
	reference, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return InitializePaymentResult{}, err
	}

	gatewayResult, err := uc.Gateway.InitializeTransaction(ctx, ports.InitializeRequest{
		Reference: reference,
		Amount:    cmd.Amount,
		Currency:  currency,
		Email:     strings.TrimSpace(cmd.Email),
		ReturnURL: strings.TrimSpace(cmd.ReturnURL),
	})
	if err != nil {
		logger.Error("payment initialization failed at gateway",
			"event", "payments_initialize_gateway_failed",
			"module", "finance-core/payment-service",
			"layer", "application",
			"poll_id", pollID,
			"error", err.Error(),
		)
		return InitializePaymentResult{}, err
	}

	record := entities.PaymentRecord{
		Reference:     reference,
		PollID:        pollID,
		OwnerID:       ownerID,
		Amount:        cmd.Amount,
		Currency:      currency,
		Email:         strings.TrimSpace(cmd.Email),
		Status:        entities.PaymentPending,
		CheckoutURL:   gatewayResult.CheckoutURL,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := uc.Payments.SavePayment(ctx, record); err != nil {
		return InitializePaymentResult{}, err
	}

	logger.Info("payment initialized",
		"event", "payments_initialized",
		"module", "finance-core/payment-service",
		"layer", "application",
		"reference", reference,
		"poll_id", pollID,
		"amount", cmd.Amount,
		"currency", currency,
	)
	return InitializePaymentResult{Payment: record, CheckoutURL: gatewayResult.CheckoutURL}, nil
}

// Reconcile verifies a reference against the gateway and settles the record.
// Terminal records replay their stored outcome without side effects. A
// transient gateway failure schedules the next attempt with exponential
// backoff until the budget is spent.
func (uc PaymentUseCase) Reconcile(ctx context.Context, cmd ReconcileCommand) (entities.PaymentRecord, error) {
	logger := application.ResolveLogger(uc.Logger)
	reference := strings.TrimSpace(cmd.Reference)
	if reference == "" {
		return entities.PaymentRecord{}, domainerrors.ErrInvalidPaymentInput
	}

	record, err := uc.Payments.GetPayment(ctx, reference)
	if err != nil {
		return entities.PaymentRecord{}, err
	}
	if record.Terminal() {
		logger.Debug("payment reconcile replayed terminal record",
			"event", "payments_reconcile_replayed",
			"module", "finance-core/payment-service",
			"layer", "application",
			"reference", reference,
			"status", string(record.Status),
		)
		return record, nil
	}

	now := uc.now()
	verification, err := uc.Gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return record, uc.scheduleRetry(ctx, record, now, err)
	}

	switch verification.Status {
	case ports.VerifySuccess:
		return uc.settle(ctx, record, entities.PaymentSuccess, now)
	case ports.VerifyFailed:
		settled, err := uc.settle(ctx, record, entities.PaymentFailed, now)
		if err != nil {
			return entities.PaymentRecord{}, err
		}
		return settled, domainerrors.ErrGatewayRejected
	default:
		// Gateway still processing: treat as transient and come back later.
		return record, uc.scheduleRetry(ctx, record, now, domainerrors.ErrVerificationTransient)
	}
}

func (uc PaymentUseCase) settle(
	ctx context.Context,
	record entities.PaymentRecord,
	status entities.PaymentStatus,
	now time.Time,
) (entities.PaymentRecord, error) {
	logger := application.ResolveLogger(uc.Logger)
	performed, err := uc.Payments.ResolvePayment(ctx, record.Reference, status, now)
	if err != nil {
		return entities.PaymentRecord{}, err
	}
	record.Status = status
	record.UpdatedAt = now
	resolvedAt := now
	record.ResolvedAt = &resolvedAt
	if !performed {
		// A concurrent verification settled first; replay its outcome.
		fresh, err := uc.Payments.GetPayment(ctx, record.Reference)
		if err != nil {
			return entities.PaymentRecord{}, err
		}
		return fresh, nil
	}

	if status == entities.PaymentSuccess && uc.Activator != nil {
		if err := uc.Activator.ActivatePoll(ctx, record.PollID); err != nil {
			logger.Error("poll activation after payment failed",
				"event", "payments_activate_poll_failed",
				"module", "finance-core/payment-service",
				"layer", "application",
				"reference", record.Reference,
				"poll_id", record.PollID,
				"error", err.Error(),
			)
			return entities.PaymentRecord{}, err
		}
	}

	eventType := "payment.succeeded"
	if status == entities.PaymentFailed {
		eventType = "payment.failed"
	}
	if err := uc.appendPaymentEvent(ctx, eventType, record, now); err != nil {
		return entities.PaymentRecord{}, err
	}

	logger.Info("payment settled",
		"event", "payments_settled",
		"module", "finance-core/payment-service",
		"layer", "application",
		"reference", record.Reference,
		"poll_id", record.PollID,
		"status", string(status),
	)
	return record, nil
}

func (uc PaymentUseCase) scheduleRetry(
	ctx context.Context,
	record entities.PaymentRecord,
	now time.Time,
	cause error,
) error {
	logger := application.ResolveLogger(uc.Logger)
	attempts := record.Attempts + 1
	maxAttempts := uc.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	base := uc.RetryBase
	if base <= 0 {
		base = defaultRetryBase
	}

	exhausted := attempts >= maxAttempts
	shift := attempts - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	backoff := base << uint(shift)
	nextAttemptAt := now.Add(backoff)
	if err := uc.Payments.ScheduleRetry(ctx, record.Reference, attempts, nextAttemptAt, exhausted); err != nil {
		return err
	}
	if exhausted {
		logger.Warn("payment verification budget exhausted",
			"event", "payments_reconcile_exhausted",
			"module", "finance-core/payment-service",
			"layer", "application",
			"reference", record.Reference,
			"attempts", attempts,
		)
		return domainerrors.ErrVerificationExhausted
	}
	logger.Warn("payment verification deferred",
		"event", "payments_reconcile_deferred",
		"module", "finance-core/payment-service",
		"layer", "application",
		"reference", record.Reference,
		"attempts", attempts,
		"next_attempt_at", nextAttemptAt.Format(time.RFC3339),
		"cause", cause.Error(),
	)
	return domainerrors.ErrVerificationTransient
}

func (uc PaymentUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}

func (uc PaymentUseCase) appendPaymentEvent(
	ctx context.Context,
	eventType string,
	record entities.PaymentRecord,
	occurredAt time.Time,
) error {
	// Outbox is optional for pure read/test wiring, so nil is treated as no-op.
	if uc.Outbox == nil {
		return nil
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	envelope, err := NewPaymentEnvelope(eventID, eventType, record.Reference, occurredAt, map[string]any{
		"reference":   record.Reference,
		"poll_id":     record.PollID,
		"status":      string(record.Status),
		"amount":      record.Amount,
		"currency":    record.Currency,
		"occurred_at": occurredAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return uc.Outbox.AppendOutbox(ctx, envelope)
}
