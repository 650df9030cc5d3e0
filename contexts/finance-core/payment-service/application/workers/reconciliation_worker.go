package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	application "agora/contexts/finance-core/payment-service/application"
	"agora/contexts/finance-core/payment-service/application/commands"
	domainerrors "agora/contexts/finance-core/payment-service/domain/errors"
	"agora/contexts/finance-core/payment-service/ports"
)

// ReconciliationWorker sweeps pending payments whose next attempt is due and
// re-verifies them against the gateway. Webhooks settle most references
// quickly; this worker catches the ones the webhook missed.
type ReconciliationWorker struct {
	Payments  ports.PaymentRepository
	UseCase   commands.PaymentUseCase
	Clock     ports.Clock
	BatchSize int
	Disabled  bool
	Logger    *slog.Logger
}

// RunOnce reconciles one batch of due references. Transient and exhausted
// outcomes are expected here and do not abort the batch.
func (w ReconciliationWorker) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(w.Logger)
	if w.Disabled {
		logger.Debug("payment reconciliation disabled by feature flag",
			"event", "payments_reconcile_worker_disabled",
			"module", "finance-core/payment-service",
			"layer", "worker",
		)
		return nil
	}
	limit := w.BatchSize
	if limit <= 0 {
		limit = 50
	}
	now := time.Now().UTC()
	if w.Clock != nil {
		now = w.Clock.Now().UTC()
	}

	due, err := w.Payments.ListDuePayments(ctx, now, limit)
	if err != nil {
		logger.Error("payment due list failed",
			"event", "payments_reconcile_list_failed",
			"module", "finance-core/payment-service",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	if len(due) == 0 {
		return nil
	}

	settled := 0
	for _, record := range due {
		_, err := w.UseCase.Reconcile(ctx, commands.ReconcileCommand{Reference: record.Reference})
		switch {
		case err == nil:
			settled++
		case errors.Is(err, domainerrors.ErrGatewayRejected):
			settled++
		case errors.Is(err, domainerrors.ErrVerificationTransient),
			errors.Is(err, domainerrors.ErrVerificationExhausted):
			// Already rescheduled or flagged; move on.
		default:
			logger.Error("payment reconcile failed",
				"event", "payments_reconcile_record_failed",
				"module", "finance-core/payment-service",
				"layer", "worker",
				"reference", record.Reference,
				"error", err.Error(),
			)
			return err
		}
	}

	logger.Info("payment reconciliation cycle completed",
		"event", "payments_reconcile_completed",
		"module", "finance-core/payment-service",
		"layer", "worker",
		"due_count", len(due),
		"settled_count", settled,
	)
	return nil
}
