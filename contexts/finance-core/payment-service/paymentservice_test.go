package paymentservice_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paymentservice "agora/contexts/finance-core/payment-service"
	"agora/contexts/finance-core/payment-service/application/commands"
	"agora/contexts/finance-core/payment-service/application/workers"
	domainerrors "agora/contexts/finance-core/payment-service/domain/errors"
	"agora/contexts/finance-core/payment-service/ports"
	httptransport "agora/contexts/finance-core/payment-service/transport/http"
)

type scriptedGateway struct {
	mu       sync.Mutex
	verify   []func() (ports.VerifyResult, error)
	verified int
}

func (g *scriptedGateway) InitializeTransaction(
	_ context.Context,
	req ports.InitializeRequest,
) (ports.InitializeResult, error) {
	return ports.InitializeResult{CheckoutURL: "https://checkout.example/" + req.Reference}, nil
}

func (g *scriptedGateway) VerifyTransaction(_ context.Context, _ string) (ports.VerifyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.verify) == 0 {
		return ports.VerifyResult{Status: ports.VerifySuccess}, nil
	}
	step := g.verify[0]
	if len(g.verify) > 1 {
		g.verify = g.verify[1:]
	}
	g.verified++
	return step()
}

func (g *scriptedGateway) verifyCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verified
}

func succeedVerify() (ports.VerifyResult, error) {
	return ports.VerifyResult{Status: ports.VerifySuccess}, nil
}

func failVerify() (ports.VerifyResult, error) {
	return ports.VerifyResult{Status: ports.VerifyFailed}, nil
}

func transientVerify() (ports.VerifyResult, error) {
	return ports.VerifyResult{}, errors.New("gateway timeout")
}

func initPayment(t *testing.T, module paymentservice.Module) httptransport.InitializePaymentResponse {
	t.Helper()
	resp, err := module.Handler.InitializePaymentHandler(context.Background(), "owner-1",
		httptransport.InitializePaymentRequest{
			PollID:   "poll-1",
			Amount:   150,
			Currency: "ETB",
			Email:    "owner@example.com",
		})
	if err != nil {
		t.Fatalf("initialize payment failed: %v", err)
	}
	return resp
}

func TestInitializeCreatesPendingRecord(t *testing.T) {
	gateway := &scriptedGateway{}
	module := paymentservice.NewInMemoryModule(gateway, nil)

	resp := initPayment(t, module)
	if resp.Status != "pending" {
		t.Fatalf("expected pending, got %s", resp.Status)
	}
	if resp.CheckoutURL == "" {
		t.Fatalf("expected checkout url")
	}

	stored, err := module.Handler.GetPaymentHandler(context.Background(), resp.Reference)
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	if stored.Status != "pending" || stored.PollID != "poll-1" {
		t.Fatalf("unexpected stored record %+v", stored)
	}
	if module.Store.ActivationCount("poll-1") != 0 {
		t.Fatalf("poll must stay locked before verification")
	}
}

func TestVerifySuccessUnlocksPollOnce(t *testing.T) {
	gateway := &scriptedGateway{verify: []func() (ports.VerifyResult, error){succeedVerify}}
	module := paymentservice.NewInMemoryModule(gateway, nil)
	resp := initPayment(t, module)

	verified, err := module.Handler.VerifyPaymentHandler(context.Background(), resp.Reference)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if verified.Status != "success" {
		t.Fatalf("expected success, got %s", verified.Status)
	}
	if module.Store.ActivationCount("poll-1") != 1 {
		t.Fatalf("expected one activation, got %d", module.Store.ActivationCount("poll-1"))
	}

	// Re-verification replays the stored outcome without another gateway
	// call or a second unlock.
	calls := gateway.verifyCalls()
	replayed, err := module.Handler.VerifyPaymentHandler(context.Background(), resp.Reference)
	if err != nil {
		t.Fatalf("replay verify failed: %v", err)
	}
	if replayed.Status != "success" {
		t.Fatalf("expected replayed success, got %s", replayed.Status)
	}
	if gateway.verifyCalls() != calls {
		t.Fatalf("terminal record must not hit the gateway again")
	}
	if module.Store.ActivationCount("poll-1") != 1 {
		t.Fatalf("expected single activation after replay, got %d", module.Store.ActivationCount("poll-1"))
	}
}

func TestWebhookAndUserVerifyRaceSingleUnlock(t *testing.T) {
	gateway := &scriptedGateway{}
	module := paymentservice.NewInMemoryModule(gateway, nil)
	resp := initPayment(t, module)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(viaWebhook bool) {
			defer wg.Done()
			if viaWebhook {
				_ = module.Handler.WebhookHandler(context.Background(), httptransport.WebhookRequest{
					TxRef: resp.Reference,
				})
				return
			}
			_, _ = module.Handler.VerifyPaymentHandler(context.Background(), resp.Reference)
		}(i%2 == 0)
	}
	wg.Wait()

	if module.Store.ActivationCount("poll-1") != 1 {
		t.Fatalf("expected exactly one unlock under race, got %d", module.Store.ActivationCount("poll-1"))
	}
	final, err := module.Handler.GetPaymentHandler(context.Background(), resp.Reference)
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	if final.Status != "success" {
		t.Fatalf("expected terminal success, got %s", final.Status)
	}
}

func TestGatewayRejectionSettlesFailed(t *testing.T) {
	gateway := &scriptedGateway{verify: []func() (ports.VerifyResult, error){failVerify}}
	module := paymentservice.NewInMemoryModule(gateway, nil)
	resp := initPayment(t, module)

	verified, err := module.Handler.VerifyPaymentHandler(context.Background(), resp.Reference)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if verified.Status != "failed" {
		t.Fatalf("expected failed, got %s", verified.Status)
	}
	if module.Store.ActivationCount("poll-1") != 0 {
		t.Fatalf("failed payment must not unlock the poll")
	}
}

func TestTransientFailureSchedulesBackoffThenExhausts(t *testing.T) {
	gateway := &scriptedGateway{verify: []func() (ports.VerifyResult, error){transientVerify}}
	module := paymentservice.NewInMemoryModule(gateway, nil)
	module.UseCase.MaxAttempts = 3
	module.UseCase.RetryBase = time.Minute
	resp := initPayment(t, module)

	for attempt := 1; attempt <= 2; attempt++ {
		_, err := module.UseCase.Reconcile(context.Background(), commands.ReconcileCommand{
			Reference: resp.Reference,
		})
		if !errors.Is(err, domainerrors.ErrVerificationTransient) {
			t.Fatalf("attempt %d: expected transient, got %v", attempt, err)
		}
		record, getErr := module.Handler.GetPaymentHandler(context.Background(), resp.Reference)
		if getErr != nil {
			t.Fatalf("get payment failed: %v", getErr)
		}
		if record.Attempts != attempt {
			t.Fatalf("expected %d attempts recorded, got %d", attempt, record.Attempts)
		}
	}

	_, err := module.UseCase.Reconcile(context.Background(), commands.ReconcileCommand{
		Reference: resp.Reference,
	})
	if !errors.Is(err, domainerrors.ErrVerificationExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	record, err := module.Handler.GetPaymentHandler(context.Background(), resp.Reference)
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	if !record.NeedsAttention {
		t.Fatalf("exhausted record must be flagged for attention")
	}
	if record.Status != "pending" {
		t.Fatalf("exhausted record stays pending for operators, got %s", record.Status)
	}
}

func TestRetryBackoffPlateausUnderLargeBudget(t *testing.T) {
	gateway := &scriptedGateway{verify: []func() (ports.VerifyResult, error){transientVerify}}
	module := paymentservice.NewInMemoryModule(gateway, nil)
	module.UseCase.MaxAttempts = 64
	module.UseCase.RetryBase = 30 * time.Second
	resp := initPayment(t, module)

	for attempt := 1; attempt <= 45; attempt++ {
		_, err := module.UseCase.Reconcile(context.Background(), commands.ReconcileCommand{
			Reference: resp.Reference,
		})
		if !errors.Is(err, domainerrors.ErrVerificationTransient) {
			t.Fatalf("attempt %d: expected transient, got %v", attempt, err)
		}
	}

	record, err := module.Store.GetPayment(context.Background(), resp.Reference)
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	wait := time.Until(record.NextAttemptAt)
	if wait <= 0 {
		t.Fatalf("deep retry produced a non-positive backoff, next attempt %v", record.NextAttemptAt)
	}
	plateau := 30 * time.Second << 10
	if wait > plateau {
		t.Fatalf("backoff exceeds plateau %v: %v", plateau, wait)
	}
}

func TestReconciliationWorkerSettlesDuePayments(t *testing.T) {
	gateway := &scriptedGateway{}
	module := paymentservice.NewInMemoryModule(gateway, nil)
	resp := initPayment(t, module)

	worker := workers.ReconciliationWorker{
		Payments: module.Store,
		UseCase:  module.UseCase,
	}
	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("worker run failed: %v", err)
	}

	record, err := module.Handler.GetPaymentHandler(context.Background(), resp.Reference)
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	if record.Status != "success" {
		t.Fatalf("expected worker to settle payment, got %s", record.Status)
	}
	if module.Store.ActivationCount("poll-1") != 1 {
		t.Fatalf("expected worker unlock, got %d", module.Store.ActivationCount("poll-1"))
	}

	// Settled records are excluded from later sweeps.
	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("idle worker run failed: %v", err)
	}
}

func TestReconcileUnknownReference(t *testing.T) {
	module := paymentservice.NewInMemoryModule(&scriptedGateway{}, nil)
	_, err := module.Handler.VerifyPaymentHandler(context.Background(), "missing-ref")
	if !errors.Is(err, domainerrors.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}
