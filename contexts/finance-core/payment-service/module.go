package paymentservice

import (
	"log/slog"
	"time"

	httpadapter "agora/contexts/finance-core/payment-service/adapters/http"
	"agora/contexts/finance-core/payment-service/adapters/memory"
	"agora/contexts/finance-core/payment-service/application/commands"
	"agora/contexts/finance-core/payment-service/application/queries"
	"agora/contexts/finance-core/payment-service/ports"
)

type Module struct {
	Handler httpadapter.Handler
	// UseCase is exposed for worker wiring (the reconciler reuses the same
	// settle path the handlers do).
	UseCase commands.PaymentUseCase
	Store   *memory.Store
}

type Dependencies struct {
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

func NewModule(deps Dependencies) Module {
	paymentUseCase := commands.PaymentUseCase{
		Payments:    deps.Payments,
		Gateway:     deps.Gateway,
		Activator:   deps.Activator,
		Outbox:      deps.Outbox,
		Clock:       deps.Clock,
		IDGen:       deps.IDGen,
		MaxAttempts: deps.MaxAttempts,
		RetryBase:   deps.RetryBase,
		Logger:      deps.Logger,
	}
	queryUseCase := queries.PaymentQueryUseCase{
		Payments: deps.Payments,
	}
	return Module{
		Handler: httpadapter.Handler{
			Payments: paymentUseCase,
			Queries:  queryUseCase,
			Logger:   deps.Logger,
		},
		UseCase: paymentUseCase,
	}
}

// NewInMemoryModule wires the service on the in-memory store with the given
// gateway, for tests and local runs.
func NewInMemoryModule(gateway ports.Gateway, logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Payments:  store,
		Gateway:   gateway,
		Activator: store,
		Outbox:    store,
		Clock:     store,
		IDGen:     store,
		Logger:    logger,
	})
	module.Store = store
	return module
}
