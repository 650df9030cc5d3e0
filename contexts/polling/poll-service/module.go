package pollservice

import (
	"log/slog"

	httpadapter "agora/contexts/polling/poll-service/adapters/http"
	"agora/contexts/polling/poll-service/adapters/memory"
	"agora/contexts/polling/poll-service/application/commands"
	"agora/contexts/polling/poll-service/application/queries"
	"agora/contexts/polling/poll-service/domain/entities"
	"agora/contexts/polling/poll-service/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Store   *memory.Store
}

type Dependencies struct {
	Polls  ports.PollRepository
	Outbox ports.OutboxWriter
	Clock  ports.Clock
	IDGen  ports.IDGenerator
	Logger *slog.Logger
}

func NewModule(deps Dependencies) Module {
	pollUseCase := commands.PollUseCase{
		Polls:  deps.Polls,
		Outbox: deps.Outbox,
		Clock:  deps.Clock,
		IDGen:  deps.IDGen,
		Logger: deps.Logger,
	}
	queryUseCase := queries.PollQueryUseCase{
		Polls: deps.Polls,
		Clock: deps.Clock,
	}
	return Module{
		Handler: httpadapter.Handler{
			Polls:   pollUseCase,
			Queries: queryUseCase,
			Logger:  deps.Logger,
		},
	}
}

func NewInMemoryModule(seed []entities.Poll, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	module := NewModule(Dependencies{
		Polls:  store,
		Outbox: store,
		Clock:  store,
		IDGen:  store,
		Logger: logger,
	})
	module.Store = store
	return module
}
