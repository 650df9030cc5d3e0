package voteengine

import (
	"log/slog"

	httpadapter "agora/contexts/polling/vote-engine/adapters/http"
	"agora/contexts/polling/vote-engine/adapters/live"
	"agora/contexts/polling/vote-engine/adapters/memory"
	"agora/contexts/polling/vote-engine/application/commands"
	"agora/contexts/polling/vote-engine/application/queries"
	"agora/contexts/polling/vote-engine/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Hub     *live.Hub
	Store   *memory.Store
}

type Dependencies struct {
	Ledger      ports.VoteLedger
	Polls       ports.PollReader
	Broadcaster ports.Broadcaster
	Outbox      ports.OutboxWriter
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	Logger      *slog.Logger
}

func NewModule(deps Dependencies) Module {
	voteUseCase := commands.VoteUseCase{
		Ledger:      deps.Ledger,
		Polls:       deps.Polls,
		Broadcaster: deps.Broadcaster,
		Outbox:      deps.Outbox,
		Clock:       deps.Clock,
		IDGen:       deps.IDGen,
		Logger:      deps.Logger,
	}
	queryUseCase := queries.TallyQueryUseCase{
		Ledger: deps.Ledger,
		Polls:  deps.Polls,
	}
	return Module{
		Handler: httpadapter.Handler{
			Votes:   voteUseCase,
			Queries: queryUseCase,
			Logger:  deps.Logger,
		},
	}
}

// NewInMemoryModule wires the engine on the in-memory ledger with its own
// hub, for tests and local runs.
func NewInMemoryModule(liveBuffer int, logger *slog.Logger) Module {
	store := memory.NewStore()
	hub := live.NewHub(liveBuffer, logger)
	module := NewModule(Dependencies{
		Ledger:      store,
		Polls:       store,
		Broadcaster: hub,
		Outbox:      store,
		Clock:       store,
		IDGen:       store,
		Logger:      logger,
	})
	module.Hub = hub
	module.Store = store
	return module
}
