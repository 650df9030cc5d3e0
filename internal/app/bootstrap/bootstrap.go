package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	paymentservice "agora/contexts/finance-core/payment-service"
	"agora/contexts/finance-core/payment-service/adapters/chapa"
	paymentpostgres "agora/contexts/finance-core/payment-service/adapters/postgres"
	paymentworkers "agora/contexts/finance-core/payment-service/application/workers"
	pollservice "agora/contexts/polling/poll-service"
	pollpostgres "agora/contexts/polling/poll-service/adapters/postgres"
	pollworkers "agora/contexts/polling/poll-service/application/workers"
	voteengine "agora/contexts/polling/vote-engine"
	"agora/contexts/polling/vote-engine/adapters/live"
	votepostgres "agora/contexts/polling/vote-engine/adapters/postgres"
	voteworkers "agora/contexts/polling/vote-engine/application/workers"
	"agora/internal/platform/config"
	"agora/internal/platform/db"
	"agora/internal/platform/httpserver"
	"agora/internal/platform/messaging"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

// The event bus is in-process, so the poll.closed consumer must live in the
// same process as the hub whose streams it terminates. The API process
// therefore runs the consumer plus the poll outbox relay feeding it; the
// worker keeps the remaining relays and the periodic jobs.
type APIApp struct {
	server        *httpserver.Server
	postgres      *db.Postgres
	pollRelay     pollworkers.OutboxRelay
	pollConsumer  voteworkers.PollStateConsumer
	relayInterval time.Duration
	logger        *slog.Logger
}

type WorkerApp struct {
	postgres     *db.Postgres
	sweeper      pollworkers.LifecycleSweeper
	voteRelay    voteworkers.OutboxRelay
	paymentRelay paymentworkers.OutboxRelay
	reconciler   paymentworkers.ReconciliationWorker
	pollInterval time.Duration
	logger       *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	models := pollpostgres.Models()
	models = append(models, votepostgres.Models()...)
	models = append(models, paymentpostgres.Models()...)
	if err := pg.Migrate(models...); err != nil {
		_ = pg.Close()
		return nil, err
	}

	pollRepo := pollpostgres.NewRepository(pg.DB, logger)
	pollModule := pollservice.NewModule(pollservice.Dependencies{
		Polls:  pollRepo,
		Outbox: pollRepo,
		Clock:  pollpostgres.SystemClock{},
		IDGen:  pollpostgres.UUIDGenerator{},
		Logger: logger,
	})

	hub := live.NewHub(cfg.LiveBufferSize, logger)
	voteRepo := votepostgres.NewRepository(pg.DB, logger)
	voteModule := voteengine.NewModule(voteengine.Dependencies{
		Ledger:      voteRepo,
		Polls:       voteRepo,
		Broadcaster: hub,
		Outbox:      voteRepo,
		Clock:       votepostgres.SystemClock{},
		IDGen:       votepostgres.UUIDGenerator{},
		Logger:      logger,
	})

	paymentRepo := paymentpostgres.NewRepository(pg.DB, logger)
	gateway := chapa.NewClient(cfg.PaymentGatewayURL, cfg.PaymentGatewaySecret, nil)
	paymentModule := paymentservice.NewModule(paymentservice.Dependencies{
		Payments:    paymentRepo,
		Gateway:     gateway,
		Activator:   paymentRepo,
		Outbox:      paymentRepo,
		Clock:       paymentpostgres.SystemClock{},
		IDGen:       paymentpostgres.UUIDGenerator{},
		MaxAttempts: cfg.PaymentMaxAttempts,
		RetryBase:   cfg.PaymentRetryBase,
		Logger:      logger,
	})

	kafka, err := messaging.NewKafka(cfg.KafkaBrokers, logger)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	server := httpserver.New(pollModule, voteModule, paymentModule, hub, logger, normalizeAddr(cfg.HTTPPort))
	return &APIApp{
		server:   server,
		postgres: pg,
		pollRelay: pollworkers.OutboxRelay{
			Outbox:    pollRepo,
			Publisher: kafka,
			Clock:     pollpostgres.SystemClock{},
			BatchSize: 100,
			Logger:    logger,
		},
		pollConsumer: voteworkers.PollStateConsumer{
			Subscriber:    kafka,
			Dedup:         voteRepo,
			Ledger:        voteRepo,
			Broadcaster:   hub,
			Clock:         votepostgres.SystemClock{},
			ConsumerGroup: "vote-engine-poll-cg",
			DedupTTL:      7 * 24 * time.Hour,
			Disabled:      !cfg.EnablePollConsumer,
			Logger:        logger,
		},
		relayInterval: 2 * time.Second,
		logger:        logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	kafka, err := messaging.NewKafka(cfg.KafkaBrokers, logger)
	if err != nil {
		return nil, err
	}

	pollRepo := pollpostgres.NewRepository(pg.DB, logger)
	voteRepo := votepostgres.NewRepository(pg.DB, logger)
	paymentRepo := paymentpostgres.NewRepository(pg.DB, logger)
	gateway := chapa.NewClient(cfg.PaymentGatewayURL, cfg.PaymentGatewaySecret, nil)
	paymentModule := paymentservice.NewModule(paymentservice.Dependencies{
		Payments:    paymentRepo,
		Gateway:     gateway,
		Activator:   paymentRepo,
		Outbox:      paymentRepo,
		Clock:       paymentpostgres.SystemClock{},
		IDGen:       paymentpostgres.UUIDGenerator{},
		MaxAttempts: cfg.PaymentMaxAttempts,
		RetryBase:   cfg.PaymentRetryBase,
		Logger:      logger,
	})

	return &WorkerApp{
		postgres: pg,
		sweeper: pollworkers.LifecycleSweeper{
			Polls:     pollRepo,
			Outbox:    pollRepo,
			Clock:     pollpostgres.SystemClock{},
			IDGen:     pollpostgres.UUIDGenerator{},
			BatchSize: 100,
			Disabled:  !cfg.EnableLifecycleSweeper,
			Logger:    logger,
		},
		voteRelay: voteworkers.OutboxRelay{
			Outbox:    voteRepo,
			Publisher: kafka,
			Clock:     votepostgres.SystemClock{},
			BatchSize: 100,
			Logger:    logger,
		},
		paymentRelay: paymentworkers.OutboxRelay{
			Outbox:    paymentRepo,
			Publisher: kafka,
			Clock:     paymentpostgres.SystemClock{},
			BatchSize: 100,
			Logger:    logger,
		},
		reconciler: paymentworkers.ReconciliationWorker{
			Payments:  paymentRepo,
			UseCase:   paymentModule.UseCase,
			Clock:     paymentpostgres.SystemClock{},
			BatchSize: 50,
			Disabled:  !cfg.EnableReconciliation,
			Logger:    logger,
		},
		pollInterval: 2 * time.Second,
		logger:       logger,
	}, nil
}

func (a *APIApp) Run(ctx context.Context) error {
	if err := a.pollConsumer.Start(ctx); err != nil {
		return err
	}
	go a.relayLoop(ctx)

	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)
	return a.server.Start()
}

// relayLoop drains the poll outbox onto the bus so the in-process consumer
// sees lifecycle events. A failed cycle is retried on the next tick.
func (a *APIApp) relayLoop(ctx context.Context) {
	ticker := time.NewTicker(a.relayInterval)
	defer ticker.Stop()
	for {
		if err := a.pollRelay.RunOnce(ctx); err != nil {
			a.logger.Error("poll outbox relay cycle failed",
				"event", "bootstrap_poll_relay_failed",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"error", err.Error(),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *APIApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
	)

	for {
		if err := w.sweeper.RunOnce(ctx); err != nil {
			return err
		}
		if err := w.voteRelay.RunOnce(ctx); err != nil {
			return err
		}
		if err := w.paymentRelay.RunOnce(ctx); err != nil {
			return err
		}
		if err := w.reconciler.RunOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
