// Package app assembles the order service from configuration. Both binaries
// share it so the API and the settlement consumer see identical wiring.
package app

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-order-orchestrator/internal/config"
	"github.com/ariefcatur/go-order-orchestrator/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-orchestrator/internal/kafka"
	"github.com/ariefcatur/go-order-orchestrator/internal/locking"
	"github.com/ariefcatur/go-order-orchestrator/internal/memory"
	"github.com/ariefcatur/go-order-orchestrator/internal/metrics"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/ariefcatur/go-order-orchestrator/internal/payment"
	"github.com/ariefcatur/go-order-orchestrator/internal/postgres"
	"github.com/ariefcatur/go-order-orchestrator/internal/queue"
	"github.com/ariefcatur/go-order-orchestrator/internal/redisx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	Service *orders.Service
	Metrics *metrics.Registry
	Checks  []httpx.Check
	// Queue is set when QUEUE_DRIVER=memory; settlement then runs in-process.
	Queue *queue.Memory

	cfg config.Config
	log *zap.Logger
}

// Build connects every configured backend. The returned cleanup flushes
// producers and closes connections in reverse order.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*App, func(), error) {
		cleanup()
		return nil, nil, err
	}

	a := &App{Metrics: metrics.NewRegistry(), cfg: cfg, log: log}
	svc := &orders.Service{
		Payments: payment.NewSimulated(cfg.PaymentSuccessRate, cfg.PaymentMinLatency, cfg.PaymentMaxLatency),
		Metrics:  a.Metrics,
		Log:      log,
		LockTTL:  cfg.LockTTL,
	}

	// store
	switch cfg.StoreDriver {
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, int32(cfg.PostgresMaxConns))
		if err != nil {
			return fail(fmt.Errorf("db connect: %w", err))
		}
		closers = append(closers, db.Close)
		if err := postgres.Migrate(ctx, db); err != nil {
			return fail(err)
		}
		if cfg.SeedCatalog {
			n, err := postgres.Seed(ctx, db, orders.DemoCatalog())
			if err != nil {
				return fail(err)
			}
			if n > 0 {
				log.Info("catalog_seeded", zap.Int("products", n))
			}
		}
		store := &postgres.Store{DB: db}
		svc.Orders, svc.Products, svc.Tx = store.Orders(), store.Products(), store
		a.Checks = append(a.Checks, httpx.Check{Name: "database", Ping: store.Ping})
	case "memory":
		store := memory.New()
		if cfg.SeedCatalog {
			store.Seed(orders.DemoCatalog())
		}
		svc.Orders, svc.Products, svc.Tx = store.Orders(), store.Products(), store
		a.Checks = append(a.Checks, httpx.Check{Name: "database", Ping: store.Ping})
	}

	// redis, only when something uses it
	var rdb *redis.Client
	if cfg.LockDriver == "redis" || cfg.Notifies("redis") {
		rdb = redisx.New(cfg.RedisAddr, cfg.RedisTimeout)
		closers = append(closers, func() { _ = rdb.Close() })
		if err := redisx.Ping(ctx, rdb); err != nil {
			return fail(fmt.Errorf("redis ping: %w", err))
		}
		a.Checks = append(a.Checks, httpx.Check{Name: "redis", Ping: func(ctx context.Context) error { return redisx.Ping(ctx, rdb) }})
	}

	backoff := locking.Backoff{
		MaxRetries: cfg.LockMaxRetries,
		Base:       cfg.LockBaseDelay,
		Min:        cfg.LockMinDelay,
		Jitter:     cfg.LockJitter,
	}
	switch cfg.LockDriver {
	case "redis":
		svc.Locker = redisx.NewLocker(rdb, backoff, log)
	case "memory":
		svc.Locker = locking.NewMemoryLocker(nil, backoff, log)
	}

	// notifications
	var fan orders.Fanout
	if cfg.Notifies("redis") {
		fan = append(fan, &redisx.Notifier{Redis: rdb})
	}
	if cfg.Notifies("kafka") {
		p := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024, log)
		p.Start(ctx)
		closers = append(closers, func() { p.Close(); p.WaitClosed() })
		fan = append(fan, &kafkax.Notifier{Producer: p, Service: cfg.ServiceName})
	}
	if len(fan) > 0 {
		svc.Notifier = fan
	}

	// settlement dispatch
	switch cfg.QueueDriver {
	case "kafka":
		p := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderProcess, 1024, log)
		p.Start(ctx)
		closers = append(closers, func() { p.Close(); p.WaitClosed() })
		svc.Dispatcher = &kafkax.Dispatcher{Producer: p, Service: cfg.ServiceName}
	case "memory":
		a.Queue = queue.NewMemory(1024, log)
		closers = append(closers, a.Queue.Close)
		svc.Dispatcher = a.Queue
	}

	a.Service = svc
	return a, cleanup, nil
}

// SettlementWorker wraps the service in the configured retry policy.
func (a *App) SettlementWorker() *queue.Worker {
	p := queue.DefaultRetryPolicy()
	p.Attempts = a.cfg.SettlementAttempts
	return queue.NewWorker(a.Service, p, a.log)
}

// StartLocalSettlement drains the in-process queue. It is a no-op when a
// broker carries the tasks.
func (a *App) StartLocalSettlement(ctx context.Context) {
	if a.Queue == nil {
		return
	}
	a.Queue.Start(ctx, a.cfg.SettlementWorkers, a.SettlementWorker().Handle)
	a.log.Info("local settlement started", zap.Int("workers", a.cfg.SettlementWorkers))
}
