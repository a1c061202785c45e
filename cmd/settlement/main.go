package main

import (
	"context"
	"github.com/ariefcatur/go-order-orchestrator/internal/app"
	"github.com/ariefcatur/go-order-orchestrator/internal/config"
	kafkax "github.com/ariefcatur/go-order-orchestrator/internal/kafka"
	"github.com/ariefcatur/go-order-orchestrator/internal/logging"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.QueueDriver != "kafka" {
		log.Fatalf("settlement consumer needs QUEUE_DRIVER=kafka, got %q", cfg.QueueDriver)
	}
	logger, err := logging.New(cfg.ServiceName+"-settlement", cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, cleanup, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer cleanup()

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.SettlementGroup, orders.TopicOrderProcess, cfg.SettlementWorkers, logger)
	handler := kafkax.SettlementHandler(a.SettlementWorker(), logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("settlement consumer started",
			zap.String("group", cfg.SettlementGroup),
			zap.String("topic", orders.TopicOrderProcess),
			zap.Int("workers", cfg.SettlementWorkers),
		)
		if err := cons.Start(ctx, handler); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumer")
	cancel()
	<-done
}
