package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/logger"
	"github.com/ariefcatur/go-order-fulfillment/internal/projector"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping", "addr", cfg.RedisAddr, "err", err)
	}

	svc := &projector.Service{
		Cache:       redisx.NewStatusCache(rdb),
		Dedup:       redisx.NewDedup(rdb),
		Log:         log.With("component", "projector"),
		ServiceName: cfg.ProjectorGroup,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, cfg.EventsTopic, cfg.ProjectorWorkers, log)
	log.Info("status projector started", "group", cfg.ProjectorGroup, "topic", cfg.EventsTopic, "workers", cfg.ProjectorWorkers)
	if err := cons.Start(ctx, svc.HandleEvent); err != nil {
		log.Error("consumer exit", "err", err)
		os.Exit(1)
	}
	log.Info("status projector stopped")
}
