package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"bloodhub/internal/util"
	"bloodhub/pkg/queue"
	"bloodhub/services/notifier/internal/app"
	"bloodhub/services/notifier/internal/config"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	deliveries, err := queue.NewRedisDeliveryQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.NotifyStream,
		Group:      cfg.NotifyGroup,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		log.Fatalf("failed to init delivery queue: %v", err)
	}
	defer deliveries.Close()

	appCore, err := app.New(app.Config{
		Consumer:        deliveries,
		Sender:          app.LogSender{Logger: logger},
		Concurrency:     cfg.Concurrency,
		SendConcurrency: cfg.SendConcurrency,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	slog.Info("notifier consuming", "stream", cfg.NotifyStream, "group", cfg.NotifyGroup, "concurrency", cfg.Concurrency)
	appCore.Run(ctx)
	slog.Info("notifier stopped")
}
