// README: Entry point; consumes trip events and sends push notifications.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"ridehail/internal/config"
	"ridehail/internal/events"
	"ridehail/internal/infra"
	"ridehail/internal/modules/notification"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := infra.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("notifier stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.AMQP.URL == "" {
		return errors.New("RIDEHAIL_AMQP_URL is required")
	}

	var dedupe notification.Deduper
	rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		logger.Warn("redis unavailable; de-duplicating in memory", zap.Error(err))
		dedupe = notification.NewMemoryDeduper()
	} else {
		defer func() { _ = rdb.Close() }()
		dedupe = notification.NewRedisDeduper(rdb, notification.DefaultDedupeTTL)
	}

	var pusher notification.Pusher = notification.LogPusher{Log: logger.Named("push")}
	if cfg.Firebase.ProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
		client, err := infra.NewMessagingClient(ctx, app)
		if err != nil {
			return err
		}
		pusher = notification.NewFCMPusher(client, logger.Named("fcm"))
	}
	svc := notification.NewService(pusher, dedupe, logger.Named("notification"))

	mq, err := infra.DialRabbitMQ(ctx, cfg.AMQP.URL, logger.Named("amqp"))
	if err != nil {
		return err
	}
	defer mq.Close()
	ch, err := mq.Channel()
	if err != nil {
		return err
	}

	logger.Info("notifier started", zap.String("queue", cfg.AMQP.NotifyQueue))
	return events.Consume(ctx, ch, events.ConsumerConfig{
		Exchange: cfg.AMQP.Exchange,
		Queue:    cfg.AMQP.NotifyQueue,
		Bindings: []string{"trip.*"},
		Prefetch: 16,
	}, logger.Named("consumer"), svc.Handle)
}
