package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/danuprasetya/go-shop-checkout/internal/config"
	kafkax "github.com/danuprasetya/go-shop-checkout/internal/kafka"
	"github.com/danuprasetya/go-shop-checkout/internal/logging"
	"github.com/danuprasetya/go-shop-checkout/internal/notifier"
	"github.com/danuprasetya/go-shop-checkout/internal/notify"
	"github.com/danuprasetya/go-shop-checkout/internal/postgres"
	"github.com/danuprasetya/go-shop-checkout/internal/redisx"
)

const consumerGroup = "notifier"

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.Init("notifier", "./logs/notifier.log")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	store := notify.NewStore(db)
	broadcast := notify.NewBroadcaster(rdb, logging.New("broadcast"))
	svc := notifier.NewService(store, broadcast, rdb, logger)

	consumer := kafkax.NewConsumer(cfg.KafkaBrokers, consumerGroup, notify.TopicOrderEvents, 4)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("consuming", "topic", notify.TopicOrderEvents, "group", consumerGroup)
	if err := consumer.Start(ctx, svc.HandleOrderEvent); err != nil {
		log.Fatalf("consumer: %v", err)
	}
}
