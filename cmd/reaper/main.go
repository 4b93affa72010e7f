package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/danuprasetya/go-shop-checkout/internal/checkout"
	"github.com/danuprasetya/go-shop-checkout/internal/config"
	kafkax "github.com/danuprasetya/go-shop-checkout/internal/kafka"
	"github.com/danuprasetya/go-shop-checkout/internal/logging"
	"github.com/danuprasetya/go-shop-checkout/internal/notify"
	"github.com/danuprasetya/go-shop-checkout/internal/postgres"
	"github.com/danuprasetya/go-shop-checkout/internal/reaper"
)

const sweepInterval = time.Minute

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.Init("reaper", "./logs/reaper.log")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, notify.TopicOrderEvents, 256)
	prod.Start(ctx)

	store := checkout.NewPgStore(db)
	events := notify.NewEmitter(prod, "reaper", logging.New("emitter"))
	r := reaper.New(store, events, cfg.ReservationTTL, sweepInterval, logger)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("reaper running", "ttl", cfg.ReservationTTL.String(), "interval", sweepInterval.String())
	r.Run(ctx)

	prod.Close()
	prod.WaitClosed()
}
