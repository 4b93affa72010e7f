package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/danuprasetya/go-shop-checkout/internal/checkout"
	"github.com/danuprasetya/go-shop-checkout/internal/config"
	"github.com/danuprasetya/go-shop-checkout/internal/gateway"
	"github.com/danuprasetya/go-shop-checkout/internal/httpx"
	kafkax "github.com/danuprasetya/go-shop-checkout/internal/kafka"
	"github.com/danuprasetya/go-shop-checkout/internal/logging"
	"github.com/danuprasetya/go-shop-checkout/internal/notify"
	"github.com/danuprasetya/go-shop-checkout/internal/postgres"
	"github.com/danuprasetya/go-shop-checkout/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.Init(cfg.ServiceName, "./logs/api.log")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, notify.TopicOrderEvents, 1024)
	prod.Start(ctx)

	store := checkout.NewPgStore(db)
	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey, cfg.ClientURL)
	verifier := gateway.NewWebhookVerifier(cfg.WebhookSecret)
	events := notify.NewEmitter(prod, cfg.ServiceName, logging.New("emitter"))

	svc := checkout.NewService(store, gw, events, logging.New("checkout"))
	rec := checkout.NewReconciler(store, verifier, events, logging.New("reconciler"))

	router := httpx.NewRouter()
	(&httpx.OrdersHandler{Service: svc, Redis: rdb}).Register(router)
	(&httpx.WebhookHandler{Reconciler: rec}).Register(router)
	(&httpx.NotificationsHandler{Store: notify.NewStore(db)}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close() // close inbox so buffered events flush
	cancel()
	prod.WaitClosed()
}
