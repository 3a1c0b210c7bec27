package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"buytap/internal/config"
	"buytap/internal/db"
	"buytap/internal/events"
	internalhttp "buytap/internal/http"
	"buytap/internal/services"
	"buytap/internal/store"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, db.Config{
		DSN:            cfg.DB.DSN,
		MaxConns:       cfg.DB.MaxConns,
		ConnectTimeout: time.Duration(cfg.DB.ConnectTimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	st := store.New(pool)

	hub := internalhttp.NewEventHub()
	defer hub.Close()
	sinks := events.Fanout{hub}
	if cfg.Events.AMQPURL != "" {
		amqp, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			log.Fatalf("amqp connect failed: %v", err)
		}
		defer amqp.Close()
		sinks = append(sinks, amqp)
	}

	orderSvc := &services.OrderService{
		Store:           st,
		Locker:          st,
		Events:          sinks,
		MinPrincipal:    decimal.NewFromInt(cfg.Orders.MinPrincipal),
		MinChunk:        decimal.NewFromInt(cfg.Orders.MinChunk),
		PaymentDeadline: time.Duration(cfg.Orders.PaymentDeadlineMinutes) * time.Minute,
	}

	h := internalhttp.NewHandler(orderSvc, cfg.Server.AdminKey)
	srv := internalhttp.NewServer(h, hub)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router,
	}

	go func() {
		log.Printf("api listening on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
