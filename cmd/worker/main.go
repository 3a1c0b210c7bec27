package main

import (
	"context"
	"log"
	"time"

	"buytap/internal/config"
	"buytap/internal/db"
	"buytap/internal/events"
	"buytap/internal/services"
	"buytap/internal/store"
	"buytap/internal/worker"

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

	var sinks events.Fanout
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

	w := &worker.Worker{
		Service:  orderSvc,
		Interval: time.Duration(cfg.Worker.IntervalSeconds) * time.Second,
	}

	log.Printf("worker started (interval=%s)", w.Interval)
	w.Run(ctx)
}
