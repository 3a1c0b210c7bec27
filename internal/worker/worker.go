package worker

import (
	"context"
	"log"
	"time"

	"buytap/internal/services"
)

// Worker drives the lifecycle sweeps on a timer. Every sweep is idempotent,
// so overlapping or repeated runs are harmless.
type Worker struct {
	Service  *services.OrderService
	Interval time.Duration
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		if err := w.SweepOnce(ctx); err != nil {
			log.Printf("sweep error: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) SweepOnce(ctx context.Context) error {
	matured, err := w.Service.RunMaturitySweep(ctx)
	if err != nil {
		return err
	}
	voided, err := w.Service.RunTimeoutSweep(ctx)
	if err != nil {
		return err
	}
	paired, err := w.Service.RunMatchingSweep(ctx)
	if err != nil {
		return err
	}
	log.Printf("sweep matured=%d voided=%d paired=%d", matured, voided, paired)
	return nil
}
