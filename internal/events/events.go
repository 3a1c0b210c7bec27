package events

import (
	"context"
	"time"
)

type Type string

const (
	OrderCreated   Type = "order.created"
	OrderPaired    Type = "order.paired"
	OrderActivated Type = "order.activated"
	OrderMatured   Type = "order.matured"
	OrderClosed    Type = "order.closed"
	OrderRevoked   Type = "order.revoked"
	ChunkPaired    Type = "chunk.paired"
	ChunkPaid      Type = "chunk.paid"
	ChunkReceived  Type = "chunk.received"
	ChunkVoided    Type = "chunk.voided"
	BonusGranted   Type = "bonus.granted"
	BonusApplied   Type = "bonus.applied"
	PoolChanged    Type = "pool.changed"
)

// Event is one lifecycle transition, published for the excluded
// notification and presentation systems. Amounts travel as strings to keep
// the wire format independent of the decimal representation.
type Event struct {
	Type    Type      `json:"type"`
	OrderID string    `json:"orderId,omitempty"`
	Owner   string    `json:"owner,omitempty"`
	ChunkID int64     `json:"chunkId,omitempty"`
	Amount  string    `json:"amount,omitempty"`
	Balance string    `json:"balance,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// Fanout delivers each event to every sink. Sinks are expected to be
// non-blocking; a slow consumer must buffer or drop on its own.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, ev Event) {
	for _, s := range f {
		s.Publish(ctx, ev)
	}
}
