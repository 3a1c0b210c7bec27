package services

import (
	"context"
	"time"

	"buytap/internal/events"
	"buytap/internal/models"

	"github.com/shopspring/decimal"
)

// closeTolerance absorbs cent-level drift when comparing received sums
// against the payout target.
var closeTolerance = decimal.NewFromFloat(0.01)

// MarkChunkPaid is the buyer's off-band payment confirmation. Balances do
// not move: allocation counts Awaiting and Made chunks alike.
func (s *OrderService) MarkChunkPaid(ctx context.Context, chunkID int64, caller string) error {
	chunk, err := s.Store.GetChunk(ctx, chunkID)
	if err != nil {
		return err
	}
	buyer, err := s.Store.GetOrder(ctx, chunk.BuyerOrderID)
	if err != nil {
		return err
	}
	if buyer.Owner != caller {
		return ErrUnauthorized
	}

	ok, err := s.Store.MarkChunkPaymentMade(ctx, chunkID)
	if err != nil {
		return err
	}
	if ok {
		if err := s.Store.SetOrderStatus(ctx, buyer.ID, buyer.Status, models.SubPaymentMade); err != nil {
			return err
		}
		s.publish(ctx, events.Event{
			Type:    events.ChunkPaid,
			OrderID: buyer.ID,
			ChunkID: chunkID,
			Amount:  chunk.Amount.String(),
		})
	}
	// Already paid or received: idempotent success.
	return nil
}

// MarkChunkReceived is the seller's acknowledgement. It may complete the
// buyer (activation) and/or the seller (closure).
func (s *OrderService) MarkChunkReceived(ctx context.Context, chunkID int64, caller string) error {
	chunk, err := s.Store.GetChunk(ctx, chunkID)
	if err != nil {
		return err
	}
	seller, err := s.Store.GetOrder(ctx, chunk.SellerOrderID)
	if err != nil {
		return err
	}
	if seller.Owner != caller {
		return ErrUnauthorized
	}

	ok, err := s.Store.MarkChunkReceived(ctx, chunkID)
	if err != nil {
		return err
	}
	if ok {
		s.publish(ctx, events.Event{
			Type:    events.ChunkReceived,
			OrderID: seller.ID,
			ChunkID: chunkID,
			Amount:  chunk.Amount.String(),
		})
	}

	if err := s.activateBuyerIfComplete(ctx, chunk.BuyerOrderID); err != nil {
		return err
	}
	return s.closeSellerIfFunded(ctx, seller)
}

// activateBuyerIfComplete starts the investment clock once every chunk is
// acknowledged and the buyer has nothing left to allocate.
func (s *OrderService) activateBuyerIfComplete(ctx context.Context, buyerOrderID string) error {
	total, err := s.Store.CountBuyerChunks(ctx, buyerOrderID)
	if err != nil {
		return err
	}
	if total == 0 {
		return nil
	}
	notReceived, err := s.Store.CountBuyerChunksNotReceived(ctx, buyerOrderID)
	if err != nil {
		return err
	}
	if notReceived > 0 {
		return nil
	}

	buyer, err := s.Store.GetOrder(ctx, buyerOrderID)
	if err != nil {
		return err
	}
	remaining, err := s.buyerRemaining(ctx, buyer)
	if err != nil {
		return err
	}
	if remaining.Sign() > 0 {
		return nil
	}

	now := s.now()
	maturityAt := now.Add(time.Duration(buyer.DurationDays) * 24 * time.Hour)
	ok, err := s.Store.ActivateOrder(ctx, buyerOrderID, now, maturityAt)
	if err != nil {
		return err
	}
	if ok {
		s.publish(ctx, events.Event{
			Type:    events.OrderActivated,
			OrderID: buyerOrderID,
			Amount:  buyer.TargetPayout.String(),
		})
	}
	return nil
}

// closeSellerIfFunded closes a seller whose received sum matches its target
// payout within tolerance.
func (s *OrderService) closeSellerIfFunded(ctx context.Context, seller *models.Order) error {
	received, err := s.Store.SellerReceivedSum(ctx, seller.ID)
	if err != nil {
		return err
	}
	if received.Sub(seller.TargetPayout).Abs().GreaterThanOrEqual(closeTolerance) {
		return nil
	}

	ok, err := s.Store.CloseOrder(ctx, seller.ID)
	if err != nil {
		return err
	}
	if ok {
		s.publish(ctx, events.Event{
			Type:    events.OrderClosed,
			OrderID: seller.ID,
			Amount:  received.String(),
		})
	}
	return nil
}
