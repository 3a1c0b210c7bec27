package services

import (
	"context"

	"buytap/internal/events"
	"buytap/internal/models"
)

// Pair runs one matching pass for the given order under the global matching
// lock. Lock contention is a soft no-op: the order stays eligible and the
// next trigger retries.
func (s *OrderService) Pair(ctx context.Context, orderID string) error {
	release, ok := s.Locker.TryLock(ctx)
	if !ok {
		return nil
	}
	defer release()
	return s.pairLocked(ctx, orderID)
}

func (s *OrderService) pairLocked(ctx context.Context, orderID string) error {
	order, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	switch order.Status.Side() {
	case models.SideBuyer:
		return s.pairBuyer(ctx, order)
	case models.SideSeller:
		return s.pairSeller(ctx, order)
	}
	// Any other lifecycle stage is not matchable; nothing to do.
	return nil
}

func (s *OrderService) pairBuyer(ctx context.Context, buyer *models.Order) error {
	remaining, err := s.buyerRemaining(ctx, buyer)
	if err != nil {
		return err
	}
	if remaining.Sign() <= 0 {
		return s.markPairedIfFull(ctx, buyer)
	}

	sellers, err := s.Store.ListOrdersByStatus(ctx, models.OrderMatured)
	if err != nil {
		return err
	}
	for _, seller := range sellers {
		if seller.Owner == buyer.Owner {
			continue
		}
		if _, err := s.allocateChunk(ctx, buyer, seller); err != nil {
			return err
		}
		remaining, err = s.buyerRemaining(ctx, buyer)
		if err != nil {
			return err
		}
		if remaining.Sign() <= 0 {
			break
		}
	}
	return s.markPairedIfFull(ctx, buyer)
}

func (s *OrderService) pairSeller(ctx context.Context, seller *models.Order) error {
	remaining, err := s.sellerRemaining(ctx, seller)
	if err != nil {
		return err
	}
	if remaining.Sign() <= 0 {
		return nil
	}

	buyers, err := s.Store.ListOrdersByStatus(ctx, models.OrderPending, models.OrderPaired)
	if err != nil {
		return err
	}
	for _, buyer := range buyers {
		if buyer.Owner == seller.Owner {
			continue
		}
		if _, err := s.allocateChunk(ctx, buyer, seller); err != nil {
			return err
		}
		remaining, err = s.sellerRemaining(ctx, seller)
		if err != nil {
			return err
		}
		if remaining.Sign() <= 0 {
			break
		}
	}
	return nil
}

// allocateChunk reserves min(buyer remaining, seller remaining) from the
// seller's capacity counter and records it as one chunk. The reservation is
// the linearization point: a failed conditional decrement means another pass
// won the race and nothing is taken. The open-pair uniqueness check happens
// inside the insert itself (partial unique index / equivalent), so a rejected
// insert just gives the reservation back.
func (s *OrderService) allocateChunk(ctx context.Context, buyer, seller *models.Order) (bool, error) {
	want, err := s.buyerRemaining(ctx, buyer)
	if err != nil {
		return false, err
	}
	if want.LessThan(s.minChunk()) {
		return false, nil
	}

	amount, err := s.Store.ReserveSellerCapacity(ctx, seller.ID, want)
	if err != nil {
		return false, err
	}
	if amount.Sign() <= 0 {
		return false, nil
	}
	if amount.LessThan(s.minChunk()) {
		// Residual capacity below granularity; hand it back untouched.
		if err := s.Store.ReturnSellerCapacity(ctx, seller.ID, amount); err != nil {
			return false, err
		}
		return false, nil
	}

	chunk := &models.Chunk{
		BuyerOrderID:  buyer.ID,
		SellerOrderID: seller.ID,
		Amount:        amount,
		Status:        models.ChunkAwaitingPayment,
		PairedAt:      s.now(),
	}
	inserted, err := s.Store.InsertChunk(ctx, chunk)
	if err != nil {
		if giveErr := s.Store.ReturnSellerCapacity(ctx, seller.ID, amount); giveErr != nil {
			return false, giveErr
		}
		return false, err
	}
	if !inserted {
		// An open chunk for this pair already exists.
		if err := s.Store.ReturnSellerCapacity(ctx, seller.ID, amount); err != nil {
			return false, err
		}
		return false, nil
	}

	s.publish(ctx, events.Event{
		Type:    events.ChunkPaired,
		OrderID: buyer.ID,
		ChunkID: chunk.ID,
		Amount:  amount.String(),
	})

	// Refresh the display caches from the ledger.
	buyerRem, err := s.buyerRemaining(ctx, buyer)
	if err != nil {
		return true, err
	}
	if err := s.Store.SetRemainingToSend(ctx, buyer.ID, buyerRem); err != nil {
		return true, err
	}
	sellerRem, err := s.sellerRemaining(ctx, seller)
	if err != nil {
		return true, err
	}
	if err := s.Store.SetRemainingToReceive(ctx, seller.ID, sellerRem); err != nil {
		return true, err
	}

	if buyerRem.Sign() <= 0 && buyer.Status == models.OrderPending {
		if err := s.Store.SetOrderStatus(ctx, buyer.ID, models.OrderPaired, models.SubWaitingForPayment); err != nil {
			return true, err
		}
		buyer.Status = models.OrderPaired
		s.publish(ctx, events.Event{Type: events.OrderPaired, OrderID: buyer.ID})
	}
	return true, nil
}

// markPairedIfFull reconciles a Pending buyer that is already fully
// allocated (e.g. a pass interrupted between insert and status update).
func (s *OrderService) markPairedIfFull(ctx context.Context, buyer *models.Order) error {
	if buyer.Status != models.OrderPending {
		return nil
	}
	remaining, err := s.buyerRemaining(ctx, buyer)
	if err != nil {
		return err
	}
	allocated, err := s.Store.CountBuyerChunks(ctx, buyer.ID)
	if err != nil {
		return err
	}
	if remaining.Sign() > 0 || allocated == 0 {
		return nil
	}
	if err := s.Store.SetOrderStatus(ctx, buyer.ID, models.OrderPaired, models.SubWaitingForPayment); err != nil {
		return err
	}
	buyer.Status = models.OrderPaired
	s.publish(ctx, events.Event{Type: events.OrderPaired, OrderID: buyer.ID})
	return nil
}
