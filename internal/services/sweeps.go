package services

import (
	"context"
	"log"

	"buytap/internal/events"
	"buytap/internal/models"
)

// revokeReasonTimeout is recorded on orders revoked by the timeout sweep.
const revokeReasonTimeout = "Timeout on pending payments."

// RunMaturitySweep promotes due Active orders to Matured, re-arms their
// seller capacity, pairs them and credits the pool once per order. Safe to
// run repeatedly: the status condition and the returned-to-pool flag make
// every step idempotent. Per-order failures are logged and skipped.
func (s *OrderService) RunMaturitySweep(ctx context.Context) (int, error) {
	due, err := s.Store.ListActiveDue(ctx, s.now())
	if err != nil {
		return 0, err
	}

	matured := 0
	for _, order := range due {
		ok, err := s.Store.MatureOrder(ctx, order.ID, order.TargetPayout)
		if err != nil {
			log.Printf("mature order %s failed: %v", order.ID, err)
			continue
		}
		if !ok {
			continue
		}
		matured++
		s.publish(ctx, events.Event{
			Type:    events.OrderMatured,
			OrderID: order.ID,
			Amount:  order.TargetPayout.String(),
		})

		if err := s.Pair(ctx, order.ID); err != nil {
			log.Printf("pairing matured order %s failed: %v", order.ID, err)
		}

		// The pool credit happens at maturity, not at settlement: the
		// counter models supply available for new purchases.
		credited, err := s.Store.MarkReturnedToPool(ctx, order.ID)
		if err != nil {
			log.Printf("returned-to-pool flag %s failed: %v", order.ID, err)
			continue
		}
		if credited {
			if err := s.Store.CreditPool(ctx, order.TargetPayout); err != nil {
				log.Printf("pool credit for %s failed: %v", order.ID, err)
				continue
			}
			s.publishPool(ctx, "maturity return", order.TargetPayout)
		}
	}
	return matured, nil
}

// RunTimeoutSweep voids chunks left unpaid past the payment deadline,
// returns their capacity to the seller, and revokes buyers that ended up
// with no chunks and an unpaid balance. The void re-checks the chunk status
// in the delete itself, so a confirmation racing the sweep wins.
func (s *OrderService) RunTimeoutSweep(ctx context.Context) (int, error) {
	deadline := s.now().Add(-s.deadline())
	overdue, err := s.Store.ListOverdueChunks(ctx, deadline)
	if err != nil {
		return 0, err
	}

	voided := 0
	for _, chunk := range overdue {
		ok, err := s.Store.DeleteChunkIfAwaiting(ctx, chunk.ID)
		if err != nil {
			log.Printf("void chunk %d failed: %v", chunk.ID, err)
			continue
		}
		if !ok {
			// Paid in the interim; leave it alone.
			continue
		}
		voided++

		if err := s.Store.ReturnSellerCapacity(ctx, chunk.SellerOrderID, chunk.Amount); err != nil {
			log.Printf("capacity give-back seller=%s failed: %v", chunk.SellerOrderID, err)
		}
		s.publish(ctx, events.Event{
			Type:    events.ChunkVoided,
			OrderID: chunk.BuyerOrderID,
			ChunkID: chunk.ID,
			Amount:  chunk.Amount.String(),
			Reason:  revokeReasonTimeout,
		})

		if err := s.settleTimeout(ctx, chunk); err != nil {
			log.Printf("timeout settle chunk=%d failed: %v", chunk.ID, err)
		}
	}
	return voided, nil
}

func (s *OrderService) settleTimeout(ctx context.Context, chunk *models.Chunk) error {
	buyer, err := s.Store.GetOrder(ctx, chunk.BuyerOrderID)
	if err != nil {
		return err
	}
	seller, err := s.Store.GetOrder(ctx, chunk.SellerOrderID)
	if err != nil {
		return err
	}

	buyerLeft, err := s.buyerRemaining(ctx, buyer)
	if err != nil {
		return err
	}
	if err := s.Store.SetRemainingToSend(ctx, buyer.ID, buyerLeft); err != nil {
		return err
	}
	sellerLeft, err := s.sellerRemaining(ctx, seller)
	if err != nil {
		return err
	}
	if err := s.Store.SetRemainingToReceive(ctx, seller.ID, sellerLeft); err != nil {
		return err
	}

	chunksLeft, err := s.Store.CountBuyerChunks(ctx, buyer.ID)
	if err != nil {
		return err
	}
	if buyerLeft.Sign() > 0 && chunksLeft == 0 {
		revoked, err := s.Store.RevokeOrder(ctx, buyer.ID, revokeReasonTimeout, s.now())
		if err != nil {
			return err
		}
		if revoked {
			// Refund only the never-funded remainder; settled portions
			// stay settled.
			if err := s.Store.CreditPool(ctx, buyerLeft); err != nil {
				return err
			}
			s.publishPool(ctx, "timeout refund", buyerLeft)
			s.publish(ctx, events.Event{
				Type:    events.OrderRevoked,
				OrderID: buyer.ID,
				Amount:  buyerLeft.String(),
				Reason:  revokeReasonTimeout,
			})
			log.Printf("order %s revoked reason=%q refund=%s", buyer.ID, revokeReasonTimeout, buyerLeft.String())
		}
	}

	// A seller that lost a chunk goes back to matching unless it closed.
	if _, err := s.Store.ReopenSeller(ctx, seller.ID); err != nil {
		return err
	}
	return nil
}

// RunMatchingSweep retries pairing for every eligible order under a single
// lock acquisition. Orders that fail are logged and skipped.
func (s *OrderService) RunMatchingSweep(ctx context.Context) (int, error) {
	release, ok := s.Locker.TryLock(ctx)
	if !ok {
		return 0, nil
	}
	defer release()

	orders, err := s.Store.ListOrdersByStatus(ctx, models.OrderPending, models.OrderPaired, models.OrderMatured)
	if err != nil {
		return 0, err
	}

	paired := 0
	for _, order := range orders {
		if err := s.pairLocked(ctx, order.ID); err != nil {
			log.Printf("matching sweep order %s failed: %v", order.ID, err)
			continue
		}
		paired++
	}
	return paired, nil
}
