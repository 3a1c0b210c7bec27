package services

import (
	"context"
	"log"
	"time"

	"buytap/internal/events"
	"buytap/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderService is the marketplace engine: order intake, matching,
// settlement and the lifecycle sweeps all run through it.
type OrderService struct {
	Store  Store
	Locker Locker
	// Events may be nil; publishing is advisory.
	Events events.Sink
	// Now is overridable for tests. Defaults to time.Now in UTC.
	Now func() time.Time

	MinPrincipal decimal.Decimal
	// MinChunk is the smallest allocation the matcher will create.
	// Defaults to 1 unit.
	MinChunk decimal.Decimal
	// PaymentDeadline is how long a chunk may sit unpaid before the
	// timeout sweep voids it. Defaults to one hour.
	PaymentDeadline time.Duration
}

func (s *OrderService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *OrderService) minChunk() decimal.Decimal {
	if s.MinChunk.Sign() > 0 {
		return s.MinChunk
	}
	return decimal.NewFromInt(1)
}

func (s *OrderService) deadline() time.Duration {
	if s.PaymentDeadline > 0 {
		return s.PaymentDeadline
	}
	return time.Hour
}

func (s *OrderService) publish(ctx context.Context, ev events.Event) {
	if s.Events == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	s.Events.Publish(ctx, ev)
}

// publishPool reports a pool mutation with its reason. The pool is a bare
// counter; the reason string in the event/log line is its audit trail.
func (s *OrderService) publishPool(ctx context.Context, reason string, delta decimal.Decimal) {
	balance, err := s.Store.PoolBalance(ctx)
	if err != nil {
		log.Printf("pool balance read failed: %v", err)
		return
	}
	log.Printf("pool %s delta=%s balance=%s", reason, delta.String(), balance.String())
	s.publish(ctx, events.Event{
		Type:    events.PoolChanged,
		Amount:  delta.String(),
		Balance: balance.String(),
		Reason:  reason,
	})
}

// CreateBuyerOrder places a new buy-side commitment: the pool is debited,
// the order enters Pending and a matching pass runs immediately.
func (s *OrderService) CreateBuyerOrder(ctx context.Context, owner string, principal decimal.Decimal, durationDays int) (*models.Order, error) {
	if owner == "" {
		return nil, ErrMissingOwner
	}
	if principal.Sign() <= 0 || principal.LessThan(s.MinPrincipal) {
		return nil, ErrInvalidAmount
	}
	plan, ok := models.PlanForDays(durationDays)
	if !ok {
		return nil, ErrInvalidDuration
	}

	now := s.now()
	order := &models.Order{
		ID:              uuid.NewString(),
		Owner:           owner,
		Status:          models.OrderPending,
		SubStatus:       models.SubPending,
		Details:         plan.Describe(principal),
		Principal:       principal,
		TargetPayout:    plan.Payout(principal),
		RemainingToSend: principal,
		DurationDays:    plan.Days,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// Debit ahead of the insert; a failed insert compensates the debit so
	// neither side is left half-done.
	if err := s.Store.DebitPool(ctx, principal); err != nil {
		return nil, err
	}
	if err := s.Store.CreateOrder(ctx, order); err != nil {
		if creditErr := s.Store.CreditPool(ctx, principal); creditErr != nil {
			log.Printf("pool compensation after failed create order=%s: %v", order.ID, creditErr)
		}
		return nil, err
	}
	s.publishPool(ctx, "purchase debit", principal.Neg())
	s.publish(ctx, events.Event{Type: events.OrderCreated, OrderID: order.ID, Owner: owner, Amount: principal.String()})

	// Pending referral bonuses ride on this purchase and raise its payout
	// target.
	bonus, err := s.applyPendingBonuses(ctx, owner, order.ID)
	if err != nil {
		log.Printf("bonus application order=%s failed: %v", order.ID, err)
	} else if bonus.Sign() > 0 {
		if err := s.Store.ApplyOrderBonus(ctx, order.ID, bonus); err != nil {
			return nil, err
		}
		order.TargetPayout = order.TargetPayout.Add(bonus)
		order.AppliedBonus = order.AppliedBonus.Add(bonus)
		log.Printf("order %s payout raised by bonus %s to %s", order.ID, bonus.String(), order.TargetPayout.String())
	}

	if err := s.grantReferralBonus(ctx, owner, order.ID, principal); err != nil {
		log.Printf("referral bonus grant order=%s failed: %v", order.ID, err)
	}

	// Best effort: a missed pass is retried by the next sweep.
	if err := s.Pair(ctx, order.ID); err != nil {
		log.Printf("pairing after create failed order=%s: %v", order.ID, err)
	}
	return order, nil
}

// AdminReinstate moves a Revoked order back to Pending and re-debits the
// pool, then retries matching.
func (s *OrderService) AdminReinstate(ctx context.Context, orderID string) (*models.Order, error) {
	ok, err := s.Store.ReinstateOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.Store.GetOrder(ctx, orderID); err != nil {
			return nil, err
		}
		return nil, ErrNotRevoked
	}

	order, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if err := s.Store.DebitPool(ctx, order.Principal); err != nil {
		return nil, err
	}
	s.publishPool(ctx, "reinstate debit", order.Principal.Neg())

	if err := s.Pair(ctx, orderID); err != nil {
		log.Printf("pairing after reinstate failed order=%s: %v", orderID, err)
	}
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.Store.GetOrder(ctx, orderID)
}

func (s *OrderService) ListOwnerOrders(ctx context.Context, owner string, statuses ...models.OrderStatus) ([]*models.Order, error) {
	if owner == "" {
		return nil, ErrMissingOwner
	}
	return s.Store.ListOrdersByOwner(ctx, owner, statuses...)
}

func (s *OrderService) ListBuyerChunks(ctx context.Context, orderID string) ([]*models.Chunk, error) {
	if _, err := s.Store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.Store.ListBuyerChunks(ctx, orderID)
}

func (s *OrderService) ListSellerChunks(ctx context.Context, orderID string) ([]*models.Chunk, error) {
	if _, err := s.Store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.Store.ListSellerChunks(ctx, orderID)
}

func (s *OrderService) PoolBalance(ctx context.Context) (decimal.Decimal, error) {
	return s.Store.PoolBalance(ctx)
}

// SetPoolBalance is the admin override for the pool counter.
func (s *OrderService) SetPoolBalance(ctx context.Context, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if err := s.Store.SetPool(ctx, amount); err != nil {
		return err
	}
	s.publishPool(ctx, "admin set", amount)
	return nil
}

// buyerRemaining reconciles the buyer's outstanding balance from the chunk
// ledger. Cached columns are never trusted for allocation decisions.
func (s *OrderService) buyerRemaining(ctx context.Context, o *models.Order) (decimal.Decimal, error) {
	allocated, err := s.Store.BuyerAllocated(ctx, o.ID)
	if err != nil {
		return decimal.Zero, err
	}
	rem := o.Principal.Sub(allocated)
	if rem.Sign() < 0 {
		rem = decimal.Zero
	}
	return rem, nil
}

// sellerRemaining is the ledger-derived seller counterpart; distinct from
// the SellerRemaining reservation counter, which only arbitrates races.
func (s *OrderService) sellerRemaining(ctx context.Context, o *models.Order) (decimal.Decimal, error) {
	allocated, err := s.Store.SellerAllocated(ctx, o.ID)
	if err != nil {
		return decimal.Zero, err
	}
	rem := o.TargetPayout.Sub(allocated)
	if rem.Sign() < 0 {
		rem = decimal.Zero
	}
	return rem, nil
}
