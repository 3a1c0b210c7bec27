package services

import (
	"context"
	"log"

	"buytap/internal/events"
	"buytap/internal/models"

	"github.com/shopspring/decimal"
)

// referralBonusRate is the upline's cut of a downline purchase, credited as
// a pending bonus.
var referralBonusRate = decimal.NewFromFloat(0.03)

// SetReferrer records who referred the caller. The upline earns a pending
// bonus on each of the caller's purchases.
func (s *OrderService) SetReferrer(ctx context.Context, owner, upline string) error {
	if owner == "" {
		return ErrMissingOwner
	}
	if upline == "" || upline == owner {
		return ErrInvalidReferral
	}
	return s.Store.SetReferrer(ctx, owner, upline)
}

func (s *OrderService) ListBonuses(ctx context.Context, owner string) ([]*models.Bonus, error) {
	if owner == "" {
		return nil, ErrMissingOwner
	}
	return s.Store.ListBonuses(ctx, owner)
}

// applyPendingBonuses consumes the owner's pending bonuses into a freshly
// created order and returns the total applied. Each bonus is consumed with a
// conditional update, so a concurrent purchase cannot double-spend it.
func (s *OrderService) applyPendingBonuses(ctx context.Context, owner, orderID string) (decimal.Decimal, error) {
	pending, err := s.Store.ListPendingBonuses(ctx, owner)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, b := range pending {
		ok, err := s.Store.ApplyBonus(ctx, b.ID, orderID)
		if err != nil {
			return total, err
		}
		if !ok {
			continue
		}
		total = total.Add(b.Amount)
		s.publish(ctx, events.Event{
			Type:    events.BonusApplied,
			OrderID: orderID,
			Owner:   owner,
			Amount:  b.Amount.String(),
		})
	}
	return total, nil
}

// grantReferralBonus credits the buyer's upline with a pending bonus for
// this purchase. Missing upline is the common case and a silent no-op.
func (s *OrderService) grantReferralBonus(ctx context.Context, buyer, orderID string, principal decimal.Decimal) error {
	upline, err := s.Store.GetReferrer(ctx, buyer)
	if err != nil {
		return err
	}
	if upline == "" || upline == buyer {
		return nil
	}

	bonus := &models.Bonus{
		Owner:         upline,
		SourceOrderID: orderID,
		SourceOwner:   buyer,
		Amount:        principal.Mul(referralBonusRate).Round(2),
		Status:        models.BonusPending,
		CreatedAt:     s.now(),
	}
	if err := s.Store.GrantBonus(ctx, bonus); err != nil {
		return err
	}
	log.Printf("referral bonus %s granted to %s for order %s", bonus.Amount.String(), upline, orderID)
	s.publish(ctx, events.Event{
		Type:    events.BonusGranted,
		OrderID: orderID,
		Owner:   upline,
		Amount:  bonus.Amount.String(),
	})
	return nil
}
