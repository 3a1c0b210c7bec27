package services

import (
	"context"
	"errors"
	"time"

	"buytap/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrUnauthorized    = errors.New("caller does not own this order")
	ErrMissingOwner    = errors.New("missing owner")
	ErrInvalidAmount   = errors.New("amount below minimum")
	ErrInvalidDuration = errors.New("unknown duration plan")
	ErrNotRevoked      = errors.New("order is not revoked")
	ErrInvalidReferral = errors.New("invalid referral")
)

// Store is the persistence boundary of the engine. Implementations must make
// the conditional mutations (the (bool, error) methods) atomic: the bool is
// false when the stored row no longer satisfied the precondition, which
// callers treat as having lost a race, not as an error.
type Store interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	// ListOrdersByStatus returns matching orders oldest-first
	// (creation time, ties broken by ID ascending).
	ListOrdersByStatus(ctx context.Context, statuses ...models.OrderStatus) ([]*models.Order, error)
	ListOrdersByOwner(ctx context.Context, owner string, statuses ...models.OrderStatus) ([]*models.Order, error)
	ListActiveDue(ctx context.Context, now time.Time) ([]*models.Order, error)

	SetOrderStatus(ctx context.Context, id string, status models.OrderStatus, subStatus string) error
	SetRemainingToSend(ctx context.Context, id string, amount decimal.Decimal) error
	SetRemainingToReceive(ctx context.Context, id string, amount decimal.Decimal) error

	// ActivateOrder moves a fully settled buyer to Active. False when the
	// order was not in a buy-side status anymore.
	ActivateOrder(ctx context.Context, id string, activatedAt, maturityAt time.Time) (bool, error)
	// MatureOrder moves an Active order to Matured and arms the seller
	// capacity counter. False when the order already left Active.
	MatureOrder(ctx context.Context, id string, sellerRemaining decimal.Decimal) (bool, error)
	// CloseOrder closes a fully repaid seller. False unless Matured.
	CloseOrder(ctx context.Context, id string) (bool, error)
	// RevokeOrder revokes an unpaid buyer. False unless Pending/Paired.
	RevokeOrder(ctx context.Context, id, reason string, at time.Time) (bool, error)
	// ReinstateOrder moves a Revoked order back to Pending. False unless
	// Revoked.
	ReinstateOrder(ctx context.Context, id string) (bool, error)
	// ReopenSeller puts a seller back to Matured so it re-enters matching.
	// False when the seller is Closed.
	ReopenSeller(ctx context.Context, id string) (bool, error)
	// MarkReturnedToPool flips the once-only pool credit flag. False when
	// the credit already happened.
	MarkReturnedToPool(ctx context.Context, id string) (bool, error)

	// ReserveSellerCapacity atomically takes min(upTo, remaining) from the
	// seller's capacity counter. Returns zero when the counter is exhausted
	// or a concurrent reservation won the race.
	ReserveSellerCapacity(ctx context.Context, sellerID string, upTo decimal.Decimal) (decimal.Decimal, error)
	// ReturnSellerCapacity gives voided chunk capacity back, as an atomic
	// increment (never an overwrite).
	ReturnSellerCapacity(ctx context.Context, sellerID string, amount decimal.Decimal) error

	InsertChunk(ctx context.Context, c *models.Chunk) (bool, error)
	GetChunk(ctx context.Context, id int64) (*models.Chunk, error)
	ListBuyerChunks(ctx context.Context, buyerOrderID string) ([]*models.Chunk, error)
	ListSellerChunks(ctx context.Context, sellerOrderID string) ([]*models.Chunk, error)
	ListOverdueChunks(ctx context.Context, deadline time.Time) ([]*models.Chunk, error)
	// MarkChunkPaymentMade transitions Awaiting Payment -> Payment Made.
	MarkChunkPaymentMade(ctx context.Context, id int64) (bool, error)
	// MarkChunkReceived transitions any non-terminal chunk -> Received.
	MarkChunkReceived(ctx context.Context, id int64) (bool, error)
	// DeleteChunkIfAwaiting voids a chunk only when it is still unpaid;
	// false means it moved on in the interim and must be left alone.
	DeleteChunkIfAwaiting(ctx context.Context, id int64) (bool, error)

	BuyerAllocated(ctx context.Context, buyerOrderID string) (decimal.Decimal, error)
	SellerAllocated(ctx context.Context, sellerOrderID string) (decimal.Decimal, error)
	SellerReceivedSum(ctx context.Context, sellerOrderID string) (decimal.Decimal, error)
	CountBuyerChunks(ctx context.Context, buyerOrderID string) (int, error)
	CountBuyerChunksNotReceived(ctx context.Context, buyerOrderID string) (int, error)

	GrantBonus(ctx context.Context, b *models.Bonus) error
	ListBonuses(ctx context.Context, owner string) ([]*models.Bonus, error)
	ListPendingBonuses(ctx context.Context, owner string) ([]*models.Bonus, error)
	// ApplyBonus consumes a pending bonus, recording the order it went
	// into. False when the bonus was already applied.
	ApplyBonus(ctx context.Context, id int64, orderID string) (bool, error)
	// ApplyOrderBonus raises an order's payout target by an applied
	// bonus total.
	ApplyOrderBonus(ctx context.Context, orderID string, amount decimal.Decimal) error
	SetReferrer(ctx context.Context, owner, upline string) error
	// GetReferrer returns "" without error when the owner has no upline.
	GetReferrer(ctx context.Context, owner string) (string, error)

	PoolBalance(ctx context.Context) (decimal.Decimal, error)
	// DebitPool subtracts, clamping the balance at zero.
	DebitPool(ctx context.Context, amount decimal.Decimal) error
	CreditPool(ctx context.Context, amount decimal.Decimal) error
	SetPool(ctx context.Context, amount decimal.Decimal) error
}

// Locker guards a whole matching pass. TryLock is best effort: when the lock
// is held elsewhere the caller skips the pass and relies on the next sweep.
type Locker interface {
	TryLock(ctx context.Context) (release func(), ok bool)
}
