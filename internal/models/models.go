package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending OrderStatus = "Pending"
	OrderPaired  OrderStatus = "Paired"
	OrderActive  OrderStatus = "Active"
	OrderMatured OrderStatus = "Matured"
	OrderClosed  OrderStatus = "Closed"
	OrderRevoked OrderStatus = "Revoked"
)

// Side is the matching role implied by an order's lifecycle stage. Orders
// always enter on the buy side and only act as sellers once matured, so the
// role is derived rather than stored.
type Side int

const (
	SideNone Side = iota
	SideBuyer
	SideSeller
)

func (s OrderStatus) Side() Side {
	switch s {
	case OrderPending, OrderPaired:
		return SideBuyer
	case OrderMatured:
		return SideSeller
	}
	return SideNone
}

// Sub-status progress notes shown to users.
const (
	SubPending           = "Pending"
	SubWaitingForPayment = "Waiting for Payment"
	SubPaymentMade       = "Payment Made"
	SubWaitingToBePaired = "Waiting to be Paired"
	SubRunning           = "Running"
	SubPaymentTimeout    = "Payment Timeout"
)

type ChunkStatus string

const (
	ChunkAwaitingPayment ChunkStatus = "Awaiting Payment"
	ChunkPaymentMade     ChunkStatus = "Payment Made"
	ChunkReceived        ChunkStatus = "Received"
)

// Terminal reports whether a chunk has reached its final state. Non-terminal
// chunks block re-pairing of the same buyer/seller pair.
func (s ChunkStatus) Terminal() bool {
	return s == ChunkReceived
}

type Order struct {
	ID                 string
	Owner              string
	Status             OrderStatus
	SubStatus          string
	Details            string
	Principal          decimal.Decimal
	TargetPayout       decimal.Decimal
	RemainingToSend    decimal.Decimal
	RemainingToReceive decimal.Decimal
	// SellerRemaining is the atomically reserved seller capacity counter.
	// It is authoritative only while a matching pass races; displayed
	// balances are always recomputed from the chunk ledger.
	SellerRemaining decimal.Decimal
	// AppliedBonus is the referral bonus total folded into TargetPayout
	// at creation.
	AppliedBonus decimal.Decimal
	DurationDays int
	MaturityAt      *time.Time
	ActivatedAt     *time.Time
	ReturnedToPool  bool
	RevokedAt       *time.Time
	RevokedReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type BonusStatus string

const (
	BonusPending BonusStatus = "pending"
	BonusApplied BonusStatus = "applied"
)

// Bonus is a referral reward earned when a downline purchases. It sits
// pending until the owner's next purchase, which consumes it by raising that
// order's payout target.
type Bonus struct {
	ID             int64
	Owner          string
	SourceOrderID  string
	SourceOwner    string
	Amount         decimal.Decimal
	Status         BonusStatus
	AppliedOrderID string
	CreatedAt      time.Time
}

type Chunk struct {
	ID            int64
	BuyerOrderID  string
	SellerOrderID string
	Amount        decimal.Decimal
	Status        ChunkStatus
	PairedAt      time.Time
}

// Plan is one of the fixed investment duration options offered on the
// purchase form.
type Plan struct {
	Days          int
	ProfitPercent int64
}

var Plans = []Plan{
	{Days: 4, ProfitPercent: 30},
	{Days: 8, ProfitPercent: 65},
	{Days: 12, ProfitPercent: 95},
}

func PlanForDays(days int) (Plan, bool) {
	for _, p := range Plans {
		if p.Days == days {
			return p, true
		}
	}
	return Plan{}, false
}

// Payout is the amount owed back for a principal under this plan,
// rounded to cents.
func (p Plan) Payout(principal decimal.Decimal) decimal.Decimal {
	profit := principal.Mul(decimal.NewFromInt(p.ProfitPercent)).Div(decimal.NewFromInt(100))
	return principal.Add(profit).Round(2)
}

func (p Plan) Describe(principal decimal.Decimal) string {
	return fmt.Sprintf("%s for %d%% in %d Days", principal.String(), p.ProfitPercent, p.Days)
}
