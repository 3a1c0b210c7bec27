// Package memory is an in-process implementation of the engine's store
// contract. It backs the test suite and local development; the conditional
// mutations hold the store mutex, which makes them linearizable the same way
// the SQL store's single-statement updates are.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"buytap/internal/models"
	"buytap/internal/services"

	"github.com/shopspring/decimal"
)

type Store struct {
	mu       sync.Mutex
	matching sync.Mutex

	orders      map[string]*models.Order
	chunks      map[int64]*models.Chunk
	bonuses     map[int64]*models.Bonus
	referrers   map[string]string
	nextChunkID int64
	nextBonusID int64
	pool        decimal.Decimal
}

func New(initialPool decimal.Decimal) *Store {
	return &Store{
		orders:      make(map[string]*models.Order),
		chunks:      make(map[int64]*models.Chunk),
		bonuses:     make(map[int64]*models.Bonus),
		referrers:   make(map[string]string),
		nextChunkID: 1,
		nextBonusID: 1,
		pool:        initialPool,
	}
}

func (s *Store) TryLock(ctx context.Context) (func(), bool) {
	if !s.matching.TryLock() {
		return nil, false
	}
	return s.matching.Unlock, true
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	return &c
}

func cloneChunk(c *models.Chunk) *models.Chunk {
	d := *c
	return &d
}

func (s *Store) CreateOrder(ctx context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) ListOrdersByStatus(ctx context.Context, statuses ...models.OrderStatus) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Order
	for _, o := range s.orders {
		for _, st := range statuses {
			if o.Status == st {
				out = append(out, cloneOrder(o))
				break
			}
		}
	}
	sortOldestFirst(out)
	return out, nil
}

func (s *Store) ListOrdersByOwner(ctx context.Context, owner string, statuses ...models.OrderStatus) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Order
	for _, o := range s.orders {
		if o.Owner != owner {
			continue
		}
		if len(statuses) == 0 {
			out = append(out, cloneOrder(o))
			continue
		}
		for _, st := range statuses {
			if o.Status == st {
				out = append(out, cloneOrder(o))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) ListActiveDue(ctx context.Context, now time.Time) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Order
	for _, o := range s.orders {
		if o.Status == models.OrderActive && o.MaturityAt != nil && !o.MaturityAt.After(now) {
			out = append(out, cloneOrder(o))
		}
	}
	sortOldestFirst(out)
	return out, nil
}

func sortOldestFirst(orders []*models.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}

func (s *Store) SetOrderStatus(ctx context.Context, id string, status models.OrderStatus, subStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return services.ErrNotFound
	}
	o.Status = status
	o.SubStatus = subStatus
	return nil
}

func (s *Store) SetRemainingToSend(ctx context.Context, id string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return services.ErrNotFound
	}
	o.RemainingToSend = amount
	return nil
}

func (s *Store) SetRemainingToReceive(ctx context.Context, id string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return services.ErrNotFound
	}
	o.RemainingToReceive = amount
	return nil
}

func (s *Store) ActivateOrder(ctx context.Context, id string, activatedAt, maturityAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || (o.Status != models.OrderPending && o.Status != models.OrderPaired) {
		return false, nil
	}
	o.Status = models.OrderActive
	o.SubStatus = models.SubRunning
	at, mt := activatedAt, maturityAt
	o.ActivatedAt = &at
	o.MaturityAt = &mt
	return true, nil
}

func (s *Store) MatureOrder(ctx context.Context, id string, sellerRemaining decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != models.OrderActive {
		return false, nil
	}
	o.Status = models.OrderMatured
	o.SubStatus = models.SubWaitingToBePaired
	o.SellerRemaining = sellerRemaining
	o.RemainingToReceive = sellerRemaining
	return true, nil
}

func (s *Store) CloseOrder(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != models.OrderMatured {
		return false, nil
	}
	o.Status = models.OrderClosed
	o.SubStatus = ""
	o.RemainingToReceive = decimal.Zero
	return true, nil
}

func (s *Store) RevokeOrder(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || (o.Status != models.OrderPending && o.Status != models.OrderPaired) {
		return false, nil
	}
	o.Status = models.OrderRevoked
	o.SubStatus = models.SubPaymentTimeout
	o.RevokedReason = reason
	t := at
	o.RevokedAt = &t
	return true, nil
}

func (s *Store) ReinstateOrder(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != models.OrderRevoked {
		return false, nil
	}
	o.Status = models.OrderPending
	o.SubStatus = models.SubPending
	o.RevokedReason = ""
	o.RevokedAt = nil
	o.RemainingToSend = o.Principal
	return true, nil
}

func (s *Store) ReopenSeller(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status == models.OrderClosed {
		return false, nil
	}
	o.Status = models.OrderMatured
	o.SubStatus = models.SubWaitingToBePaired
	return true, nil
}

func (s *Store) MarkReturnedToPool(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.ReturnedToPool {
		return false, nil
	}
	o.ReturnedToPool = true
	return true, nil
}

func (s *Store) ReserveSellerCapacity(ctx context.Context, sellerID string, upTo decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[sellerID]
	if !ok {
		return decimal.Zero, services.ErrNotFound
	}
	if upTo.Sign() <= 0 || o.SellerRemaining.Sign() <= 0 {
		return decimal.Zero, nil
	}
	take := decimal.Min(upTo, o.SellerRemaining)
	o.SellerRemaining = o.SellerRemaining.Sub(take)
	return take, nil
}

func (s *Store) ReturnSellerCapacity(ctx context.Context, sellerID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[sellerID]
	if !ok {
		return services.ErrNotFound
	}
	if amount.Sign() > 0 {
		o.SellerRemaining = o.SellerRemaining.Add(amount)
	}
	return nil
}

func (s *Store) InsertChunk(ctx context.Context, c *models.Chunk) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.chunks {
		if existing.BuyerOrderID == c.BuyerOrderID &&
			existing.SellerOrderID == c.SellerOrderID &&
			!existing.Status.Terminal() {
			return false, nil
		}
	}

	c.ID = s.nextChunkID
	s.nextChunkID++
	s.chunks[c.ID] = cloneChunk(c)
	return true, nil
}

func (s *Store) GetChunk(ctx context.Context, id int64) (*models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	return cloneChunk(c), nil
}

func (s *Store) ListBuyerChunks(ctx context.Context, buyerOrderID string) ([]*models.Chunk, error) {
	return s.listChunks(func(c *models.Chunk) bool { return c.BuyerOrderID == buyerOrderID }), nil
}

func (s *Store) ListSellerChunks(ctx context.Context, sellerOrderID string) ([]*models.Chunk, error) {
	return s.listChunks(func(c *models.Chunk) bool { return c.SellerOrderID == sellerOrderID }), nil
}

func (s *Store) ListOverdueChunks(ctx context.Context, deadline time.Time) ([]*models.Chunk, error) {
	return s.listChunks(func(c *models.Chunk) bool {
		return c.Status == models.ChunkAwaitingPayment && !c.PairedAt.After(deadline)
	}), nil
}

func (s *Store) listChunks(keep func(*models.Chunk) bool) []*models.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Chunk
	for _, c := range s.chunks {
		if keep(c) {
			out = append(out, cloneChunk(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) MarkChunkPaymentMade(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[id]
	if !ok || c.Status != models.ChunkAwaitingPayment {
		return false, nil
	}
	c.Status = models.ChunkPaymentMade
	return true, nil
}

func (s *Store) MarkChunkReceived(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[id]
	if !ok || c.Status.Terminal() {
		return false, nil
	}
	c.Status = models.ChunkReceived
	return true, nil
}

func (s *Store) DeleteChunkIfAwaiting(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[id]
	if !ok || c.Status != models.ChunkAwaitingPayment {
		return false, nil
	}
	delete(s.chunks, id)
	return true, nil
}

func (s *Store) BuyerAllocated(ctx context.Context, buyerOrderID string) (decimal.Decimal, error) {
	return s.sumChunks(func(c *models.Chunk) bool { return c.BuyerOrderID == buyerOrderID }), nil
}

func (s *Store) SellerAllocated(ctx context.Context, sellerOrderID string) (decimal.Decimal, error) {
	return s.sumChunks(func(c *models.Chunk) bool { return c.SellerOrderID == sellerOrderID }), nil
}

func (s *Store) SellerReceivedSum(ctx context.Context, sellerOrderID string) (decimal.Decimal, error) {
	return s.sumChunks(func(c *models.Chunk) bool {
		return c.SellerOrderID == sellerOrderID && c.Status == models.ChunkReceived
	}), nil
}

func (s *Store) sumChunks(keep func(*models.Chunk) bool) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, c := range s.chunks {
		if keep(c) {
			sum = sum.Add(c.Amount)
		}
	}
	return sum
}

func (s *Store) CountBuyerChunks(ctx context.Context, buyerOrderID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.chunks {
		if c.BuyerOrderID == buyerOrderID {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountBuyerChunksNotReceived(ctx context.Context, buyerOrderID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.chunks {
		if c.BuyerOrderID == buyerOrderID && c.Status != models.ChunkReceived {
			n++
		}
	}
	return n, nil
}

func (s *Store) GrantBonus(ctx context.Context, b *models.Bonus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = s.nextBonusID
	s.nextBonusID++
	c := *b
	s.bonuses[b.ID] = &c
	return nil
}

func (s *Store) ListBonuses(ctx context.Context, owner string) ([]*models.Bonus, error) {
	return s.listBonuses(func(b *models.Bonus) bool { return b.Owner == owner }), nil
}

func (s *Store) ListPendingBonuses(ctx context.Context, owner string) ([]*models.Bonus, error) {
	return s.listBonuses(func(b *models.Bonus) bool {
		return b.Owner == owner && b.Status == models.BonusPending
	}), nil
}

func (s *Store) listBonuses(keep func(*models.Bonus) bool) []*models.Bonus {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Bonus
	for _, b := range s.bonuses {
		if keep(b) {
			c := *b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) ApplyBonus(ctx context.Context, id int64, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bonuses[id]
	if !ok || b.Status != models.BonusPending {
		return false, nil
	}
	b.Status = models.BonusApplied
	b.AppliedOrderID = orderID
	return true, nil
}

func (s *Store) ApplyOrderBonus(ctx context.Context, orderID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return services.ErrNotFound
	}
	o.TargetPayout = o.TargetPayout.Add(amount)
	o.AppliedBonus = o.AppliedBonus.Add(amount)
	return nil
}

func (s *Store) SetReferrer(ctx context.Context, owner, upline string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.referrers[owner] = upline
	return nil
}

func (s *Store) GetReferrer(ctx context.Context, owner string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.referrers[owner], nil
}

func (s *Store) PoolBalance(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool, nil
}

func (s *Store) DebitPool(ctx context.Context, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool = s.pool.Sub(amount)
	if s.pool.Sign() < 0 {
		s.pool = decimal.Zero
	}
	return nil
}

func (s *Store) CreditPool(ctx context.Context, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool = s.pool.Add(amount)
	return nil
}

func (s *Store) SetPool(ctx context.Context, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool = amount
	return nil
}
