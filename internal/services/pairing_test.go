package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"buytap/internal/models"

	"github.com/shopspring/decimal"
)

func TestPairExactMatch(t *testing.T) {
	f := newFixture(200000)
	ctx := context.Background()
	seller := f.seedSeller(t, "sam", 1000, baseTime.Add(-time.Hour))

	buyer, err := f.svc.CreateBuyerOrder(ctx, "alice", dec(1000), 8)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	chunks, err := f.st.ListBuyerChunks(ctx, buyer.ID)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if !chunks[0].Amount.Equal(dec(1000)) {
		t.Errorf("chunk amount = %s, want 1000", chunks[0].Amount)
	}
	if chunks[0].Status != models.ChunkAwaitingPayment {
		t.Errorf("chunk status = %s, want Awaiting Payment", chunks[0].Status)
	}

	got := f.mustOrder(t, buyer.ID)
	if got.Status != models.OrderPaired {
		t.Errorf("buyer status = %s, want Paired", got.Status)
	}
	if got.SubStatus != models.SubWaitingForPayment {
		t.Errorf("buyer sub status = %q, want %q", got.SubStatus, models.SubWaitingForPayment)
	}
	if !got.RemainingToSend.Equal(decimal.Zero) {
		t.Errorf("remaining to send = %s, want 0", got.RemainingToSend)
	}

	gotSeller := f.mustOrder(t, seller.ID)
	if !gotSeller.RemainingToReceive.Equal(decimal.Zero) {
		t.Errorf("seller remaining to receive = %s, want 0", gotSeller.RemainingToReceive)
	}
	if gotSeller.Status != models.OrderMatured {
		t.Errorf("seller status = %s, want Matured until payments land", gotSeller.Status)
	}
}

func TestPairSplitsAcrossSellersOldestFirst(t *testing.T) {
	f := newFixture(200000)
	ctx := context.Background()
	older := f.seedSeller(t, "sam", 400, baseTime.Add(-2*time.Hour))
	newer := f.seedSeller(t, "sue", 600, baseTime.Add(-time.Hour))

	buyer, err := f.svc.CreateBuyerOrder(ctx, "alice", dec(1000), 4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	chunks, err := f.st.ListBuyerChunks(ctx, buyer.ID)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0].SellerOrderID != older.ID || !chunks[0].Amount.Equal(dec(400)) {
		t.Errorf("first chunk = %s/%s, want %s/400", chunks[0].SellerOrderID, chunks[0].Amount, older.ID)
	}
	if chunks[1].SellerOrderID != newer.ID || !chunks[1].Amount.Equal(dec(600)) {
		t.Errorf("second chunk = %s/%s, want %s/600", chunks[1].SellerOrderID, chunks[1].Amount, newer.ID)
	}
	if got := f.mustOrder(t, buyer.ID); got.Status != models.OrderPaired {
		t.Errorf("buyer status = %s, want Paired", got.Status)
	}
}

func TestPairSkipsSameOwner(t *testing.T) {
	f := newFixture(200000)
	ctx := context.Background()
	f.seedSeller(t, "alice", 1000, baseTime.Add(-time.Hour))

	buyer, err := f.svc.CreateBuyerOrder(ctx, "alice", dec(1000), 4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	chunks, _ := f.st.ListBuyerChunks(ctx, buyer.ID)
	if len(chunks) != 0 {
		t.Fatalf("chunks = %d, want 0 (self-match)", len(chunks))
	}
	if got := f.mustOrder(t, buyer.ID); got.Status != models.OrderPending {
		t.Errorf("buyer status = %s, want Pending", got.Status)
	}
}

func TestPairWithoutSellersStaysPending(t *testing.T) {
	f := newFixture(200000)
	ctx := context.Background()

	buyer, err := f.svc.CreateBuyerOrder(ctx, "alice", dec(1000), 4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := f.mustOrder(t, buyer.ID); got.Status != models.OrderPending {
		t.Errorf("buyer status = %s, want Pending", got.Status)
	}
}

func TestPairRespectsMinChunk(t *testing.T) {
	f := newFixture(200000)
	f.svc.MinChunk = dec(10)
	ctx := context.Background()
	seller := f.seedSeller(t, "sam", 5, baseTime.Add(-time.Hour))

	buyer, err := f.svc.CreateBuyerOrder(ctx, "alice", dec(1000), 4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	chunks, _ := f.st.ListBuyerChunks(ctx, buyer.ID)
	if len(chunks) != 0 {
		t.Fatalf("chunks = %d, want 0 (below granularity)", len(chunks))
	}
	// The residual reservation must be handed back untouched.
	if got := f.mustOrder(t, seller.ID); !got.SellerRemaining.Equal(dec(5)) {
		t.Errorf("seller remaining = %s, want 5", got.SellerRemaining)
	}
}

func TestPartialFillConservesBalance(t *testing.T) {
	f := newFixture(200000)
	ctx := context.Background()
	f.seedSeller(t, "sam", 600, baseTime.Add(-time.Hour))

	buyer, err := f.svc.CreateBuyerOrder(ctx, "alice", dec(1000), 4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got := f.mustOrder(t, buyer.ID)
	if got.Status != models.OrderPending {
		t.Errorf("buyer status = %s, want Pending while partially filled", got.Status)
	}
	allocated, err := f.st.BuyerAllocated(ctx, buyer.ID)
	if err != nil {
		t.Fatalf("buyer allocated: %v", err)
	}
	if sum := got.RemainingToSend.Add(allocated); !sum.Equal(got.Principal) {
		t.Errorf("remaining(%s) + allocated(%s) = %s, want %s",
			got.RemainingToSend, allocated, sum, got.Principal)
	}

	// A later seller completes the fill via the matching sweep.
	f.seedSeller(t, "sue", 400, f.now)
	if _, err := f.svc.RunMatchingSweep(ctx); err != nil {
		t.Fatalf("matching sweep: %v", err)
	}
	got = f.mustOrder(t, buyer.ID)
	if got.Status != models.OrderPaired {
		t.Errorf("buyer status = %s, want Paired after sweep", got.Status)
	}
	if !got.RemainingToSend.Equal(decimal.Zero) {
		t.Errorf("remaining to send = %s, want 0", got.RemainingToSend)
	}
}

func TestOpenPairBlocksSecondChunk(t *testing.T) {
	f := newFixture(200000)
	ctx := context.Background()
	buyer := f.seedSeller(t, "alice", 1000, baseTime.Add(-time.Hour))
	seller := f.seedSeller(t, "sam", 1000, baseTime.Add(-time.Hour))

	first := &models.Chunk{
		BuyerOrderID:  buyer.ID,
		SellerOrderID: seller.ID,
		Amount:        dec(100),
		Status:        models.ChunkAwaitingPayment,
		PairedAt:      f.now,
	}
	if ok, err := f.st.InsertChunk(ctx, first); err != nil || !ok {
		t.Fatalf("first insert = %v/%v, want accepted", ok, err)
	}

	dup := &models.Chunk{
		BuyerOrderID:  buyer.ID,
		SellerOrderID: seller.ID,
		Amount:        dec(100),
		Status:        models.ChunkAwaitingPayment,
		PairedAt:      f.now,
	}
	if ok, err := f.st.InsertChunk(ctx, dup); err != nil || ok {
		t.Fatalf("duplicate insert = %v/%v, want rejected without error", ok, err)
	}

	// A settled chunk no longer blocks the pair.
	if ok, _ := f.st.MarkChunkReceived(ctx, first.ID); !ok {
		t.Fatal("mark received failed")
	}
	if ok, err := f.st.InsertChunk(ctx, dup); err != nil || !ok {
		t.Fatalf("insert after settle = %v/%v, want accepted", ok, err)
	}
}

func TestConcurrentReservationNeverOvershoots(t *testing.T) {
	f := newFixture(200000)
	ctx := context.Background()
	seller := f.seedSeller(t, "sam", 250, baseTime.Add(-time.Hour))

	const workers = 10
	results := make(chan decimal.Decimal, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.st.ReserveSellerCapacity(ctx, seller.ID, dec(100))
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			results <- got
		}()
	}
	wg.Wait()
	close(results)

	total := decimal.Zero
	for amount := range results {
		total = total.Add(amount)
	}
	if !total.Equal(dec(250)) {
		t.Errorf("total reserved = %s, want exactly 250", total)
	}
	if got := f.mustOrder(t, seller.ID); !got.SellerRemaining.Equal(decimal.Zero) {
		t.Errorf("seller remaining = %s, want 0", got.SellerRemaining)
	}
}
