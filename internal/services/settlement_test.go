package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"buytap/internal/models"
	"buytap/internal/services"
)

func TestMarkChunkPaid(t *testing.T) {
	f := newFixture(200000)
	ctx := context.Background()
	f.seedSeller(t, "sam", 1000, baseTime.Add(-time.Hour))

	buyer, err := f.svc.CreateBuyerOrder(ctx, "alice", dec(1000), 8)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	chunks, _ := f.st.ListBuyerChunks(ctx, buyer.ID)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	chunkID := chunks[0].ID

	if err := f.svc.MarkChunkPaid(ctx, chunkID, "mallory"); !errors.Is(err, services.ErrUnauthorized) {
		t.Errorf("wrong caller err = %v, want ErrUnauthorized", err)
	}
	if err := f.svc.MarkChunkPaid(ctx, 9999, "alice"); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("unknown chunk err = %v, want ErrNotFound", err)
	}

	if err := f.svc.MarkChunkPaid(ctx, chunkID, "alice"); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	chunk, _ := f.st.GetChunk(ctx, chunkID)
	if chunk.Status != models.ChunkPaymentMade {
		t.Errorf("chunk status = %s, want Payment Made", chunk.Status)
	}
	if got := f.mustOrder(t, buyer.ID); got.SubStatus != models.SubPaymentMade {
		t.Errorf("buyer sub status = %q, want %q", got.SubStatus, models.SubPaymentMade)
	}

	// Repeat confirmations are harmless.
	if err := f.svc.MarkChunkPaid(ctx, chunkID, "alice"); err != nil {
		t.Errorf("second mark paid: %v", err)
	}
}

func TestMarkChunkReceivedAuthorization(t *testing.T) {
	f := newFixture(200000)
	ctx := context.Background()
	f.seedSeller(t, "sam", 1000, baseTime.Add(-time.Hour))

	buyer, err := f.svc.CreateBuyerOrder(ctx, "alice", dec(1000), 8)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	chunks, _ := f.st.ListBuyerChunks(ctx, buyer.ID)

	// Only the seller side may acknowledge receipt.
	if err := f.svc.MarkChunkReceived(ctx, chunks[0].ID, "alice"); !errors.Is(err, services.ErrUnauthorized) {
		t.Errorf("buyer ack err = %v, want ErrUnauthorized", err)
	}
}

func TestReceiptActivatesBuyerAndClosesSellers(t *testing.T) {
	f := newFixture(200000)
	ctx := context.Background()
	sellerA := f.seedSeller(t, "sam", 400, baseTime.Add(-2*time.Hour))
	sellerB := f.seedSeller(t, "sue", 600, baseTime.Add(-time.Hour))

	buyer, err := f.svc.CreateBuyerOrder(ctx, "alice", dec(1000), 8)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	chunks, _ := f.st.ListBuyerChunks(ctx, buyer.ID)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	for _, c := range chunks {
		if err := f.svc.MarkChunkPaid(ctx, c.ID, "alice"); err != nil {
			t.Fatalf("mark paid %d: %v", c.ID, err)
		}
	}

	if err := f.svc.MarkChunkReceived(ctx, chunks[0].ID, "sam"); err != nil {
		t.Fatalf("receive first: %v", err)
	}
	// Seller A is fully funded and closes; the buyer still waits on B.
	if got := f.mustOrder(t, sellerA.ID); got.Status != models.OrderClosed {
		t.Errorf("seller A status = %s, want Closed", got.Status)
	}
	if got := f.mustOrder(t, buyer.ID); got.Status != models.OrderPaired {
		t.Errorf("buyer status = %s, want Paired until all received", got.Status)
	}

	if err := f.svc.MarkChunkReceived(ctx, chunks[1].ID, "sue"); err != nil {
		t.Fatalf("receive second: %v", err)
	}
	if got := f.mustOrder(t, sellerB.ID); got.Status != models.OrderClosed {
		t.Errorf("seller B status = %s, want Closed", got.Status)
	}

	got := f.mustOrder(t, buyer.ID)
	if got.Status != models.OrderActive {
		t.Fatalf("buyer status = %s, want Active", got.Status)
	}
	if got.SubStatus != models.SubRunning {
		t.Errorf("buyer sub status = %q, want %q", got.SubStatus, models.SubRunning)
	}
	if got.MaturityAt == nil {
		t.Fatal("maturity not set")
	}
	wantMaturity := f.now.Add(8 * 24 * time.Hour)
	if !got.MaturityAt.Equal(wantMaturity) {
		t.Errorf("maturity = %s, want %s", got.MaturityAt, wantMaturity)
	}
}

func TestSellerStaysOpenUntilFullyFunded(t *testing.T) {
	f := newFixture(200000)
	ctx := context.Background()
	seller := f.seedSeller(t, "sam", 1000, baseTime.Add(-time.Hour))

	buyer, err := f.svc.CreateBuyerOrder(ctx, "alice", dec(400), 4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	chunks, _ := f.st.ListBuyerChunks(ctx, buyer.ID)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}

	if err := f.svc.MarkChunkPaid(ctx, chunks[0].ID, "alice"); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if err := f.svc.MarkChunkReceived(ctx, chunks[0].ID, "sam"); err != nil {
		t.Fatalf("mark received: %v", err)
	}

	// 400 of 1000 received: well outside tolerance, the seller keeps selling.
	if got := f.mustOrder(t, seller.ID); got.Status != models.OrderMatured {
		t.Errorf("seller status = %s, want Matured", got.Status)
	}
	// The buyer's full principal is placed and acknowledged, so it activates.
	if got := f.mustOrder(t, buyer.ID); got.Status != models.OrderActive {
		t.Errorf("buyer status = %s, want Active", got.Status)
	}
}
