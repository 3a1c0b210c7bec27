package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"buytap/internal/models"
	"buytap/internal/services"
	"buytap/internal/store/memory"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type fixture struct {
	svc *services.OrderService
	st  *memory.Store
	now time.Time
}

func newFixture(poolBalance int64) *fixture {
	st := memory.New(dec(poolBalance))
	f := &fixture{st: st, now: baseTime}
	f.svc = &services.OrderService{
		Store:  st,
		Locker: st,
		Now:    func() time.Time { return f.now },
	}
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

// seedSeller plants a matured order ready to receive payments, as the
// maturity sweep would have left it.
func (f *fixture) seedSeller(t *testing.T, owner string, target int64, createdAt time.Time) *models.Order {
	t.Helper()
	o := &models.Order{
		ID:                 uuid.NewString(),
		Owner:              owner,
		Status:             models.OrderMatured,
		SubStatus:          models.SubWaitingToBePaired,
		Principal:          dec(target),
		TargetPayout:       dec(target),
		RemainingToReceive: dec(target),
		SellerRemaining:    dec(target),
		DurationDays:       4,
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}
	if err := f.st.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("seed seller: %v", err)
	}
	return o
}

func (f *fixture) mustOrder(t *testing.T, id string) *models.Order {
	t.Helper()
	o, err := f.st.GetOrder(context.Background(), id)
	if err != nil {
		t.Fatalf("get order %s: %v", id, err)
	}
	return o
}

func (f *fixture) poolBalance(t *testing.T) decimal.Decimal {
	t.Helper()
	b, err := f.st.PoolBalance(context.Background())
	if err != nil {
		t.Fatalf("pool balance: %v", err)
	}
	return b
}

func TestCreateBuyerOrder(t *testing.T) {
	f := newFixture(200000)
	ctx := context.Background()

	order, err := f.svc.CreateBuyerOrder(ctx, "alice", dec(1000), 8)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if order.Status != models.OrderPending {
		t.Errorf("status = %s, want Pending", order.Status)
	}
	if order.SubStatus != models.SubPending {
		t.Errorf("sub status = %q, want %q", order.SubStatus, models.SubPending)
	}
	if got, want := order.TargetPayout.String(), "1650"; got != want {
		t.Errorf("target payout = %s, want %s", got, want)
	}
	if got, want := order.Details, "1000 for 65% in 8 Days"; got != want {
		t.Errorf("details = %q, want %q", got, want)
	}
	if !order.RemainingToSend.Equal(dec(1000)) {
		t.Errorf("remaining to send = %s, want 1000", order.RemainingToSend)
	}
	if got := f.poolBalance(t); !got.Equal(dec(199000)) {
		t.Errorf("pool = %s, want 199000", got)
	}
}

func TestCreateBuyerOrderValidation(t *testing.T) {
	f := newFixture(10000)
	f.svc.MinPrincipal = dec(50)
	ctx := context.Background()

	cases := []struct {
		name      string
		owner     string
		principal decimal.Decimal
		days      int
		want      error
	}{
		{"missing owner", "", dec(100), 4, services.ErrMissingOwner},
		{"zero principal", "alice", dec(0), 4, services.ErrInvalidAmount},
		{"negative principal", "alice", dec(-5), 4, services.ErrInvalidAmount},
		{"below minimum", "alice", dec(20), 4, services.ErrInvalidAmount},
		{"unknown plan", "alice", dec(100), 5, services.ErrInvalidDuration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateBuyerOrder(ctx, tc.owner, tc.principal, tc.days)
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
	if got := f.poolBalance(t); !got.Equal(dec(10000)) {
		t.Errorf("pool moved on rejected orders: %s", got)
	}
}

func TestCreateBuyerOrderClampsPoolAtZero(t *testing.T) {
	f := newFixture(500)
	ctx := context.Background()

	if _, err := f.svc.CreateBuyerOrder(ctx, "alice", dec(1000), 4); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := f.poolBalance(t); !got.Equal(decimal.Zero) {
		t.Errorf("pool = %s, want 0", got)
	}
}

func TestAdminReinstate(t *testing.T) {
	f := newFixture(10000)
	ctx := context.Background()

	order, err := f.svc.CreateBuyerOrder(ctx, "alice", dec(1000), 4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, _ := f.st.RevokeOrder(ctx, order.ID, "Timeout on pending payments.", f.now); !ok {
		t.Fatal("revoke setup failed")
	}

	got, err := f.svc.AdminReinstate(ctx, order.ID)
	if err != nil {
		t.Fatalf("reinstate: %v", err)
	}
	if got.Status != models.OrderPending {
		t.Errorf("status = %s, want Pending", got.Status)
	}
	if got.RevokedReason != "" {
		t.Errorf("revoked reason not cleared: %q", got.RevokedReason)
	}
	// 10000 debited twice, no refund in between.
	if b := f.poolBalance(t); !b.Equal(dec(8000)) {
		t.Errorf("pool = %s, want 8000", b)
	}
}

func TestAdminReinstateRequiresRevoked(t *testing.T) {
	f := newFixture(10000)
	ctx := context.Background()

	order, err := f.svc.CreateBuyerOrder(ctx, "alice", dec(1000), 4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.svc.AdminReinstate(ctx, order.ID); !errors.Is(err, services.ErrNotRevoked) {
		t.Errorf("err = %v, want ErrNotRevoked", err)
	}
	if _, err := f.svc.AdminReinstate(ctx, "no-such-order"); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSetPoolBalance(t *testing.T) {
	f := newFixture(10000)
	ctx := context.Background()

	if err := f.svc.SetPoolBalance(ctx, dec(-1)); !errors.Is(err, services.ErrInvalidAmount) {
		t.Errorf("negative set err = %v, want ErrInvalidAmount", err)
	}
	if err := f.svc.SetPoolBalance(ctx, dec(5000)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := f.poolBalance(t); !got.Equal(dec(5000)) {
		t.Errorf("pool = %s, want 5000", got)
	}
}

// createFailStore forces CreateOrder to fail so the compensation path is
// observable.
type createFailStore struct {
	*memory.Store
}

func (s *createFailStore) CreateOrder(ctx context.Context, o *models.Order) error {
	return errors.New("insert failed")
}

func TestFailedCreateLeavesPoolUntouched(t *testing.T) {
	st := memory.New(dec(10000))
	now := baseTime
	svc := &services.OrderService{
		Store:  &createFailStore{Store: st},
		Locker: st,
		Now:    func() time.Time { return now },
	}

	ctx := context.Background()
	if _, err := svc.CreateBuyerOrder(ctx, "alice", dec(1000), 4); err == nil {
		t.Fatal("create succeeded against failing store")
	}
	// The upfront debit must be compensated.
	b, err := st.PoolBalance(ctx)
	if err != nil {
		t.Fatalf("pool balance: %v", err)
	}
	if !b.Equal(dec(10000)) {
		t.Errorf("pool = %s, want 10000", b)
	}
}

func TestListOwnerOrdersRequiresOwner(t *testing.T) {
	f := newFixture(10000)
	if _, err := f.svc.ListOwnerOrders(context.Background(), ""); !errors.Is(err, services.ErrMissingOwner) {
		t.Errorf("err = %v, want ErrMissingOwner", err)
	}
}
