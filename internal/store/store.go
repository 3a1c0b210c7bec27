package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"buytap/internal/models"
	"buytap/internal/services"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const orderColumns = `
	order_id, owner_id, status, sub_status, details,
	principal, target_payout, remaining_to_send, remaining_to_receive,
	seller_remaining, applied_bonus, duration_days, maturity_at, activated_at,
	returned_to_pool, revoked_at, revoked_reason, created_at, updated_at`

func (s *Store) CreateOrder(ctx context.Context, o *models.Order) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO orders (
			order_id, owner_id, status, sub_status, details,
			principal, target_payout, remaining_to_send, remaining_to_receive,
			seller_remaining, applied_bonus, duration_days, maturity_at, activated_at,
			returned_to_pool, revoked_at, revoked_reason, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`,
		o.ID,
		o.Owner,
		o.Status,
		o.SubStatus,
		o.Details,
		o.Principal,
		o.TargetPayout,
		o.RemainingToSend,
		o.RemainingToReceive,
		o.SellerRemaining,
		o.AppliedBonus,
		o.DurationDays,
		o.MaturityAt,
		o.ActivatedAt,
		o.ReturnedToPool,
		o.RevokedAt,
		o.RevokedReason,
		o.CreatedAt,
		o.UpdatedAt,
	)
	return err
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id=$1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, services.ErrNotFound
	}
	return o, err
}

func (s *Store) ListOrdersByStatus(ctx context.Context, statuses ...models.OrderStatus) ([]*models.Order, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = ANY($1)
		ORDER BY created_at ASC, order_id ASC
	`, statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *Store) ListOrdersByOwner(ctx context.Context, owner string, statuses ...models.OrderStatus) ([]*models.Order, error) {
	if len(statuses) == 0 {
		rows, err := s.Pool.Query(ctx, `
			SELECT `+orderColumns+`
			FROM orders
			WHERE owner_id=$1
			ORDER BY created_at DESC, order_id DESC
		`, owner)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanOrders(rows)
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE owner_id=$1 AND status = ANY($2)
		ORDER BY created_at DESC, order_id DESC
	`, owner, statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *Store) ListActiveDue(ctx context.Context, now time.Time) ([]*models.Order, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status='Active' AND maturity_at IS NOT NULL AND maturity_at <= $1
		ORDER BY created_at ASC, order_id ASC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *Store) SetOrderStatus(ctx context.Context, id string, status models.OrderStatus, subStatus string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE orders SET status=$2, sub_status=$3, updated_at=now()
		WHERE order_id=$1
	`, id, status, subStatus)
	return err
}

func (s *Store) SetRemainingToSend(ctx context.Context, id string, amount decimal.Decimal) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE orders SET remaining_to_send=$2, updated_at=now() WHERE order_id=$1
	`, id, amount)
	return err
}

func (s *Store) SetRemainingToReceive(ctx context.Context, id string, amount decimal.Decimal) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE orders SET remaining_to_receive=$2, updated_at=now() WHERE order_id=$1
	`, id, amount)
	return err
}

func (s *Store) ActivateOrder(ctx context.Context, id string, activatedAt, maturityAt time.Time) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET status='Active', sub_status=$4, activated_at=$2, maturity_at=$3, updated_at=now()
		WHERE order_id=$1 AND status IN ('Pending','Paired')
	`, id, activatedAt, maturityAt, models.SubRunning)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (s *Store) MatureOrder(ctx context.Context, id string, sellerRemaining decimal.Decimal) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET status='Matured', sub_status=$3,
			seller_remaining=$2, remaining_to_receive=$2, updated_at=now()
		WHERE order_id=$1 AND status='Active'
	`, id, sellerRemaining, models.SubWaitingToBePaired)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (s *Store) CloseOrder(ctx context.Context, id string) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET status='Closed', sub_status='', remaining_to_receive=0, updated_at=now()
		WHERE order_id=$1 AND status='Matured'
	`, id)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (s *Store) RevokeOrder(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET status='Revoked', sub_status=$4, revoked_reason=$2, revoked_at=$3, updated_at=now()
		WHERE order_id=$1 AND status IN ('Pending','Paired')
	`, id, reason, at, models.SubPaymentTimeout)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (s *Store) ReinstateOrder(ctx context.Context, id string) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET status='Pending', sub_status=$2, revoked_reason='', revoked_at=NULL,
			remaining_to_send=principal, updated_at=now()
		WHERE order_id=$1 AND status='Revoked'
	`, id, models.SubPending)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (s *Store) ReopenSeller(ctx context.Context, id string) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET status='Matured', sub_status=$2, updated_at=now()
		WHERE order_id=$1 AND status <> 'Closed'
	`, id, models.SubWaitingToBePaired)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (s *Store) MarkReturnedToPool(ctx context.Context, id string) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders SET returned_to_pool=TRUE, updated_at=now()
		WHERE order_id=$1 AND NOT returned_to_pool
	`, id)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// ReserveSellerCapacity takes min(upTo, seller_remaining) with a conditional
// decrement. Zero rows affected means a concurrent reservation got there
// first; the caller reserves nothing and moves on.
func (s *Store) ReserveSellerCapacity(ctx context.Context, sellerID string, upTo decimal.Decimal) (decimal.Decimal, error) {
	if upTo.Sign() <= 0 {
		return decimal.Zero, nil
	}

	var current decimal.Decimal
	err := s.Pool.QueryRow(ctx, `SELECT seller_remaining FROM orders WHERE order_id=$1`, sellerID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, services.ErrNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	if current.Sign() <= 0 {
		return decimal.Zero, nil
	}

	take := decimal.Min(upTo, current)
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET seller_remaining = seller_remaining - $2, updated_at=now()
		WHERE order_id=$1 AND seller_remaining >= $2
	`, sellerID, take)
	if err != nil {
		return decimal.Zero, err
	}
	if res.RowsAffected() == 0 {
		return decimal.Zero, nil
	}
	return take, nil
}

func (s *Store) ReturnSellerCapacity(ctx context.Context, sellerID string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return nil
	}
	_, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET seller_remaining = seller_remaining + $2, updated_at=now()
		WHERE order_id=$1
	`, sellerID, amount)
	return err
}

func statusStrings(statuses []models.OrderStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, string(st))
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var maturityAt, activatedAt, revokedAt sql.NullTime

	err := row.Scan(
		&o.ID,
		&o.Owner,
		&o.Status,
		&o.SubStatus,
		&o.Details,
		&o.Principal,
		&o.TargetPayout,
		&o.RemainingToSend,
		&o.RemainingToReceive,
		&o.SellerRemaining,
		&o.AppliedBonus,
		&o.DurationDays,
		&maturityAt,
		&activatedAt,
		&o.ReturnedToPool,
		&revokedAt,
		&o.RevokedReason,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if maturityAt.Valid {
		o.MaturityAt = &maturityAt.Time
	}
	if activatedAt.Valid {
		o.ActivatedAt = &activatedAt.Time
	}
	if revokedAt.Valid {
		o.RevokedAt = &revokedAt.Time
	}
	return &o, nil
}

func scanOrders(rows pgx.Rows) ([]*models.Order, error) {
	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
