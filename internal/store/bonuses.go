package store

import (
	"context"
	"errors"

	"buytap/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const bonusColumns = `id, owner_id, source_order_id, source_owner_id, amount, status, applied_order_id, created_at`

func (s *Store) GrantBonus(ctx context.Context, b *models.Bonus) error {
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO bonuses (owner_id, source_order_id, source_owner_id, amount, status, applied_order_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, b.Owner, b.SourceOrderID, b.SourceOwner, b.Amount, b.Status, b.AppliedOrderID, b.CreatedAt)
	return row.Scan(&b.ID)
}

func (s *Store) ListBonuses(ctx context.Context, owner string) ([]*models.Bonus, error) {
	return s.listBonuses(ctx, `
		SELECT `+bonusColumns+` FROM bonuses WHERE owner_id=$1 ORDER BY id ASC
	`, owner)
}

func (s *Store) ListPendingBonuses(ctx context.Context, owner string) ([]*models.Bonus, error) {
	return s.listBonuses(ctx, `
		SELECT `+bonusColumns+` FROM bonuses WHERE owner_id=$1 AND status='pending' ORDER BY id ASC
	`, owner)
}

func (s *Store) listBonuses(ctx context.Context, query, owner string) ([]*models.Bonus, error) {
	rows, err := s.Pool.Query(ctx, query, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bonuses []*models.Bonus
	for rows.Next() {
		var b models.Bonus
		if err := rows.Scan(&b.ID, &b.Owner, &b.SourceOrderID, &b.SourceOwner, &b.Amount, &b.Status, &b.AppliedOrderID, &b.CreatedAt); err != nil {
			return nil, err
		}
		bonuses = append(bonuses, &b)
	}
	return bonuses, rows.Err()
}

// ApplyBonus consumes a pending bonus exactly once; the status condition in
// the update arbitrates concurrent purchases.
func (s *Store) ApplyBonus(ctx context.Context, id int64, orderID string) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE bonuses SET status='applied', applied_order_id=$2
		WHERE id=$1 AND status='pending'
	`, id, orderID)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (s *Store) ApplyOrderBonus(ctx context.Context, orderID string, amount decimal.Decimal) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET target_payout = target_payout + $2,
			applied_bonus = applied_bonus + $2,
			updated_at = now()
		WHERE order_id=$1
	`, orderID, amount)
	return err
}

func (s *Store) SetReferrer(ctx context.Context, owner, upline string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO referrals (owner_id, upline_id) VALUES ($1, $2)
		ON CONFLICT (owner_id) DO UPDATE SET upline_id = EXCLUDED.upline_id
	`, owner, upline)
	return err
}

func (s *Store) GetReferrer(ctx context.Context, owner string) (string, error) {
	var upline string
	err := s.Pool.QueryRow(ctx, `SELECT upline_id FROM referrals WHERE owner_id=$1`, owner).Scan(&upline)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return upline, nil
}
