package store

import (
	"context"

	"github.com/shopspring/decimal"
)

const poolName = "default"

func (s *Store) PoolBalance(ctx context.Context) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.Pool.QueryRow(ctx, `SELECT balance FROM pool WHERE name=$1`, poolName).Scan(&balance)
	return balance, err
}

// DebitPool clamps at zero: the counter models available supply, it never
// goes negative.
func (s *Store) DebitPool(ctx context.Context, amount decimal.Decimal) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE pool SET balance = GREATEST(balance - $2, 0) WHERE name=$1
	`, poolName, amount)
	return err
}

func (s *Store) CreditPool(ctx context.Context, amount decimal.Decimal) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE pool SET balance = balance + $2 WHERE name=$1
	`, poolName, amount)
	return err
}

func (s *Store) SetPool(ctx context.Context, amount decimal.Decimal) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO pool (name, balance) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET balance=EXCLUDED.balance
	`, poolName, amount)
	return err
}
