package store

import (
	"context"
	"errors"
	"time"

	"buytap/internal/models"
	"buytap/internal/services"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const chunkColumns = `id, buyer_order_id, seller_order_id, amount, status, paired_at`

// InsertChunk returns false without error when the partial unique index on
// open (buyer, seller) pairs rejects the row; the caller gives the reserved
// capacity back.
func (s *Store) InsertChunk(ctx context.Context, c *models.Chunk) (bool, error) {
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO chunks (buyer_order_id, seller_order_id, amount, status, paired_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, c.BuyerOrderID, c.SellerOrderID, c.Amount, c.Status, c.PairedAt)

	err := row.Scan(&c.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) GetChunk(ctx context.Context, id int64) (*models.Chunk, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id=$1`, id)
	var c models.Chunk
	err := row.Scan(&c.ID, &c.BuyerOrderID, &c.SellerOrderID, &c.Amount, &c.Status, &c.PairedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, services.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListBuyerChunks(ctx context.Context, buyerOrderID string) ([]*models.Chunk, error) {
	return s.listChunks(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE buyer_order_id=$1 ORDER BY id ASC`, buyerOrderID)
}

func (s *Store) ListSellerChunks(ctx context.Context, sellerOrderID string) ([]*models.Chunk, error) {
	return s.listChunks(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE seller_order_id=$1 ORDER BY id ASC`, sellerOrderID)
}

func (s *Store) ListOverdueChunks(ctx context.Context, deadline time.Time) ([]*models.Chunk, error) {
	return s.listChunks(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks
		WHERE status='Awaiting Payment' AND paired_at <= $1
		ORDER BY id ASC
	`, deadline)
}

func (s *Store) listChunks(ctx context.Context, query string, arg any) ([]*models.Chunk, error) {
	rows, err := s.Pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.BuyerOrderID, &c.SellerOrderID, &c.Amount, &c.Status, &c.PairedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

func (s *Store) MarkChunkPaymentMade(ctx context.Context, id int64) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE chunks SET status='Payment Made' WHERE id=$1 AND status='Awaiting Payment'
	`, id)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (s *Store) MarkChunkReceived(ctx context.Context, id int64) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE chunks SET status='Received' WHERE id=$1 AND status IN ('Awaiting Payment','Payment Made')
	`, id)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// DeleteChunkIfAwaiting re-checks the status inside the statement so a chunk
// paid moments before the timeout sweep fires is left alone.
func (s *Store) DeleteChunkIfAwaiting(ctx context.Context, id int64) (bool, error) {
	res, err := s.Pool.Exec(ctx, `DELETE FROM chunks WHERE id=$1 AND status='Awaiting Payment'`, id)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (s *Store) BuyerAllocated(ctx context.Context, buyerOrderID string) (decimal.Decimal, error) {
	return s.sumChunks(ctx, `
		SELECT COALESCE(SUM(amount),0) FROM chunks
		WHERE buyer_order_id=$1
		  AND status IN ('Awaiting Payment','Payment Made','Received')
	`, buyerOrderID)
}

func (s *Store) SellerAllocated(ctx context.Context, sellerOrderID string) (decimal.Decimal, error) {
	return s.sumChunks(ctx, `
		SELECT COALESCE(SUM(amount),0) FROM chunks
		WHERE seller_order_id=$1
		  AND status IN ('Awaiting Payment','Payment Made','Received')
	`, sellerOrderID)
}

func (s *Store) SellerReceivedSum(ctx context.Context, sellerOrderID string) (decimal.Decimal, error) {
	return s.sumChunks(ctx, `
		SELECT COALESCE(SUM(amount),0) FROM chunks
		WHERE seller_order_id=$1 AND status='Received'
	`, sellerOrderID)
}

func (s *Store) sumChunks(ctx context.Context, query string, orderID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.Pool.QueryRow(ctx, query, orderID).Scan(&sum)
	return sum, err
}

func (s *Store) CountBuyerChunks(ctx context.Context, buyerOrderID string) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks WHERE buyer_order_id=$1`, buyerOrderID).Scan(&n)
	return n, err
}

func (s *Store) CountBuyerChunksNotReceived(ctx context.Context, buyerOrderID string) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM chunks WHERE buyer_order_id=$1 AND status <> 'Received'
	`, buyerOrderID).Scan(&n)
	return n, err
}
