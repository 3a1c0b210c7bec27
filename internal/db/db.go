package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Pool = pgxpool.Pool

// Config carries the connection settings the marketplace exposes in its
// config file; zero values fall through to pgx defaults.
type Config struct {
	DSN            string
	MaxConns       int32
	ConnectTimeout time.Duration
}

// Connect opens a pgx pool sized per config. The matcher parks one pooled
// connection on the advisory lock during a pass, so MaxConns below two is
// ignored to keep regular queries flowing.
func Connect(ctx context.Context, c Config) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(c.DSN)
	if err != nil {
		return nil, err
	}
	if c.MaxConns > 1 {
		cfg.MaxConns = c.MaxConns
	}
	if c.ConnectTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = c.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
