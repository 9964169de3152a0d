package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// PG is the Postgres-backed store. All session, team, decision and KPI
// ledger state lives here; the engines only cache what they need between
// broadcasts.
type PG struct {
	Pool *pgxpool.Pool
}

// Connect parses the connection string, opens a pool and verifies it with a
// ping before returning.
func Connect(ctx context.Context, connString string) (*PG, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logrus.Infof("connected to postgres at %s", cfg.ConnConfig.Host)
	return &PG{Pool: pool}, nil
}

// Close releases the pool.
func (s *PG) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// Ping reports whether the database is reachable.
func (s *PG) Ping(ctx context.Context) error {
	if err := s.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// inTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic.
func (s *PG) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, fn)
}
