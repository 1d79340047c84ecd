// Package store persists the URL graph and the scheduled work items in
// Postgres. Every write-bearing operation runs inside an Atomic scope; the
// repositories are thin types whose methods take the caller's transaction.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool initializes a pgx connection pool and verifies connectivity.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Session timeouts applied at the start of every transaction. They bound how
// long a caller can block on row locks or a single statement.
const (
	lockTimeout      = "4s"
	statementTimeout = "8s"
)

// Atomic runs fn inside a read-write transaction: commit on nil, rollback on
// error or panic. The session-level timeouts are set before fn runs.
func Atomic(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return atomic(ctx, pool, pgx.TxOptions{}, fn)
}

// AtomicRO is Atomic with a read-only transaction; there is nothing to commit
// but the same rollback-on-error discipline applies.
func AtomicRO(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return atomic(ctx, pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn)
}

func atomic(ctx context.Context, pool *pgxpool.Pool, opts pgx.TxOptions, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%s'", lockTimeout)); err != nil {
		return fmt.Errorf("set lock_timeout: %w", err)
	}
	if _, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%s'", statementTimeout)); err != nil {
		return fmt.Errorf("set statement_timeout: %w", err)
	}

	if err = fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
