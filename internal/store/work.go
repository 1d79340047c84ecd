package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crawlsched/internal/domain"
)

// Work bundles the scheduler repository with the pool so each operation runs
// in its own atomic scope. This is the surface the dispatcher works against:
// lease in one transaction, every transition in its own.
type Work struct {
	pool *pgxpool.Pool
	repo SchedulerRepo
}

func NewWork(pool *pgxpool.Pool) *Work {
	return &Work{pool: pool}
}

// LeaseDueBatch claims a batch in a dedicated transaction. Once it commits,
// the items are visible as PROCESSING to every reader.
func (w *Work) LeaseDueBatch(ctx context.Context, kind BatchKind, limit int) ([]domain.LeasedItem, error) {
	var items []domain.LeasedItem
	err := Atomic(ctx, w.pool, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		items, err = w.repo.LeaseDueBatch(ctx, tx, kind, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Transition applies one status transition in a dedicated transaction.
func (w *Work) Transition(ctx context.Context, kind BatchKind, id int64, status domain.ScheduleStatus, retryCount int, exceptionInfo *string, schedTime *time.Time) error {
	return Atomic(ctx, w.pool, func(ctx context.Context, tx pgx.Tx) error {
		return w.repo.Transition(ctx, tx, kind, id, status, retryCount, exceptionInfo, schedTime)
	})
}

// ReapStale sweeps both work tables for expired PROCESSING leases.
func (w *Work) ReapStale(ctx context.Context, ttl time.Duration) (int64, error) {
	var total int64
	err := Atomic(ctx, w.pool, func(ctx context.Context, tx pgx.Tx) error {
		for _, kind := range []BatchKind{KindScheduled, KindPredefined} {
			n, err := w.repo.ReapStale(ctx, tx, kind, ttl)
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
