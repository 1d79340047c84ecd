package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"crawlsched/internal/domain"
)

// BatchKind selects which work table a lease or transition targets.
type BatchKind int

const (
	KindScheduled BatchKind = iota
	KindPredefined
)

func (k BatchKind) String() string {
	if k == KindPredefined {
		return "predefined"
	}
	return "scheduled"
}

func (k BatchKind) table() string {
	if k == KindPredefined {
		return "predefined_urls"
	}
	return "scheduled_urls"
}

// ErrNoTransition means the row was missing or already in a terminal status.
// Terminal rows are never moved; callers needing a reset must do it explicitly.
var ErrNoTransition = errors.New("store: no transition applied")

// SchedulerRepo persists scheduled and predefined work items. Methods take
// the caller's transaction and participate in its atomic scope.
type SchedulerRepo struct{}

const leaseScheduledSQL = `
WITH due AS (
    SELECT id
    FROM scheduled_urls
    WHERE status = '1'
      AND scheduled_time <= (now() AT TIME ZONE 'utc')
    ORDER BY scheduled_time ASC, id ASC
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
UPDATE scheduled_urls s
SET status = '4', updated_at = now()
FROM due
WHERE s.id = due.id
RETURNING s.id, s.url, s.retry_count, s.task_data, s.scheduled_time`

const leasePredefinedSQL = `
WITH due AS (
    SELECT id
    FROM predefined_urls
    WHERE status = '1'
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
UPDATE predefined_urls p
SET status = '4', updated_at = now()
FROM due
WHERE p.id = due.id
RETURNING p.id, p.url, p.retry_count, p.task_data`

// LeaseDueBatch claims up to limit eligible items, marking them PROCESSING in
// the caller's transaction. Skip-locked claiming guarantees concurrent callers
// observe disjoint sets and never wait on each other's rows.
func (SchedulerRepo) LeaseDueBatch(ctx context.Context, tx pgx.Tx, kind BatchKind, limit int) ([]domain.LeasedItem, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if kind == KindPredefined {
		rows, err = tx.Query(ctx, leasePredefinedSQL, limit)
	} else {
		rows, err = tx.Query(ctx, leaseScheduledSQL, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("lease %s batch: %w", kind, err)
	}
	defer rows.Close()

	var items []domain.LeasedItem
	for rows.Next() {
		var it domain.LeasedItem
		if kind == KindPredefined {
			err = rows.Scan(&it.ID, &it.URL, &it.RetryCount, &it.TaskData)
		} else {
			err = rows.Scan(&it.ID, &it.URL, &it.RetryCount, &it.TaskData, &it.ScheduledTime)
		}
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return DedupeAndOrder(items), nil
}

// DedupeAndOrder keeps the last row seen per id and returns the batch in
// dispatch order: ascending scheduled time, ties broken by lowest id.
// UPDATE..RETURNING yields one row per id and no order guarantee; this makes
// both properties explicit.
func DedupeAndOrder(items []domain.LeasedItem) []domain.LeasedItem {
	seen := make(map[int64]int, len(items))
	out := items[:0]
	for _, it := range items {
		if idx, ok := seen[it.ID]; ok {
			out[idx] = it
			continue
		}
		seen[it.ID] = len(out)
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledTime.Equal(out[j].ScheduledTime) {
			return out[i].ScheduledTime.Before(out[j].ScheduledTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Transition updates one item's status, retry count and exception info within
// the caller's transaction. Rows already in a terminal status are left alone
// and ErrNoTransition is returned. A non-nil schedTime also moves the
// scheduled_time (scheduled items only).
func (SchedulerRepo) Transition(ctx context.Context, tx pgx.Tx, kind BatchKind, id int64, status domain.ScheduleStatus, retryCount int, exceptionInfo *string, schedTime *time.Time) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if kind == KindPredefined {
		tag, err = tx.Exec(ctx, `
			UPDATE predefined_urls
			SET status = $2::predefined_url_status,
			    retry_count = $3,
			    exception_info = $4,
			    updated_at = now()
			WHERE id = $1 AND status NOT IN ('2', '3')`,
			id, status.String(), retryCount, exceptionInfo)
	} else {
		tag, err = tx.Exec(ctx, `
			UPDATE scheduled_urls
			SET status = $2::scheduled_url_status,
			    retry_count = $3,
			    exception_info = $4,
			    scheduled_time = COALESCE($5, scheduled_time),
			    updated_at = now()
			WHERE id = $1 AND status NOT IN ('2', '3')`,
			id, status.String(), retryCount, exceptionInfo, schedTime)
	}
	if err != nil {
		return fmt.Errorf("transition %s %d: %w", kind, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoTransition
	}
	return nil
}

// Add inserts a scheduled item. Uniqueness on url is not enforced by the
// schema; callers check ExistsByURL inside the same atomic scope first.
func (SchedulerRepo) Add(ctx context.Context, tx pgx.Tx, item *domain.ScheduledItem) error {
	return tx.QueryRow(ctx, `
		INSERT INTO scheduled_urls (url, status, task_data, scheduled_time, retry_count)
		VALUES ($1, $2::scheduled_url_status, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		item.URL, item.Status.String(), item.TaskData, item.ScheduledTime, item.RetryCount,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
}

// AddPredefined inserts a standing job.
func (SchedulerRepo) AddPredefined(ctx context.Context, tx pgx.Tx, item *domain.PredefinedItem) error {
	return tx.QueryRow(ctx, `
		INSERT INTO predefined_urls (url, status, task_data, retry_count)
		VALUES ($1, $2::predefined_url_status, $3, $4)
		RETURNING id, created_at, updated_at`,
		item.URL, item.Status.String(), item.TaskData, item.RetryCount,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
}

// ExistsByURL reports whether a scheduled item exists for the URL,
// case-insensitively.
func (SchedulerRepo) ExistsByURL(ctx context.Context, tx pgx.Tx, url string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM scheduled_urls WHERE LOWER(url) = LOWER($1))`,
		url,
	).Scan(&exists)
	return exists, err
}

// ReapStale returns PROCESSING items whose lease outlived ttl to PENDING with
// an incremented retry count. Recovers work stranded by a dispatcher crash.
func (SchedulerRepo) ReapStale(ctx context.Context, tx pgx.Tx, kind BatchKind, ttl time.Duration) (int64, error) {
	tag, err := tx.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = '1',
		    retry_count = retry_count + 1,
		    exception_info = 'lease expired',
		    updated_at = now()
		WHERE status = '4'
		  AND updated_at < now() - ($1 * interval '1 second')`, kind.table()),
		ttl.Seconds())
	if err != nil {
		return 0, fmt.Errorf("reap %s: %w", kind, err)
	}
	return tag.RowsAffected(), nil
}
