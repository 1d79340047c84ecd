package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crawlsched/internal/domain"
	"crawlsched/internal/observability"
	"crawlsched/internal/store"
)

// scheduleDelay keeps a freshly submitted URL out of the very next tick, so a
// burst of submissions spreads across batches.
const scheduleDelay = time.Minute

// ItemStore is the subset of the scheduler repository the intake needs;
// store.SchedulerRepo is the production implementation.
type ItemStore interface {
	ExistsByURL(ctx context.Context, tx pgx.Tx, url string) (bool, error)
	Add(ctx context.Context, tx pgx.Tx, item *domain.ScheduledItem) error
	AddPredefined(ctx context.Context, tx pgx.Tx, item *domain.PredefinedItem) error
}

// Intake turns submitted URLs into pending scheduled items. Both the HTTP
// surface and the discovery worker feed through here, so deduplication and
// task-data shaping live in one place.
type Intake struct {
	repo   ItemStore
	logger *slog.Logger

	// atomic runs fn in a transaction scope; store.Atomic over the pool.
	atomic func(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

func NewIntake(pool *pgxpool.Pool, repo ItemStore, logger *slog.Logger) *Intake {
	return &Intake{
		repo:   repo,
		logger: logger.With("component", "intake"),
		atomic: func(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
			return store.Atomic(ctx, pool, fn)
		},
	}
}

// ScheduleURL inserts one pending item targeting the fetch_url event, unless
// a case-insensitive duplicate already exists. The existence check and the
// insert share one atomic scope. Returns true when a new item was created.
func (in *Intake) ScheduleURL(ctx context.Context, url string) (bool, error) {
	created := false
	err := in.atomic(ctx, func(ctx context.Context, tx pgx.Tx) error {
		exists, err := in.repo.ExistsByURL(ctx, tx, url)
		if err != nil {
			return err
		}
		if exists {
			in.logger.Info("url already scheduled", "url", url)
			observability.IntakeDuplicates.Inc()
			return nil
		}

		item := &domain.ScheduledItem{
			URL:           url,
			Status:        domain.SchedulePending,
			TaskData:      domain.EventFetchURL.TaskData(),
			ScheduledTime: time.Now().UTC().Add(scheduleDelay),
		}
		if err := in.repo.Add(ctx, tx, item); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if created {
		observability.IntakeScheduled.Inc()
	}
	return created, nil
}

// ScheduleURLs submits a batch; duplicates are skipped, the first storage
// error aborts the rest.
func (in *Intake) ScheduleURLs(ctx context.Context, urls []string) error {
	for _, u := range urls {
		if _, err := in.ScheduleURL(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

// AddPredefined registers a standing job, typically a date-discovery root
// pointed at the check_sub_url_by_date event.
func (in *Intake) AddPredefined(ctx context.Context, url string, event domain.Event) error {
	return in.atomic(ctx, func(ctx context.Context, tx pgx.Tx) error {
		item := &domain.PredefinedItem{
			URL:      url,
			Status:   domain.SchedulePending,
			TaskData: event.TaskData(),
		}
		return in.repo.AddPredefined(ctx, tx, item)
	})
}
