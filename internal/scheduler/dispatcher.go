// Package scheduler runs the cron-driven dispatch loops: claim due work items
// under a skip-locked lease, publish them to the broker, and commit the
// resulting state transition.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"crawlsched/internal/broker"
	"crawlsched/internal/domain"
	"crawlsched/internal/events"
	"crawlsched/internal/observability"
	"crawlsched/internal/store"
)

// BatchLimit caps how many items one tick claims per loop.
const BatchLimit = 10

// Cron cadences, evaluated in UTC.
const (
	scheduledCron  = "*/5 * * * *"
	predefinedCron = "*/10 * * * *"
	reaperCron     = "@every 1m"
)

// leaseTTL is how long a PROCESSING row may sit without a committed final
// transition before the reaper hands it back to PENDING. The happy path
// finishes well inside the statement-timeout plus publish-retry envelope.
const leaseTTL = time.Minute

// WorkStore is the leased work queue the dispatcher drains. *store.Work is
// the production implementation.
type WorkStore interface {
	LeaseDueBatch(ctx context.Context, kind store.BatchKind, limit int) ([]domain.LeasedItem, error)
	Transition(ctx context.Context, kind store.BatchKind, id int64, status domain.ScheduleStatus, retryCount int, exceptionInfo *string, schedTime *time.Time) error
	ReapStale(ctx context.Context, ttl time.Duration) (int64, error)
}

// Publisher is the broker surface the dispatcher publishes through.
type Publisher interface {
	Publish(ctx context.Context, msg any, exchange, routingKey string, opts broker.PublishOptions) error
}

// Dispatcher owns the two cron loops (scheduled + predefined) and the lease
// reaper. Safe to run replicated: skip-locked claiming keeps batches disjoint.
type Dispatcher struct {
	work      WorkStore
	publisher Publisher
	events    events.Publisher
	logger    *slog.Logger

	cron *cron.Cron
	ctx  context.Context
}

func New(work WorkStore, publisher Publisher, ev events.Publisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		work:      work,
		publisher: publisher,
		events:    ev,
		logger:    logger.With("component", "scheduler"),
	}
}

// Start registers the cron entries and launches the runner. The context bounds
// every tick; cancelling it makes in-flight ticks fail fast while Stop waits
// for them.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.ctx = ctx
	d.cron = cron.New(cron.WithLocation(time.UTC))

	entries := []struct {
		spec string
		run  func()
	}{
		{scheduledCron, func() { d.tick(store.KindScheduled) }},
		{predefinedCron, func() { d.tick(store.KindPredefined) }},
		{reaperCron, d.reap},
	}
	for _, e := range entries {
		if _, err := d.cron.AddFunc(e.spec, e.run); err != nil {
			return fmt.Errorf("register cron %q: %w", e.spec, err)
		}
	}

	d.cron.Start()
	d.logger.Info("dispatch loops started",
		"scheduled", scheduledCron, "predefined", predefinedCron)
	return nil
}

// Stop halts the cron runner and blocks until running ticks complete.
func (d *Dispatcher) Stop() {
	if d.cron == nil {
		return
	}
	<-d.cron.Stop().Done()
	d.logger.Info("dispatch loops stopped")
}

// tick is one cron wake-up. It never panics or unwinds the timer; every
// failure is logged and the next tick proceeds.
func (d *Dispatcher) tick(kind store.BatchKind) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tick panic", "kind", kind.String(), "panic", r)
		}
	}()
	if err := d.ProcessBatch(d.ctx, kind); err != nil {
		d.logger.Error("tick failed", "kind", kind.String(), "err", err)
	}
}

// ProcessBatch leases one due batch and dispatches every item concurrently.
// Item failures are absorbed into their own state transitions; only lease
// errors surface.
func (d *Dispatcher) ProcessBatch(ctx context.Context, kind store.BatchKind) error {
	leased, err := d.work.LeaseDueBatch(ctx, kind, BatchLimit)
	if err != nil {
		return fmt.Errorf("lease batch: %w", err)
	}
	observability.LeaseBatchSize.WithLabelValues(kind.String()).Observe(float64(len(leased)))
	if len(leased) == 0 {
		return nil
	}
	d.logger.Info("leased batch", "kind", kind.String(), "count", len(leased))

	g, ctx := errgroup.WithContext(ctx)
	for _, item := range leased {
		g.Go(func() error {
			d.dispatchOne(ctx, kind, item)
			return nil
		})
	}
	return g.Wait()
}

// dispatchOne drives a single leased item to a committed transition:
// COMPLETED on publish success, PENDING with retry_count+1 on publish failure,
// FAILED once the retry budget is exhausted.
func (d *Dispatcher) dispatchOne(ctx context.Context, kind store.BatchKind, item domain.LeasedItem) {
	start := time.Now()
	defer func() {
		observability.DispatchDuration.Observe(time.Since(start).Seconds())
	}()

	if item.RetryCount > domain.MaxRetries {
		reason := "Max retry count exceeded"
		d.transition(ctx, kind, item, domain.ScheduleFailed, item.RetryCount, &reason, "failed")
		d.logger.Error("item failed", "kind", kind.String(), "id", item.ID, "retry_count", item.RetryCount)
		return
	}

	err := d.publisher.Publish(ctx,
		domain.FetchURLMessage{URL: item.URL},
		item.TaskData.Exchange, item.TaskData.RoutingKey,
		broker.PublishOptions{})
	if err != nil {
		reason := err.Error()
		d.transition(ctx, kind, item, domain.SchedulePending, item.RetryCount+1, &reason, "requeued")
		d.logger.Warn("dispatch requeued", "kind", kind.String(), "id", item.ID, "err", err)
		return
	}

	d.transition(ctx, kind, item, domain.ScheduleCompleted, item.RetryCount, nil, "completed")
}

func (d *Dispatcher) transition(ctx context.Context, kind store.BatchKind, item domain.LeasedItem, status domain.ScheduleStatus, retryCount int, exceptionInfo *string, outcome string) {
	if err := d.work.Transition(ctx, kind, item.ID, status, retryCount, exceptionInfo, nil); err != nil {
		d.logger.Error("transition failed",
			"kind", kind.String(), "id", item.ID, "status", status.Name(), "err", err)
		return
	}
	observability.DispatchTotal.WithLabelValues(kind.String(), outcome).Inc()

	ev := events.DispatchEvent{
		Kind:      kind.String(),
		ItemID:    item.ID,
		URL:       item.URL,
		Outcome:   outcome,
		Retry:     retryCount,
		Timestamp: time.Now().UTC(),
	}
	if exceptionInfo != nil {
		ev.Error = *exceptionInfo
	}
	d.events.Publish(ev)
}

// reap recovers PROCESSING leases stranded by a crashed dispatcher.
func (d *Dispatcher) reap() {
	n, err := d.work.ReapStale(d.ctx, leaseTTL)
	if err != nil {
		d.logger.Error("reaper failed", "err", err)
		return
	}
	if n > 0 {
		observability.ReapedLeases.Add(float64(n))
		d.logger.Warn("reaped stale leases", "count", n)
	}
}
