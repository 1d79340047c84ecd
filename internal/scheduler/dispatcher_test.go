package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"crawlsched/internal/broker"
	"crawlsched/internal/domain"
	"crawlsched/internal/events"
	"crawlsched/internal/store"
)

type transition struct {
	id            int64
	status        domain.ScheduleStatus
	retryCount    int
	exceptionInfo string
}

type MockWork struct {
	mu          sync.Mutex
	leased      []domain.LeasedItem
	leaseErr    error
	transitions []transition
}

func (m *MockWork) LeaseDueBatch(ctx context.Context, kind store.BatchKind, limit int) ([]domain.LeasedItem, error) {
	return m.leased, m.leaseErr
}

func (m *MockWork) Transition(ctx context.Context, kind store.BatchKind, id int64, status domain.ScheduleStatus, retryCount int, exceptionInfo *string, schedTime *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr := transition{id: id, status: status, retryCount: retryCount}
	if exceptionInfo != nil {
		tr.exceptionInfo = *exceptionInfo
	}
	m.transitions = append(m.transitions, tr)
	return nil
}

func (m *MockWork) ReapStale(ctx context.Context, ttl time.Duration) (int64, error) {
	return 0, nil
}

func (m *MockWork) find(id int64) (transition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tr := range m.transitions {
		if tr.id == id {
			return tr, true
		}
	}
	return transition{}, false
}

type MockPublisher struct {
	mu        sync.Mutex
	published []string // routing keys
	failFor   map[string]error
}

func (m *MockPublisher) Publish(ctx context.Context, msg any, exchange, routingKey string, opts broker.PublishOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failFor[routingKey]; ok {
		return err
	}
	m.published = append(m.published, routingKey)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func leasedItem(id int64, retries int) domain.LeasedItem {
	return domain.LeasedItem{
		ID:            id,
		URL:           "https://news.example.com/a",
		RetryCount:    retries,
		TaskData:      domain.EventFetchURL.TaskData(),
		ScheduledTime: time.Now().UTC(),
	}
}

func TestProcessBatchCompletes(t *testing.T) {
	work := &MockWork{leased: []domain.LeasedItem{leasedItem(1, 0), leasedItem(2, 0)}}
	pub := &MockPublisher{}
	d := New(work, pub, events.LogPublisher{Logger: testLogger()}, testLogger())

	if err := d.ProcessBatch(context.Background(), store.KindScheduled); err != nil {
		t.Fatalf("process batch: %v", err)
	}

	for _, id := range []int64{1, 2} {
		tr, ok := work.find(id)
		if !ok {
			t.Fatalf("no transition for item %d", id)
		}
		if tr.status != domain.ScheduleCompleted {
			t.Errorf("item %d: expected completed, got %s", id, tr.status.Name())
		}
		if tr.retryCount != 0 {
			t.Errorf("item %d: retry count changed on success: %d", id, tr.retryCount)
		}
	}
	if len(pub.published) != 2 {
		t.Errorf("expected 2 publishes, got %d", len(pub.published))
	}
}

func TestProcessBatchRequeuesOnPublishFailure(t *testing.T) {
	work := &MockWork{leased: []domain.LeasedItem{leasedItem(7, 1)}}
	pub := &MockPublisher{failFor: map[string]error{
		domain.EventFetchURL.RoutingKey: errors.New("broker down"),
	}}
	d := New(work, pub, events.LogPublisher{Logger: testLogger()}, testLogger())

	if err := d.ProcessBatch(context.Background(), store.KindScheduled); err != nil {
		t.Fatalf("process batch: %v", err)
	}

	tr, ok := work.find(7)
	if !ok {
		t.Fatal("no transition recorded")
	}
	if tr.status != domain.SchedulePending {
		t.Errorf("expected pending, got %s", tr.status.Name())
	}
	if tr.retryCount != 2 {
		t.Errorf("expected retry count 2, got %d", tr.retryCount)
	}
	if tr.exceptionInfo != "broker down" {
		t.Errorf("expected publish error recorded, got %q", tr.exceptionInfo)
	}
}

func TestProcessBatchFailsExhaustedItem(t *testing.T) {
	work := &MockWork{leased: []domain.LeasedItem{leasedItem(3, domain.MaxRetries+1)}}
	pub := &MockPublisher{}
	d := New(work, pub, events.LogPublisher{Logger: testLogger()}, testLogger())

	if err := d.ProcessBatch(context.Background(), store.KindScheduled); err != nil {
		t.Fatalf("process batch: %v", err)
	}

	tr, ok := work.find(3)
	if !ok {
		t.Fatal("no transition recorded")
	}
	if tr.status != domain.ScheduleFailed {
		t.Errorf("expected failed, got %s", tr.status.Name())
	}
	if tr.exceptionInfo != "Max retry count exceeded" {
		t.Errorf("unexpected exception info %q", tr.exceptionInfo)
	}
	if len(pub.published) != 0 {
		t.Error("exhausted item must not be published")
	}
}

func TestProcessBatchItemAtRetryBoundStillDispatches(t *testing.T) {
	// retry_count == MaxRetries is the last allowed attempt.
	work := &MockWork{leased: []domain.LeasedItem{leasedItem(4, domain.MaxRetries)}}
	pub := &MockPublisher{}
	d := New(work, pub, events.LogPublisher{Logger: testLogger()}, testLogger())

	if err := d.ProcessBatch(context.Background(), store.KindScheduled); err != nil {
		t.Fatalf("process batch: %v", err)
	}

	tr, _ := work.find(4)
	if tr.status != domain.ScheduleCompleted {
		t.Errorf("expected completed, got %s", tr.status.Name())
	}
}

func TestProcessBatchSurfacesLeaseError(t *testing.T) {
	work := &MockWork{leaseErr: errors.New("lock timeout")}
	d := New(work, &MockPublisher{}, events.LogPublisher{Logger: testLogger()}, testLogger())

	if err := d.ProcessBatch(context.Background(), store.KindScheduled); err == nil {
		t.Fatal("expected lease error to surface")
	}
}

func TestProcessBatchEmptyLease(t *testing.T) {
	work := &MockWork{}
	pub := &MockPublisher{}
	d := New(work, pub, events.LogPublisher{Logger: testLogger()}, testLogger())

	if err := d.ProcessBatch(context.Background(), store.KindScheduled); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(work.transitions) != 0 || len(pub.published) != 0 {
		t.Error("empty lease must be a no-op")
	}
}
