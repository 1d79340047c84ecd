package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"crawlsched/internal/domain"
)

type MockItemStore struct {
	existing []string
	added    []*domain.ScheduledItem
	standing []*domain.PredefinedItem
}

func (m *MockItemStore) ExistsByURL(ctx context.Context, tx pgx.Tx, url string) (bool, error) {
	for _, e := range m.existing {
		if strings.EqualFold(e, url) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockItemStore) Add(ctx context.Context, tx pgx.Tx, item *domain.ScheduledItem) error {
	m.added = append(m.added, item)
	return nil
}

func (m *MockItemStore) AddPredefined(ctx context.Context, tx pgx.Tx, item *domain.PredefinedItem) error {
	m.standing = append(m.standing, item)
	return nil
}

func newTestIntake(repo ItemStore) *Intake {
	return &Intake{
		repo:   repo,
		logger: testLogger(),
		atomic: func(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
			return fn(ctx, nil)
		},
	}
}

func TestScheduleURLCreatesPendingItem(t *testing.T) {
	repo := &MockItemStore{}
	in := newTestIntake(repo)

	before := time.Now().UTC()
	created, err := in.ScheduleURL(context.Background(), "https://news.example.com/a")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !created {
		t.Fatal("expected item to be created")
	}
	if len(repo.added) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(repo.added))
	}

	item := repo.added[0]
	if item.Status != domain.SchedulePending {
		t.Errorf("expected pending, got %s", item.Status.Name())
	}
	if item.TaskData != domain.EventFetchURL.TaskData() {
		t.Errorf("unexpected task data: %+v", item.TaskData)
	}
	if item.ScheduledTime.Before(before.Add(scheduleDelay)) {
		t.Errorf("scheduled time not delayed: %v", item.ScheduledTime)
	}
}

func TestScheduleURLSkipsDuplicate(t *testing.T) {
	repo := &MockItemStore{existing: []string{"https://news.example.com/a"}}
	in := newTestIntake(repo)

	created, err := in.ScheduleURL(context.Background(), "HTTPS://NEWS.EXAMPLE.COM/A")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if created {
		t.Error("duplicate must not create a new item")
	}
	if len(repo.added) != 0 {
		t.Errorf("duplicate inserted anyway: %d rows", len(repo.added))
	}
}

func TestScheduleURLsMixedBatch(t *testing.T) {
	repo := &MockItemStore{existing: []string{"https://news.example.com/dup"}}
	in := newTestIntake(repo)

	urls := []string{
		"https://news.example.com/one",
		"https://news.example.com/dup",
		"https://news.example.com/two",
	}
	if err := in.ScheduleURLs(context.Background(), urls); err != nil {
		t.Fatalf("schedule batch: %v", err)
	}
	if len(repo.added) != 2 {
		t.Errorf("expected 2 inserts, got %d", len(repo.added))
	}
}

func TestAddPredefined(t *testing.T) {
	repo := &MockItemStore{}
	in := newTestIntake(repo)

	err := in.AddPredefined(context.Background(), "https://news.example.com", domain.EventCheckSubURLByDate)
	if err != nil {
		t.Fatalf("add predefined: %v", err)
	}
	if len(repo.standing) != 1 {
		t.Fatalf("expected 1 standing job, got %d", len(repo.standing))
	}
	if repo.standing[0].TaskData != domain.EventCheckSubURLByDate.TaskData() {
		t.Errorf("unexpected task data: %+v", repo.standing[0].TaskData)
	}
}
