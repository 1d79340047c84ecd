package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"crawlsched/internal/domain"
)

type MockIntake struct {
	urls []string
	err  error
}

func (m *MockIntake) ScheduleURLs(ctx context.Context, urls []string) error {
	m.urls = append(m.urls, urls...)
	return m.err
}

func byDateDelivery(t *testing.T, m domain.ByDateFetchURLMessage) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return amqp.Delivery{Body: body}
}

func TestDiscoverySchedulesListingLinks(t *testing.T) {
	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		w.Write([]byte(`
			<a href="/2026/08/01/story-one">one</a>
			<a href="/2026/08/01/story-two">two</a>`))
	}))
	defer srv.Close()

	intake := &MockIntake{}
	d := NewDiscovery(testClient(), intake, slog.New(slog.DiscardHandler))

	msg := byDateDelivery(t, domain.ByDateFetchURLMessage{
		URL: srv.URL, Year: "2026", Month: "08", Day: "01",
	})
	if err := d.handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if requested != "/2026/08/01" {
		t.Errorf("listing path = %q", requested)
	}
	if len(intake.urls) != 2 {
		t.Fatalf("expected 2 scheduled urls, got %v", intake.urls)
	}
	if intake.urls[0] != srv.URL+"/2026/08/01/story-one" {
		t.Errorf("first url = %q", intake.urls[0])
	}
}

func TestDiscoveryDefaultsToToday(t *testing.T) {
	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
	}))
	defer srv.Close()

	d := NewDiscovery(testClient(), &MockIntake{}, slog.New(slog.DiscardHandler))

	msg := byDateDelivery(t, domain.ByDateFetchURLMessage{URL: srv.URL})
	if err := d.handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	now := time.Now().UTC()
	want := DateListingURL("", now.Format("2006"), now.Format("01"), now.Format("02"))
	if requested != want {
		t.Errorf("listing path = %q, want %q", requested, want)
	}
}

func TestDiscoveryEmptyListingIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>nothing published today</body></html>`))
	}))
	defer srv.Close()

	intake := &MockIntake{}
	d := NewDiscovery(testClient(), intake, slog.New(slog.DiscardHandler))

	msg := byDateDelivery(t, domain.ByDateFetchURLMessage{
		URL: srv.URL, Year: "2026", Month: "08", Day: "01",
	})
	if err := d.handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(intake.urls) != 0 {
		t.Errorf("expected no scheduled urls, got %v", intake.urls)
	}
}

func TestDiscoveryBadPayload(t *testing.T) {
	d := NewDiscovery(testClient(), &MockIntake{}, slog.New(slog.DiscardHandler))
	if err := d.handle(context.Background(), amqp.Delivery{Body: []byte("{")}); err == nil {
		t.Error("expected decode error")
	}
}
