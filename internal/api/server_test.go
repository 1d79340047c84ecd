package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/time/rate"
)

type MockScheduler struct {
	existing  map[string]bool
	scheduled []string
	err       error
}

func (m *MockScheduler) ScheduleURL(ctx context.Context, url string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.existing[strings.ToLower(url)] {
		return false, nil
	}
	m.scheduled = append(m.scheduled, url)
	return true, nil
}

type MockPinger struct{ err error }

func (m *MockPinger) Ping(ctx context.Context) error { return m.err }

func newTestAPI(sched *MockScheduler) *API {
	return New(sched, &MockPinger{}, NewMemoryIdempotency(), nil, slog.New(slog.DiscardHandler))
}

func postURLs(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/crawler/schedule-urls",
		bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Detail map[string]any `json:"detail"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Detail == nil {
		t.Fatalf("missing detail envelope in %s", rec.Body.String())
	}
	return envelope.Detail
}

func TestScheduleURLsSuccess(t *testing.T) {
	sched := &MockScheduler{}
	h := newTestAPI(sched).Routes()

	rec := postURLs(t, h, `["https://news.example.com/a", "https://news.example.com/b"]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data    []string `json:"data"`
		Message string   `json:"message"`
		Status  string   `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" || resp.Message != "scheduled" {
		t.Errorf("unexpected envelope: %+v", resp)
	}
	if len(resp.Data) != 2 || len(sched.scheduled) != 2 {
		t.Errorf("expected 2 scheduled urls, got data=%v scheduled=%v", resp.Data, sched.scheduled)
	}
}

func TestScheduleURLsSkipsDuplicates(t *testing.T) {
	sched := &MockScheduler{existing: map[string]bool{"https://news.example.com/dup": true}}
	h := newTestAPI(sched).Routes()

	rec := postURLs(t, h, `["https://news.example.com/dup", "https://news.example.com/new"]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Data []string `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Data) != 1 || resp.Data[0] != "https://news.example.com/new" {
		t.Errorf("duplicate should be skipped, data=%v", resp.Data)
	}
}

func TestScheduleURLsValidationError(t *testing.T) {
	h := newTestAPI(&MockScheduler{}).Routes()

	rec := postURLs(t, h, `["https://news.example.com/ok", "not a url"]`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, expected 422", rec.Code)
	}

	detail := decodeDetail(t, rec)
	if detail["code"] != "VALIDATION_ERROR" {
		t.Errorf("code = %v", detail["code"])
	}
	errs, _ := detail["errors"].([]any)
	if len(errs) != 1 || errs[0] != "not a url" {
		t.Errorf("expected offending url in errors, got %v", errs)
	}
}

func TestScheduleURLsBadBody(t *testing.T) {
	h := newTestAPI(&MockScheduler{}).Routes()

	rec := postURLs(t, h, `{"urls": "nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, expected 400", rec.Code)
	}
	if decodeDetail(t, rec)["code"] != "BAD_REQUEST" {
		t.Error("expected BAD_REQUEST code")
	}
}

func TestScheduleURLsEmptyBatch(t *testing.T) {
	h := newTestAPI(&MockScheduler{}).Routes()

	rec := postURLs(t, h, `[]`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, expected 422", rec.Code)
	}
}

func TestScheduleURLsStorageError(t *testing.T) {
	sched := &MockScheduler{err: errors.New("connection refused")}
	h := newTestAPI(sched).Routes()

	rec := postURLs(t, h, `["https://news.example.com/a"]`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, expected 500", rec.Code)
	}
	if decodeDetail(t, rec)["code"] != "INTERNAL_SERVER_ERROR" {
		t.Error("expected INTERNAL_SERVER_ERROR code")
	}
}

func TestScheduleURLsRateLimited(t *testing.T) {
	a := newTestAPI(&MockScheduler{})
	a.limiter = rate.NewLimiter(0, 0) // drain the bucket
	h := a.Routes()

	rec := postURLs(t, h, `["https://news.example.com/a"]`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, expected 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if decodeDetail(t, rec)["code"] != "RATE_LIMITED" {
		t.Error("expected RATE_LIMITED code")
	}
}

func TestHealthAndReady(t *testing.T) {
	h := newTestAPI(&MockScheduler{}).Routes()

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d", path, rec.Code)
		}
	}
}

func TestReadyFailsWhenStorageDown(t *testing.T) {
	a := New(&MockScheduler{}, &MockPinger{err: errors.New("pool closed")},
		NewMemoryIdempotency(), nil, slog.New(slog.DiscardHandler))
	h := a.Routes()

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, expected 503", rec.Code)
	}
}

func TestUnknownRouteRendersEnvelope(t *testing.T) {
	h := newTestAPI(&MockScheduler{}).Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/crawler/nope", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, expected 404", rec.Code)
	}
	if decodeDetail(t, rec)["code"] != "NOT_FOUND" {
		t.Error("expected NOT_FOUND code in detail envelope")
	}
}

func TestWrongMethodRendersEnvelope(t *testing.T) {
	h := newTestAPI(&MockScheduler{}).Routes()

	cases := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/v1/crawler/schedule-urls"},
		{http.MethodPost, "/health"},
		{http.MethodDelete, "/metrics"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: status = %d, expected 405", tc.method, tc.path, rec.Code)
			continue
		}
		if decodeDetail(t, rec)["code"] != "METHOD_NOT_ALLOWED" {
			t.Errorf("%s %s: expected METHOD_NOT_ALLOWED code", tc.method, tc.path)
		}
	}
}

func TestIdempotencyReplay(t *testing.T) {
	sched := &MockScheduler{}
	h := newTestAPI(sched).Routes()

	body := `["https://news.example.com/a"]`
	req1 := httptest.NewRequest(http.MethodPost, "/api/v1/crawler/schedule-urls",
		bytes.NewBufferString(body))
	req1.Header.Set("Idempotency-Key", "key-1")
	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, req1)

	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/crawler/schedule-urls",
		bytes.NewBufferString(body))
	req2.Header.Set("Idempotency-Key", "key-1")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)

	if len(sched.scheduled) != 1 {
		t.Errorf("replayed request must not re-run the handler: %d calls", len(sched.scheduled))
	}
	if rec1.Body.String() != rec2.Body.String() {
		t.Errorf("replayed body differs: %q vs %q", rec1.Body.String(), rec2.Body.String())
	}
	if rec2.Code != rec1.Code {
		t.Errorf("replayed status differs: %d vs %d", rec2.Code, rec1.Code)
	}
}
