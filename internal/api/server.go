// Package api is the intake HTTP surface: health probes, the schedule
// endpoint, the websocket event stream and the Prometheus scrape target.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"crawlsched/internal/apperr"
	"crawlsched/internal/observability"
)

// Scheduler is the intake service behind the schedule endpoint;
// *scheduler.Intake in production.
type Scheduler interface {
	ScheduleURL(ctx context.Context, url string) (bool, error)
}

// Pinger reports storage liveness for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// API serves the intake surface.
type API struct {
	scheduler   Scheduler
	pinger      Pinger
	idempotency IdempotencyStore
	hub         *Hub
	limiter     *rate.Limiter
	logger      *slog.Logger
}

func New(scheduler Scheduler, pinger Pinger, idempotency IdempotencyStore, hub *Hub, logger *slog.Logger) *API {
	return &API{
		scheduler:   scheduler,
		pinger:      pinger,
		idempotency: idempotency,
		hub:         hub,
		// 10 req/s sustained with a burst of 20 is generous for an intake
		// surface fed by operators and the discovery worker.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		logger:  logger.With("component", "api"),
	}
}

// Routes builds the handler tree. Each path also gets a method-less fallback
// so a wrong-method request renders the 405 envelope instead of the stock
// plain-text response; unknown paths land on the 404 envelope.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /ready", a.handleReady)
	mux.HandleFunc("POST /api/v1/crawler/schedule-urls",
		a.withRateLimit(a.withIdempotency(a.handleScheduleURLs)))
	if a.hub != nil {
		mux.Handle("GET /api/v1/crawler/stream", a.hub)
		mux.HandleFunc("/api/v1/crawler/stream", a.handleMethodNotAllowed)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("/health", a.handleMethodNotAllowed)
	mux.HandleFunc("/ready", a.handleMethodNotAllowed)
	mux.HandleFunc("/api/v1/crawler/schedule-urls", a.handleMethodNotAllowed)
	mux.HandleFunc("/metrics", a.handleMethodNotAllowed)
	mux.HandleFunc("/", a.handleNotFound)
	return mux
}

func (a *API) handleNotFound(w http.ResponseWriter, r *http.Request) {
	a.writeError(w, apperr.NotFound(fmt.Sprintf("no route for %s", r.URL.Path)))
}

func (a *API) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	a.writeError(w, apperr.MethodNotAllowed(fmt.Sprintf("%s not allowed on %s", r.Method, r.URL.Path)))
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.pinger.Ping(ctx); err != nil {
		a.writeError(w, apperr.ServiceUnavailable("storage not ready"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleScheduleURLs accepts a JSON array of URLs, validates each one, and
// schedules the new ones; case-insensitive duplicates are silently skipped.
func (a *API) handleScheduleURLs(w http.ResponseWriter, r *http.Request) {
	var urls []string
	if err := json.NewDecoder(r.Body).Decode(&urls); err != nil {
		a.writeError(w, apperr.BadRequest("request body must be a JSON array of URLs"))
		return
	}
	if len(urls) == 0 {
		a.writeError(w, apperr.Validation("at least one url is required"))
		return
	}

	valid := make([]string, 0, len(urls))
	var invalid []string
	for _, raw := range urls {
		u, err := ValidateURL(raw)
		if err != nil {
			invalid = append(invalid, raw)
			continue
		}
		valid = append(valid, u)
	}
	if len(invalid) > 0 {
		a.writeError(w, apperr.Validation("invalid url", invalid...))
		return
	}

	scheduled := make([]string, 0, len(valid))
	for _, u := range valid {
		created, err := a.scheduler.ScheduleURL(r.Context(), u)
		if err != nil {
			a.writeError(w, apperr.From(err))
			return
		}
		if created {
			scheduled = append(scheduled, u)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":    scheduled,
		"message": "scheduled",
		"status":  "ok",
	})
}

// withRateLimit sheds load when the token bucket is dry. The Retry-After is
// jittered so a thundering herd does not retry in lockstep.
func (a *API) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.Allow() {
			observability.APIRateLimited.WithLabelValues(r.URL.Path).Inc()
			w.Header().Set("Retry-After", strconv.Itoa(1+rand.Intn(4)))
			a.writeError(w, &apperr.Error{
				Status:  http.StatusTooManyRequests,
				Code:    "RATE_LIMITED",
				Message: "Too many requests",
			})
			return
		}
		next(w, r)
	}
}

// writeError renders the detail envelope for a classified error.
func (a *API) writeError(w http.ResponseWriter, e *apperr.Error) {
	if e.Status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "code", e.Code, "err", e.Message)
	}
	writeJSON(w, e.Status, map[string]any{"detail": e})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("response encode failed", "err", err)
	}
}
