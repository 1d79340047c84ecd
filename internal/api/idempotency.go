package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyTTL = time.Hour

// CachedResponse is a replayable snapshot of a completed request.
type CachedResponse struct {
	StatusCode  int    `json:"statusCode"`
	Body        []byte `json:"body"`
	ContentType string `json:"contentType"`
}

// IdempotencyStore caches responses keyed by the caller-supplied
// Idempotency-Key header.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (CachedResponse, bool)
	Set(ctx context.Context, key string, resp CachedResponse)
}

// memorySweepEvery is the write cadence of the full expiry sweep; it bounds
// how many dead entries the fallback store can hold between sweeps.
const memorySweepEvery = 256

// MemoryIdempotency is the single-node fallback when Redis is not configured.
type MemoryIdempotency struct {
	cache  sync.Map
	writes atomic.Int64
}

type memoryEntry struct {
	resp  CachedResponse
	since time.Time
}

func NewMemoryIdempotency() *MemoryIdempotency { return &MemoryIdempotency{} }

func (s *MemoryIdempotency) Get(_ context.Context, key string) (CachedResponse, bool) {
	val, ok := s.cache.Load(key)
	if !ok {
		return CachedResponse{}, false
	}
	e := val.(memoryEntry)
	if time.Since(e.since) > idempotencyTTL {
		s.cache.Delete(key)
		return CachedResponse{}, false
	}
	return e.resp, true
}

func (s *MemoryIdempotency) Set(_ context.Context, key string, resp CachedResponse) {
	s.cache.Store(key, memoryEntry{resp: resp, since: time.Now()})
	if s.writes.Add(1)%memorySweepEvery == 0 {
		s.sweep()
	}
}

// sweep drops every expired entry, so unique keys cannot accumulate forever.
func (s *MemoryIdempotency) sweep() {
	s.cache.Range(func(key, val any) bool {
		if time.Since(val.(memoryEntry).since) > idempotencyTTL {
			s.cache.Delete(key)
		}
		return true
	})
}

// RedisIdempotency shares the response cache across replicas.
type RedisIdempotency struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisIdempotency(client *redis.Client, logger *slog.Logger) *RedisIdempotency {
	return &RedisIdempotency{client: client, logger: logger.With("component", "idempotency")}
}

func (s *RedisIdempotency) key(key string) string { return "crawlsched:idem:" + key }

func (s *RedisIdempotency) Get(ctx context.Context, key string) (CachedResponse, bool) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("idempotency get failed", "err", err)
		}
		return CachedResponse{}, false
	}
	var resp CachedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return CachedResponse{}, false
	}
	return resp, true
}

func (s *RedisIdempotency) Set(ctx context.Context, key string, resp CachedResponse) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, s.key(key), raw, idempotencyTTL).Err(); err != nil {
		s.logger.Warn("idempotency set failed", "err", err)
	}
}

// responseRecorder captures the handler's output for caching.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}

// withIdempotency replays the cached response when the caller resubmits the
// same Idempotency-Key; requests without the header pass straight through.
func (a *API) withIdempotency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next(w, r)
			return
		}

		if resp, found := a.idempotency.Get(r.Context(), key); found {
			if resp.ContentType != "" {
				w.Header().Set("Content-Type", resp.ContentType)
			}
			w.WriteHeader(resp.StatusCode)
			w.Write(resp.Body)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next(rec, r)

		a.idempotency.Set(r.Context(), key, CachedResponse{
			StatusCode:  rec.statusCode,
			Body:        rec.body,
			ContentType: rec.Header().Get("Content-Type"),
		})
	}
}
