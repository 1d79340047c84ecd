package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"crawlsched/internal/apperr"
)

const (
	httpTimeout      = 3 * time.Second
	fetchAttempts    = 3
	fetchRetryDelay  = 2 * time.Second
	fetchMaxInterval = 5 * time.Second
	maxBodyBytes     = 8 << 20
)

// FetchResult is a successful HTTP response snapshot.
type FetchResult struct {
	Body        []byte
	Status      int
	ContentType string
}

// Fetcher-side outbound client: one shared breaker guards the remote site,
// transient failures are retried with backoff, and every failure mode maps to
// a classified error.
type HTTPClient struct {
	client  *http.Client
	breaker *CircuitBreaker
}

func NewHTTPClient(breaker *CircuitBreaker) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: httpTimeout},
		breaker: breaker,
	}
}

// Get fetches a URL. The breaker is consulted before each network attempt;
// 4xx responses are terminal and skip the retries.
func (c *HTTPClient) Get(ctx context.Context, url string) (*FetchResult, error) {
	var result *FetchResult

	operation := func() error {
		if !c.breaker.Allow() {
			return backoff.Permanent(apperr.ServiceUnavailable("upstream circuit open"))
		}

		res, err := c.get(ctx, url)
		if err != nil {
			var ae *apperr.Error
			if errors.As(err, &ae) && ae.Status >= 400 && ae.Status < 500 {
				// The remote answered; do not count it against the breaker.
				return backoff.Permanent(err)
			}
			c.breaker.RecordFailure()
			return err
		}

		c.breaker.RecordSuccess()
		result = res
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		newFetchBackOff(), fetchAttempts-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *HTTPClient) get(ctx context.Context, url string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.BadRequest(err.Error())
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, apperr.BadGateway(fmt.Sprintf("upstream returned %d for %s", resp.StatusCode, url))
	case resp.StatusCode >= 400:
		return nil, apperr.BadRequest(fmt.Sprintf("upstream returned %d for %s", resp.StatusCode, url))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperr.BadGateway(err.Error())
	}
	return &FetchResult{
		Body:        body,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// classifyTransport maps transport-level failures onto the error taxonomy.
func classifyTransport(err error) *apperr.Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Timeout(err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout(err.Error())
	}
	return apperr.ServiceUnavailable(err.Error())
}

func newFetchBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = fetchRetryDelay
	b.MaxInterval = fetchMaxInterval
	return b
}
