package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	"crawlsched/internal/broker"
	"crawlsched/internal/domain"
	"crawlsched/internal/store"
)

// Publisher is the broker publish surface the workers need.
type Publisher interface {
	Publish(ctx context.Context, msg any, exchange, routingKey string, opts broker.PublishOptions) error
}

// Fetcher consumes fetch_url messages: it crawls the page, persists the
// content and fetch metadata, and hands the URL to the parser via the
// content_fetched event.
type Fetcher struct {
	pool      *pgxpool.Pool
	urls      store.URLRepo
	client    *HTTPClient
	publisher Publisher
	logger    *slog.Logger
}

func NewFetcher(pool *pgxpool.Pool, client *HTTPClient, publisher Publisher, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		pool:      pool,
		client:    client,
		publisher: publisher,
		logger:    logger.With("component", "fetcher"),
	}
}

// Start attaches the fetcher to its queue.
func (f *Fetcher) Start(ctx context.Context, conn *broker.Conn) error {
	e := domain.EventFetchURL
	return runConsumer(ctx, conn, e.Queue, "worker."+e.RoutingKey, f.logger, f.handle)
}

func (f *Fetcher) handle(ctx context.Context, msg amqp.Delivery) error {
	var m domain.FetchURLMessage
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		return fmt.Errorf("decode fetch_url message: %w", err)
	}

	urlRow, err := f.claim(ctx, m.URL)
	if err != nil {
		return err
	}

	res, err := f.client.Get(ctx, m.URL)
	if err != nil {
		f.logger.Error("fetch failed", "url", m.URL, "err", err)
		if serr := f.setStatus(ctx, urlRow.ID, domain.CrawlFailed); serr != nil {
			f.logger.Error("status update failed", "url_id", urlRow.ID, "err", serr)
		}
		return err
	}

	if err := f.persist(ctx, urlRow.ID, m.URL, res); err != nil {
		return err
	}

	err = f.publisher.Publish(ctx, domain.FetchedURLMessage{URLID: urlRow.ID},
		domain.EventContentFetched.Exchange, domain.EventContentFetched.RoutingKey,
		broker.PublishOptions{CorrelationID: msg.CorrelationId})
	if err != nil {
		return fmt.Errorf("publish content_fetched: %w", err)
	}

	f.logger.Info("url fetched", "url", m.URL, "url_id", urlRow.ID, "http_status", res.Status)
	return nil
}

// claim finds or creates the URL row and marks it running. A re-fetch of a
// known URL is allowed; the content rows are replaced on persist.
func (f *Fetcher) claim(ctx context.Context, rawURL string) (*domain.URL, error) {
	var urlRow *domain.URL
	err := store.Atomic(ctx, f.pool, func(ctx context.Context, tx pgx.Tx) error {
		u, err := f.urls.GetByURL(ctx, tx, rawURL)
		if err != nil {
			return err
		}
		if u == nil {
			u = &domain.URL{URL: rawURL, Status: domain.CrawlQueued}
			if err := f.urls.Insert(ctx, tx, u); err != nil {
				return err
			}
		}
		if err := f.urls.SetStatus(ctx, tx, u.ID, domain.CrawlRunning); err != nil {
			return err
		}
		u.Status = domain.CrawlRunning
		urlRow = u
		return nil
	})
	return urlRow, err
}

// persist writes content and meta and stamps the crawl as completed, all in
// one transaction so a crash never leaves a half-written page.
func (f *Fetcher) persist(ctx context.Context, urlID int64, rawURL string, res *FetchResult) error {
	now := time.Now().UTC()
	html := string(res.Body)
	return store.Atomic(ctx, f.pool, func(ctx context.Context, tx pgx.Tx) error {
		content := &domain.Content{
			URLID:   urlID,
			Title:   ExtractTitle(html),
			Content: html,
		}
		if err := f.urls.UpsertContent(ctx, tx, content); err != nil {
			return err
		}

		meta := &domain.Meta{
			URLID:       urlID,
			ContentType: res.ContentType,
			HTTPStatus:  res.Status,
			PublishedAt: now,
		}
		if err := f.urls.UpsertMeta(ctx, tx, meta); err != nil {
			return err
		}

		return f.urls.SetCrawled(ctx, tx, urlID, now, domain.CrawlCompleted)
	})
}

func (f *Fetcher) setStatus(ctx context.Context, urlID int64, status domain.CrawlStatus) error {
	return store.Atomic(ctx, f.pool, func(ctx context.Context, tx pgx.Tx) error {
		return f.urls.SetStatus(ctx, tx, urlID, status)
	})
}
