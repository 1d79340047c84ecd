package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	"crawlsched/internal/broker"
	"crawlsched/internal/domain"
	"crawlsched/internal/store"
)

// indexSize caps the keyword index per page.
const indexSize = 20

// ContentStore is the slice of the URL repository the parser needs;
// store.URLRepo is the production implementation.
type ContentStore interface {
	GetContent(ctx context.Context, tx pgx.Tx, urlID int64) (*domain.Content, error)
	UpsertAuthor(ctx context.Context, tx pgx.Tx, a *domain.Author) error
	SetMetaAuthor(ctx context.Context, tx pgx.Tx, urlID, authorID int64) error
	ReplaceIndex(ctx context.Context, tx pgx.Tx, urlID int64, entries []domain.IndexEntry) error
}

// Parser consumes content_fetched messages: it derives the author and the
// keyword index from the stored page content.
type Parser struct {
	urls   ContentStore
	logger *slog.Logger

	atomic func(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

func NewParser(pool *pgxpool.Pool, logger *slog.Logger) *Parser {
	return &Parser{
		urls:   store.URLRepo{},
		logger: logger.With("component", "parser"),
		atomic: func(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
			return store.Atomic(ctx, pool, fn)
		},
	}
}

// Start attaches the parser to its queue.
func (p *Parser) Start(ctx context.Context, conn *broker.Conn) error {
	e := domain.EventContentFetched
	return runConsumer(ctx, conn, e.Queue, "worker."+e.RoutingKey, p.logger, p.handle)
}

func (p *Parser) handle(ctx context.Context, msg amqp.Delivery) error {
	var m domain.FetchedURLMessage
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		return fmt.Errorf("decode content_fetched message: %w", err)
	}

	return p.atomic(ctx, func(ctx context.Context, tx pgx.Tx) error {
		content, err := p.urls.GetContent(ctx, tx, m.URLID)
		if err != nil {
			return err
		}
		if content == nil {
			// Content was replaced or the fetch never landed; nothing to parse.
			p.logger.Warn("no content for url", "url_id", m.URLID)
			return nil
		}

		if name := ExtractAuthor(content.Content); name != "" {
			author := &domain.Author{URLID: m.URLID, Name: name}
			if err := p.urls.UpsertAuthor(ctx, tx, author); err != nil {
				return err
			}
			if err := p.urls.SetMetaAuthor(ctx, tx, m.URLID, author.ID); err != nil {
				return err
			}
		}

		entries := TopKeywords(StripTags(content.Content), indexSize)
		if err := p.urls.ReplaceIndex(ctx, tx, m.URLID, entries); err != nil {
			return err
		}

		p.logger.Info("url parsed", "url_id", m.URLID, "keywords", len(entries))
		return nil
	})
}
