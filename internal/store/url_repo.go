package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"crawlsched/internal/domain"
)

// URLRepo persists the URL graph and its derived child rows. Same discipline
// as SchedulerRepo: methods take the caller's transaction.
type URLRepo struct{}

const urlColumns = `id, url, status, crawled_at, created_at, updated_at`

func scanURL(row pgx.Row) (*domain.URL, error) {
	var (
		u      domain.URL
		status string
	)
	err := row.Scan(&u.ID, &u.URL, &status, &u.CrawledAt, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if u.Status, err = domain.ParseCrawlStatus(status); err != nil {
		return nil, err
	}
	return &u, nil
}

// Insert adds a URL row and fills the generated fields.
func (URLRepo) Insert(ctx context.Context, tx pgx.Tx, u *domain.URL) error {
	return tx.QueryRow(ctx, `
		INSERT INTO urls (url, status)
		VALUES ($1, $2::crawling_status)
		RETURNING id, created_at, updated_at`,
		u.URL, u.Status.String(),
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
}

// ExistsByURL is a case-insensitive existence check.
func (URLRepo) ExistsByURL(ctx context.Context, tx pgx.Tx, url string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM urls WHERE LOWER(url) = LOWER($1))`,
		url,
	).Scan(&exists)
	return exists, err
}

// GetByURL fetches a URL row case-insensitively; nil when absent.
func (URLRepo) GetByURL(ctx context.Context, tx pgx.Tx, url string) (*domain.URL, error) {
	return scanURL(tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM urls WHERE LOWER(url) = LOWER($1) LIMIT 1`, urlColumns), url))
}

// GetByID fetches a URL row by primary key; nil when absent.
func (URLRepo) GetByID(ctx context.Context, tx pgx.Tx, id int64) (*domain.URL, error) {
	return scanURL(tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM urls WHERE id = $1`, urlColumns), id))
}

// SetStatus updates the crawl status by id.
func (URLRepo) SetStatus(ctx context.Context, tx pgx.Tx, id int64, status domain.CrawlStatus) error {
	_, err := tx.Exec(ctx,
		`UPDATE urls SET status = $2::crawling_status, updated_at = now() WHERE id = $1`,
		id, status.String())
	return err
}

// SetCrawled stamps crawled_at and moves the URL to the given status.
// Idempotent: repeated calls converge on the latest timestamp.
func (URLRepo) SetCrawled(ctx context.Context, tx pgx.Tx, id int64, at time.Time, status domain.CrawlStatus) error {
	_, err := tx.Exec(ctx,
		`UPDATE urls SET crawled_at = $2, status = $3::crawling_status, updated_at = now() WHERE id = $1`,
		id, at, status.String())
	return err
}

// UpsertContent writes the 1:1 content row for a URL, replacing any previous
// fetch result.
func (URLRepo) UpsertContent(ctx context.Context, tx pgx.Tx, c *domain.Content) error {
	if _, err := tx.Exec(ctx, `DELETE FROM contents WHERE url_id = $1`, c.URLID); err != nil {
		return err
	}
	return tx.QueryRow(ctx, `
		INSERT INTO contents (url_id, title, content)
		VALUES ($1, $2, $3)
		RETURNING id`,
		c.URLID, c.Title, c.Content,
	).Scan(&c.ID)
}

// GetContent loads the content row for a URL; nil when absent.
func (URLRepo) GetContent(ctx context.Context, tx pgx.Tx, urlID int64) (*domain.Content, error) {
	var c domain.Content
	err := tx.QueryRow(ctx,
		`SELECT id, url_id, title, content FROM contents WHERE url_id = $1`, urlID,
	).Scan(&c.ID, &c.URLID, &c.Title, &c.Content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertMeta writes the 1:1 meta row for a URL.
func (URLRepo) UpsertMeta(ctx context.Context, tx pgx.Tx, m *domain.Meta) error {
	if _, err := tx.Exec(ctx, `DELETE FROM metas WHERE url_id = $1`, m.URLID); err != nil {
		return err
	}
	return tx.QueryRow(ctx, `
		INSERT INTO metas (url_id, content_type, http_status, author_id, published_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		m.URLID, m.ContentType, m.HTTPStatus, m.AuthorID, m.PublishedAt,
	).Scan(&m.ID)
}

// UpsertAuthor writes the 1:1 author row for a URL.
func (URLRepo) UpsertAuthor(ctx context.Context, tx pgx.Tx, a *domain.Author) error {
	if _, err := tx.Exec(ctx, `DELETE FROM authors WHERE url_id = $1`, a.URLID); err != nil {
		return err
	}
	return tx.QueryRow(ctx, `
		INSERT INTO authors (url_id, name, web_site)
		VALUES ($1, $2, $3)
		RETURNING id`,
		a.URLID, a.Name, a.WebSite,
	).Scan(&a.ID)
}

// SetMetaAuthor links the detected author to the URL's meta row.
func (URLRepo) SetMetaAuthor(ctx context.Context, tx pgx.Tx, urlID, authorID int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE metas SET author_id = $2 WHERE url_id = $1`,
		urlID, authorID)
	return err
}

// ReplaceIndex swaps the keyword index rows for a URL in one shot, keeping
// re-parsing idempotent.
func (URLRepo) ReplaceIndex(ctx context.Context, tx pgx.Tx, urlID int64, entries []domain.IndexEntry) error {
	if _, err := tx.Exec(ctx, `DELETE FROM indexes WHERE url_id = $1`, urlID); err != nil {
		return err
	}
	for i := range entries {
		entries[i].URLID = urlID
		if err := tx.QueryRow(ctx, `
			INSERT INTO indexes (url_id, keyword, frequency)
			VALUES ($1, $2, $3)
			RETURNING id`,
			urlID, entries[i].Keyword, entries[i].Frequency,
		).Scan(&entries[i].ID); err != nil {
			return err
		}
	}
	return nil
}
